package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"virtmcp/internal/api"
	"virtmcp/internal/executor"
	"virtmcp/internal/parser"
	"virtmcp/internal/snapshot"
	"virtmcp/internal/vm"
	"virtmcp/pkg/logging"
)

// VirtualBox drives VBoxManage. It implements every backend interface.
type VirtualBox struct {
	path       string
	baseFolder string
	runner     executor.Runner
}

var (
	_ Lifecycle   = (*VirtualBox)(nil)
	_ Provisioner = (*VirtualBox)(nil)
	_ Snapshotter = (*VirtualBox)(nil)
	_ Networker   = (*VirtualBox)(nil)
	_ Storage     = (*VirtualBox)(nil)
	_ Host        = (*VirtualBox)(nil)
)

// NewVirtualBox creates a backend invoking the VBoxManage binary at path.
// baseFolder is used for new VMs that do not name their own.
func NewVirtualBox(path, baseFolder string, runner executor.Runner) *VirtualBox {
	if path == "" {
		path = "VBoxManage"
	}
	return &VirtualBox{path: path, baseFolder: baseFolder, runner: runner}
}

// Name identifies the backend in logs and metrics.
func (v *VirtualBox) Name() string { return "virtualbox" }

func (v *VirtualBox) run(ctx context.Context, args ...string) (executor.Result, error) {
	label := "VBoxManage " + args[0]
	return v.runner.Run(ctx, commandFor(ctx, v.path, label, nil, args...))
}

// ListVMs enumerates registered VMs. Their state is Unknown until queried.
func (v *VirtualBox) ListVMs(ctx context.Context) ([]vm.Details, error) {
	res, err := v.run(ctx, "list", "vms")
	if err != nil {
		return nil, err
	}
	return parser.ListedDetails(parser.ParseVMList(res.Stdout)), nil
}

// Info runs showvminfo --machinereadable and parses the result.
func (v *VirtualBox) Info(ctx context.Context, name string) (vm.Details, error) {
	res, err := v.run(ctx, "showvminfo", name, "--machinereadable")
	if err != nil {
		return vm.Details{}, classify(err, name, "")
	}
	d, err := parser.ParseVMInfo(res.Stdout)
	if err != nil {
		return vm.Details{}, fmt.Errorf("failed to parse info for vm %s: %w", name, err)
	}
	return d, nil
}

// Start boots the VM, headless or with a GUI window.
func (v *VirtualBox) Start(ctx context.Context, name string, headless bool) error {
	mode := "gui"
	if headless {
		mode = "headless"
	}
	_, err := v.run(ctx, "startvm", name, "--type", mode)
	return classify(err, name, "")
}

// Stop powers the VM off, or presses the ACPI power button when force is
// false. The latter returns before the guest has shut down.
func (v *VirtualBox) Stop(ctx context.Context, name string, force bool) error {
	action := "acpipowerbutton"
	if force {
		action = "poweroff"
	}
	return v.control(ctx, name, action)
}

// Pause freezes a running VM.
func (v *VirtualBox) Pause(ctx context.Context, name string) error {
	return v.control(ctx, name, "pause")
}

// Resume continues a paused VM.
func (v *VirtualBox) Resume(ctx context.Context, name string) error {
	return v.control(ctx, name, "resume")
}

// Reset hard-resets a running VM.
func (v *VirtualBox) Reset(ctx context.Context, name string) error {
	return v.control(ctx, name, "reset")
}

// Save saves the VM state to disk and stops it.
func (v *VirtualBox) Save(ctx context.Context, name string) error {
	return v.control(ctx, name, "savestate")
}

func (v *VirtualBox) control(ctx context.Context, name string, args ...string) error {
	_, err := v.run(ctx, append([]string{"controlvm", name}, args...)...)
	return classify(err, name, "")
}

// Delete unregisters the VM and removes its files.
func (v *VirtualBox) Delete(ctx context.Context, name string) error {
	_, err := v.run(ctx, "unregistervm", name, "--delete")
	return classify(err, name, "")
}

// Create registers a new VM and applies its resource profile. A VM whose
// profile could not be applied is unregistered again.
func (v *VirtualBox) Create(ctx context.Context, spec CreateSpec) error {
	args := []string{"createvm", "--name", spec.Name, "--register"}
	if spec.OSType != "" {
		args = append(args, "--ostype", spec.OSType)
	}
	folder := spec.BaseFolder
	if folder == "" {
		folder = v.baseFolder
	}
	if folder != "" {
		args = append(args, "--basefolder", folder)
	}
	if _, err := v.run(ctx, args...); err != nil {
		return err
	}

	var modify []string
	if spec.MemoryMB > 0 {
		modify = append(modify, "--memory", strconv.Itoa(spec.MemoryMB))
	}
	if spec.CPUs > 0 {
		modify = append(modify, "--cpus", strconv.Itoa(spec.CPUs))
	}
	if len(modify) == 0 {
		return nil
	}
	if _, err := v.run(ctx, append([]string{"modifyvm", spec.Name}, modify...)...); err != nil {
		logging.Warn("VirtualBox", "Configuring new vm %s failed, unregistering it: %v", spec.Name, err)
		if _, cleanupErr := v.run(context.WithoutCancel(ctx), "unregistervm", spec.Name, "--delete"); cleanupErr != nil {
			logging.Error("VirtualBox", cleanupErr, "Failed to unregister half-created vm %s", spec.Name)
		}
		return err
	}
	return nil
}

// Clone registers a full or linked copy of spec.Source.
func (v *VirtualBox) Clone(ctx context.Context, spec CloneSpec) error {
	args := []string{"clonevm", spec.Source, "--name", spec.Name, "--register"}
	if spec.Snapshot != "" {
		args = append(args, "--snapshot", spec.Snapshot)
	}
	if spec.Linked {
		args = append(args, "--options", "link")
	}
	_, err := v.run(ctx, args...)
	return classify(err, spec.Source, spec.Snapshot)
}

// TakeSnapshot returns the UUID VirtualBox assigned to the new snapshot.
func (v *VirtualBox) TakeSnapshot(ctx context.Context, vmName string, spec SnapshotSpec) (string, error) {
	args := []string{"snapshot", vmName, "take", spec.Name}
	if spec.Description != "" {
		args = append(args, "--description", spec.Description)
	}
	if spec.Live {
		args = append(args, "--live")
	}
	res, err := v.run(ctx, args...)
	if err != nil {
		return "", classify(err, vmName, "")
	}
	return parser.ParseCreatedUUID(res.Stdout), nil
}

// RestoreSnapshot reverts a stopped VM to ref, a snapshot name or UUID.
func (v *VirtualBox) RestoreSnapshot(ctx context.Context, vmName, ref string) error {
	_, err := v.run(ctx, "snapshot", vmName, "restore", ref)
	return classify(err, vmName, ref)
}

// DeleteSnapshot merges ref into its children and removes it.
func (v *VirtualBox) DeleteSnapshot(ctx context.Context, vmName, ref string) error {
	_, err := v.run(ctx, "snapshot", vmName, "delete", ref)
	return classify(err, vmName, ref)
}

// ListSnapshots returns the snapshot records in pre-order. A VM without
// snapshots yields an empty list even though VBoxManage exits non-zero.
func (v *VirtualBox) ListSnapshots(ctx context.Context, vmName string) ([]snapshot.Record, error) {
	res, err := v.run(ctx, "snapshot", vmName, "list", "--machinereadable")
	if err != nil {
		var execErr *api.ExecutionError
		if errors.As(err, &execErr) &&
			(strings.Contains(execErr.Stderr, parser.NoSnapshotsMarker) || strings.Contains(res.Stdout, parser.NoSnapshotsMarker)) {
			return nil, nil
		}
		return nil, classify(err, vmName, "")
	}
	return parser.ParseSnapshotList(res.Stdout), nil
}

// ConfigureAdapter applies cfg to one NIC slot with modifyvm.
func (v *VirtualBox) ConfigureAdapter(ctx context.Context, vmName string, cfg AdapterConfig) error {
	n := strconv.Itoa(cfg.Slot)
	args := []string{"modifyvm", vmName}
	if cfg.Mode != "" {
		args = append(args, "--nic"+n, nicType(cfg.Mode))
	}
	if cfg.BridgeAdapter != "" {
		args = append(args, "--bridgeadapter"+n, cfg.BridgeAdapter)
	}
	if cfg.HostOnlyAdapter != "" {
		args = append(args, "--hostonlyadapter"+n, cfg.HostOnlyAdapter)
	}
	if cfg.InternalNetwork != "" {
		args = append(args, "--intnet"+n, cfg.InternalNetwork)
	}
	if cfg.NATNetwork != "" {
		args = append(args, "--nat-network"+n, cfg.NATNetwork)
	}
	if cfg.MACAddress != "" {
		args = append(args, "--macaddress"+n, cfg.MACAddress)
	}
	if cfg.CableConnected != nil {
		args = append(args, "--cableconnected"+n, onOff(*cfg.CableConnected))
	}
	if len(args) == 2 {
		return api.NewValidationError("adapter", "no adapter settings given")
	}
	_, err := v.run(ctx, args...)
	return classify(err, vmName, "")
}

// AddPortForward adds a NAT rule. Running VMs are changed with controlvm,
// stopped ones with modifyvm.
func (v *VirtualBox) AddPortForward(ctx context.Context, vmName string, slot int, rule vm.PortForwardingRule, live bool) error {
	spec := strings.Join([]string{
		rule.Name,
		rule.Protocol,
		rule.HostIP,
		strconv.Itoa(rule.HostPort),
		rule.GuestIP,
		strconv.Itoa(rule.GuestPort),
	}, ",")
	_, err := v.run(ctx, natpfArgs(vmName, slot, live, spec)...)
	return classify(err, vmName, "")
}

// RemovePortForward deletes a NAT rule, through controlvm when live.
func (v *VirtualBox) RemovePortForward(ctx context.Context, vmName string, slot int, ruleName string, live bool) error {
	_, err := v.run(ctx, natpfArgs(vmName, slot, live, "delete", ruleName)...)
	return classify(err, vmName, "")
}

func natpfArgs(vmName string, slot int, live bool, values ...string) []string {
	n := strconv.Itoa(slot)
	if live {
		return append([]string{"controlvm", vmName, "natpf" + n}, values...)
	}
	return append([]string{"modifyvm", vmName, "--natpf" + n}, values...)
}

// ListHostOnlyNetworks lists the host-only interfaces.
func (v *VirtualBox) ListHostOnlyNetworks(ctx context.Context) ([]parser.HostOnlyNetwork, error) {
	res, err := v.run(ctx, "list", "hostonlyifs")
	if err != nil {
		return nil, err
	}
	return parser.ParseHostOnlyNetworks(res.Stdout), nil
}

// CreateController adds a storage controller to a VM.
func (v *VirtualBox) CreateController(ctx context.Context, vmName string, spec ControllerSpec) error {
	args := []string{"storagectl", vmName, "--name", spec.Name, "--add", spec.Bus}
	if spec.Chipset != "" {
		args = append(args, "--controller", spec.Chipset)
	}
	if spec.PortCount > 0 {
		args = append(args, "--portcount", strconv.Itoa(spec.PortCount))
	}
	_, err := v.run(ctx, args...)
	return classify(err, vmName, "")
}

// RemoveController removes a storage controller and detaches its media.
func (v *VirtualBox) RemoveController(ctx context.Context, vmName, controller string) error {
	_, err := v.run(ctx, "storagectl", vmName, "--name", controller, "--remove")
	return classify(err, vmName, controller)
}

// CreateDisk creates a dynamically allocated disk image and returns its UUID.
func (v *VirtualBox) CreateDisk(ctx context.Context, spec DiskSpec) (string, error) {
	format := spec.Format
	if format == "" {
		format = "VDI"
	}
	res, err := v.run(ctx, "createmedium", "disk",
		"--filename", spec.Path,
		"--size", strconv.Itoa(spec.SizeMB),
		"--format", format)
	if err != nil {
		return "", err
	}
	return parser.ParseCreatedUUID(res.Stdout), nil
}

// AttachDisk attaches a medium to a controller port.
func (v *VirtualBox) AttachDisk(ctx context.Context, vmName string, spec AttachSpec) error {
	typ := spec.Type
	if typ == "" {
		typ = "hdd"
	}
	_, err := v.run(ctx, "storageattach", vmName,
		"--storagectl", spec.Controller,
		"--port", strconv.Itoa(spec.Port),
		"--device", strconv.Itoa(spec.Device),
		"--type", typ,
		"--medium", spec.Medium)
	return classify(err, vmName, spec.Controller)
}

// ListDisks lists the registered hard disk media.
func (v *VirtualBox) ListDisks(ctx context.Context) ([]parser.Disk, error) {
	res, err := v.run(ctx, "list", "hdds")
	if err != nil {
		return nil, err
	}
	return parser.ParseDisks(res.Stdout), nil
}

// HostInfo reports the host hardware as VirtualBox sees it.
func (v *VirtualBox) HostInfo(ctx context.Context) (parser.HostInfo, error) {
	res, err := v.run(ctx, "list", "hostinfo")
	if err != nil {
		return parser.HostInfo{}, err
	}
	return parser.ParseHostInfo(res.Stdout), nil
}

// Version returns the VBoxManage version string.
func (v *VirtualBox) Version(ctx context.Context) (string, error) {
	res, err := v.run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return parser.ParseVersion(res.Stdout), nil
}

// OSTypes lists the guest OS types VirtualBox knows.
func (v *VirtualBox) OSTypes(ctx context.Context) ([]parser.OSType, error) {
	res, err := v.run(ctx, "list", "ostypes")
	if err != nil {
		return nil, err
	}
	return parser.ParseOSTypes(res.Stdout), nil
}

// nicType maps an attachment mode to the value modifyvm --nicN expects.
func nicType(mode vm.AttachmentMode) string {
	if mode == vm.AttachmentInternal {
		return "intnet"
	}
	return string(mode)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
