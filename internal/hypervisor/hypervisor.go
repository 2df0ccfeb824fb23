package hypervisor

import (
	"context"
	"errors"
	"strings"
	"time"

	"virtmcp/internal/api"
	"virtmcp/internal/executor"
	"virtmcp/internal/parser"
	"virtmcp/internal/snapshot"
	"virtmcp/internal/vm"
)

// Lifecycle is the part every backend supports: enumerate, inspect and
// drive the power state of VMs.
type Lifecycle interface {
	Name() string
	ListVMs(ctx context.Context) ([]vm.Details, error)
	Info(ctx context.Context, name string) (vm.Details, error)
	Start(ctx context.Context, name string, headless bool) error
	Stop(ctx context.Context, name string, force bool) error
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	Reset(ctx context.Context, name string) error
	Save(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
}

// Provisioner creates new VMs.
type Provisioner interface {
	Create(ctx context.Context, spec CreateSpec) error
	Clone(ctx context.Context, spec CloneSpec) error
}

// Snapshotter manages a VM's snapshots.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context, vmName string, spec SnapshotSpec) (string, error)
	RestoreSnapshot(ctx context.Context, vmName, ref string) error
	DeleteSnapshot(ctx context.Context, vmName, ref string) error
	ListSnapshots(ctx context.Context, vmName string) ([]snapshot.Record, error)
}

// Networker configures NICs and NAT port forwarding.
type Networker interface {
	ConfigureAdapter(ctx context.Context, vmName string, cfg AdapterConfig) error
	AddPortForward(ctx context.Context, vmName string, slot int, rule vm.PortForwardingRule, live bool) error
	RemovePortForward(ctx context.Context, vmName string, slot int, ruleName string, live bool) error
	ListHostOnlyNetworks(ctx context.Context) ([]parser.HostOnlyNetwork, error)
}

// Storage manages controllers and disk media.
type Storage interface {
	CreateController(ctx context.Context, vmName string, spec ControllerSpec) error
	RemoveController(ctx context.Context, vmName, controller string) error
	CreateDisk(ctx context.Context, spec DiskSpec) (string, error)
	AttachDisk(ctx context.Context, vmName string, spec AttachSpec) error
	ListDisks(ctx context.Context) ([]parser.Disk, error)
}

// Host reports on the hypervisor installation itself.
type Host interface {
	HostInfo(ctx context.Context) (parser.HostInfo, error)
	Version(ctx context.Context) (string, error)
	OSTypes(ctx context.Context) ([]parser.OSType, error)
}

// CreateSpec describes a new VM.
type CreateSpec struct {
	Name       string
	OSType     string
	MemoryMB   int
	CPUs       int
	BaseFolder string
}

// CloneSpec describes a clone of an existing VM.
type CloneSpec struct {
	Source   string
	Name     string
	Snapshot string
	Linked   bool
}

// SnapshotSpec describes a snapshot to take.
type SnapshotSpec struct {
	Name        string
	Description string
	Live        bool
}

// AdapterConfig is the desired configuration of one NIC slot. Empty strings
// and nil pointers leave the corresponding setting untouched.
type AdapterConfig struct {
	Slot            int
	Mode            vm.AttachmentMode
	BridgeAdapter   string
	HostOnlyAdapter string
	InternalNetwork string
	NATNetwork      string
	MACAddress      string
	CableConnected  *bool
}

// ControllerSpec describes a storage controller to add.
type ControllerSpec struct {
	Name      string
	Bus       string
	Chipset   string
	PortCount int
}

// DiskSpec describes a new disk image.
type DiskSpec struct {
	Path   string
	SizeMB int
	Format string
}

// AttachSpec describes a medium attachment.
type AttachSpec struct {
	Controller string
	Port       int
	Device     int
	Type       string
	Medium     string
}

// commandFor sets the command timeout from ctx so that the executor's
// TimeoutError reports the caller's budget rather than its own default.
func commandFor(ctx context.Context, path, label string, env []string, args ...string) executor.Command {
	c := executor.Command{Path: path, Args: args, Env: env, Label: label}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			c.Timeout = remaining
		}
	}
	return c
}

// notFoundSignatures maps stderr fragments to the resource they report as
// missing.
var notFoundSignatures = []struct {
	fragment string
	build    func(name string) *api.NotFoundError
}{
	{"could not find a registered machine", api.NewVMNotFoundError},
	{"unable to find a virtual machine with name", api.NewVMNotFoundError},
	{"could not find a snapshot", api.NewSnapshotNotFoundError},
	{"could not find a storage controller", api.NewControllerNotFoundError},
	{"could not find a controller named", api.NewControllerNotFoundError},
}

// classify turns hypervisor "not found" diagnostics into NotFoundError,
// keeping the first line of the diagnostic in the message, and passes every
// other error through unchanged.
func classify(err error, vmName, ref string) error {
	var execErr *api.ExecutionError
	if !errors.As(err, &execErr) {
		return err
	}
	stderr := strings.ToLower(execErr.Stderr)
	for _, sig := range notFoundSignatures {
		if !strings.Contains(stderr, sig.fragment) {
			continue
		}
		name := vmName
		if ref != "" && !strings.Contains(sig.fragment, "machine") {
			name = ref
		}
		nf := sig.build(name)
		nf.Message = nf.Error() + ": " + diagnostic(execErr.Stderr)
		return nf
	}
	return err
}

// diagnostic returns the first non-empty line of a CLI error output.
func diagnostic(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
