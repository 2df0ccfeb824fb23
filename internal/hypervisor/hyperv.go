package hypervisor

import (
	"context"

	"virtmcp/internal/api"
	"virtmcp/internal/executor"
	"virtmcp/internal/parser"
	"virtmcp/internal/vm"
)

// vmNameEnv carries the target VM name into PowerShell. Names never appear
// in the script text.
const vmNameEnv = "VIRTMCP_VM_NAME"

// hyperVFields selects the VM properties the parser reads. State is rendered
// by name so that the output does not depend on the enum's numeric values.
const hyperVFields = "Name,Id,@{Name='State';Expression={$_.State.ToString()}},MemoryStartup,MemoryAssigned,ProcessorCount,Generation"

var (
	hyperVListScript = "Get-VM | Select-Object " + hyperVFields + " | ConvertTo-Json -Depth 2 -Compress"
	hyperVGetScript  = "Get-VM -Name $env:" + vmNameEnv + " -ErrorAction Stop | Select-Object " + hyperVFields + " | ConvertTo-Json -Depth 2 -Compress"
)

func hyperVCmdlet(cmdlet string, flags ...string) string {
	script := cmdlet + " -Name $env:" + vmNameEnv + " -ErrorAction Stop"
	for _, f := range flags {
		script += " " + f
	}
	return script
}

// HyperV drives Hyper-V through PowerShell cmdlets with JSON output. It
// implements Lifecycle only.
type HyperV struct {
	powershell string
	runner     executor.Runner
}

var _ Lifecycle = (*HyperV)(nil)

// NewHyperV creates a backend invoking the PowerShell binary at path.
func NewHyperV(path string, runner executor.Runner) *HyperV {
	if path == "" {
		path = "powershell"
	}
	return &HyperV{powershell: path, runner: runner}
}

// Name identifies the backend in logs and metrics.
func (h *HyperV) Name() string { return "hyperv" }

func (h *HyperV) run(ctx context.Context, label, vmName, script string) (executor.Result, error) {
	var env []string
	if vmName != "" {
		env = []string{vmNameEnv + "=" + vmName}
	}
	cmd := commandFor(ctx, h.powershell, label, env, "-NoProfile", "-NonInteractive", "-Command", script)
	res, err := h.runner.Run(ctx, cmd)
	return res, classify(err, vmName, "")
}

// ListVMs returns every VM known to the Hyper-V host.
func (h *HyperV) ListVMs(ctx context.Context) ([]vm.Details, error) {
	res, err := h.run(ctx, "Get-VM", "", hyperVListScript)
	if err != nil {
		return nil, err
	}
	return parser.ParseHyperVVMs(res.Stdout)
}

// Info returns one VM, or NotFoundError when Get-VM reports no match.
func (h *HyperV) Info(ctx context.Context, name string) (vm.Details, error) {
	res, err := h.run(ctx, "Get-VM", name, hyperVGetScript)
	if err != nil {
		return vm.Details{}, err
	}
	details, err := parser.ParseHyperVVMs(res.Stdout)
	if err != nil {
		return vm.Details{}, err
	}
	for _, d := range details {
		if d.Name == name {
			return d, nil
		}
	}
	return vm.Details{}, api.NewVMNotFoundError(name)
}

// Start ignores headless: Hyper-V VMs have no attached console.
func (h *HyperV) Start(ctx context.Context, name string, _ bool) error {
	_, err := h.run(ctx, "Start-VM", name, hyperVCmdlet("Start-VM"))
	return err
}

// Stop turns the VM off when force is set, otherwise asks the guest to shut
// down.
func (h *HyperV) Stop(ctx context.Context, name string, force bool) error {
	flag := "-Force"
	if force {
		flag = "-TurnOff"
	}
	_, err := h.run(ctx, "Stop-VM", name, hyperVCmdlet("Stop-VM", flag))
	return err
}

// Pause suspends the VM with Suspend-VM.
func (h *HyperV) Pause(ctx context.Context, name string) error {
	_, err := h.run(ctx, "Suspend-VM", name, hyperVCmdlet("Suspend-VM"))
	return err
}

// Resume continues a suspended VM.
func (h *HyperV) Resume(ctx context.Context, name string) error {
	_, err := h.run(ctx, "Resume-VM", name, hyperVCmdlet("Resume-VM"))
	return err
}

// Reset restarts the VM without asking the guest.
func (h *HyperV) Reset(ctx context.Context, name string) error {
	_, err := h.run(ctx, "Restart-VM", name, hyperVCmdlet("Restart-VM", "-Force"))
	return err
}

// Save writes the VM state to disk with Save-VM.
func (h *HyperV) Save(ctx context.Context, name string) error {
	_, err := h.run(ctx, "Save-VM", name, hyperVCmdlet("Save-VM"))
	return err
}

// Delete removes the VM registration. Hyper-V keeps the virtual disks.
func (h *HyperV) Delete(ctx context.Context, name string) error {
	_, err := h.run(ctx, "Remove-VM", name, hyperVCmdlet("Remove-VM", "-Force"))
	return err
}
