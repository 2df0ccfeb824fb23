package dispatcher

import (
	"context"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/orchestrator"
)

var vmNameParam = api.ParameterMetadata{
	Name:        "vm_name",
	Type:        TypeString,
	Required:    true,
	Description: "Name of the virtual machine",
}

type vmParams struct {
	VMName string `json:"vm_name"`
}

type createParams struct {
	VMName     string `json:"vm_name"`
	OSType     string `json:"os_type"`
	MemoryMB   int    `json:"memory_mb"`
	CPUs       int    `json:"cpus"`
	BaseFolder string `json:"base_folder"`
}

type startParams struct {
	VMName   string `json:"vm_name"`
	Headless bool   `json:"headless"`
}

type stopParams struct {
	VMName string `json:"vm_name"`
	Force  bool   `json:"force"`
}

type cloneParams struct {
	SourceVM     string `json:"source_vm"`
	NewVMName    string `json:"new_vm_name"`
	SnapshotName string `json:"snapshot_name"`
	Linked       bool   `json:"linked"`
}

type listParams struct {
	Filter string `json:"filter"`
}

// VMList is the data of the list action.
type VMList struct {
	VMs   interface{} `json:"vms"`
	Count int         `json:"count"`
}

// Deleted is the data of delete actions.
type Deleted struct {
	VMName  string `json:"vm_name"`
	Deleted bool   `json:"deleted"`
}

func vmTool(o *orchestrator.Orchestrator) *Tool {
	return newTool("vm_management",
		"Manage the lifecycle of VirtualBox virtual machines.",
		&Action{
			Name:        "create",
			Description: "Create and register a new VM. It starts out powered off.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				{Name: "os_type", Type: TypeString, Description: "Guest OS type id, see system_management ostypes", Default: "Other"},
				{Name: "memory_mb", Type: TypeInteger, Description: "Memory in MB", Default: 1024, Minimum: intPtr(4), Maximum: intPtr(2097152)},
				{Name: "cpus", Type: TypeInteger, Description: "Number of virtual CPUs", Default: 1, Minimum: intPtr(1), Maximum: intPtr(64)},
				{Name: "base_folder", Type: TypeString, Description: "Folder for the VM's files; the configured default when empty"},
			},
			Handler: bind(func(ctx context.Context, p createParams) (interface{}, error) {
				return o.Create(ctx, hypervisor.CreateSpec{
					Name:       p.VMName,
					OSType:     p.OSType,
					MemoryMB:   p.MemoryMB,
					CPUs:       p.CPUs,
					BaseFolder: p.BaseFolder,
				})
			}),
		},
		&Action{
			Name:        "start",
			Description: "Power on a stopped, saved or aborted VM.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				{Name: "headless", Type: TypeBoolean, Description: "Start without a GUI window", Default: true},
			},
			Handler: bind(func(ctx context.Context, p startParams) (interface{}, error) {
				return o.Start(ctx, p.VMName, p.Headless)
			}),
		},
		&Action{
			Name:        "stop",
			Description: "Stop a running or paused VM. Without force the guest is asked to shut down and the call waits for it.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				{Name: "force", Type: TypeBoolean, Description: "Power off immediately instead of pressing the ACPI power button", Default: false},
			},
			Handler: bind(func(ctx context.Context, p stopParams) (interface{}, error) {
				return o.Stop(ctx, p.VMName, p.Force)
			}),
		},
		&Action{
			Name:        "pause",
			Description: "Pause a running VM.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Pause(ctx, p.VMName)
			}),
		},
		&Action{
			Name:        "resume",
			Description: "Resume a paused VM.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Resume(ctx, p.VMName)
			}),
		},
		&Action{
			Name:        "reset",
			Description: "Hard-reset a running VM.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Reset(ctx, p.VMName)
			}),
		},
		&Action{
			Name:        "save",
			Description: "Save the state of a running or paused VM to disk and stop it.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Save(ctx, p.VMName)
			}),
		},
		&Action{
			Name:        "delete",
			Description: "Unregister a stopped VM and delete its files.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				if err := o.Delete(ctx, p.VMName); err != nil {
					return nil, err
				}
				return Deleted{VMName: p.VMName, Deleted: true}, nil
			}),
		},
		&Action{
			Name:        "clone",
			Description: "Clone a VM, optionally from one of its snapshots.",
			Params: []api.ParameterMetadata{
				{Name: "source_vm", Type: TypeString, Required: true, Description: "VM to clone"},
				{Name: "new_vm_name", Type: TypeString, Required: true, Description: "Name of the clone"},
				{Name: "snapshot_name", Type: TypeString, Description: "Snapshot of the source to clone from"},
				{Name: "linked", Type: TypeBoolean, Description: "Create a linked clone; requires snapshot_name", Default: false},
			},
			Handler: bind(func(ctx context.Context, p cloneParams) (interface{}, error) {
				if p.Linked && p.SnapshotName == "" {
					return nil, api.NewValidationError("snapshot_name", "is required for a linked clone")
				}
				return o.Clone(ctx, hypervisor.CloneSpec{
					Source:   p.SourceVM,
					Name:     p.NewVMName,
					Snapshot: p.SnapshotName,
					Linked:   p.Linked,
				})
			}),
		},
		&Action{
			Name:        "list",
			Description: "List registered VMs.",
			Params: []api.ParameterMetadata{
				{
					Name:        "filter",
					Type:        TypeString,
					Description: "Which VMs to list",
					Default:     string(orchestrator.ListAll),
					Enum:        []string{string(orchestrator.ListAll), string(orchestrator.ListRunning), string(orchestrator.ListStopped)},
				},
			},
			Handler: bind(func(ctx context.Context, p listParams) (interface{}, error) {
				vms, err := o.List(ctx, orchestrator.ListFilter(p.Filter))
				if err != nil {
					return nil, err
				}
				return VMList{VMs: vms, Count: len(vms)}, nil
			}),
		},
		&Action{
			Name:        "info",
			Description: "Show a VM's state, resources, adapters, controllers and current snapshot.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Info(ctx, p.VMName)
			}),
		},
	)
}
