package dispatcher

import (
	"context"

	"virtmcp/internal/api"
	"virtmcp/internal/orchestrator"
)

func systemTool(o *orchestrator.Orchestrator) *Tool {
	return newTool("system_management",
		"Query the hypervisor installation and host.",
		&Action{
			Name:        "host_info",
			Description: "Report hypervisor version, host CPU and memory.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return o.HostInfo(ctx)
			},
		},
		&Action{
			Name:        "version",
			Description: "Report the hypervisor version.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				v, err := o.Version(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"backend": o.Backend(), "version": v}, nil
			},
		},
		&Action{
			Name:        "ostypes",
			Description: "List the guest OS types accepted by create.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return o.OSTypes(ctx)
			},
		},
	)
}

func hypervTool(o *orchestrator.Orchestrator) *Tool {
	return newTool("hyperv_management",
		"Manage Hyper-V virtual machines.",
		&Action{
			Name:        "list",
			Description: "List Hyper-V VMs.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				vms, err := o.List(ctx, orchestrator.ListAll)
				if err != nil {
					return nil, err
				}
				return VMList{VMs: vms, Count: len(vms)}, nil
			},
		},
		&Action{
			Name:        "get",
			Description: "Show one Hyper-V VM.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Info(ctx, p.VMName)
			}),
		},
		&Action{
			Name:        "start",
			Description: "Start a Hyper-V VM.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p vmParams) (interface{}, error) {
				return o.Start(ctx, p.VMName, true)
			}),
		},
		&Action{
			Name:        "stop",
			Description: "Stop a Hyper-V VM. Without force the guest OS is shut down.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				{Name: "force", Type: TypeBoolean, Description: "Turn the VM off instead of shutting the guest down", Default: false},
			},
			Handler: bind(func(ctx context.Context, p stopParams) (interface{}, error) {
				return o.Stop(ctx, p.VMName, p.Force)
			}),
		},
	)
}
