package dispatcher

import (
	"context"
	"fmt"

	"github.com/docker/go-units"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/vm"
)

var controllerNameParam = api.ParameterMetadata{
	Name:        "controller_name",
	Type:        TypeString,
	Required:    true,
	Description: "Storage controller name, for example SATA",
}

type controllerParams struct {
	VMName         string `json:"vm_name"`
	ControllerName string `json:"controller_name"`
	ControllerType string `json:"controller_type"`
	Chipset        string `json:"chipset"`
	PortCount      int    `json:"port_count"`
}

type diskParams struct {
	VMName         string `json:"vm_name"`
	ControllerName string `json:"controller_name"`
	DiskPath       string `json:"disk_path"`
	Size           string `json:"size"`
	Format         string `json:"format"`
	Port           int    `json:"port"`
	Device         int    `json:"device"`
	MediumType     string `json:"medium_type"`
}

// ControllerList is the data of list_controllers.
type ControllerList struct {
	VMName      string                 `json:"vm_name"`
	Controllers []vm.StorageController `json:"controllers"`
}

// parseSize accepts sizes such as "20G", "512MiB" or "10737418240" and
// returns whole megabytes.
func parseSize(s string) (int, error) {
	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, api.NewValidationError("size", fmt.Sprintf("invalid size %q: %v", s, err))
	}
	mb := bytes / units.MiB
	if mb < 1 {
		return 0, api.NewValidationError("size", fmt.Sprintf("must be at least 1MB, got %s", units.BytesSize(float64(bytes))))
	}
	return int(mb), nil
}

func storageTool(o *orchestrator.Orchestrator) *Tool {
	return newTool("storage_management",
		"Manage storage controllers and disk images.",
		&Action{
			Name:        "list_controllers",
			Description: "List a VM's storage controllers with their attachments.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p controllerParams) (interface{}, error) {
				controllers, err := o.ListControllers(ctx, p.VMName)
				if err != nil {
					return nil, err
				}
				if controllers == nil {
					controllers = []vm.StorageController{}
				}
				return ControllerList{VMName: p.VMName, Controllers: controllers}, nil
			}),
		},
		&Action{
			Name:        "create_controller",
			Description: "Add a storage controller to a powered off VM.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				controllerNameParam,
				{Name: "controller_type", Type: TypeString, Required: true, Description: "Bus type", Enum: orchestrator.StorageBuses},
				{Name: "chipset", Type: TypeString, Description: "Controller chipset, for example IntelAhci; the bus default when empty"},
				{Name: "port_count", Type: TypeInteger, Description: "Number of ports", Minimum: intPtr(1), Maximum: intPtr(30)},
			},
			Handler: bind(func(ctx context.Context, p controllerParams) (interface{}, error) {
				return o.CreateController(ctx, p.VMName, hypervisor.ControllerSpec{
					Name:      p.ControllerName,
					Bus:       p.ControllerType,
					Chipset:   p.Chipset,
					PortCount: p.PortCount,
				})
			}),
		},
		&Action{
			Name:        "remove_controller",
			Description: "Remove a storage controller from a powered off VM.",
			Params:      []api.ParameterMetadata{vmNameParam, controllerNameParam},
			Handler: bind(func(ctx context.Context, p controllerParams) (interface{}, error) {
				if err := o.RemoveController(ctx, p.VMName, p.ControllerName); err != nil {
					return nil, err
				}
				return map[string]interface{}{"vm_name": p.VMName, "controller_name": p.ControllerName, "removed": true}, nil
			}),
		},
		&Action{
			Name:        "create_disk",
			Description: "Create a dynamically allocated disk image.",
			Params: []api.ParameterMetadata{
				{Name: "disk_path", Type: TypeString, Required: true, Description: "Path of the new image"},
				{Name: "size", Type: TypeString, Required: true, Description: "Capacity, for example 20G or 512M"},
				{Name: "format", Type: TypeString, Description: "Image format; derived from the file extension when empty", Enum: orchestrator.DiskFormats},
			},
			Handler: bind(func(ctx context.Context, p diskParams) (interface{}, error) {
				sizeMB, err := parseSize(p.Size)
				if err != nil {
					return nil, err
				}
				return o.CreateDisk(ctx, hypervisor.DiskSpec{Path: p.DiskPath, SizeMB: sizeMB, Format: p.Format})
			}),
		},
		&Action{
			Name:        "attach_disk",
			Description: "Attach a medium to a controller port of a powered off VM.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				controllerNameParam,
				{Name: "disk_path", Type: TypeString, Required: true, Description: "Image path or UUID; emptydrive or none for optical drives"},
				{Name: "port", Type: TypeInteger, Description: "Controller port", Default: 0, Minimum: intPtr(0), Maximum: intPtr(29)},
				{Name: "device", Type: TypeInteger, Description: "Device on the port", Default: 0, Minimum: intPtr(0), Maximum: intPtr(1)},
				{Name: "medium_type", Type: TypeString, Description: "Medium type", Default: "hdd", Enum: []string{"hdd", "dvddrive", "fdd"}},
			},
			Handler: bind(func(ctx context.Context, p diskParams) (interface{}, error) {
				return o.AttachDisk(ctx, p.VMName, hypervisor.AttachSpec{
					Controller: p.ControllerName,
					Port:       p.Port,
					Device:     p.Device,
					Type:       p.MediumType,
					Medium:     p.DiskPath,
				})
			}),
		},
		&Action{
			Name:        "list_disks",
			Description: "List the disk images registered with the hypervisor.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return o.ListDisks(ctx)
			},
		},
	)
}
