package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/parser"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/vm"
)

// StorageBuses lists the controller buses VirtualBox accepts.
var StorageBuses = []string{"ide", "sata", "scsi", "sas", "floppy", "usb", "pcie", "virtio"}

// DiskFormats lists the image formats createmedium accepts.
var DiskFormats = []string{"VDI", "VMDK", "VHD"}

// DiskResult is returned by CreateDisk.
type DiskResult struct {
	UUID   string `json:"uuid,omitempty"`
	Path   string `json:"path"`
	SizeMB int    `json:"size_mb"`
	Format string `json:"format"`
}

func (o *Orchestrator) controller(vmName, name string) (vm.StorageController, bool, error) {
	var (
		c     vm.StorageController
		found bool
	)
	err := o.registry.View(vmName, func(v *vm.VM) {
		for _, candidate := range v.Controllers {
			if candidate.Name == name {
				c, found = candidate, true
				return
			}
		}
	})
	return c, found, err
}

// ListControllers returns the VM's storage controllers with their
// attachments.
func (o *Orchestrator) ListControllers(ctx context.Context, vmName string) ([]vm.StorageController, error) {
	info, err := o.Info(ctx, vmName)
	if err != nil {
		return nil, err
	}
	return info.Controllers, nil
}

// CreateController adds a storage controller. When no chipset is given the
// bus default is used.
func (o *Orchestrator) CreateController(ctx context.Context, vmName string, spec hypervisor.ControllerSpec) (vm.StorageController, error) {
	if o.storage == nil {
		return vm.StorageController{}, o.unsupported("storage controller create")
	}
	if spec.Name == "" {
		return vm.StorageController{}, api.NewValidationError("controller", "is required")
	}
	if spec.Bus == "" && spec.Chipset != "" {
		spec.Bus = parser.BusForChipset(spec.Chipset)
	}
	spec.Bus = strings.ToLower(spec.Bus)
	if !slices.Contains(StorageBuses, spec.Bus) {
		return vm.StorageController{}, api.NewValidationError("bus", fmt.Sprintf("must be one of %s", strings.Join(StorageBuses, ", ")))
	}
	if spec.PortCount < 0 {
		return vm.StorageController{}, api.NewValidationError("port_count", "must not be negative")
	}
	if err := o.requireVM(vmName); err != nil {
		return vm.StorageController{}, err
	}
	if _, exists, err := o.controller(vmName, spec.Name); err != nil {
		return vm.StorageController{}, err
	} else if exists {
		return vm.StorageController{}, &api.StateConflictError{
			VM:        vmName,
			Operation: string(vm.OpControllerAdd),
			Message:   fmt.Sprintf("storage controller %s already exists on vm %s", spec.Name, vmName),
		}
	}

	err := o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpControllerAdd,
		target: spec.Name,
		run: func(ctx context.Context, _ vm.State) error {
			return o.storage.CreateController(ctx, vmName, spec)
		},
	})
	if err != nil {
		return vm.StorageController{}, err
	}
	c, _, err := o.controller(vmName, spec.Name)
	return c, err
}

// RemoveController deletes a storage controller and detaches its media.
func (o *Orchestrator) RemoveController(ctx context.Context, vmName, name string) error {
	if o.storage == nil {
		return o.unsupported("storage controller remove")
	}
	if err := o.requireVM(vmName); err != nil {
		return err
	}
	if _, exists, err := o.controller(vmName, name); err != nil {
		return err
	} else if !exists {
		return api.NewControllerNotFoundError(name)
	}
	return o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpControllerDel,
		target: name,
		run: func(ctx context.Context, _ vm.State) error {
			return o.storage.RemoveController(ctx, vmName, name)
		},
	})
}

// CreateDisk creates a disk image. Operations on the same path are
// serialized.
func (o *Orchestrator) CreateDisk(ctx context.Context, spec hypervisor.DiskSpec) (DiskResult, error) {
	if o.storage == nil {
		return DiskResult{}, o.unsupported("disk create")
	}
	if spec.Path == "" {
		return DiskResult{}, api.NewValidationError("path", "is required")
	}
	if spec.SizeMB <= 0 {
		return DiskResult{}, api.NewValidationError("size_mb", "must be positive")
	}
	if spec.Format == "" {
		spec.Format = formatForPath(spec.Path)
	}
	spec.Format = strings.ToUpper(spec.Format)
	if !slices.Contains(DiskFormats, spec.Format) {
		return DiskResult{}, api.NewValidationError("format", fmt.Sprintf("must be one of %s", strings.Join(DiskFormats, ", ")))
	}

	res := DiskResult{Path: spec.Path, SizeMB: spec.SizeMB, Format: spec.Format}
	err := o.sched.Run(ctx, o.key("medium:"+spec.Path), "disk_create", scheduler.IntentMutate, func(ctx context.Context) error {
		id, err := o.storage.CreateDisk(ctx, spec)
		res.UUID = id
		return err
	})
	return res, err
}

func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vmdk":
		return "VMDK"
	case ".vhd":
		return "VHD"
	default:
		return "VDI"
	}
}

// AttachDisk attaches a medium to a controller port. The VM must be powered
// off.
func (o *Orchestrator) AttachDisk(ctx context.Context, vmName string, spec hypervisor.AttachSpec) (vm.StorageController, error) {
	if o.storage == nil {
		return vm.StorageController{}, o.unsupported("disk attach")
	}
	if spec.Controller == "" {
		return vm.StorageController{}, api.NewValidationError("controller", "is required")
	}
	if spec.Medium == "" {
		return vm.StorageController{}, api.NewValidationError("medium", "is required")
	}
	if spec.Port < 0 || spec.Device < 0 {
		return vm.StorageController{}, api.NewValidationError("port", "port and device must not be negative")
	}
	if err := o.requireVM(vmName); err != nil {
		return vm.StorageController{}, err
	}
	c, exists, err := o.controller(vmName, spec.Controller)
	if err != nil {
		return vm.StorageController{}, err
	}
	if !exists {
		return vm.StorageController{}, api.NewControllerNotFoundError(spec.Controller)
	}
	if c.PortCount > 0 && spec.Port >= c.PortCount {
		return vm.StorageController{}, api.NewValidationError("port", fmt.Sprintf("controller %s has %d ports, got port %d", c.Name, c.PortCount, spec.Port))
	}

	err = o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpDiskAttach,
		target: fmt.Sprintf("%s:%d:%d", spec.Controller, spec.Port, spec.Device),
		run: func(ctx context.Context, _ vm.State) error {
			return o.storage.AttachDisk(ctx, vmName, spec)
		},
	})
	if err != nil {
		return vm.StorageController{}, err
	}
	c, _, err = o.controller(vmName, spec.Controller)
	return c, err
}

// ListDisks lists the disk images known to the hypervisor.
func (o *Orchestrator) ListDisks(ctx context.Context) ([]parser.Disk, error) {
	if o.storage == nil {
		return nil, o.unsupported("disk list")
	}
	var disks []parser.Disk
	err := o.sched.Run(ctx, o.key(hostKey), "disk_list", scheduler.IntentRead, func(ctx context.Context) error {
		var err error
		disks, err = o.storage.ListDisks(ctx)
		return err
	})
	return disks, err
}
