package vm

import (
	"virtmcp/internal/snapshot"
)

// State is the lifecycle state of a VM as tracked by the registry.
type State string

const (
	StatePoweredOff State = "PoweredOff"
	StateStarting   State = "Starting"
	StateRunning    State = "Running"
	StatePausing    State = "Pausing"
	StatePaused     State = "Paused"
	StateStopping   State = "Stopping"
	StateSaving     State = "Saving"
	StateSaved      State = "Saved"
	StateRestoring  State = "Restoring"
	StateAborted    State = "Aborted"
	StateDeleting   State = "Deleting"
	StateUnknown    State = "Unknown"
)

// Settled reports whether s is a state the hypervisor can rest in, as
// opposed to a transient in-progress marker.
func (s State) Settled() bool {
	switch s {
	case StatePoweredOff, StateRunning, StatePaused, StateSaved, StateAborted:
		return true
	default:
		return false
	}
}

// AttachmentMode is how a network adapter is connected.
type AttachmentMode string

const (
	AttachmentNone       AttachmentMode = "none"
	AttachmentNAT        AttachmentMode = "nat"
	AttachmentBridged    AttachmentMode = "bridged"
	AttachmentHostOnly   AttachmentMode = "hostonly"
	AttachmentInternal   AttachmentMode = "internal"
	AttachmentNATNetwork AttachmentMode = "natnetwork"
)

// AttachmentModes lists the modes an adapter can be configured with.
var AttachmentModes = []string{
	string(AttachmentNAT),
	string(AttachmentBridged),
	string(AttachmentHostOnly),
	string(AttachmentInternal),
	string(AttachmentNATNetwork),
	string(AttachmentNone),
}

// MaxAdapters is the number of NIC slots VirtualBox exposes per VM.
const MaxAdapters = 8

// PortForwardingRule maps a host port to a guest port on a NAT adapter.
type PortForwardingRule struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"`
	HostIP    string `json:"host_ip,omitempty"`
	HostPort  int    `json:"host_port"`
	GuestIP   string `json:"guest_ip,omitempty"`
	GuestPort int    `json:"guest_port"`
}

// NetworkAdapter is one NIC slot.
type NetworkAdapter struct {
	Slot            int                  `json:"slot"`
	Enabled         bool                 `json:"enabled"`
	Mode            AttachmentMode       `json:"mode"`
	BridgeAdapter   string               `json:"bridge_adapter,omitempty"`
	HostOnlyAdapter string               `json:"hostonly_adapter,omitempty"`
	InternalNetwork string               `json:"internal_network,omitempty"`
	NATNetwork      string               `json:"nat_network,omitempty"`
	MACAddress      string               `json:"mac_address,omitempty"`
	CableConnected  bool                 `json:"cable_connected"`
	PortForwards    []PortForwardingRule `json:"port_forwards,omitempty"`
}

// StorageAttachment is a medium attached to a controller port.
type StorageAttachment struct {
	Port   int    `json:"port"`
	Device int    `json:"device"`
	Medium string `json:"medium"`
}

// StorageController is a disk controller with its attachments.
type StorageController struct {
	Name        string              `json:"name"`
	Bus         string              `json:"bus"`
	Chipset     string              `json:"chipset,omitempty"`
	PortCount   int                 `json:"port_count,omitempty"`
	Attachments []StorageAttachment `json:"attachments,omitempty"`
}

// Details is what a hypervisor info query reports about one VM.
type Details struct {
	Name        string
	ID          string
	State       State
	MemoryMB    int
	CPUs        int
	OSType      string
	Adapters    []NetworkAdapter
	Controllers []StorageController
}

// VM is a registry entry. It is only reachable through Registry.View and
// Registry.Update, which hold the entry lock.
type VM struct {
	Name        string
	ID          string
	State       State
	MemoryMB    int
	CPUs        int
	OSType      string
	Adapters    []NetworkAdapter
	Controllers []StorageController
	Snapshots   *snapshot.Tree

	// confirmed is the last state reported by the hypervisor itself.
	confirmed State
}

// Confirmed returns the last externally confirmed state.
func (v *VM) Confirmed() State {
	return v.confirmed
}

// Apply copies a fresh hypervisor report into the entry and records its
// state as confirmed.
func (v *VM) Apply(d Details) {
	if d.ID != "" {
		v.ID = d.ID
	}
	v.State = d.State
	v.confirmed = d.State
	v.MemoryMB = d.MemoryMB
	v.CPUs = d.CPUs
	if d.OSType != "" {
		v.OSType = d.OSType
	}
	v.Adapters = d.Adapters
	v.Controllers = d.Controllers
}

// Info is the read-only view of a VM returned to callers.
type Info struct {
	Name            string              `json:"name"`
	ID              string              `json:"id,omitempty"`
	State           State               `json:"state"`
	MemoryMB        int                 `json:"memory_mb,omitempty"`
	CPUs            int                 `json:"cpus,omitempty"`
	OSType          string              `json:"os_type,omitempty"`
	Adapters        []NetworkAdapter    `json:"adapters,omitempty"`
	Controllers     []StorageController `json:"storage_controllers,omitempty"`
	CurrentSnapshot string              `json:"current_snapshot,omitempty"`
	SnapshotCount   int                 `json:"snapshot_count"`
}

// Info returns a detached copy of v suitable for returning to callers.
func (v *VM) Info() Info {
	info := Info{
		Name:        v.Name,
		ID:          v.ID,
		State:       v.State,
		MemoryMB:    v.MemoryMB,
		CPUs:        v.CPUs,
		OSType:      v.OSType,
		Adapters:    append([]NetworkAdapter(nil), v.Adapters...),
		Controllers: append([]StorageController(nil), v.Controllers...),
	}
	if v.Snapshots != nil {
		if cur, ok := v.Snapshots.Current(); ok {
			info.CurrentSnapshot = cur.Name
		}
		info.SnapshotCount = v.Snapshots.Len()
	}
	return info
}
