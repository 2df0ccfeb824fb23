package dispatcher

import (
	"context"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/orchestrator"
	"virtmcp/internal/vm"
)

func slotParam(required bool) api.ParameterMetadata {
	p := api.ParameterMetadata{
		Name:        "adapter_slot",
		Type:        TypeInteger,
		Required:    required,
		Description: "NIC slot",
		Minimum:     intPtr(1),
		Maximum:     intPtr(vm.MaxAdapters),
	}
	if !required {
		p.Default = 1
	}
	return p
}

type adapterParams struct {
	VMName          string `json:"vm_name"`
	AdapterSlot     int    `json:"adapter_slot"`
	NetworkType     string `json:"network_type"`
	BridgeAdapter   string `json:"bridge_adapter"`
	HostOnlyAdapter string `json:"hostonly_adapter"`
	InternalNetwork string `json:"internal_network"`
	NATNetwork      string `json:"nat_network"`
	MACAddress      string `json:"mac_address"`
	CableConnected  *bool  `json:"cable_connected"`
}

type portForwardParams struct {
	VMName      string `json:"vm_name"`
	AdapterSlot int    `json:"adapter_slot"`
	RuleName    string `json:"rule_name"`
	Protocol    string `json:"protocol"`
	HostIP      string `json:"host_ip"`
	HostPort    int    `json:"host_port"`
	GuestIP     string `json:"guest_ip"`
	GuestPort   int    `json:"guest_port"`
}

// AdapterList is the data of list_adapters.
type AdapterList struct {
	VMName   string              `json:"vm_name"`
	Adapters []vm.NetworkAdapter `json:"adapters"`
}

func networkTool(o *orchestrator.Orchestrator) *Tool {
	ports := func(name, desc string) api.ParameterMetadata {
		return api.ParameterMetadata{Name: name, Type: TypeInteger, Required: true, Description: desc, Minimum: intPtr(1), Maximum: intPtr(65535)}
	}

	return newTool("network_management",
		"Configure VM network adapters and NAT port forwarding.",
		&Action{
			Name:        "configure_adapter",
			Description: "Change the attachment of a NIC slot. The VM must be powered off.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				slotParam(true),
				{Name: "network_type", Type: TypeString, Description: "Attachment mode", Enum: vm.AttachmentModes},
				{Name: "bridge_adapter", Type: TypeString, Description: "Host interface for bridged mode"},
				{Name: "hostonly_adapter", Type: TypeString, Description: "Host-only interface for hostonly mode"},
				{Name: "internal_network", Type: TypeString, Description: "Network name for internal mode"},
				{Name: "nat_network", Type: TypeString, Description: "NAT network name for natnetwork mode"},
				{Name: "mac_address", Type: TypeString, Description: "MAC address, 12 hex digits"},
				{Name: "cable_connected", Type: TypeBoolean, Description: "Whether the virtual cable is plugged in"},
			},
			Handler: bind(func(ctx context.Context, p adapterParams) (interface{}, error) {
				return o.ConfigureAdapter(ctx, p.VMName, hypervisor.AdapterConfig{
					Slot:            p.AdapterSlot,
					Mode:            vm.AttachmentMode(p.NetworkType),
					BridgeAdapter:   p.BridgeAdapter,
					HostOnlyAdapter: p.HostOnlyAdapter,
					InternalNetwork: p.InternalNetwork,
					NATNetwork:      p.NATNetwork,
					MACAddress:      p.MACAddress,
					CableConnected:  p.CableConnected,
				})
			}),
		},
		&Action{
			Name:        "add_port_forward",
			Description: "Forward a host port to a guest port on a NAT adapter. Works on running VMs.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				slotParam(false),
				{Name: "rule_name", Type: TypeString, Required: true, Description: "Rule name, unique per adapter"},
				{Name: "protocol", Type: TypeString, Description: "Transport protocol", Default: "tcp", Enum: []string{"tcp", "udp"}},
				{Name: "host_ip", Type: TypeString, Description: "Host address to bind; all when empty"},
				ports("host_port", "Host port"),
				{Name: "guest_ip", Type: TypeString, Description: "Guest address; the DHCP lease when empty"},
				ports("guest_port", "Guest port"),
			},
			Handler: bind(func(ctx context.Context, p portForwardParams) (interface{}, error) {
				return o.AddPortForward(ctx, p.VMName, p.AdapterSlot, vm.PortForwardingRule{
					Name:      p.RuleName,
					Protocol:  p.Protocol,
					HostIP:    p.HostIP,
					HostPort:  p.HostPort,
					GuestIP:   p.GuestIP,
					GuestPort: p.GuestPort,
				})
			}),
		},
		&Action{
			Name:        "remove_port_forward",
			Description: "Delete a port forwarding rule by name.",
			Params: []api.ParameterMetadata{
				vmNameParam,
				slotParam(false),
				{Name: "rule_name", Type: TypeString, Required: true, Description: "Rule to delete"},
			},
			Handler: bind(func(ctx context.Context, p portForwardParams) (interface{}, error) {
				return o.RemovePortForward(ctx, p.VMName, p.AdapterSlot, p.RuleName)
			}),
		},
		&Action{
			Name:        "list_adapters",
			Description: "List a VM's NIC slots with their port forwarding rules.",
			Params:      []api.ParameterMetadata{vmNameParam},
			Handler: bind(func(ctx context.Context, p adapterParams) (interface{}, error) {
				adapters, err := o.ListAdapters(ctx, p.VMName)
				if err != nil {
					return nil, err
				}
				if adapters == nil {
					adapters = []vm.NetworkAdapter{}
				}
				return AdapterList{VMName: p.VMName, Adapters: adapters}, nil
			}),
		},
		&Action{
			Name:        "list_hostonly_networks",
			Description: "List the host-only interfaces defined on the host.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return o.ListHostOnlyNetworks(ctx)
			},
		},
	)
}
