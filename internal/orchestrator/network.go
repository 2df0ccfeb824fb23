package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/parser"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/vm"
)

// ValidateSlot checks that slot names one of the VM's NIC slots.
func ValidateSlot(slot int) error {
	if slot < 1 || slot > vm.MaxAdapters {
		return api.NewValidationError("adapter", fmt.Sprintf("must be between 1 and %d, got %d", vm.MaxAdapters, slot))
	}
	return nil
}

// ValidateRule checks a port forwarding rule before it reaches the CLI.
func ValidateRule(rule vm.PortForwardingRule) error {
	if rule.Name == "" {
		return api.NewValidationError("rule_name", "is required")
	}
	if strings.ContainsAny(rule.Name, ",") {
		return api.NewValidationError("rule_name", "must not contain commas")
	}
	if rule.Protocol != "tcp" && rule.Protocol != "udp" {
		return api.NewValidationError("protocol", fmt.Sprintf("must be tcp or udp, got %q", rule.Protocol))
	}
	if rule.HostPort < 1 || rule.HostPort > 65535 {
		return api.NewValidationError("host_port", fmt.Sprintf("must be between 1 and 65535, got %d", rule.HostPort))
	}
	if rule.GuestPort < 1 || rule.GuestPort > 65535 {
		return api.NewValidationError("guest_port", fmt.Sprintf("must be between 1 and 65535, got %d", rule.GuestPort))
	}
	return nil
}

// adapter returns the cached configuration of one slot. Slots the hypervisor
// did not report are returned disabled.
func (o *Orchestrator) adapter(vmName string, slot int) (vm.NetworkAdapter, error) {
	a := vm.NetworkAdapter{Slot: slot, Mode: vm.AttachmentNone}
	err := o.registry.View(vmName, func(v *vm.VM) {
		for _, candidate := range v.Adapters {
			if candidate.Slot == slot {
				a = candidate
				return
			}
		}
	})
	return a, err
}

// ConfigureAdapter changes the attachment of one NIC slot. The VM must be
// powered off.
func (o *Orchestrator) ConfigureAdapter(ctx context.Context, vmName string, cfg hypervisor.AdapterConfig) (vm.NetworkAdapter, error) {
	if o.network == nil {
		return vm.NetworkAdapter{}, o.unsupported("network configure")
	}
	if err := ValidateSlot(cfg.Slot); err != nil {
		return vm.NetworkAdapter{}, err
	}
	if cfg.Mode != "" && !slices.Contains(vm.AttachmentModes, string(cfg.Mode)) {
		return vm.NetworkAdapter{}, api.NewValidationError("mode", fmt.Sprintf("must be one of %s", strings.Join(vm.AttachmentModes, ", ")))
	}
	switch cfg.Mode {
	case vm.AttachmentBridged:
		if cfg.BridgeAdapter == "" {
			return vm.NetworkAdapter{}, api.NewValidationError("bridge_adapter", "is required for bridged mode")
		}
	case vm.AttachmentHostOnly:
		if cfg.HostOnlyAdapter == "" {
			return vm.NetworkAdapter{}, api.NewValidationError("hostonly_adapter", "is required for hostonly mode")
		}
	case vm.AttachmentInternal:
		if cfg.InternalNetwork == "" {
			return vm.NetworkAdapter{}, api.NewValidationError("internal_network", "is required for internal mode")
		}
	case vm.AttachmentNATNetwork:
		if cfg.NATNetwork == "" {
			return vm.NetworkAdapter{}, api.NewValidationError("nat_network", "is required for natnetwork mode")
		}
	}

	err := o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpConfigure,
		target: strconv.Itoa(cfg.Slot),
		run: func(ctx context.Context, _ vm.State) error {
			return o.network.ConfigureAdapter(ctx, vmName, cfg)
		},
	})
	if err != nil {
		return vm.NetworkAdapter{}, err
	}
	return o.adapter(vmName, cfg.Slot)
}

// ListAdapters returns the VM's NIC slots as last reported.
func (o *Orchestrator) ListAdapters(ctx context.Context, vmName string) ([]vm.NetworkAdapter, error) {
	info, err := o.Info(ctx, vmName)
	if err != nil {
		return nil, err
	}
	return info.Adapters, nil
}

// AddPortForward adds a NAT rule to a slot. Running VMs are changed live.
func (o *Orchestrator) AddPortForward(ctx context.Context, vmName string, slot int, rule vm.PortForwardingRule) (vm.NetworkAdapter, error) {
	if o.network == nil {
		return vm.NetworkAdapter{}, o.unsupported("port forward add")
	}
	if err := ValidateSlot(slot); err != nil {
		return vm.NetworkAdapter{}, err
	}
	if err := ValidateRule(rule); err != nil {
		return vm.NetworkAdapter{}, err
	}
	if err := o.requireVM(vmName); err != nil {
		return vm.NetworkAdapter{}, err
	}
	a, err := o.adapter(vmName, slot)
	if err != nil {
		return vm.NetworkAdapter{}, err
	}
	if a.Mode != vm.AttachmentNAT {
		return vm.NetworkAdapter{}, &api.StateConflictError{
			VM:        vmName,
			Operation: string(vm.OpPortForwardAdd),
			Message:   fmt.Sprintf("adapter %d of vm %s is attached as %s; port forwarding requires nat", slot, vmName, a.Mode),
		}
	}
	for _, existing := range a.PortForwards {
		if existing.Name == rule.Name {
			return vm.NetworkAdapter{}, &api.StateConflictError{
				VM:        vmName,
				Operation: string(vm.OpPortForwardAdd),
				Message:   fmt.Sprintf("port forwarding rule %s already exists on adapter %d of vm %s", rule.Name, slot, vmName),
			}
		}
	}

	err = o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpPortForwardAdd,
		target: strconv.Itoa(slot) + "/" + rule.Name,
		run: func(ctx context.Context, prev vm.State) error {
			return o.network.AddPortForward(ctx, vmName, slot, rule, prev == vm.StateRunning || prev == vm.StatePaused)
		},
	})
	if err != nil {
		return vm.NetworkAdapter{}, err
	}
	return o.adapter(vmName, slot)
}

// RemovePortForward deletes a NAT rule by name.
func (o *Orchestrator) RemovePortForward(ctx context.Context, vmName string, slot int, ruleName string) (vm.NetworkAdapter, error) {
	if o.network == nil {
		return vm.NetworkAdapter{}, o.unsupported("port forward remove")
	}
	if err := ValidateSlot(slot); err != nil {
		return vm.NetworkAdapter{}, err
	}
	if ruleName == "" {
		return vm.NetworkAdapter{}, api.NewValidationError("rule_name", "is required")
	}
	if err := o.requireVM(vmName); err != nil {
		return vm.NetworkAdapter{}, err
	}
	a, err := o.adapter(vmName, slot)
	if err != nil {
		return vm.NetworkAdapter{}, err
	}
	if !slices.ContainsFunc(a.PortForwards, func(r vm.PortForwardingRule) bool { return r.Name == ruleName }) {
		return vm.NetworkAdapter{}, api.NewNotFoundError("port forwarding rule", ruleName)
	}

	err = o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpPortForwardDel,
		target: strconv.Itoa(slot) + "/" + ruleName,
		run: func(ctx context.Context, prev vm.State) error {
			return o.network.RemovePortForward(ctx, vmName, slot, ruleName, prev == vm.StateRunning || prev == vm.StatePaused)
		},
	})
	if err != nil {
		return vm.NetworkAdapter{}, err
	}
	return o.adapter(vmName, slot)
}

// ListPortForwards returns the rules of one slot, or of every slot when slot
// is zero.
func (o *Orchestrator) ListPortForwards(ctx context.Context, vmName string, slot int) ([]vm.PortForwardingRule, error) {
	if slot != 0 {
		if err := ValidateSlot(slot); err != nil {
			return nil, err
		}
	}
	adapters, err := o.ListAdapters(ctx, vmName)
	if err != nil {
		return nil, err
	}
	rules := []vm.PortForwardingRule{}
	for _, a := range adapters {
		if slot == 0 || a.Slot == slot {
			rules = append(rules, a.PortForwards...)
		}
	}
	return rules, nil
}

// ListHostOnlyNetworks lists the host-only interfaces defined on the host.
func (o *Orchestrator) ListHostOnlyNetworks(ctx context.Context) ([]parser.HostOnlyNetwork, error) {
	if o.network == nil {
		return nil, o.unsupported("hostonly network list")
	}
	var nets []parser.HostOnlyNetwork
	err := o.sched.Run(ctx, o.key(hostKey), "hostonly_list", scheduler.IntentRead, func(ctx context.Context) error {
		var err error
		nets, err = o.network.ListHostOnlyNetworks(ctx)
		return err
	})
	return nets, err
}
