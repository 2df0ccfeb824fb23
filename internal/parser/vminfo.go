package parser

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"virtmcp/internal/vm"
)

var (
	nicKeyPattern        = regexp.MustCompile(`^(nic|natnet|macaddress|cableconnected|bridgeadapter|hostonlyadapter|intnet|nat-network)(\d+)$`)
	forwardingKeyPattern = regexp.MustCompile(`^Forwarding\(\d+\)$`)
	controllerKeyPattern = regexp.MustCompile(`^storagecontroller(name|type|portcount)(\d+)$`)
	attachmentKeyPattern = regexp.MustCompile(`^(.+)-(\d+)-(\d+)$`)
)

// VBoxState maps a VMState value from showvminfo to a lifecycle state.
func VBoxState(raw string) vm.State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "poweroff", "powered off", "teleported", "settingup", "deletingsnapshot":
		return vm.StatePoweredOff
	case "running", "livesnapshotting", "onlinesnapshotting", "teleporting", "deletingsnapshotlive":
		return vm.StateRunning
	case "paused", "deletingsnapshotlivepaused", "teleportingpausedvm":
		return vm.StatePaused
	case "saved", "aborted-saved":
		return vm.StateSaved
	case "aborted", "stuck", "gurumeditation":
		return vm.StateAborted
	case "starting", "teleportingin":
		return vm.StateStarting
	case "stopping":
		return vm.StateStopping
	case "saving":
		return vm.StateSaving
	case "restoring", "restoringsnapshot":
		return vm.StateRestoring
	default:
		return vm.StateUnknown
	}
}

// ParseVMInfo parses `showvminfo --machinereadable` output.
func ParseVMInfo(output string) (vm.Details, error) {
	kv := ParseKeyValues(output)
	name := kv.String("name")
	if name == "" {
		return vm.Details{}, errors.New("showvminfo output has no name field")
	}

	return vm.Details{
		Name:        name,
		ID:          kv.String("UUID"),
		State:       VBoxState(kv.String("VMState")),
		MemoryMB:    kv.Int("memory"),
		CPUs:        kv.Int("cpus"),
		OSType:      kv.String("ostype"),
		Adapters:    parseAdapters(kv),
		Controllers: parseControllers(kv),
	}, nil
}

func parseAdapters(kv KeyValues) []vm.NetworkAdapter {
	adapters := make(map[int]*vm.NetworkAdapter)
	get := func(slot int) *vm.NetworkAdapter {
		a, ok := adapters[slot]
		if !ok {
			a = &vm.NetworkAdapter{Slot: slot}
			adapters[slot] = a
		}
		return a
	}

	lastSlot := 1
	for _, p := range kv {
		if m := nicKeyPattern.FindStringSubmatch(p.Key); m != nil {
			slot, err := strconv.Atoi(m[2])
			if err != nil || slot < 1 || slot > vm.MaxAdapters {
				continue
			}
			lastSlot = slot
			a := get(slot)
			switch m[1] {
			case "nic":
				a.Mode = attachmentMode(p.Value)
				a.Enabled = a.Mode != vm.AttachmentNone
			case "macaddress":
				a.MACAddress = p.Value
			case "cableconnected":
				a.CableConnected = p.Value == "on"
			case "bridgeadapter":
				a.BridgeAdapter = p.Value
			case "hostonlyadapter":
				a.HostOnlyAdapter = p.Value
			case "intnet":
				a.InternalNetwork = p.Value
			case "nat-network":
				a.NATNetwork = p.Value
			}
			continue
		}
		if forwardingKeyPattern.MatchString(p.Key) {
			if rule, ok := ParseForwardingRule(p.Value); ok {
				a := get(lastSlot)
				a.PortForwards = append(a.PortForwards, rule)
			}
		}
	}

	slots := make([]int, 0, len(adapters))
	for slot, a := range adapters {
		if a.Mode == "" {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Ints(slots)

	out := make([]vm.NetworkAdapter, 0, len(slots))
	for _, slot := range slots {
		out = append(out, *adapters[slot])
	}
	return out
}

func attachmentMode(raw string) vm.AttachmentMode {
	switch strings.ToLower(raw) {
	case "nat":
		return vm.AttachmentNAT
	case "bridged":
		return vm.AttachmentBridged
	case "hostonly", "hostonlynet":
		return vm.AttachmentHostOnly
	case "intnet":
		return vm.AttachmentInternal
	case "natnetwork":
		return vm.AttachmentNATNetwork
	default:
		return vm.AttachmentNone
	}
}

// ParseForwardingRule parses "name,proto,hostip,hostport,guestip,guestport".
func ParseForwardingRule(value string) (vm.PortForwardingRule, bool) {
	parts := strings.Split(value, ",")
	if len(parts) < 6 {
		return vm.PortForwardingRule{}, false
	}
	hostPort, err := strconv.Atoi(parts[3])
	if err != nil {
		return vm.PortForwardingRule{}, false
	}
	guestPort, err := strconv.Atoi(parts[5])
	if err != nil {
		return vm.PortForwardingRule{}, false
	}
	return vm.PortForwardingRule{
		Name:      parts[0],
		Protocol:  parts[1],
		HostIP:    parts[2],
		HostPort:  hostPort,
		GuestIP:   parts[4],
		GuestPort: guestPort,
	}, true
}

// BusForChipset maps a controller chipset as printed by showvminfo to the
// bus name accepted by `storagectl --add`.
func BusForChipset(chipset string) string {
	switch strings.ToLower(chipset) {
	case "intelahci":
		return "sata"
	case "piix3", "piix4", "ich6":
		return "ide"
	case "lsilogic", "buslogic":
		return "scsi"
	case "lsilogicsas":
		return "sas"
	case "i82078":
		return "floppy"
	case "usb":
		return "usb"
	case "nvme":
		return "pcie"
	case "virtioscsi", "virtio-scsi":
		return "virtio"
	default:
		return strings.ToLower(chipset)
	}
}

func parseControllers(kv KeyValues) []vm.StorageController {
	byIndex := make(map[int]*vm.StorageController)
	for _, p := range kv {
		m := controllerKeyPattern.FindStringSubmatch(p.Key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		c, ok := byIndex[idx]
		if !ok {
			c = &vm.StorageController{}
			byIndex[idx] = c
		}
		switch m[1] {
		case "name":
			c.Name = p.Value
		case "type":
			c.Chipset = p.Value
			c.Bus = BusForChipset(p.Value)
		case "portcount":
			c.PortCount, _ = strconv.Atoi(p.Value)
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx, c := range byIndex {
		if c.Name == "" {
			continue
		}
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	byName := make(map[string]*vm.StorageController, len(indexes))
	for _, idx := range indexes {
		byName[byIndex[idx].Name] = byIndex[idx]
	}

	for _, p := range kv {
		m := attachmentKeyPattern.FindStringSubmatch(p.Key)
		if m == nil {
			continue
		}
		c, ok := byName[m[1]]
		if !ok || p.Value == "none" || p.Value == "" {
			continue
		}
		port, _ := strconv.Atoi(m[2])
		device, _ := strconv.Atoi(m[3])
		c.Attachments = append(c.Attachments, vm.StorageAttachment{Port: port, Device: device, Medium: p.Value})
	}

	out := make([]vm.StorageController, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *byIndex[idx])
	}
	return out
}
