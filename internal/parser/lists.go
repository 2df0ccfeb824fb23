package parser

import (
	"bufio"
	"strconv"
	"strings"

	"virtmcp/internal/vm"
)

// VMListEntry is one line of `list vms`.
type VMListEntry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ParseVMList parses `list vms` / `list runningvms` output, one
// `"name" {uuid}` per line. Malformed lines are skipped.
func ParseVMList(output string) []VMListEntry {
	var entries []VMListEntry
	for _, line := range lines(output) {
		start := strings.Index(line, `"`)
		end := strings.LastIndex(line, `" {`)
		if start < 0 || end <= start {
			continue
		}
		name := line[start+1 : end]
		id := strings.TrimSpace(line[end+2:])
		id = strings.TrimSuffix(strings.TrimPrefix(id, "{"), "}")
		if name == "" {
			continue
		}
		entries = append(entries, VMListEntry{Name: name, ID: id})
	}
	return entries
}

// ParseColonProperties parses `Key: value` lines into one map, ignoring
// blank lines and headers with no value.
func ParseColonProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range lines(output) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, exists := props[key]; !exists {
			props[key] = value
		}
	}
	return props
}

// ParseColonBlocks parses blank-line separated blocks of `Key: value` lines,
// as printed by `list ostypes`, `list hostonlyifs` and `list hdds`.
func ParseColonBlocks(output string) []map[string]string {
	var blocks []map[string]string
	current := map[string]string{}

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, current)
			current = map[string]string{}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := current[key]; !exists {
			current[key] = strings.TrimSpace(value)
		}
	}
	flush()
	return blocks
}

// HostInfo is the subset of `list hostinfo` callers care about. Fields holds
// every property for anything not promoted.
type HostInfo struct {
	ProcessorCount int               `json:"processor_count,omitempty"`
	MemoryMB       int               `json:"memory_mb,omitempty"`
	MemoryFreeMB   int               `json:"memory_free_mb,omitempty"`
	OS             string            `json:"os,omitempty"`
	OSVersion      string            `json:"os_version,omitempty"`
	Fields         map[string]string `json:"fields"`
}

// ParseHostInfo parses `list hostinfo`.
func ParseHostInfo(output string) HostInfo {
	props := ParseColonProperties(output)
	return HostInfo{
		ProcessorCount: leadingInt(props["Processor online count"]),
		MemoryMB:       leadingInt(props["Memory size"]),
		MemoryFreeMB:   leadingInt(props["Memory available"]),
		OS:             props["Operating system"],
		OSVersion:      props["Operating system version"],
		Fields:         props,
	}
}

// OSType is one entry of `list ostypes`.
type OSType struct {
	ID                string `json:"id"`
	Description       string `json:"description"`
	FamilyID          string `json:"family_id,omitempty"`
	FamilyDescription string `json:"family_description,omitempty"`
	Is64Bit           bool   `json:"is_64_bit"`
}

// ParseOSTypes parses `list ostypes`.
func ParseOSTypes(output string) []OSType {
	var types []OSType
	for _, b := range ParseColonBlocks(output) {
		if b["ID"] == "" {
			continue
		}
		types = append(types, OSType{
			ID:                b["ID"],
			Description:       b["Description"],
			FamilyID:          b["Family ID"],
			FamilyDescription: b["Family Desc"],
			Is64Bit:           strings.EqualFold(b["64 bit"], "true"),
		})
	}
	return types
}

// HostOnlyNetwork is one entry of `list hostonlyifs`.
type HostOnlyNetwork struct {
	Name        string `json:"name"`
	IPAddress   string `json:"ip_address,omitempty"`
	NetworkMask string `json:"network_mask,omitempty"`
	DHCP        bool   `json:"dhcp"`
	Status      string `json:"status,omitempty"`
}

// ParseHostOnlyNetworks parses `list hostonlyifs`.
func ParseHostOnlyNetworks(output string) []HostOnlyNetwork {
	var nets []HostOnlyNetwork
	for _, b := range ParseColonBlocks(output) {
		if b["Name"] == "" {
			continue
		}
		nets = append(nets, HostOnlyNetwork{
			Name:        b["Name"],
			IPAddress:   b["IPAddress"],
			NetworkMask: b["NetworkMask"],
			DHCP:        strings.EqualFold(b["DHCP"], "enabled"),
			Status:      b["Status"],
		})
	}
	return nets
}

// Disk is one entry of `list hdds`.
type Disk struct {
	UUID       string `json:"uuid"`
	ParentUUID string `json:"parent_uuid,omitempty"`
	State      string `json:"state,omitempty"`
	Location   string `json:"location"`
	Format     string `json:"format,omitempty"`
	CapacityMB int    `json:"capacity_mb,omitempty"`
	InUseBy    string `json:"in_use_by,omitempty"`
}

// ParseDisks parses `list hdds`.
func ParseDisks(output string) []Disk {
	var disks []Disk
	for _, b := range ParseColonBlocks(output) {
		if b["UUID"] == "" {
			continue
		}
		parent := b["Parent UUID"]
		if parent == "base" {
			parent = ""
		}
		disks = append(disks, Disk{
			UUID:       b["UUID"],
			ParentUUID: parent,
			State:      b["State"],
			Location:   b["Location"],
			Format:     b["Storage format"],
			CapacityMB: leadingInt(b["Capacity"]),
			InUseBy:    b["In use by VMs"],
		})
	}
	return disks
}

// ParseVersion trims the `--version` banner to the bare version string.
func ParseVersion(output string) string {
	for _, line := range lines(output) {
		return strings.TrimSpace(line)
	}
	return ""
}

// ParseCreatedUUID extracts the UUID from `snapshot take` or `createmedium`
// output such as "Snapshot taken. UUID: 1d2c...".
func ParseCreatedUUID(output string) string {
	idx := strings.Index(output, "UUID:")
	if idx < 0 {
		return ""
	}
	fields := strings.Fields(output[idx+len("UUID:"):])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ListedDetails turns `list vms` entries into details with unknown state.
func ListedDetails(entries []VMListEntry) []vm.Details {
	out := make([]vm.Details, 0, len(entries))
	for _, e := range entries {
		out = append(out, vm.Details{Name: e.Name, ID: e.ID, State: vm.StateUnknown})
	}
	return out
}

func leadingInt(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

func lines(output string) []string {
	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
