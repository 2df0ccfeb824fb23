package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"

	"virtmcp/internal/vm"
)

// hyperVState accepts State as either the enum name or its integer value;
// ConvertTo-Json emits integers unless -EnumsAsStrings is used.
type hyperVState string

func (s *hyperVState) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = hyperVState(str)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("state is neither string nor integer: %s", data)
	}
	*s = hyperVState(strconv.Itoa(n))
	return nil
}

type hyperVVM struct {
	Name           string      `json:"Name"`
	ID             string      `json:"Id"`
	VMID           string      `json:"VMId"`
	State          hyperVState `json:"State"`
	MemoryStartup  int64       `json:"MemoryStartup"`
	MemoryAssigned int64       `json:"MemoryAssigned"`
	ProcessorCount int         `json:"ProcessorCount"`
	Generation     int         `json:"Generation"`
}

// hyperVStateNames is Microsoft.HyperV.PowerShell.VMState by value, for
// output produced without string enums.
var hyperVStateNames = map[int]string{
	1:     "Other",
	2:     "Running",
	3:     "Off",
	4:     "Stopping",
	6:     "Saved",
	9:     "Paused",
	10:    "Starting",
	11:    "Reset",
	32773: "Saving",
	32776: "Pausing",
	32777: "Resuming",
	32779: "FastSaved",
	32780: "FastSaving",
	32781: "ForceShutdown",
	32782: "ForceReboot",
	32783: "Hibernated",
	32784: "ComponentServicing",
	32785: "RunningCritical",
	32786: "OffCritical",
	32787: "StoppingCritical",
	32788: "SavedCritical",
	32789: "PausedCritical",
	32790: "StartingCritical",
	32791: "ResetCritical",
	32792: "SavingCritical",
	32793: "PausingCritical",
	32794: "ResumingCritical",
	32795: "FastSavedCritical",
	32796: "FastSavingCritical",
}

// HyperVState maps a Hyper-V VMState, by name or numeric value, to a
// lifecycle state. Critical variants map like their plain counterparts.
func HyperVState(raw string) vm.State {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		raw = hyperVStateNames[n]
	}
	switch strings.TrimSuffix(strings.ToLower(raw), "critical") {
	case "running", "reset":
		return vm.StateRunning
	case "off":
		return vm.StatePoweredOff
	case "stopping", "forceshutdown":
		return vm.StateStopping
	case "saved", "fastsaved", "hibernated":
		return vm.StateSaved
	case "saving", "fastsaving":
		return vm.StateSaving
	case "paused":
		return vm.StatePaused
	case "pausing":
		return vm.StatePausing
	case "starting", "resuming", "forcereboot":
		return vm.StateStarting
	default:
		return vm.StateUnknown
	}
}

// ParseHyperVVMs parses `Get-VM | ... | ConvertTo-Json` output. PowerShell
// emits a bare object for a single VM and an array otherwise; empty output
// means no VMs.
func ParseHyperVVMs(output string) ([]vm.Details, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, nil
	}

	var raw []hyperVVM
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, fmt.Errorf("failed to decode Hyper-V VM list: %w", err)
		}
	} else {
		var single hyperVVM
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, fmt.Errorf("failed to decode Hyper-V VM: %w", err)
		}
		raw = []hyperVVM{single}
	}

	out := make([]vm.Details, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		id := r.ID
		if id == "" {
			id = r.VMID
		}
		mem := r.MemoryAssigned
		if mem == 0 {
			mem = r.MemoryStartup
		}
		out = append(out, vm.Details{
			Name:     r.Name,
			ID:       id,
			State:    HyperVState(string(r.State)),
			MemoryMB: int(mem / units.MiB),
			CPUs:     r.ProcessorCount,
		})
	}
	return out, nil
}
