package vm

import (
	"virtmcp/internal/api"
	"virtmcp/pkg/logging"
)

// Operation names a mutating operation in the transition table.
type Operation string

const (
	OpCreate          Operation = "create"
	OpStart           Operation = "start"
	OpStop            Operation = "stop"
	OpPause           Operation = "pause"
	OpResume          Operation = "resume"
	OpReset           Operation = "reset"
	OpSave            Operation = "save"
	OpDelete          Operation = "delete"
	OpClone           Operation = "clone"
	OpSnapshotCreate  Operation = "snapshot_create"
	OpSnapshotRestore Operation = "snapshot_restore"
	OpSnapshotDelete  Operation = "snapshot_delete"
	OpConfigure       Operation = "configure"
	OpPortForwardAdd  Operation = "port_forward_add"
	OpPortForwardDel  Operation = "port_forward_remove"
	OpControllerAdd   Operation = "controller_create"
	OpControllerDel   Operation = "controller_remove"
	OpDiskAttach      Operation = "disk_attach"
)

// Transition is one row of the transition table. An empty InProgress leaves
// the cached state untouched while the command runs; an empty Expected means
// the operation does not change the lifecycle state.
type Transition struct {
	Preconditions []State
	InProgress    State
	Expected      State
	Removes       bool
}

var (
	offline = []State{StatePoweredOff, StateSaved, StateAborted}
	settled = []State{StatePoweredOff, StateRunning, StatePaused, StateSaved, StateAborted}

	poweredDown = []State{StatePoweredOff, StateAborted}
	natRules    = []State{StatePoweredOff, StateAborted, StateRunning, StatePaused}
)

// Transitions is derived from VirtualBox's MachineState model: only the
// settled states accept new work, and configuration changes require the VM to
// be fully off (Saved VMs reject modifyvm too).
var Transitions = map[Operation]Transition{
	OpStart:           {Preconditions: offline, InProgress: StateStarting, Expected: StateRunning},
	OpStop:            {Preconditions: []State{StateRunning, StatePaused}, InProgress: StateStopping, Expected: StatePoweredOff},
	OpPause:           {Preconditions: []State{StateRunning}, InProgress: StatePausing, Expected: StatePaused},
	OpResume:          {Preconditions: []State{StatePaused}, InProgress: StateStarting, Expected: StateRunning},
	OpReset:           {Preconditions: []State{StateRunning}, Expected: StateRunning},
	OpSave:            {Preconditions: []State{StateRunning, StatePaused}, InProgress: StateSaving, Expected: StateSaved},
	OpDelete:          {Preconditions: offline, InProgress: StateDeleting, Removes: true},
	OpClone:           {Preconditions: settled},
	OpSnapshotCreate:  {Preconditions: settled},
	OpSnapshotRestore: {Preconditions: offline, InProgress: StateRestoring, Expected: StatePoweredOff},
	OpSnapshotDelete:  {Preconditions: settled},
	OpConfigure:       {Preconditions: poweredDown},
	OpPortForwardAdd:  {Preconditions: natRules},
	OpPortForwardDel:  {Preconditions: natRules},
	OpControllerAdd:   {Preconditions: poweredDown},
	OpControllerDel:   {Preconditions: poweredDown},
	OpDiskAttach:      {Preconditions: poweredDown},
}

// Allowed reports whether op may start from state.
func (t Transition) Allowed(state State) bool {
	for _, s := range t.Preconditions {
		if s == state {
			return true
		}
	}
	return false
}

// DriftObserver is told when a confirmation query contradicts the expected
// state.
type DriftObserver interface {
	ObserveDrift(vm string, expected, observed State)
}

// StateMachine enforces the transition table against registry entries.
type StateMachine struct {
	registry *Registry
	observer DriftObserver
}

// NewStateMachine creates a state machine over registry.
func NewStateMachine(registry *Registry, observer DriftObserver) *StateMachine {
	return &StateMachine{registry: registry, observer: observer}
}

// Begin checks op's preconditions against the cached state and, if they
// hold, moves the entry to the in-progress state. It returns the state the
// entry was in.
func (m *StateMachine) Begin(name string, op Operation) (State, error) {
	t, ok := Transitions[op]
	if !ok {
		return "", api.NewValidationError("operation", "unknown operation "+string(op))
	}

	var prev State
	err := m.registry.Update(name, func(v *VM) error {
		prev = v.State
		if !t.Allowed(v.State) {
			return api.NewStateConflictError(name, string(op), string(v.State))
		}
		if t.InProgress != "" {
			v.State = t.InProgress
		}
		return nil
	})
	return prev, err
}

// Confirm adopts the hypervisor's report as ground truth. expected overrides
// the table's expected state when non-empty (snapshot restore depends on the
// snapshot type). A mismatch is logged and counted as drift. It returns the
// adopted state and whether drift was detected.
func (m *StateMachine) Confirm(name string, op Operation, expected State, observed Details) (State, bool, error) {
	if expected == "" {
		expected = Transitions[op].Expected
	}

	drift := false
	err := m.registry.Update(name, func(v *VM) error {
		if expected == "" {
			expected = v.Confirmed()
		}
		v.Apply(observed)
		if observed.State != expected {
			drift = true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if drift {
		logging.Warn("StateMachine", "Drift on vm %s after %s: expected %s, hypervisor reports %s; adopting observed state",
			name, op, expected, observed.State)
		if m.observer != nil {
			m.observer.ObserveDrift(name, expected, observed.State)
		}
	}
	return observed.State, drift, nil
}

// Rollback reverts the entry to its last externally confirmed state. It is
// used when neither the operation nor the follow-up query produced a
// trustworthy answer.
func (m *StateMachine) Rollback(name string) State {
	var state State
	_ = m.registry.Update(name, func(v *VM) error {
		v.State = v.Confirmed()
		state = v.State
		return nil
	})
	if state != "" {
		logging.Warn("StateMachine", "Rolled vm %s back to last confirmed state %s", name, state)
	}
	return state
}

// Reconcile adopts a report taken after an operation failed. Unlike Confirm
// there is no expectation to compare against.
func (m *StateMachine) Reconcile(name string, op Operation, observed Details) State {
	var prev State
	err := m.registry.Update(name, func(v *VM) error {
		prev = v.State
		v.Apply(observed)
		return nil
	})
	if err != nil {
		return ""
	}
	logging.Info("StateMachine", "Reconciled vm %s after failed %s: %s -> %s", name, op, prev, observed.State)
	return observed.State
}

// Settle moves the entry to state without marking it confirmed. It is used
// when an operation succeeded but the confirmation query did not.
func (m *StateMachine) Settle(name string, op Operation, state State) {
	_ = m.registry.Update(name, func(v *VM) error {
		if state == "" {
			state = v.Confirmed()
		}
		v.State = state
		return nil
	})
	logging.Warn("StateMachine", "Could not confirm vm %s after %s; assuming %s", name, op, state)
}

// Finish completes an operation that removes its entry.
func (m *StateMachine) Finish(name string, op Operation) {
	if Transitions[op].Removes {
		m.registry.Remove(name)
	}
}
