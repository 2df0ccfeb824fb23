package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/vm"
	"virtmcp/pkg/logging"
)

const (
	defaultReconcileTimeout = 30 * time.Second
	defaultListConcurrency  = 4
)

// Config holds the collaborators of one orchestrator.
type Config struct {
	// Backend is required. Optional capabilities (provisioning, snapshots,
	// networking, storage, host queries) are detected on it.
	Backend   hypervisor.Lifecycle
	Scheduler *scheduler.Scheduler

	// Registry defaults to a fresh, empty registry.
	Registry *vm.Registry
	Drift    vm.DriftObserver

	// KeyPrefix namespaces scheduler keys so that two backends sharing a
	// scheduler never contend on the same VM name.
	KeyPrefix string

	// ReconcileTimeout bounds the follow-up query issued after a failed
	// or timed out operation.
	ReconcileTimeout time.Duration

	// ListConcurrency bounds the info queries a list refresh fans out.
	ListConcurrency int
}

// Orchestrator composes scheduler, hypervisor backend, parser output and
// state machine into the domain operations exposed as tools.
type Orchestrator struct {
	backend     hypervisor.Lifecycle
	provisioner hypervisor.Provisioner
	snapshots   hypervisor.Snapshotter
	network     hypervisor.Networker
	storage     hypervisor.Storage
	host        hypervisor.Host

	sched    *scheduler.Scheduler
	registry *vm.Registry
	machine  *vm.StateMachine
	reads    singleflight.Group

	keyPrefix        string
	reconcileTimeout time.Duration
	listConcurrency  int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	registry := cfg.Registry
	if registry == nil {
		registry = vm.NewRegistry()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = scheduler.New(8, nil)
	}
	o := &Orchestrator{
		backend:          cfg.Backend,
		sched:            sched,
		registry:         registry,
		machine:          vm.NewStateMachine(registry, cfg.Drift),
		keyPrefix:        cfg.KeyPrefix,
		reconcileTimeout: cfg.ReconcileTimeout,
		listConcurrency:  cfg.ListConcurrency,
	}
	if o.reconcileTimeout <= 0 {
		o.reconcileTimeout = defaultReconcileTimeout
	}
	if o.listConcurrency <= 0 {
		o.listConcurrency = defaultListConcurrency
	}
	o.provisioner, _ = cfg.Backend.(hypervisor.Provisioner)
	o.snapshots, _ = cfg.Backend.(hypervisor.Snapshotter)
	o.network, _ = cfg.Backend.(hypervisor.Networker)
	o.storage, _ = cfg.Backend.(hypervisor.Storage)
	o.host, _ = cfg.Backend.(hypervisor.Host)
	return o
}

// Backend returns the name of the hypervisor backend.
func (o *Orchestrator) Backend() string {
	return o.backend.Name()
}

// Registry exposes the VM registry for read-only inspection.
func (o *Orchestrator) Registry() *vm.Registry {
	return o.registry
}

// Close drops the registry. Operations fail afterwards.
func (o *Orchestrator) Close() {
	o.registry.Close()
}

func (o *Orchestrator) key(name string) string {
	return o.keyPrefix + name
}

func (o *Orchestrator) unsupported(action string) error {
	return api.NewValidationError("action", fmt.Sprintf("%s is not supported by the %s backend", action, o.backend.Name()))
}

// requireVM fails with NotFoundError without touching the hypervisor when
// name is not registered.
func (o *Orchestrator) requireVM(name string) error {
	if err := vm.ValidateName("name", name); err != nil {
		return err
	}
	if !o.registry.Has(name) {
		return api.NewVMNotFoundError(name)
	}
	return nil
}

// mutation describes one state-changing operation on an existing VM.
type mutation struct {
	name string
	op   vm.Operation
	// target names what op acts on within the VM, such as a snapshot or a
	// rule. Only requests with the same op and target conflict.
	target string
	// run issues the hypervisor command. prev is the state the VM was in
	// when the operation began.
	run func(ctx context.Context, prev vm.State) error
	// expected overrides the transition table's expected state.
	expected func(prev vm.State) vm.State
}

// mutate runs m under the VM's key: precondition check, command, then
// confirmation or reconciliation.
func (o *Orchestrator) mutate(ctx context.Context, m mutation) error {
	if err := o.requireVM(m.name); err != nil {
		return err
	}

	err := o.sched.RunFor(ctx, o.key(m.name), string(m.op), m.target, scheduler.IntentMutate, func(ctx context.Context) error {
		prev, err := o.machine.Begin(m.name, m.op)
		if err != nil {
			return err
		}

		if err := m.run(ctx, prev); err != nil {
			o.recover(ctx, m.name, m.op, err)
			return err
		}

		if vm.Transitions[m.op].Removes {
			o.machine.Finish(m.name, m.op)
			return nil
		}

		var expected vm.State
		if m.expected != nil {
			expected = m.expected(prev)
		}
		o.confirm(ctx, m.name, m.op, expected)
		return nil
	})

	logging.Audit(m.name, string(m.op), outcome(err), err)
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case api.IsTimeout(err):
		return "timed_out"
	case api.IsStateConflict(err), api.IsValidation(err), api.IsResourceLimit(err):
		return "rejected"
	default:
		return "failed"
	}
}

// confirm queries the VM after a successful command and adopts the result.
func (o *Orchestrator) confirm(ctx context.Context, name string, op vm.Operation, expected vm.State) {
	qctx, cancel := o.followUpContext(ctx)
	defer cancel()

	d, err := o.backend.Info(qctx, name)
	if err != nil {
		if expected == "" {
			expected = vm.Transitions[op].Expected
		}
		logging.Error("Orchestrator", err, "Confirmation query for vm %s after %s failed", name, op)
		o.machine.Settle(name, op, expected)
		return
	}
	if _, _, err := o.machine.Confirm(name, op, expected, d); err != nil {
		logging.Error("Orchestrator", err, "Failed to record confirmed state of vm %s", name)
	}
}

// recover brings the cached state back in line after a failed command. A
// missing VM is dropped; execution errors and timeouts trigger a fresh query;
// anything else, or a failed query, rolls back to the last confirmed state.
func (o *Orchestrator) recover(ctx context.Context, name string, op vm.Operation, opErr error) {
	var nf *api.NotFoundError
	if errors.As(opErr, &nf) && nf.ResourceType == "vm" {
		logging.Warn("Orchestrator", "vm %s disappeared from the hypervisor, dropping it", name)
		o.registry.Remove(name)
		return
	}

	if !api.IsExecution(opErr) && !api.IsTimeout(opErr) && ctx.Err() == nil {
		o.machine.Rollback(name)
		return
	}

	qctx, cancel := o.followUpContext(ctx)
	defer cancel()
	d, err := o.backend.Info(qctx, name)
	if err != nil {
		if api.IsNotFound(err) {
			o.registry.Remove(name)
			return
		}
		logging.Error("Orchestrator", err, "Reconcile query for vm %s after failed %s failed", name, op)
		o.machine.Rollback(name)
		return
	}
	o.machine.Reconcile(name, op, d)
}

// followUpContext returns a context for queries that must run even when the
// caller's deadline already passed.
func (o *Orchestrator) followUpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.reconcileTimeout)
}
