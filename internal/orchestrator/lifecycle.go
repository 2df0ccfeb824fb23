package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/vm"
	"virtmcp/pkg/logging"
)

// ListFilter selects which VMs List returns.
type ListFilter string

const (
	ListAll     ListFilter = "all"
	ListRunning ListFilter = "running"
	ListStopped ListFilter = "stopped"
)

// Matches reports whether a VM in state s passes the filter.
func (f ListFilter) Matches(s vm.State) bool {
	switch f {
	case ListRunning:
		return s == vm.StateRunning || s == vm.StatePaused
	case ListStopped:
		return s == vm.StatePoweredOff || s == vm.StateSaved || s == vm.StateAborted
	default:
		return true
	}
}

// Sync refreshes the registry from the hypervisor: every listed VM is
// queried, VMs that disappeared are dropped.
func (o *Orchestrator) Sync(ctx context.Context) error {
	generation := o.registry.Generation()

	listed, err := o.backend.ListVMs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list vms on %s: %w", o.backend.Name(), err)
	}

	keep := make(map[string]bool, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.listConcurrency)
	for _, d := range listed {
		keep[d.Name] = true
		g.Go(func() error {
			if d.State != vm.StateUnknown {
				return o.registry.Refresh(d)
			}
			full, err := o.backend.Info(gctx, d.Name)
			switch {
			case api.IsNotFound(err):
				return nil
			case err != nil:
				logging.Warn("Orchestrator", "Could not query vm %s during sync: %v", d.Name, err)
				if !o.registry.Has(d.Name) {
					return o.registry.Refresh(d)
				}
				return nil
			}
			return o.registry.Refresh(full)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if removed := o.registry.Retain(keep, generation); len(removed) > 0 {
		logging.Info("Orchestrator", "Dropped %d vm(s) no longer registered on %s: %v", len(removed), o.backend.Name(), removed)
	}
	return nil
}

// List refreshes the registry and returns the VMs passing filter, sorted by
// name.
func (o *Orchestrator) List(ctx context.Context, filter ListFilter) ([]vm.Info, error) {
	err := o.sched.Run(ctx, o.key("*"), "list", scheduler.IntentRead, func(ctx context.Context) error {
		_, err, _ := o.reads.Do("*list", func() (interface{}, error) {
			return nil, o.Sync(ctx)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []vm.Info
	for _, info := range o.registry.List() {
		if filter.Matches(info.State) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Info queries one VM and returns its refreshed view. Concurrent queries
// for the same VM share one hypervisor call.
func (o *Orchestrator) Info(ctx context.Context, name string) (vm.Info, error) {
	if err := o.requireVM(name); err != nil {
		return vm.Info{}, err
	}

	err := o.sched.Run(ctx, o.key(name), "info", scheduler.IntentRead, func(ctx context.Context) error {
		_, err, _ := o.reads.Do("info/"+name, func() (interface{}, error) {
			return nil, o.refresh(ctx, name)
		})
		return err
	})
	if err != nil {
		return vm.Info{}, err
	}
	return o.registry.Info(name)
}

// refresh re-reads a VM and its snapshot tree into the registry.
func (o *Orchestrator) refresh(ctx context.Context, name string) error {
	d, err := o.backend.Info(ctx, name)
	if err != nil {
		if api.IsNotFound(err) {
			o.registry.Remove(name)
		}
		return err
	}
	if err := o.registry.Refresh(d); err != nil {
		return err
	}
	if o.snapshots != nil {
		if err := o.syncSnapshots(ctx, name, ""); err != nil {
			logging.Warn("Orchestrator", "Could not refresh snapshots of vm %s: %v", name, err)
		}
	}
	return nil
}

// Create registers a new VM and returns its view.
func (o *Orchestrator) Create(ctx context.Context, spec hypervisor.CreateSpec) (vm.Info, error) {
	if o.provisioner == nil {
		return vm.Info{}, o.unsupported("create")
	}
	if err := vm.ValidateName("name", spec.Name); err != nil {
		return vm.Info{}, err
	}
	if o.registry.Has(spec.Name) {
		return vm.Info{}, &api.StateConflictError{VM: spec.Name, Operation: string(vm.OpCreate), Message: fmt.Sprintf("vm %s already exists", spec.Name)}
	}

	err := o.sched.Run(ctx, o.key(spec.Name), string(vm.OpCreate), scheduler.IntentMutate, func(ctx context.Context) error {
		if err := o.provisioner.Create(ctx, spec); err != nil {
			return err
		}
		return o.adopt(ctx, spec.Name)
	})
	logging.Audit(spec.Name, string(vm.OpCreate), outcome(err), err)
	if err != nil {
		return vm.Info{}, err
	}
	return o.registry.Info(spec.Name)
}

// Clone copies an existing VM, optionally from one of its snapshots.
func (o *Orchestrator) Clone(ctx context.Context, spec hypervisor.CloneSpec) (vm.Info, error) {
	if o.provisioner == nil {
		return vm.Info{}, o.unsupported("clone")
	}
	if err := vm.ValidateName("clone_name", spec.Name); err != nil {
		return vm.Info{}, err
	}
	if o.registry.Has(spec.Name) {
		return vm.Info{}, &api.StateConflictError{VM: spec.Name, Operation: string(vm.OpClone), Message: fmt.Sprintf("vm %s already exists", spec.Name)}
	}
	if spec.Snapshot != "" {
		if _, err := o.findSnapshot(spec.Source, spec.Snapshot); err != nil {
			return vm.Info{}, err
		}
	}

	err := o.mutate(ctx, mutation{
		name: spec.Source,
		op:   vm.OpClone,
		run: func(ctx context.Context, _ vm.State) error {
			if err := o.provisioner.Clone(ctx, spec); err != nil {
				return err
			}
			return o.adopt(ctx, spec.Name)
		},
	})
	if err != nil {
		return vm.Info{}, err
	}
	return o.registry.Info(spec.Name)
}

// adopt queries a VM that was just created and registers it.
func (o *Orchestrator) adopt(ctx context.Context, name string) error {
	qctx, cancel := o.followUpContext(ctx)
	defer cancel()
	d, err := o.backend.Info(qctx, name)
	if err != nil {
		logging.Warn("Orchestrator", "Created vm %s but could not query it: %v", name, err)
		d = vm.Details{Name: name, State: vm.StatePoweredOff}
	}
	return o.registry.Refresh(d)
}

// Start boots a VM.
func (o *Orchestrator) Start(ctx context.Context, name string, headless bool) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpStart, func(ctx context.Context, _ vm.State) error {
		return o.backend.Start(ctx, name, headless)
	})
}

// Stop powers a VM off. Without force the guest is asked to shut down and
// Stop waits until it has, or until ctx ends.
func (o *Orchestrator) Stop(ctx context.Context, name string, force bool) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpStop, func(ctx context.Context, prev vm.State) error {
		if !force && prev == vm.StatePaused {
			// A paused guest cannot react to the power button.
			force = true
		}
		if err := o.backend.Stop(ctx, name, force); err != nil {
			return err
		}
		if force {
			return nil
		}
		return o.waitFor(ctx, name, "graceful shutdown", func(s vm.State) bool {
			return s != vm.StateRunning && s != vm.StateStopping && s != vm.StateUnknown
		})
	})
}

// Pause freezes a running VM in memory.
func (o *Orchestrator) Pause(ctx context.Context, name string) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpPause, func(ctx context.Context, _ vm.State) error {
		return o.backend.Pause(ctx, name)
	})
}

// Resume continues a paused VM.
func (o *Orchestrator) Resume(ctx context.Context, name string) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpResume, func(ctx context.Context, _ vm.State) error {
		return o.backend.Resume(ctx, name)
	})
}

// Reset hard-resets a running VM. The VM stays Running.
func (o *Orchestrator) Reset(ctx context.Context, name string) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpReset, func(ctx context.Context, _ vm.State) error {
		return o.backend.Reset(ctx, name)
	})
}

// Save suspends a VM to disk.
func (o *Orchestrator) Save(ctx context.Context, name string) (vm.Info, error) {
	return o.lifecycle(ctx, name, vm.OpSave, func(ctx context.Context, _ vm.State) error {
		return o.backend.Save(ctx, name)
	})
}

// Delete unregisters a VM and deletes its files.
func (o *Orchestrator) Delete(ctx context.Context, name string) error {
	return o.mutate(ctx, mutation{
		name: name,
		op:   vm.OpDelete,
		run: func(ctx context.Context, _ vm.State) error {
			return o.backend.Delete(ctx, name)
		},
	})
}

func (o *Orchestrator) lifecycle(ctx context.Context, name string, op vm.Operation, run func(context.Context, vm.State) error) (vm.Info, error) {
	if err := o.mutate(ctx, mutation{name: name, op: op, run: run}); err != nil {
		return vm.Info{}, err
	}
	return o.registry.Info(name)
}

var errNotYet = errors.New("state not reached yet")

// waitFor polls the VM until done accepts its state or ctx ends.
func (o *Orchestrator) waitFor(ctx context.Context, name, what string, done func(vm.State) bool) error {
	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (vm.State, error) {
		d, err := o.backend.Info(ctx, name)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if !done(d.State) {
			return d.State, errNotYet
		}
		return d.State, nil
	}, backoff.WithBackOff(b))

	if errors.Is(err, errNotYet) || errors.Is(err, context.DeadlineExceeded) {
		return &api.TimeoutError{
			Command: fmt.Sprintf("%s of vm %s", what, name),
			Timeout: time.Since(start).Round(time.Millisecond).String(),
		}
	}
	return err
}
