package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"virtmcp/internal/api"
	"virtmcp/internal/hypervisor"
	"virtmcp/internal/scheduler"
	"virtmcp/internal/snapshot"
	"virtmcp/internal/vm"
	"virtmcp/pkg/logging"
)

// pendingPrefix marks a snapshot whose hypervisor id was not reported by
// `snapshot take`; the next listing replaces it.
const pendingPrefix = "pending:"

// SnapshotResult is returned by operations that act on one snapshot.
type SnapshotResult struct {
	VM       string         `json:"vm"`
	State    vm.State       `json:"state"`
	Snapshot snapshot.Entry `json:"snapshot"`
}

func (o *Orchestrator) findSnapshot(vmName, ref string) (snapshot.Entry, error) {
	if err := o.requireVM(vmName); err != nil {
		return snapshot.Entry{}, err
	}
	var (
		entry snapshot.Entry
		found bool
	)
	err := o.registry.View(vmName, func(v *vm.VM) {
		entry, found = v.Snapshots.Find(ref)
	})
	if err != nil {
		return snapshot.Entry{}, err
	}
	if !found {
		return snapshot.Entry{}, api.NewSnapshotNotFoundError(ref)
	}
	return entry, nil
}

// hypervisorRef picks the reference passed to the CLI: the UUID when the
// entry has a real one, the name otherwise.
func hypervisorRef(e snapshot.Entry) string {
	if _, err := uuid.Parse(e.ID); err == nil {
		return e.ID
	}
	return e.Name
}

// syncSnapshots replaces the cached tree with the hypervisor's listing. When
// op is set, a listing that differs from the locally updated tree is logged
// as drift.
func (o *Orchestrator) syncSnapshots(ctx context.Context, vmName string, op vm.Operation) error {
	records, err := o.snapshots.ListSnapshots(ctx, vmName)
	if err != nil {
		return err
	}
	return o.registry.Update(vmName, func(v *vm.VM) error {
		rebuilt := snapshot.FromRecords(records, v.Snapshots)
		if op != "" && !rebuilt.Equal(v.Snapshots) {
			logging.Warn("Orchestrator", "Snapshot tree of vm %s differs from the hypervisor after %s; adopting the hypervisor's listing", vmName, op)
		}
		v.Snapshots = rebuilt
		return nil
	})
}

func (o *Orchestrator) syncSnapshotsAfter(ctx context.Context, vmName string, op vm.Operation) {
	qctx, cancel := o.followUpContext(ctx)
	defer cancel()
	if err := o.syncSnapshots(qctx, vmName, op); err != nil {
		logging.Warn("Orchestrator", "Could not re-read snapshots of vm %s after %s: %v", vmName, op, err)
	}
}

func (o *Orchestrator) snapshotResult(vmName, ref string) (SnapshotResult, error) {
	res := SnapshotResult{VM: vmName}
	err := o.registry.View(vmName, func(v *vm.VM) {
		res.State = v.State
		res.Snapshot, _ = v.Snapshots.Find(ref)
	})
	return res, err
}

// TakeSnapshot snapshots a VM. The new snapshot becomes a child of the
// current one and is made current. Snapshot names are unique per VM.
func (o *Orchestrator) TakeSnapshot(ctx context.Context, vmName string, spec hypervisor.SnapshotSpec) (SnapshotResult, error) {
	if o.snapshots == nil {
		return SnapshotResult{}, o.unsupported("snapshot create")
	}
	if err := o.requireVM(vmName); err != nil {
		return SnapshotResult{}, err
	}
	if spec.Name == "" {
		return SnapshotResult{}, api.NewValidationError("name", "is required")
	}
	if existing, err := o.findSnapshot(vmName, spec.Name); err == nil && existing.Name == spec.Name {
		return SnapshotResult{}, &api.StateConflictError{
			VM:        vmName,
			Operation: string(vm.OpSnapshotCreate),
			Message:   fmt.Sprintf("snapshot named %s already exists on vm %s", spec.Name, vmName),
		}
	}

	var id string
	err := o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpSnapshotCreate,
		target: spec.Name,
		run: func(ctx context.Context, prev vm.State) error {
			online := prev == vm.StateRunning || prev == vm.StatePaused
			spec.Live = prev == vm.StateRunning
			taken, err := o.snapshots.TakeSnapshot(ctx, vmName, spec)
			if err != nil {
				return err
			}
			id = taken
			if id == "" {
				id = pendingPrefix + spec.Name
			}
			err = o.registry.Update(vmName, func(v *vm.VM) error {
				_, err := v.Snapshots.Create(snapshot.Spec{
					ID:          id,
					Name:        spec.Name,
					Description: spec.Description,
					CreatedAt:   time.Now(),
					Online:      online,
				})
				return err
			})
			if err != nil {
				logging.Warn("Orchestrator", "Snapshot %s taken on vm %s but not recorded locally: %v", spec.Name, vmName, err)
			}
			o.syncSnapshotsAfter(ctx, vmName, vm.OpSnapshotCreate)
			return nil
		},
	})
	if err != nil {
		return SnapshotResult{}, err
	}
	return o.snapshotResult(vmName, spec.Name)
}

// RestoreSnapshot reverts a stopped VM to a snapshot. The VM ends up Saved
// when the snapshot was taken while it was running, PoweredOff otherwise; it
// is never started.
func (o *Orchestrator) RestoreSnapshot(ctx context.Context, vmName, ref string) (SnapshotResult, error) {
	if o.snapshots == nil {
		return SnapshotResult{}, o.unsupported("snapshot restore")
	}
	entry, err := o.findSnapshot(vmName, ref)
	if err != nil {
		return SnapshotResult{}, err
	}

	err = o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpSnapshotRestore,
		target: entry.ID,
		run: func(ctx context.Context, _ vm.State) error {
			if err := o.snapshots.RestoreSnapshot(ctx, vmName, hypervisorRef(entry)); err != nil {
				return err
			}
			_ = o.registry.Update(vmName, func(v *vm.VM) error {
				_, err := v.Snapshots.Restore(entry.ID)
				return err
			})
			o.syncSnapshotsAfter(ctx, vmName, vm.OpSnapshotRestore)
			return nil
		},
		expected: func(vm.State) vm.State {
			if entry.Online {
				return vm.StateSaved
			}
			return vm.StatePoweredOff
		},
	})
	if err != nil {
		return SnapshotResult{}, err
	}
	return o.snapshotResult(vmName, entry.Name)
}

// DeleteSnapshot removes a snapshot, merging it into its children. The
// children take its place under its parent.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, vmName, ref string) ([]snapshot.Entry, error) {
	if o.snapshots == nil {
		return nil, o.unsupported("snapshot delete")
	}
	entry, err := o.findSnapshot(vmName, ref)
	if err != nil {
		return nil, err
	}
	var refusal error
	if err := o.registry.View(vmName, func(v *vm.VM) {
		refusal = v.Snapshots.CanDelete(entry.ID)
	}); err != nil {
		return nil, err
	}
	if refusal != nil {
		if sc, ok := refusal.(*api.StateConflictError); ok {
			sc.VM = vmName
		}
		return nil, refusal
	}

	err = o.mutate(ctx, mutation{
		name:   vmName,
		op:     vm.OpSnapshotDelete,
		target: entry.ID,
		run: func(ctx context.Context, _ vm.State) error {
			if err := o.snapshots.DeleteSnapshot(ctx, vmName, hypervisorRef(entry)); err != nil {
				return err
			}
			_ = o.registry.Update(vmName, func(v *vm.VM) error {
				_, err := v.Snapshots.Delete(entry.ID)
				return err
			})
			o.syncSnapshotsAfter(ctx, vmName, vm.OpSnapshotDelete)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return o.snapshotList(vmName)
}

// ListSnapshots re-reads and returns a VM's snapshot tree in pre-order.
func (o *Orchestrator) ListSnapshots(ctx context.Context, vmName string) ([]snapshot.Entry, error) {
	if o.snapshots == nil {
		return nil, o.unsupported("snapshot list")
	}
	if err := o.requireVM(vmName); err != nil {
		return nil, err
	}
	err := o.sched.Run(ctx, o.key(vmName), "snapshot_list", scheduler.IntentRead, func(ctx context.Context) error {
		_, err, _ := o.reads.Do("snapshots/"+vmName, func() (interface{}, error) {
			return nil, o.syncSnapshots(ctx, vmName, "")
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return o.snapshotList(vmName)
}

func (o *Orchestrator) snapshotList(vmName string) ([]snapshot.Entry, error) {
	var entries []snapshot.Entry
	err := o.registry.View(vmName, func(v *vm.VM) {
		entries = v.Snapshots.List()
	})
	return entries, err
}
