package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"virtmcp/internal/api"
	"virtmcp/internal/snapshot"
)

// ErrRegistryClosed is returned by every accessor after Close.
var ErrRegistryClosed = errors.New("vm registry is closed")

type entry struct {
	mu      sync.Mutex
	vm      *VM
	removed bool
	seq     uint64
}

// Registry is the set of VMs known to one backend. Entries are mutated under
// their own lock; inserting and removing entries additionally takes a short
// registry-wide lock so enumeration never sees a torn list.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
	seq     uint64
}

// NewRegistry creates an empty registry. It lives from server startup until
// Close is called on shutdown.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Close drops every entry. Subsequent calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.entries = make(map[string]*entry)
}

func (r *Registry) get(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, api.NewVMNotFoundError(name)
	}
	return e, nil
}

// Insert adds a VM. It fails if a VM with the same name is registered.
func (r *Registry) Insert(v *VM) error {
	if v.Snapshots == nil {
		v.Snapshots = snapshot.New()
	}
	if v.confirmed == "" {
		v.confirmed = v.State
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.entries[v.Name]; exists {
		return &api.StateConflictError{VM: v.Name, Operation: "create", Message: fmt.Sprintf("vm %s already exists", v.Name)}
	}
	r.seq++
	r.entries[v.Name] = &entry{vm: v, seq: r.seq}
	return nil
}

// Remove deletes a VM from the registry and reports whether it was present.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	return ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.get(name)
	return err == nil
}

// Names returns the registered VM names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View runs fn with read access to the entry. fn must not retain v.
func (r *Registry) View(name string, fn func(v *VM)) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return api.NewVMNotFoundError(name)
	}
	fn(e.vm)
	return nil
}

// Update runs fn with write access to the entry.
func (r *Registry) Update(name string, fn func(v *VM) error) error {
	e, err := r.get(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return api.NewVMNotFoundError(name)
	}
	return fn(e.vm)
}

// Upsert applies d to the named entry, registering it first if unknown.
func (r *Registry) Upsert(d Details) error {
	err := r.Update(d.Name, func(v *VM) error {
		v.Apply(d)
		return nil
	})
	if !api.IsNotFound(err) {
		return err
	}

	v := &VM{Name: d.Name}
	v.Apply(d)
	if err := r.Insert(v); err != nil {
		if api.IsStateConflict(err) {
			// Lost a race with a concurrent insert; apply to the winner.
			return r.Update(d.Name, func(v *VM) error {
				v.Apply(d)
				return nil
			})
		}
		return err
	}
	return nil
}

// Refresh applies a hypervisor report gathered outside any mutating
// operation. Entries that are mid-operation keep their in-progress state;
// the owning operation confirms them itself.
func (r *Registry) Refresh(d Details) error {
	err := r.Update(d.Name, func(v *VM) error {
		if !v.State.Settled() && v.State != StateUnknown {
			return nil
		}
		v.Apply(d)
		return nil
	})
	if api.IsNotFound(err) {
		return r.Upsert(d)
	}
	return err
}

// Info returns the read-only view of one VM.
func (r *Registry) Info(name string) (Info, error) {
	var info Info
	err := r.View(name, func(v *VM) {
		info = v.Info()
	})
	return info, err
}

// List returns read-only views of every VM, sorted by name.
func (r *Registry) List() []Info {
	names := r.Names()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info, err := r.Info(name)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// Generation returns a marker to pass to Retain. Entries inserted after the
// marker was taken survive Retain.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Retain removes every entry whose name is not in keep and that was inserted
// at or before generation. It returns the removed names.
func (r *Registry) Retain(keep map[string]bool, generation uint64) []string {
	r.mu.Lock()
	var doomed []*entry
	var removed []string
	for name, e := range r.entries {
		if keep[name] || e.seq > generation {
			continue
		}
		delete(r.entries, name)
		doomed = append(doomed, e)
		removed = append(removed, name)
	}
	r.mu.Unlock()

	for _, e := range doomed {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	sort.Strings(removed)
	return removed
}
