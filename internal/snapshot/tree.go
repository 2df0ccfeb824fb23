package snapshot

import (
	"fmt"
	"time"

	"virtmcp/internal/api"
)

type node struct {
	id          string
	name        string
	description string
	createdAt   time.Time
	online      bool
	parent      *node
	children    []*node
}

// Tree is the snapshot graph of one VM: a single root, ordered children and
// at most one current node.
//
// Tree is not safe for concurrent use. It is owned by a registry entry and is
// only touched under that entry's lock.
type Tree struct {
	root    *node
	current *node
	byID    map[string]*node
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{byID: make(map[string]*node)}
}

// Entry is a detached view of one snapshot.
type Entry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	Children    []string  `json:"children,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Current     bool      `json:"is_current"`
	Online      bool      `json:"online"`
	Depth       int       `json:"depth"`
}

// Spec describes a snapshot to add with Create.
type Spec struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	Online      bool
}

// Record is one snapshot as listed by the hypervisor. ParentID is empty for
// the root.
type Record struct {
	ID          string
	Name        string
	Description string
	ParentID    string
	Current     bool
}

// Len returns the number of snapshots.
func (t *Tree) Len() int {
	return len(t.byID)
}

// Current returns the current snapshot, if any.
func (t *Tree) Current() (Entry, bool) {
	if t.current == nil {
		return Entry{}, false
	}
	return t.entry(t.current), true
}

// Find looks a snapshot up by id, falling back to the first name match in
// pre-order.
func (t *Tree) Find(ref string) (Entry, bool) {
	n := t.lookup(ref)
	if n == nil {
		return Entry{}, false
	}
	return t.entry(n), true
}

func (t *Tree) lookup(ref string) *node {
	if n, ok := t.byID[ref]; ok {
		return n
	}
	var found *node
	t.walk(func(n *node, _ int) bool {
		if n.name == ref {
			found = n
			return false
		}
		return true
	})
	return found
}

// Create adds a new leaf under the current snapshot, or as root when the
// tree is empty, and makes it current.
func (t *Tree) Create(s Spec) (Entry, error) {
	if s.ID == "" || s.Name == "" {
		return Entry{}, api.NewValidationError("name", "snapshot id and name are required")
	}
	if _, exists := t.byID[s.ID]; exists {
		return Entry{}, &api.StateConflictError{Message: fmt.Sprintf("snapshot %s already exists", s.ID)}
	}
	if t.lookup(s.Name) != nil {
		return Entry{}, &api.StateConflictError{Message: fmt.Sprintf("snapshot named %s already exists", s.Name)}
	}

	n := &node{
		id:          s.ID,
		name:        s.Name,
		description: s.Description,
		createdAt:   s.CreatedAt,
		online:      s.Online,
	}

	switch {
	case t.root == nil:
		t.root = n
	case t.current != nil:
		n.parent = t.current
		t.current.children = append(t.current.children, n)
	default:
		// Snapshots exist but none is current; hang the new one off the root.
		n.parent = t.root
		t.root.children = append(t.root.children, n)
	}

	t.byID[n.id] = n
	t.current = n
	return t.entry(n), nil
}

// Restore makes ref current and returns it. The caller derives the expected
// VM state from the returned entry's Online flag.
func (t *Tree) Restore(ref string) (Entry, error) {
	n := t.lookup(ref)
	if n == nil {
		return Entry{}, api.NewSnapshotNotFoundError(ref)
	}
	t.current = n
	return t.entry(n), nil
}

// Delete removes ref and re-parents its children to ref's parent. If ref was
// current, its parent becomes current, or the promoted child when ref was the
// root. A root with more than one child cannot be removed because its
// children would have no common parent.
func (t *Tree) Delete(ref string) (Entry, error) {
	n := t.lookup(ref)
	if n == nil {
		return Entry{}, api.NewSnapshotNotFoundError(ref)
	}
	if err := t.CanDelete(ref); err != nil {
		return Entry{}, err
	}
	deleted := t.entry(n)

	parent := n.parent
	for _, child := range n.children {
		child.parent = parent
	}

	if parent == nil {
		if len(n.children) == 1 {
			t.root = n.children[0]
		} else {
			t.root = nil
		}
	} else {
		replaced := make([]*node, 0, len(parent.children)+len(n.children))
		for _, sibling := range parent.children {
			if sibling == n {
				replaced = append(replaced, n.children...)
				continue
			}
			replaced = append(replaced, sibling)
		}
		parent.children = replaced
	}

	if t.current == n {
		t.current = parent
		if parent == nil {
			t.current = t.root
		}
	}
	delete(t.byID, n.id)
	n.parent = nil
	n.children = nil

	deleted.Current = false
	return deleted, nil
}

// CanDelete reports whether ref can be removed without mutating the tree.
func (t *Tree) CanDelete(ref string) error {
	n := t.lookup(ref)
	if n == nil {
		return api.NewSnapshotNotFoundError(ref)
	}
	if n.parent == nil && len(n.children) > 1 {
		return &api.StateConflictError{
			Operation: "snapshot_delete",
			Message:   fmt.Sprintf("cannot delete root snapshot %s: it has %d children", n.name, len(n.children)),
		}
	}
	return nil
}

// List returns every snapshot in stable pre-order from the root.
func (t *Tree) List() []Entry {
	entries := make([]Entry, 0, len(t.byID))
	t.walk(func(n *node, depth int) bool {
		e := t.entry(n)
		e.Depth = depth
		entries = append(entries, e)
		return true
	})
	return entries
}

func (t *Tree) walk(fn func(n *node, depth int) bool) {
	if t.root == nil {
		return
	}
	type frame struct {
		n     *node
		depth int
	}
	stack := []frame{{t.root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.n, f.depth) {
			return
		}
		for i := len(f.n.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.n.children[i], f.depth + 1})
		}
	}
}

func (t *Tree) entry(n *node) Entry {
	e := Entry{
		ID:          n.id,
		Name:        n.name,
		Description: n.description,
		CreatedAt:   n.createdAt,
		Current:     n == t.current,
		Online:      n.online,
	}
	if n.parent != nil {
		e.ParentID = n.parent.id
		e.Parent = n.parent.name
	}
	for _, c := range n.children {
		e.Children = append(e.Children, c.name)
	}
	return e
}

// FromRecords rebuilds a tree from a hypervisor listing. Records must list
// parents before children. Records whose parent is unknown are attached to the
// root. Timestamps and online flags are carried over from prev for ids it
// already knows, since listings do not report them.
func FromRecords(records []Record, prev *Tree) *Tree {
	t := New()
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		n := &node{id: r.ID, name: r.Name, description: r.Description}
		if prev != nil {
			if old, ok := prev.byID[r.ID]; ok {
				n.createdAt = old.createdAt
				n.online = old.online
			}
		}

		parent := t.byID[r.ParentID]
		switch {
		case parent != nil:
			n.parent = parent
			parent.children = append(parent.children, n)
		case t.root == nil:
			t.root = n
		default:
			n.parent = t.root
			t.root.children = append(t.root.children, n)
		}

		t.byID[n.id] = n
		if r.Current {
			t.current = n
		}
	}
	return t
}

// Equal reports whether both trees have the same shape, names and current
// pointer.
func (t *Tree) Equal(other *Tree) bool {
	if other == nil {
		return t.Len() == 0
	}
	a, b := t.List(), other.List()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name || a[i].ParentID != b[i].ParentID || a[i].Current != b[i].Current {
			return false
		}
	}
	return true
}
