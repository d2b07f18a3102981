// Package trigger implements component F: the operation -> bindings table
// described in spec §4.6. Unlike every other index in this database, the
// trigger table cannot be reconstructed from the heaps. Its mutations are
// persisted only by Save, which the StorageManager calls on Close; they are
// not journaled in PrimaryIndex's WAL.
package trigger

import (
	"sync"

	"github.com/iamNilotpal/tsisax/pkg/codec"
	"github.com/iamNilotpal/tsisax/pkg/filesys"

	tserrors "github.com/iamNilotpal/tsisax/pkg/errors"
)

// Operation is a database operation a trigger can bind to.
type Operation string

const (
	OnInsertTS   Operation = "insert_ts"
	OnUpsertMeta Operation = "upsert_meta"
	OnDeleteTS   Operation = "delete_ts"
)

// Binding is one (proc_name, target_fields, arg) trigger registration.
type Binding struct {
	Proc   string   `codec:"proc"`
	Target []string `codec:"target"`
	Arg    string   `codec:"arg"`
}

// Table is the operation -> []Binding mapping. Firing order within an
// operation is insertion order, which a plain slice preserves without
// needing any extra bookkeeping.
type Table struct {
	mu       sync.RWMutex
	bindings map[Operation][]Binding
}

// New builds an empty trigger table.
func New() *Table {
	return &Table{bindings: make(map[Operation][]Binding)}
}

// Add registers proc to fire on onwhat, targeting target with arg.
func (t *Table) Add(proc string, onwhat Operation, target []string, arg string) error {
	if proc == "" {
		return tserrors.InvalidArgument("trigger.Add", "proc name must not be empty")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[onwhat] = append(t.bindings[onwhat], Binding{Proc: proc, Target: target, Arg: arg})
	return nil
}

// Remove removes the first binding matching (proc, onwhat).
func (t *Table) Remove(proc string, onwhat Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bindings := t.bindings[onwhat]
	for i, b := range bindings {
		if b.Proc == proc {
			t.bindings[onwhat] = append(bindings[:i], bindings[i+1:]...)
			return nil
		}
	}
	return tserrors.NotFound("trigger.Remove", proc)
}

// Bindings returns the bindings registered for onwhat, in firing order.
func (t *Table) Bindings(onwhat Operation) []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Binding, len(t.bindings[onwhat]))
	copy(out, t.bindings[onwhat])
	return out
}

// persistedTable is the wire shape of triggers.idx.
type persistedTable struct {
	Bindings map[Operation][]Binding `codec:"bindings"`
}

// Save writes the table to path.
func (t *Table) Save(path string) error {
	t.mu.RLock()
	snap := persistedTable{Bindings: make(map[Operation][]Binding, len(t.bindings))}
	for op, bs := range t.bindings {
		snap.Bindings[op] = append([]Binding(nil), bs...)
	}
	t.mu.RUnlock()

	data, err := codec.Encode(snap)
	if err != nil {
		return tserrors.IOFailure("trigger.Save", err)
	}
	if err := filesys.WriteFile(path, 0644, data); err != nil {
		return tserrors.IOFailure("trigger.Save", err)
	}
	return nil
}

// Load reads a trigger table previously written by Save. A missing file
// yields an empty table -- the database may simply have no triggers yet.
func Load(path string) (*Table, error) {
	exists, err := filesys.Exists(path)
	if err != nil {
		return nil, tserrors.IOFailure("trigger.Load", err)
	}
	if !exists {
		return New(), nil
	}

	raw, err := filesys.ReadFile(path)
	if err != nil {
		return nil, tserrors.IOFailure("trigger.Load", err)
	}

	var snap persistedTable
	if err := codec.Decode(raw, &snap); err != nil {
		return nil, tserrors.Integrity("trigger.Load", err)
	}

	t := New()
	if snap.Bindings != nil {
		t.bindings = snap.Bindings
	}
	return t, nil
}
