package rebind

import (
	"fmt"
	"sort"
	"sync"
)

// Table is the process-wide name→binding map consulted at call sites. All
// override traffic goes through Capture/Install/Restore so the scope machinery
// can reason about complete binding states instead of bare function pointers.
//
// The domain is single-threaded declare-time mutation; the mutex exists so
// read-only inspection (tests, tracing sinks) can run without ceremony.
type Table struct {
	mu    sync.RWMutex
	names map[string]*tableEntry
}

type tableEntry struct {
	facets Facets
	chain  *Handler
}

// NewTable constructs an empty symbol table.
func NewTable() *Table {
	return &Table{names: make(map[string]*tableEntry)}
}

// Capture reads the current binding for name without removing it, preserving
// every facet that coexists under the name.
func (t *Table) Capture(name string) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.names[name]
	if !ok {
		return absentSnapshot(name)
	}
	return newSnapshot(name, entry.facets, entry.chain)
}

// Install atomically swaps target in as the callable facet of name, preserving
// the other facets, and returns the complete prior state. The owner is
// recorded on the delegation chain for inspection.
func (t *Table) Install(name, owner string, target Callable) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var prior Snapshot
	entry, ok := t.names[name]
	if !ok {
		prior = absentSnapshot(name)
		entry = &tableEntry{}
		t.names[name] = entry
	} else {
		prior = newSnapshot(name, entry.facets, entry.chain)
	}

	entry.chain = &Handler{
		Owner:      owner,
		SnapshotID: prior.ID(),
		Fn:         target,
		prev:       entry.chain,
	}
	entry.facets.Fn = target
	return prior
}

// Restore reinstalls a snapshot verbatim, or deletes the binding entirely when
// the snapshot denotes absence.
func (t *Table) Restore(name string, snapshot Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snapshot.Absent() {
		delete(t.names, name)
		return
	}
	t.names[name] = &tableEntry{
		facets: snapshot.Facets(),
		chain:  snapshot.Chain(),
	}
}

// Define sets the base callable facet for name without growing the delegation
// chain. Loaders use it to publish definitions from freshly loaded units.
func (t *Table) Define(name string, fn Callable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.names[name]
	if !ok {
		entry = &tableEntry{}
		t.names[name] = entry
	}
	entry.facets.Fn = fn
	entry.chain = nil
}

// SetValue sets the data facet for name, leaving the callable facet alone.
func (t *Table) SetValue(name string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.names[name]
	if !ok {
		entry = &tableEntry{}
		t.names[name] = entry
	}
	entry.facets.Value = value
}

// SetHandle sets the handle facet for name, leaving the other facets alone.
func (t *Table) SetHandle(name string, handle any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.names[name]
	if !ok {
		entry = &tableEntry{}
		t.names[name] = entry
	}
	entry.facets.Handle = handle
}

// Value returns the data facet for name.
func (t *Table) Value(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.names[name]
	if !ok || entry.facets.Value == nil {
		return nil, false
	}
	return entry.facets.Value, true
}

// Lookup returns the callable facet for name.
func (t *Table) Lookup(name string) (Callable, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.names[name]
	if !ok || entry.facets.Fn == nil {
		return nil, false
	}
	return entry.facets.Fn, true
}

// Call dispatches through the indirection table so call sites always observe
// the currently active override for name.
func (t *Table) Call(name string, args ...any) (any, error) {
	fn, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("rebind: %q is not bound to a callable", name)
	}
	return fn(args...)
}

// Chain returns the top of the delegation chain for name, nil when the name
// carries no overrides.
func (t *Table) Chain(name string) *Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.names[name]
	if !ok {
		return nil
	}
	return entry.chain
}

// Names returns every bound name sorted alphabetically.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.names))
	for name := range t.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
