package rebind

import (
	"errors"
	"fmt"
	"sort"
)

// Override rebinds name to target within the current lexical region. The true
// pre-override state is captured once per continuous override chain; stacking
// another override on the same name inside the same frame only advances the
// redo side. The owner's ledger entry is updated so the owner can later prove
// it still holds the name.
func (e *Env) Override(owner, name string, target Callable) (Snapshot, error) {
	if e.closed {
		return Snapshot{}, ErrEnvClosed
	}
	if name == "" {
		return Snapshot{}, fmt.Errorf("rebind: override name must not be empty")
	}
	if target == nil {
		return Snapshot{}, fmt.Errorf("rebind: override target for %q is nil", name)
	}

	frame := e.currentFrame()
	prior := e.table.Install(name, owner, target)
	redo := e.table.Capture(name)

	if record, ok := frame.records[name]; ok {
		record.Redo = redo
		frame.records[name] = record
	} else {
		frame.records[name] = Record{Undo: prior, Redo: redo}
	}

	entries, ok := e.ledger[owner]
	if !ok {
		entries = make(map[string]Snapshot)
		e.ledger[owner] = entries
	}
	entries[name] = redo

	e.tracer.transition(Transition{
		Kind:   TransitionInstall,
		Owner:  owner,
		Name:   name,
		Before: prior,
		After:  redo,
		Depth:  e.depth,
	})
	return redo, nil
}

// AroundFunc is an override that delegates to the previous implementation via
// an explicit next callable rather than a swapped function pointer.
type AroundFunc func(next Callable, args ...any) (any, error)

// OverrideAround installs an override that can call whatever was bound to
// name when the override landed.
func (e *Env) OverrideAround(owner, name string, around AroundFunc) (Snapshot, error) {
	if around == nil {
		return Snapshot{}, fmt.Errorf("rebind: around override for %q is nil", name)
	}
	next, ok := e.table.Lookup(name)
	if !ok {
		next = func(...any) (any, error) {
			return nil, fmt.Errorf("rebind: %q has no previous implementation", name)
		}
	}
	return e.Override(owner, name, func(args ...any) (any, error) {
		return around(next, args...)
	})
}

// Remove selectively unwinds owner's override of name. It succeeds only when
// the frame's current redo is the snapshot the owner last installed; a later
// override shadowing the name is a reported conflict and leaves every piece
// of state untouched.
func (e *Env) Remove(owner, name string) error {
	if e.closed {
		return ErrEnvClosed
	}
	held, ok := e.ledger[owner][name]
	if !ok {
		return &RemovalError{Owner: owner, Name: name}
	}
	frame := e.currentFrame()
	record, ok := frame.records[name]
	if !ok {
		return &RemovalError{Owner: owner, Name: name}
	}
	if !sameCapture(record.Redo, held) {
		e.tracer.transition(Transition{
			Kind:   TransitionConflict,
			Owner:  owner,
			Name:   name,
			Before: record.Redo,
			After:  record.Redo,
			Depth:  e.depth,
		})
		return &ConflictError{Owner: owner, Name: name, Held: held, Active: record.Redo}
	}

	e.restore(owner, name, record.Undo)
	delete(frame.records, name)
	e.dropLedgerEntry(owner, name)
	return nil
}

// RemoveAll applies Remove to every name in owner's ledger, reporting the
// names that failed as a joined error. Conflicted names are skipped, never
// silently overridden; the rest of the batch continues.
func (e *Env) RemoveAll(owner string) error {
	if e.closed {
		return ErrEnvClosed
	}
	entries, ok := e.ledger[owner]
	if !ok || len(entries) == 0 {
		return &RemovalError{Owner: owner}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := e.Remove(owner, name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Owned returns the names owner currently holds, sorted.
func (e *Env) Owned(owner string) []string {
	entries := e.ledger[owner]
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Env) dropLedgerEntry(owner, name string) {
	entries, ok := e.ledger[owner]
	if !ok {
		return
	}
	delete(entries, name)
	if len(entries) == 0 {
		delete(e.ledger, owner)
	}
}
