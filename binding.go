package rebind

import (
	"reflect"

	"github.com/google/uuid"
)

// Callable is the shape every override target must satisfy. Values flow in and
// out as plain `any`; adapters for other function shapes live in declare.go.
type Callable func(args ...any) (any, error)

// Facets is the bag of slots that can coexist under one name. Only the Fn slot
// is ever targeted by an override; Value and Handle ride along untouched so a
// capture/restore cycle round-trips them exactly.
type Facets struct {
	Fn     Callable
	Value  any
	Handle any
}

// Handler is one link in the inspectable delegation chain built up as
// overrides stack on a name. Fn is the callable installed by Owner; the link
// below it is whatever was active when the override landed.
type Handler struct {
	Owner      string
	SnapshotID string
	Fn         Callable
	prev       *Handler
}

// Prev returns the handler this one shadows, or nil at the bottom of the
// chain.
func (h *Handler) Prev() *Handler {
	if h == nil {
		return nil
	}
	return h.prev
}

// Snapshot is an immutable capture of a name's complete prior state, including
// facets that share the name with the callable. A Snapshot may denote absence.
type Snapshot struct {
	id     string
	name   string
	absent bool
	facets Facets
	chain  *Handler
}

// newSnapshot captures the supplied facets under a fresh identity.
func newSnapshot(name string, facets Facets, chain *Handler) Snapshot {
	return Snapshot{
		id:     uuid.NewString(),
		name:   name,
		facets: facets,
		chain:  chain,
	}
}

// absentSnapshot denotes "no binding existed for name".
func absentSnapshot(name string) Snapshot {
	return Snapshot{
		id:     uuid.NewString(),
		name:   name,
		absent: true,
	}
}

// ID returns the snapshot identity used by trace and audit reporting.
func (s Snapshot) ID() string {
	return s.id
}

// Name returns the symbol the snapshot was captured from.
func (s Snapshot) Name() string {
	return s.name
}

// Absent reports whether the snapshot denotes a missing binding.
func (s Snapshot) Absent() bool {
	return s.absent
}

// Fn returns the callable facet, nil when absent or never defined.
func (s Snapshot) Fn() Callable {
	if s.absent {
		return nil
	}
	return s.facets.Fn
}

// Facets returns the captured facet bag. Absent snapshots return the zero bag.
func (s Snapshot) Facets() Facets {
	if s.absent {
		return Facets{}
	}
	return s.facets
}

// Chain returns the delegation chain active at capture time.
func (s Snapshot) Chain() *Handler {
	if s.absent {
		return nil
	}
	return s.chain
}

// Identical compares the callable facet of two snapshots by identity. Two
// absent snapshots compare identical regardless of their snapshot IDs.
//
// Closures built from the same function literal share a code pointer, so this
// is a facet-level comparison only; authorization decisions use sameCapture.
func Identical(a, b Snapshot) bool {
	if a.absent || b.absent {
		return a.absent == b.absent
	}
	return callableIdentity(a.facets.Fn) == callableIdentity(b.facets.Fn)
}

// sameCapture reports whether two snapshots are the same capture. Cloned
// frame records and ledger entries share captures; any re-override produces a
// fresh one.
func sameCapture(a, b Snapshot) bool {
	if a.absent || b.absent {
		return a.absent == b.absent
	}
	return a.id == b.id
}

func callableIdentity(fn Callable) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}

// Record tracks one name inside a scope frame. Undo is the true pre-override
// state, fixed at first capture and carried unchanged until the override chain
// for the name fully unwinds. Redo is the currently active override.
type Record struct {
	Undo Snapshot
	Redo Snapshot
}
