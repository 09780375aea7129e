package rebind

import (
	"errors"
	"fmt"
)

var (
	// ErrResolution indicates a string declaration value could not be
	// resolved to a callable. It aborts the declaration batch that raised it.
	ErrResolution = errors.New("rebind: cannot resolve target")
	// ErrShadowConflict indicates a selective removal targeted a name that a
	// later override currently shadows. State is left untouched.
	ErrShadowConflict = errors.New("rebind: binding shadowed by a later override")
	// ErrUnknownRemoval indicates a removal was requested for a name the
	// owner never installed (or already removed).
	ErrUnknownRemoval = errors.New("rebind: owner never installed binding")
	// ErrReentrancyUnderflow indicates a scope exit without a matching entry.
	// It is reported and the counter clamped; binding state stays correct.
	ErrReentrancyUnderflow = errors.New("rebind: scope exit without matching entry")
	// ErrNoLoader indicates a declaration needed the module-load collaborator
	// but none was configured.
	ErrNoLoader = errors.New("rebind: loader not configured")
	// ErrEnvClosed indicates the context object was already torn down.
	ErrEnvClosed = errors.New("rebind: environment is closed")
)

// ResolutionError carries the declaration metadata for an unresolvable
// string target.
type ResolutionError struct {
	Owner  string
	Name   string
	Target string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rebind: owner %q declaring %q: cannot resolve %q: %v", e.Owner, e.Name, e.Target, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResolution}
	}
	return []error{ErrResolution, e.Err}
}

// ConflictError reports a selective removal blocked by a shadowing override.
type ConflictError struct {
	Owner string
	Name  string
	// Held is the snapshot the owner last installed; Active is the redo
	// currently occupying the frame.
	Held   Snapshot
	Active Snapshot
}

func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rebind: owner %q cannot remove %q: shadowed (held %s, active %s)",
		e.Owner, e.Name, e.Held.ID(), e.Active.ID())
}

func (e *ConflictError) Unwrap() error {
	return ErrShadowConflict
}

// RemovalError reports a removal for a name the owner does not hold.
type RemovalError struct {
	Owner string
	Name  string
}

func (e *RemovalError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("rebind: owner %q does not hold %q", e.Owner, e.Name)
}

func (e *RemovalError) Unwrap() error {
	return ErrUnknownRemoval
}
