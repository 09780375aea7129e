package rebind

import (
	"context"
	"time"

	"github.com/goliatone/go-rebind/pkg/audit"
)

// TransitionKind enumerates the binding transitions the tracer reports.
type TransitionKind string

const (
	// TransitionInstall is emitted when an override lands on a name.
	TransitionInstall TransitionKind = "install"
	// TransitionRestore is emitted when a prior state is reinstalled.
	TransitionRestore TransitionKind = "restore"
	// TransitionConflict is emitted when a selective removal is refused
	// because a later override shadows the name.
	TransitionConflict TransitionKind = "shadow-conflict"
	// TransitionDiscard is emitted when a frame entry is dropped or an
	// override is temporarily suspended around a load boundary.
	TransitionDiscard TransitionKind = "discard"
)

// Transition captures one binding state change with before/after identity.
type Transition struct {
	Kind       TransitionKind
	Owner      string
	Name       string
	Before     Snapshot
	After      Snapshot
	Unit       string
	Depth      int
	OccurredAt time.Time
}

// TraceLogger records binding transitions.
type TraceLogger interface {
	LogTransition(Transition)
}

// TraceLoggerFunc adapts a function to TraceLogger.
type TraceLoggerFunc func(Transition)

// LogTransition implements TraceLogger.
func (f TraceLoggerFunc) LogTransition(transition Transition) {
	if f != nil {
		f(transition)
	}
}

type noopTraceLogger struct{}

func (noopTraceLogger) LogTransition(Transition) {}

// Tracer logs every transition and fans it out to audit hooks. It has no
// control-flow effect and is off by default. The enable flag is saved and
// restored by the scope machinery exactly like an ordinary override, so a
// scope that turns debugging on stops tracing when it exits.
type Tracer struct {
	enabled bool
	logger  TraceLogger
	hooks   audit.Hooks
}

// NewTracer constructs a disabled tracer.
func NewTracer(logger TraceLogger, hooks audit.Hooks) *Tracer {
	if logger == nil {
		logger = noopTraceLogger{}
	}
	return &Tracer{logger: logger, hooks: hooks}
}

// Enabled reports whether transitions are being recorded.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Tracer) setEnabled(enabled bool) {
	if t != nil {
		t.enabled = enabled
	}
}

func (t *Tracer) transition(transition Transition) {
	if !t.Enabled() {
		return
	}
	if transition.OccurredAt.IsZero() {
		transition.OccurredAt = time.Now()
	}
	t.logger.LogTransition(transition)
	if !t.hooks.Enabled() {
		return
	}
	// Hook failures are observability-only and never affect binding state.
	_ = t.hooks.Notify(context.Background(), audit.Event{
		Verb:       string(transition.Kind),
		OwnerID:    transition.Owner,
		Name:       transition.Name,
		Before:     transition.Before.ID(),
		After:      transition.After.ID(),
		Unit:       transition.Unit,
		Depth:      transition.Depth,
		OccurredAt: transition.OccurredAt,
	})
}
