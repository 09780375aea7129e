package rebind

import (
	"sort"

	"github.com/goliatone/go-rebind/pkg/audit"
)

// Env is the explicit context object holding all process-wide mutable state:
// the symbol table, the frame stack, the reentrancy counter, the owner
// ledger, pending load contexts, and the tracer flag. Nothing is ambient;
// callers construct one per compile/run session and tear it down with Close.
type Env struct {
	table  *Table
	loader Loader
	tracer *Tracer
	guard  *loadGuard

	frames []*Frame
	depth  int
	ledger map[string]map[string]Snapshot

	cfg    envConfig
	closed bool
}

// Option configures an Env at construction time.
type Option func(*envConfig)

type envConfig struct {
	table        *Table
	loader       Loader
	logger       TraceLogger
	hooks        audit.Hooks
	debug        bool
	evaluator    Evaluator
	programCache ProgramCache
	evalLogger   EvaluatorLogger
}

// WithTable installs a pre-populated symbol table.
func WithTable(table *Table) Option {
	return func(cfg *envConfig) {
		cfg.table = table
	}
}

// WithLoader wires the module-load collaborator. The load-boundary guard is
// registered against it for the lifetime of the session.
func WithLoader(loader Loader) Option {
	return func(cfg *envConfig) {
		cfg.loader = loader
	}
}

// WithTraceLogger attaches a transition logger to the tracer.
func WithTraceLogger(logger TraceLogger) Option {
	return func(cfg *envConfig) {
		cfg.logger = logger
	}
}

// WithAuditHooks attaches audit hooks that receive every traced transition.
// Hooks are cloned and nil entries dropped.
func WithAuditHooks(hooks audit.Hooks) Option {
	normalized := cloneAuditHooks(hooks)
	return func(cfg *envConfig) {
		cfg.hooks = normalized
	}
}

// WithDebug enables the tracer for the whole session.
func WithDebug(debug bool) Option {
	return func(cfg *envConfig) {
		cfg.debug = debug
	}
}

// WithEvaluator configures the expression call surface.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *envConfig) {
		cfg.evaluator = e
	}
}

// WithProgramCache registers a compiled-program cache for the evaluators.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *envConfig) {
		cfg.programCache = cache
	}
}

// New constructs a session. The base frame is entered immediately so
// session-level declarations are scoped and the guard covers them; Close is
// the matching exit.
func New(opts ...Option) *Env {
	cfg := envConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	env := &Env{
		table:  cfg.table,
		loader: cfg.loader,
		ledger: make(map[string]map[string]Snapshot),
		cfg:    cfg,
	}
	if env.table == nil {
		env.table = NewTable()
	}
	env.tracer = NewTracer(cfg.logger, cfg.hooks)
	env.tracer.setEnabled(cfg.debug)
	env.guard = newLoadGuard(env)

	_, _ = env.Enter()
	return env
}

// Close tears the session down: every open frame is reconciled, the base
// frame unwinds to true pre-override state, and the guard is unregistered.
// The symbol table afterwards is bit-identical to its pre-session state.
func (e *Env) Close() error {
	if e.closed {
		return ErrEnvClosed
	}
	for len(e.frames) > 1 {
		if err := e.Leave(); err != nil {
			break
		}
	}
	if base := e.currentFrame(); base != nil {
		e.reconcile(base, nil)
		e.tracer.setEnabled(base.traceRestore)
		e.frames = nil
	}
	e.depth = 0
	e.removeGuard()
	e.closed = true
	return nil
}

// Table exposes the symbol table for call sites and inspection.
func (e *Env) Table() *Table {
	return e.table
}

// Tracer exposes the session tracer.
func (e *Env) Tracer() *Tracer {
	return e.tracer
}

// Depth returns the current reentrancy count (the base frame counts as one).
func (e *Env) Depth() int {
	return e.depth
}

// Call dispatches name through the indirection table, observing whatever
// override is active at the call site.
func (e *Env) Call(name string, args ...any) (any, error) {
	if e.closed {
		return nil, ErrEnvClosed
	}
	return e.table.Call(name, args...)
}

// ChainFor returns the delegation chain for name from newest to oldest, an
// inspectable alternative to chasing swapped function pointers.
func (e *Env) ChainFor(name string) []*Handler {
	var chain []*Handler
	for handler := e.table.Chain(name); handler != nil; handler = handler.Prev() {
		chain = append(chain, handler)
	}
	return chain
}

// Owners returns every owner with live ledger entries, sorted.
func (e *Env) Owners() []string {
	owners := make([]string, 0, len(e.ledger))
	for owner := range e.ledger {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

func cloneAuditHooks(hooks audit.Hooks) audit.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]audit.Hook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return audit.Hooks(normalized)
}
