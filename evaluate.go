package rebind

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEvaluator indicates no expression engine could be resolved.
var ErrNoEvaluator = errors.New("rebind: evaluator not configured")

// CallContext carries the inputs for one expression evaluation against the
// active binding set.
type CallContext struct {
	Args     map[string]any
	Metadata map[string]any
	Now      *time.Time
	Owner    string
}

func (ctx CallContext) withDefaultNow() CallContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx CallContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx CallContext) withDefaultMaps() CallContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx CallContext) ownerLabel() string {
	if ctx.Owner != "" {
		return ctx.Owner
	}
	return "session"
}

// Evaluator executes expressions in which the active bindings are callable.
type Evaluator interface {
	Evaluate(ctx CallContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program. Programs re-bind
// against the symbol table per invocation, so the same compiled rule observes
// different targets inside and outside an override scope.
type CompiledRule interface {
	Evaluate(ctx CallContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// Evaluate executes expr against the active binding set using the configured
// evaluator (defaulting to the expr engine).
func (e *Env) Evaluate(expr string) (any, error) {
	return e.EvaluateWith(CallContext{}, expr)
}

// EvaluateWith executes expr using ctx.
func (e *Env) EvaluateWith(ctx CallContext, expr string) (any, error) {
	if e.closed {
		return nil, ErrEnvClosed
	}
	if expr == "" {
		return nil, fmt.Errorf("rebind: expression must not be empty")
	}
	evaluator, err := e.resolveEvaluator()
	if err != nil {
		return nil, err
	}
	ctx = ctx.withDefaultNow().withDefaultMaps()
	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(ctx, expr)
	duration := time.Since(start)
	evalErr = wrapEvaluationError(engine, expr, ctx.ownerLabel(), evalErr)
	e.evaluatorLogger().LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Owner:    ctx.ownerLabel(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

func (e *Env) resolveEvaluator() (Evaluator, error) {
	if e.cfg.evaluator != nil {
		return e.cfg.evaluator, nil
	}
	exprOpts := []ExprEvaluatorOption{ExprWithTable(e.table)}
	if cache := e.cfg.programCache; cache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cache))
	}
	defaultEvaluator := NewExprEvaluator(exprOpts...)
	if defaultEvaluator == nil {
		return nil, ErrNoEvaluator
	}
	e.cfg.evaluator = defaultEvaluator
	return defaultEvaluator, nil
}

func (e *Env) evaluatorLogger() EvaluatorLogger {
	if e.cfg.evalLogger != nil {
		return e.cfg.evalLogger
	}
	return noopEvaluatorLogger{}
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*rebind.exprEvaluator":
		return "expr"
	case "*rebind.celEvaluator":
		return "cel"
	case "*rebind.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}

// bindingEnvironment assembles the expression environment from the live
// table: callable facets become invocable closures, value facets become
// variables, and `call` dispatches by name.
func bindingEnvironment(table *Table, ctx CallContext) map[string]any {
	env := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
		"owner":    ctx.ownerLabel(),
	}
	if table == nil {
		return env
	}
	env["call"] = func(name string, arguments ...any) (any, error) {
		return table.Call(name, arguments...)
	}
	for _, name := range table.Names() {
		if _, ok := table.Lookup(name); ok {
			bound := name
			env[bound] = func(arguments ...any) (any, error) {
				return table.Call(bound, arguments...)
			}
			continue
		}
		if value, ok := table.Value(name); ok {
			env[name] = value
		}
	}
	return env
}
