package rebind

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/goliatone/go-rebind/internal/declspec"
)

// Declarations maps local names to override values. A value is one of: an
// inline function (adapted through reflection), an existing Callable or
// AroundFunc, a string target resolved through the loader, or a payload map
// decoded into a Decl.
type Declarations map[string]any

// Decl is the configuration-shaped declaration payload.
type Decl struct {
	Target   string `json:"target"`
	Autoload bool   `json:"autoload"`
}

var declDecoder = declspec.New(
	declspec.WithDisallowUnknownFields[Decl](),
	declspec.WithPostHook[Decl](func(ctx declspec.Context, decl *Decl) error {
		if decl.Target == "" {
			return fmt.Errorf("declaration %q needs a target", ctx.Name)
		}
		return nil
	}),
)

// DeclareOption configures one declaration batch.
type DeclareOption func(*declareConfig)

type declareConfig struct {
	debug    bool
	debugSet bool
	autoload bool
}

// DeclareDebug toggles the tracer for the remainder of the current scope; the
// flag unwinds with the scope like any other override.
func DeclareDebug(debug bool) DeclareOption {
	return func(cfg *declareConfig) {
		cfg.debug = debug
		cfg.debugSet = true
	}
}

// DeclareAutoload loads the unit part of qualified string targets before
// resolving them.
func DeclareAutoload(autoload bool) DeclareOption {
	return func(cfg *declareConfig) {
		cfg.autoload = autoload
	}
}

// Declare installs one override per name in decls, in sorted name order. A
// resolution failure aborts the batch immediately; names already installed by
// the batch stay installed and remain individually removable.
func (e *Env) Declare(owner string, decls Declarations, opts ...DeclareOption) error {
	if e.closed {
		return ErrEnvClosed
	}
	cfg := declareConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.debugSet {
		e.tracer.setEnabled(cfg.debug)
	}

	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.declareOne(owner, name, decls[name], cfg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) declareOne(owner, name string, raw any, cfg declareConfig) error {
	switch value := raw.(type) {
	case nil:
		return &ResolutionError{Owner: owner, Name: name, Err: fmt.Errorf("declaration value is nil")}
	case Callable:
		_, err := e.Override(owner, name, value)
		return err
	case func(args ...any) (any, error):
		_, err := e.Override(owner, name, value)
		return err
	case AroundFunc:
		_, err := e.OverrideAround(owner, name, value)
		return err
	case func(next Callable, args ...any) (any, error):
		_, err := e.OverrideAround(owner, name, value)
		return err
	case string:
		target, err := e.resolveTarget(owner, name, value, cfg.autoload)
		if err != nil {
			return err
		}
		_, err = e.Override(owner, name, target)
		return err
	case map[string]any:
		decl, err := declDecoder.Decode(declspec.Context{Owner: owner, Name: name}, value)
		if err != nil {
			return &ResolutionError{Owner: owner, Name: name, Err: err}
		}
		target, err := e.resolveTarget(owner, name, decl.Target, decl.Autoload || cfg.autoload)
		if err != nil {
			return err
		}
		_, err = e.Override(owner, name, target)
		return err
	default:
		target, err := AsCallable(raw)
		if err != nil {
			return &ResolutionError{Owner: owner, Name: name, Err: err}
		}
		_, err = e.Override(owner, name, target)
		return err
	}
}

func (e *Env) resolveTarget(owner, name, target string, autoload bool) (Callable, error) {
	if e.loader == nil {
		return nil, &ResolutionError{Owner: owner, Name: name, Target: target, Err: ErrNoLoader}
	}
	if autoload {
		if unit, _ := SplitTarget(target); unit != "" {
			if err := e.Load(unit); err != nil {
				return nil, &ResolutionError{Owner: owner, Name: name, Target: target, Err: err}
			}
		}
	}
	fn, err := e.loader.Resolve(target)
	if err != nil {
		return nil, &ResolutionError{Owner: owner, Name: name, Target: target, Err: err}
	}
	return fn, nil
}

// Undeclare removes owner's overrides for the supplied names, or every owned
// name when none are given. Per-name failures are joined; the batch
// continues past them.
func (e *Env) Undeclare(owner string, names ...string) error {
	if e.closed {
		return ErrEnvClosed
	}
	if len(names) == 0 {
		return e.RemoveAll(owner)
	}
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

// AsCallable adapts an arbitrary function value to the Callable shape through
// reflection. Functions may take any parameters and return up to two values,
// the last of which may be an error.
func AsCallable(value any) (Callable, error) {
	if fn, ok := value.(Callable); ok {
		return fn, nil
	}
	if fn, ok := value.(func(args ...any) (any, error)); ok {
		return fn, nil
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("value of type %T is not callable", value)
	}
	rt := rv.Type()
	if rt.NumOut() > 2 {
		return nil, fmt.Errorf("function returns %d values, want at most 2", rt.NumOut())
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if rt.NumOut() == 2 && !rt.Out(1).Implements(errType) {
		return nil, fmt.Errorf("second return value of %T must be error", value)
	}

	return func(args ...any) (any, error) {
		in, err := reflectArgs(rt, args)
		if err != nil {
			return nil, err
		}
		out := rv.Call(in)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			if rt.Out(0).Implements(errType) {
				return nil, asError(out[0])
			}
			return out[0].Interface(), nil
		default:
			return out[0].Interface(), asError(out[1])
		}
	}, nil
}

func reflectArgs(rt reflect.Type, args []any) ([]reflect.Value, error) {
	fixed := rt.NumIn()
	if rt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("call needs at least %d args, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("call needs %d args, got %d", fixed, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var want reflect.Type
		if i < fixed {
			want = rt.In(i)
		} else {
			want = rt.In(rt.NumIn() - 1).Elem()
		}
		value, err := coerceArg(arg, want)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		in[i] = value
	}
	return in, nil
}

func coerceArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(want), nil
		default:
			return reflect.Value{}, fmt.Errorf("cannot pass nil as %s", want)
		}
	}
	rv := reflect.ValueOf(arg)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(want) {
		return rv.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, want)
}

func asError(value reflect.Value) error {
	if value.IsNil() {
		return nil
	}
	return value.Interface().(error)
}
