// Package starlarkload implements the module-load collaborator over Starlark
// compilation units. Function globals of a loaded unit are published as
// callables, and nested load() statements re-enter the interceptor set so the
// load-boundary guard observes every unit boundary.
package starlarkload

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	rebind "github.com/goliatone/go-rebind"
	"go.starlark.net/starlark"
)

// Loader executes Starlark units and resolves their function globals.
type Loader struct {
	rebind.InterceptorSet

	dir     string
	sources map[string]string
	publish func(name string, fn rebind.Callable)

	loaded  map[string]starlark.StringDict
	loading map[string]bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithDir roots file-based units at dir.
func WithDir(dir string) Option {
	return func(l *Loader) {
		l.dir = dir
	}
}

// WithSources supplies in-memory unit sources keyed by unit name. Sources
// take precedence over files.
func WithSources(sources map[string]string) Option {
	return func(l *Loader) {
		for unit, src := range sources {
			l.sources[unit] = src
		}
	}
}

// WithPublish forwards every function global of a freshly loaded unit,
// typically to Table.Define.
func WithPublish(publish func(name string, fn rebind.Callable)) Option {
	return func(l *Loader) {
		l.publish = publish
	}
}

// New constructs a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		sources: map[string]string{},
		loaded:  map[string]starlark.StringDict{},
		loading: map[string]bool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load executes unit, firing interceptors around the work. Units load once;
// repeated loads still cross the interceptor boundary but reuse the cached
// globals.
func (l *Loader) Load(unit string) error {
	return l.Intercept(unit, func() error {
		_, err := l.exec(unit)
		return err
	})
}

// Loaded reports whether unit has been executed.
func (l *Loader) Loaded(unit string) bool {
	_, ok := l.loaded[unit]
	return ok
}

// Resolve finds a callable among loaded units. Qualified "unit::symbol" names
// address one unit; bare names scan loaded units in sorted order.
func (l *Loader) Resolve(name string) (rebind.Callable, error) {
	unit, symbol := rebind.SplitTarget(name)
	if unit != "" {
		globals, ok := l.loaded[unit]
		if !ok {
			return nil, fmt.Errorf("starlarkload: unit %q not loaded", unit)
		}
		return l.lookup(globals, unit, symbol)
	}

	units := make([]string, 0, len(l.loaded))
	for candidate := range l.loaded {
		units = append(units, candidate)
	}
	sort.Strings(units)
	for _, candidate := range units {
		if fn, err := l.lookup(l.loaded[candidate], candidate, symbol); err == nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("starlarkload: no loaded unit defines %q", symbol)
}

func (l *Loader) lookup(globals starlark.StringDict, unit, symbol string) (rebind.Callable, error) {
	value, ok := globals[symbol]
	if !ok {
		return nil, fmt.Errorf("starlarkload: unit %q does not define %q", unit, symbol)
	}
	callable, ok := value.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("starlarkload: %q in unit %q is %s, not callable", symbol, unit, value.Type())
	}
	return wrapCallable(callable), nil
}

func (l *Loader) exec(unit string) (starlark.StringDict, error) {
	if globals, ok := l.loaded[unit]; ok {
		return globals, nil
	}
	if l.loading[unit] {
		return nil, fmt.Errorf("starlarkload: load cycle through %q", unit)
	}
	l.loading[unit] = true
	defer delete(l.loading, unit)

	src, err := l.source(unit)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name: unit,
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			// Nested loads cross the interceptor boundary too; the guard
			// decides whether a cycle is already in progress.
			var globals starlark.StringDict
			err := l.Intercept(module, func() error {
				nested, execErr := l.exec(module)
				globals = nested
				return execErr
			})
			return globals, err
		},
	}

	globals, err := starlark.ExecFile(thread, unit, src, nil)
	if err != nil {
		return nil, err
	}
	l.loaded[unit] = globals

	if l.publish != nil {
		names := make([]string, 0, len(globals))
		for name := range globals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if callable, ok := globals[name].(starlark.Callable); ok {
				l.publish(name, wrapCallable(callable))
			}
		}
	}
	return globals, nil
}

func (l *Loader) source(unit string) (any, error) {
	if src, ok := l.sources[unit]; ok {
		return src, nil
	}
	path := unit
	if l.dir != "" {
		path = filepath.Join(l.dir, unit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("starlarkload: read unit %q: %w", unit, err)
	}
	return data, nil
}

func wrapCallable(fn starlark.Callable) rebind.Callable {
	return func(args ...any) (any, error) {
		tuple := make(starlark.Tuple, len(args))
		for i, arg := range args {
			value, err := goToStarlark(arg)
			if err != nil {
				return nil, fmt.Errorf("starlarkload: arg %d: %w", i, err)
			}
			tuple[i] = value
		}
		thread := &starlark.Thread{Name: "rebind/call"}
		out, err := starlark.Call(thread, fn, tuple, nil)
		if err != nil {
			return nil, err
		}
		return starlarkToGo(out)
	}
}

func goToStarlark(value any) (starlark.Value, error) {
	switch v := value.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case string:
		return starlark.String(v), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, elem := range v {
			converted, err := goToStarlark(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(v))
		for key, elem := range v {
			converted, err := goToStarlark(elem)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case starlark.Value:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

func starlarkToGo(value starlark.Value) (any, error) {
	switch v := value.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.String(), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, elem := range v {
			converted, err := starlarkToGo(elem)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case *starlark.List:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			converted, err := starlarkToGo(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("unsupported dict key type %s", item[0].Type())
			}
			converted, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = converted
		}
		return out, nil
	case starlark.Callable:
		return wrapCallable(v), nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", value.Type())
	}
}
