package rebind

import (
	"fmt"
	"sort"
	"strings"
)

// Interceptor is the pair of hook points a module-load collaborator must
// expose around every unit load. AfterLoad runs unconditionally, on load
// success or failure, before the failure is surfaced.
type Interceptor interface {
	BeforeLoad(unit string)
	AfterLoad(unit string, err error)
}

// Loader is the module-load collaborator. The engine registers exactly one
// interceptor (the load-boundary guard) and takes no part in path
// resolution, caching, or dependency ordering.
type Loader interface {
	// Resolve turns a string declaration value into a callable. Qualified
	// names use the "unit::symbol" form.
	Resolve(name string) (Callable, error)
	// Load brings a compilation unit in, firing interceptors around the
	// delegate work.
	Load(unit string) error

	AddInterceptor(Interceptor)
	RemoveInterceptor(Interceptor)
}

// InterceptorSet implements the hook-registration half of Loader and is meant
// to be embedded by concrete loaders. Intercept wraps the delegate load so
// the after hooks run even when the delegate fails or panics.
type InterceptorSet struct {
	interceptors []Interceptor
}

// AddInterceptor registers i for subsequent loads.
func (s *InterceptorSet) AddInterceptor(i Interceptor) {
	if i == nil {
		return
	}
	s.interceptors = append(s.interceptors, i)
}

// RemoveInterceptor unregisters i by identity.
func (s *InterceptorSet) RemoveInterceptor(i Interceptor) {
	for idx, registered := range s.interceptors {
		if registered == i {
			s.interceptors = append(s.interceptors[:idx], s.interceptors[idx+1:]...)
			return
		}
	}
}

// Intercept fires the before hooks, runs the delegate, and fires the after
// hooks in reverse order regardless of the delegate's outcome.
func (s *InterceptorSet) Intercept(unit string, load func() error) (err error) {
	fired := append([]Interceptor(nil), s.interceptors...)
	for _, i := range fired {
		i.BeforeLoad(unit)
	}
	defer func() {
		for idx := len(fired) - 1; idx >= 0; idx-- {
			fired[idx].AfterLoad(unit, err)
		}
	}()
	return load()
}

// SplitTarget splits a qualified "unit::symbol" declaration value. The unit
// part is empty for bare symbol names.
func SplitTarget(name string) (unit, symbol string) {
	if idx := strings.LastIndex(name, "::"); idx >= 0 {
		return name[:idx], name[idx+2:]
	}
	return "", name
}

// MapLoader is a Loader backed by in-memory units, used by tests and hosts
// that assemble their compilation units programmatically.
type MapLoader struct {
	InterceptorSet

	units  map[string]map[string]Callable
	loaded map[string]bool

	// Publish receives every symbol of a freshly loaded unit, typically
	// Table.Define so definitions land in the symbol table.
	Publish func(name string, fn Callable)
	// Fail simulates a load failure for the named units.
	Fail map[string]error
}

// NewMapLoader constructs a loader over the supplied units.
func NewMapLoader(units map[string]map[string]Callable) *MapLoader {
	if units == nil {
		units = map[string]map[string]Callable{}
	}
	return &MapLoader{
		units:  units,
		loaded: make(map[string]bool),
	}
}

// Load marks unit loaded and publishes its symbols, firing interceptors
// around the work.
func (l *MapLoader) Load(unit string) error {
	return l.Intercept(unit, func() error {
		if err := l.Fail[unit]; err != nil {
			return err
		}
		symbols, ok := l.units[unit]
		if !ok {
			return fmt.Errorf("rebind: unknown unit %q", unit)
		}
		l.loaded[unit] = true
		if l.Publish != nil {
			names := make([]string, 0, len(symbols))
			for name := range symbols {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				l.Publish(name, symbols[name])
			}
		}
		return nil
	})
}

// Loaded reports whether unit has been loaded.
func (l *MapLoader) Loaded(unit string) bool {
	return l.loaded[unit]
}

// Resolve finds a callable among loaded units. Qualified names address one
// unit; bare names scan loaded units in sorted order.
func (l *MapLoader) Resolve(name string) (Callable, error) {
	unit, symbol := SplitTarget(name)
	if unit != "" {
		if !l.loaded[unit] {
			return nil, fmt.Errorf("rebind: unit %q not loaded", unit)
		}
		fn, ok := l.units[unit][symbol]
		if !ok {
			return nil, fmt.Errorf("rebind: unit %q does not define %q", unit, symbol)
		}
		return fn, nil
	}

	loaded := make([]string, 0, len(l.loaded))
	for candidate := range l.loaded {
		loaded = append(loaded, candidate)
	}
	sort.Strings(loaded)
	for _, candidate := range loaded {
		if fn, ok := l.units[candidate][symbol]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("rebind: no loaded unit defines %q", symbol)
}
