package starlarkload_test

import (
	"strings"
	"testing"

	rebind "github.com/goliatone/go-rebind"
	starlarkload "github.com/goliatone/go-rebind/loader/starlark"
)

type recordingInterceptor struct {
	events []string
}

func (r *recordingInterceptor) BeforeLoad(unit string) {
	r.events = append(r.events, "before "+unit)
}

func (r *recordingInterceptor) AfterLoad(unit string, _ error) {
	r.events = append(r.events, "after "+unit)
}

func TestLoadAndResolveFunctionGlobals(t *testing.T) {
	loader := starlarkload.New(starlarkload.WithSources(map[string]string{
		"math.star": "def double(x):\n    return x * 2\n\nlimit = 10\n",
	}))

	if err := loader.Load("math.star"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loader.Loaded("math.star") {
		t.Fatalf("expected unit marked loaded")
	}

	double, err := loader.Resolve("math.star::double")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := double(21)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != int64(42) {
		t.Fatalf("expected 42, got %v (%T)", got, got)
	}

	// Bare names scan loaded units.
	if _, err := loader.Resolve("double"); err != nil {
		t.Fatalf("bare resolve: %v", err)
	}
	// Non-callable globals are not resolvable.
	if _, err := loader.Resolve("math.star::limit"); err == nil {
		t.Fatalf("expected non-callable global to be rejected")
	}
	if _, err := loader.Resolve("math.star::missing"); err == nil {
		t.Fatalf("expected missing symbol to be rejected")
	}
}

func TestPublishForwardsFunctionGlobals(t *testing.T) {
	table := rebind.NewTable()
	loader := starlarkload.New(
		starlarkload.WithSources(map[string]string{
			"greet.star": "def greet(name):\n    return \"hello \" + name\n",
		}),
		starlarkload.WithPublish(table.Define),
	)

	if err := loader.Load("greet.star"); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := table.Call("greet", "world")
	if err != nil {
		t.Fatalf("call through table: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("expected greeting, got %v", got)
	}
}

func TestNestedLoadCrossesInterceptorBoundary(t *testing.T) {
	recorder := &recordingInterceptor{}
	loader := starlarkload.New(starlarkload.WithSources(map[string]string{
		"app.star": "load(\"lib.star\", \"half\")\n\ndef quarter(x):\n    return half(half(x))\n",
		"lib.star": "def half(x):\n    return x // 2\n",
	}))
	loader.AddInterceptor(recorder)

	if err := loader.Load("app.star"); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []string{
		"before app.star",
		"before lib.star",
		"after lib.star",
		"after app.star",
	}
	if len(recorder.events) != len(want) {
		t.Fatalf("expected %d hook firings, got %v", len(want), recorder.events)
	}
	for i, event := range want {
		if recorder.events[i] != event {
			t.Fatalf("expected %q at position %d, got %v", event, i, recorder.events)
		}
	}

	quarter, err := loader.Resolve("app.star::quarter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got, err := quarter(8); err != nil || got != int64(2) {
		t.Fatalf("quarter(8): got %v, %v", got, err)
	}
}

func TestLoadCycleIsReported(t *testing.T) {
	loader := starlarkload.New(starlarkload.WithSources(map[string]string{
		"a.star": "load(\"b.star\", \"b\")\n\ndef a():\n    return b()\n",
		"b.star": "load(\"a.star\", \"a\")\n\ndef b():\n    return a()\n",
	}))

	err := loader.Load("a.star")
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle report, got %v", err)
	}
}

func TestRepeatedLoadReusesGlobals(t *testing.T) {
	recorder := &recordingInterceptor{}
	loader := starlarkload.New(starlarkload.WithSources(map[string]string{
		"math.star": "def double(x):\n    return x * 2\n",
	}))
	loader.AddInterceptor(recorder)

	if err := loader.Load("math.star"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if err := loader.Load("math.star"); err != nil {
		t.Fatalf("second load: %v", err)
	}
	// Both loads cross the boundary even though execution is cached.
	if len(recorder.events) != 4 {
		t.Fatalf("expected both loads to fire hooks, got %v", recorder.events)
	}
}

func TestGuardedSessionRestoresOverridesAroundStarlarkLoad(t *testing.T) {
	table := rebind.NewTable()
	loader := starlarkload.New(
		starlarkload.WithSources(map[string]string{
			"greet.star": "def greet(name):\n    return \"hello \" + name\n",
		}),
		starlarkload.WithPublish(table.Define),
	)
	env := rebind.New(rebind.WithTable(table), rebind.WithLoader(loader))
	defer env.Close()

	if _, err := env.Override("owner-a", "greet", func(args ...any) (any, error) {
		return "patched", nil
	}); err != nil {
		t.Fatalf("override: %v", err)
	}

	err := env.Declare("owner-a", rebind.Declarations{
		"shout": map[string]any{"target": "greet.star::greet", "autoload": true},
	})
	if err != nil {
		t.Fatalf("declare with autoload: %v", err)
	}

	// The load published the real definition, then the guard reinstalled the
	// override on top of it.
	if got, err := env.Call("greet", "x"); err != nil || got != "patched" {
		t.Fatalf("expected override to survive the load, got %v, %v", got, err)
	}
	if got, err := env.Call("shout", "world"); err != nil || got != "hello world" {
		t.Fatalf("expected resolved starlark symbol, got %v, %v", got, err)
	}
}

func TestMissingUnitIsReported(t *testing.T) {
	loader := starlarkload.New(starlarkload.WithDir(t.TempDir()))
	if err := loader.Load("absent.star"); err == nil {
		t.Fatalf("expected missing unit to fail")
	}
}
