package rebind

import (
	"errors"
	"testing"
)

func TestLoadBoundarySuspendsAndResumesOverrides(t *testing.T) {
	table := NewTable()
	table.Define("foo", callable("base"))

	var observed any
	loader := NewMapLoader(map[string]map[string]Callable{
		"unit.a": {"defined": callable("fresh")},
	})
	loader.Publish = table.Define

	env := New(WithTable(table), WithLoader(loader))
	defer env.Close()

	if _, err := env.Override("owner-a", "foo", callable("f1")); err != nil {
		t.Fatalf("override: %v", err)
	}

	// The unit observes the un-overridden binding.
	loader.AddInterceptor(probeInterceptor{during: func() {
		observed, _ = table.Call("foo")
	}})
	if err := env.Load("unit.a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if observed != "base" {
		t.Fatalf("unit should observe pre-override binding, saw %v", observed)
	}

	if got := callResult(t, env, "foo"); got != "f1" {
		t.Fatalf("expected override restored after load, got %v", got)
	}
	if got := callResult(t, env, "defined"); got != "fresh" {
		t.Fatalf("expected loaded definition published, got %v", got)
	}
}

// probeInterceptor runs after the guard's pre-load hook, so it sees the table
// the way the loaded unit does.
type probeInterceptor struct {
	during func()
}

func (p probeInterceptor) BeforeLoad(string) {
	if p.during != nil {
		p.during()
	}
}

func (p probeInterceptor) AfterLoad(string, error) {}

func TestLoadBoundaryObservesPristineBindings(t *testing.T) {
	table := NewTable()
	table.Define("foo", callable("base"))

	loader := NewMapLoader(map[string]map[string]Callable{"unit.a": {}})
	env := New(WithTable(table), WithLoader(loader))
	defer env.Close()

	if _, err := env.Override("owner-a", "foo", callable("f1")); err != nil {
		t.Fatalf("override: %v", err)
	}

	var seen any
	loader.AddInterceptor(probeInterceptor{during: func() {
		seen, _ = table.Call("foo")
	}})
	if err := env.Load("unit.a"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if seen != "base" {
		t.Fatalf("unit should observe pre-override binding, saw %v", seen)
	}
	if got := callResult(t, env, "foo"); got != "f1" {
		t.Fatalf("override must return after the boundary, got %v", got)
	}
}

func TestLoadFailureStillRestoresOverrides(t *testing.T) {
	table := NewTable()
	table.Define("foo", callable("base"))

	boom := errors.New("bad unit")
	loader := NewMapLoader(map[string]map[string]Callable{"unit.bad": {}})
	loader.Fail = map[string]error{"unit.bad": boom}

	env := New(WithTable(table), WithLoader(loader))
	defer env.Close()

	if _, err := env.Override("owner-a", "foo", callable("f1")); err != nil {
		t.Fatalf("override: %v", err)
	}
	before := tableState(t, table, "foo")

	if err := env.Load("unit.bad"); !errors.Is(err, boom) {
		t.Fatalf("expected load failure surfaced, got %v", err)
	}
	assertSameState(t, table, before)
	if got := callResult(t, env, "foo"); got != "f1" {
		t.Fatalf("override must never remain undone after a failed load, got %v", got)
	}
}

func TestNestedLoadsKeepPushPopSymmetry(t *testing.T) {
	table := NewTable()
	table.Define("foo", callable("base"))

	loader := NewMapLoader(map[string]map[string]Callable{
		"unit.outer": {},
		"unit.inner": {},
	})
	env := New(WithTable(table), WithLoader(loader))
	defer env.Close()

	if _, err := env.Override("owner-a", "foo", callable("f1")); err != nil {
		t.Fatalf("override: %v", err)
	}

	// Drive a nested load from inside the outer cycle; interception is
	// suspended for the inner cycle, but hook pairing must stay symmetric.
	var inner error
	triggered := false
	loader.AddInterceptor(probeInterceptor{during: func() {
		if triggered {
			return
		}
		triggered = true
		inner = loader.Load("unit.inner")
	}})
	if err := env.Load("unit.outer"); err != nil {
		t.Fatalf("outer load: %v", err)
	}
	if inner != nil {
		t.Fatalf("inner load: %v", inner)
	}
	if got := callResult(t, env, "foo"); got != "f1" {
		t.Fatalf("expected override restored after nested loads, got %v", got)
	}
	if len(env.guard.pending) != 0 {
		t.Fatalf("pending load contexts must be empty, got %d", len(env.guard.pending))
	}
	if env.guard.suspended {
		t.Fatalf("guard must resume interception after the cycle")
	}
}

func TestNoGuardWithoutLoader(t *testing.T) {
	env := New()
	defer env.Close()
	if err := env.Load("unit.a"); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("expected ErrNoLoader, got %v", err)
	}
}
