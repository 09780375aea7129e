package rebind

import (
	"errors"
	"testing"
)

func TestOverrideThenRemoveRestoresExactly(t *testing.T) {
	table := NewTable()
	table.Define("greet", callable("original"))
	table.SetValue("greet", 7)

	env := New(WithTable(table))
	defer env.Close()

	before := tableState(t, table, "greet")
	if _, err := env.Override("owner-a", "greet", callable("patched")); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := env.Remove("owner-a", "greet"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertSameState(t, table, before)
	if got := callResult(t, env, "greet"); got != "original" {
		t.Fatalf("expected original, got %v", got)
	}
	if owned := env.Owned("owner-a"); len(owned) != 0 {
		t.Fatalf("ledger entry should be gone, got %v", owned)
	}
}

func TestRemoveShadowedNameReportsConflict(t *testing.T) {
	env := New()
	defer env.Close()
	env.Table().Define("bar", callable("base"))

	if _, err := env.Override("owner-a", "bar", callable("from-a")); err != nil {
		t.Fatalf("override a: %v", err)
	}
	if _, err := env.Override("owner-b", "bar", callable("from-b")); err != nil {
		t.Fatalf("override b: %v", err)
	}

	err := env.Remove("owner-a", "bar")
	if !errors.Is(err, ErrShadowConflict) {
		t.Fatalf("expected shadow conflict, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if conflict.Owner != "owner-a" || conflict.Name != "bar" {
		t.Fatalf("unexpected conflict metadata: %+v", conflict)
	}
	// The conflict leaves B's override untouched.
	if got := callResult(t, env, "bar"); got != "from-b" {
		t.Fatalf("expected B's binding to survive, got %v", got)
	}
	// B can still unwind, then A.
	if err := env.Remove("owner-b", "bar"); err != nil {
		t.Fatalf("remove b: %v", err)
	}
	if err := env.Remove("owner-a", "bar"); err != nil {
		t.Fatalf("remove a after shadow cleared: %v", err)
	}
	if got := callResult(t, env, "bar"); got != "base" {
		t.Fatalf("expected base restored, got %v", got)
	}
}

func TestRemoveAllIsIdempotent(t *testing.T) {
	env := New()
	defer env.Close()

	decls := map[string]Callable{
		"alpha": callable(1),
		"beta":  callable(2),
	}
	for name, fn := range decls {
		if _, err := env.Override("owner-a", name, fn); err != nil {
			t.Fatalf("override %q: %v", name, err)
		}
	}

	if err := env.RemoveAll("owner-a"); err != nil {
		t.Fatalf("first removeAll: %v", err)
	}
	state := tableState(t, env.Table(), "alpha", "beta")

	err := env.RemoveAll("owner-a")
	if !errors.Is(err, ErrUnknownRemoval) {
		t.Fatalf("second removeAll should report unknown targets, got %v", err)
	}
	assertSameState(t, env.Table(), state)
}

func TestRemoveUnknownTargetFailsOnlyThatName(t *testing.T) {
	env := New()
	defer env.Close()

	if _, err := env.Override("owner-a", "known", callable("x")); err != nil {
		t.Fatalf("override: %v", err)
	}
	err := env.Undeclare("owner-a", "never-installed", "known")
	if !errors.Is(err, ErrUnknownRemoval) {
		t.Fatalf("expected unknown-removal report, got %v", err)
	}
	// The known name was still removed despite the earlier failure.
	if owned := env.Owned("owner-a"); len(owned) != 0 {
		t.Fatalf("expected batch to continue past failure, still own %v", owned)
	}
}

func TestMidScopeRemovalOfOuterOverrideRevertsOnExit(t *testing.T) {
	env := New()
	defer env.Close()
	env.Table().Define("foo", callable("base"))

	if _, err := env.Override("owner-a", "foo", callable("outer")); err != nil {
		t.Fatalf("outer override: %v", err)
	}
	if _, err := env.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// Unimport the inherited override mid-scope: the true original comes back.
	if err := env.Remove("owner-a", "foo"); err != nil {
		t.Fatalf("mid-scope remove: %v", err)
	}
	if got := callResult(t, env, "foo"); got != "base" {
		t.Fatalf("expected true original mid-scope, got %v", got)
	}

	// Pass two of scope-exit reconciliation revives the outer override.
	if err := env.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := callResult(t, env, "foo"); got != "outer" {
		t.Fatalf("expected outer override revived on exit, got %v", got)
	}
}

func TestOverrideTwiceInSameFramePreservesUndo(t *testing.T) {
	table := NewTable()
	table.Define("foo", callable("base"))
	env := New(WithTable(table))
	defer env.Close()

	if _, err := env.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := env.Override("owner-a", "foo", callable("first")); err != nil {
		t.Fatalf("first override: %v", err)
	}
	if _, err := env.Override("owner-a", "foo", callable("second")); err != nil {
		t.Fatalf("second override: %v", err)
	}
	if err := env.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := callResult(t, env, "foo"); got != "base" {
		t.Fatalf("expected single-step unwind to base, got %v", got)
	}
}

func TestOverrideAroundDelegatesToPrevious(t *testing.T) {
	env := New()
	defer env.Close()
	env.Table().Define("render", func(args ...any) (any, error) {
		return "base", nil
	})

	if _, err := env.OverrideAround("owner-a", "render", func(next Callable, args ...any) (any, error) {
		prev, err := next(args...)
		if err != nil {
			return nil, err
		}
		return "wrapped(" + prev.(string) + ")", nil
	}); err != nil {
		t.Fatalf("override around: %v", err)
	}

	if got := callResult(t, env, "render"); got != "wrapped(base)" {
		t.Fatalf("expected delegation to previous implementation, got %v", got)
	}

	chain := env.ChainFor("render")
	if len(chain) != 1 {
		t.Fatalf("expected one handler on the chain, got %d", len(chain))
	}
	if chain[0].Owner != "owner-a" {
		t.Fatalf("expected chain to record owner, got %q", chain[0].Owner)
	}
}

func TestChainForReflectsStackedOverrides(t *testing.T) {
	env := New()
	defer env.Close()

	if _, err := env.Override("owner-a", "foo", callable("a")); err != nil {
		t.Fatalf("override a: %v", err)
	}
	if _, err := env.Enter(); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := env.Override("owner-b", "foo", callable("b")); err != nil {
		t.Fatalf("override b: %v", err)
	}

	chain := env.ChainFor("foo")
	if len(chain) != 2 {
		t.Fatalf("expected two handlers, got %d", len(chain))
	}
	if chain[0].Owner != "owner-b" || chain[1].Owner != "owner-a" {
		t.Fatalf("expected newest-first chain, got %q then %q", chain[0].Owner, chain[1].Owner)
	}

	if err := env.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	chain = env.ChainFor("foo")
	if len(chain) != 1 || chain[0].Owner != "owner-a" {
		t.Fatalf("expected chain to unwind with the scope, got %d handlers", len(chain))
	}
}
