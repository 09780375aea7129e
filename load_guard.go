package rebind

// loadGuard suspends and resumes every active override around a unit load so
// a separately loaded compilation unit neither observes overrides nor has its
// definitions corrupted by them. It is registered against the loader once per
// top-level activation and removed at teardown.
type loadGuard struct {
	env       *Env
	pending   []*Frame
	suspended bool
	skipped   int
	installed bool
}

func newLoadGuard(env *Env) *loadGuard {
	return &loadGuard{env: env}
}

// BeforeLoad restores every name in the active frame to its undo snapshot,
// pushes the frame onto the pending-context stack, and suspends further
// self-interception so nested loads inside the delegate do not re-trigger a
// cycle against already-pristine bindings.
func (g *loadGuard) BeforeLoad(unit string) {
	if g.suspended {
		g.skipped++
		return
	}
	frame := g.env.currentFrame()
	if frame == nil {
		frame = cloneFrame(nil, false)
	}
	for _, name := range frame.Names() {
		record := frame.records[name]
		before := g.env.table.Capture(name)
		g.env.table.Restore(name, record.Undo)
		g.env.tracer.transition(Transition{
			Kind:   TransitionDiscard,
			Name:   name,
			Before: before,
			After:  record.Undo,
			Unit:   unit,
			Depth:  g.env.depth,
		})
	}
	g.pending = append(g.pending, frame)
	g.suspended = true
}

// AfterLoad pops the saved frame and reinstalls every redo snapshot, then
// resumes interception. The loader fires it unconditionally, so overrides are
// never left undone after a failed load.
func (g *loadGuard) AfterLoad(unit string, _ error) {
	if g.skipped > 0 {
		g.skipped--
		return
	}
	if len(g.pending) == 0 {
		return
	}
	frame := g.pending[len(g.pending)-1]
	g.pending = g.pending[:len(g.pending)-1]

	for _, name := range frame.Names() {
		record := frame.records[name]
		before := g.env.table.Capture(name)
		g.env.table.Restore(name, record.Redo)
		g.env.tracer.transition(Transition{
			Kind:   TransitionRestore,
			Name:   name,
			Before: before,
			After:  record.Redo,
			Unit:   unit,
			Depth:  g.env.depth,
		})
	}
	g.suspended = false
}

// Load delegates a unit load to the configured collaborator; the guard fires
// through the loader's interceptor hooks.
func (e *Env) Load(unit string) error {
	if e.closed {
		return ErrEnvClosed
	}
	if e.loader == nil {
		return ErrNoLoader
	}
	return e.loader.Load(unit)
}

func (e *Env) installGuard() {
	if e.loader == nil || e.guard.installed {
		return
	}
	e.loader.AddInterceptor(e.guard)
	e.guard.installed = true
}

func (e *Env) removeGuard() {
	if e.loader == nil || !e.guard.installed {
		return
	}
	e.loader.RemoveInterceptor(e.guard)
	e.guard.installed = false
}
