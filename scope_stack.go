package rebind

import "sort"

// Frame is the set of overrides active in one lexical region, keyed by name.
// A frame starts life as a clone of the nearest active ancestor so untouched
// names reconcile to "no action" on exit, and names removed mid-scope are
// detectable by their absence. The tracer flag rides along under the same
// save/restore discipline.
type Frame struct {
	records      map[string]Record
	traceRestore bool
}

func cloneFrame(ancestor *Frame, tracerEnabled bool) *Frame {
	frame := &Frame{
		records:      make(map[string]Record),
		traceRestore: tracerEnabled,
	}
	if ancestor != nil {
		for name, record := range ancestor.records {
			frame.records[name] = record
		}
	}
	return frame
}

// Names returns the overridden names in the frame, sorted for deterministic
// reconciliation order.
func (f *Frame) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.records))
	for name := range f.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Record returns the override record for name.
func (f *Frame) Record(name string) (Record, bool) {
	if f == nil {
		return Record{}, false
	}
	record, ok := f.records[name]
	return record, ok
}

// Len returns the number of overridden names in the frame.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.records)
}

// Enter opens a nested lexical region: the new frame is a clone of the
// nearest active ancestor, and the reentrancy counter grows so the
// load-boundary guard is installed exactly once per top-level activation.
func (e *Env) Enter() (*Frame, error) {
	if e.closed {
		return nil, ErrEnvClosed
	}
	frame := cloneFrame(e.currentFrame(), e.tracer.Enabled())
	e.frames = append(e.frames, frame)
	e.depth++
	if e.depth == 1 {
		e.installGuard()
	}
	return frame, nil
}

// Leave closes the current lexical region and reconciles the symbol table
// against the enclosing frame. Leaving more often than entering is reported
// as ErrReentrancyUnderflow and clamped; it signals a bookkeeping mismatch in
// the caller, never a binding-correctness failure, so no state changes.
func (e *Env) Leave() error {
	if e.closed {
		return ErrEnvClosed
	}
	if len(e.frames) <= 1 {
		return ErrReentrancyUnderflow
	}
	frame := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	ancestor := e.currentFrame()

	e.reconcile(frame, ancestor)
	e.tracer.setEnabled(frame.traceRestore)

	e.depth--
	if e.depth == 0 {
		e.removeGuard()
	}
	return nil
}

// reconcile is the two-pass scope-exit walk. Pass one restores every name the
// departing frame still holds: untouched names match the ancestor and need no
// action, re-overridden names fall back to the ancestor's redo, and names the
// ancestor never overrode unwind to their true pre-override state. Pass two
// revives outer overrides that a mid-scope unimport deleted from the frame.
func (e *Env) reconcile(frame, ancestor *Frame) {
	for _, name := range frame.Names() {
		record := frame.records[name]
		if ancestor != nil {
			if outer, ok := ancestor.records[name]; ok {
				if sameCapture(record.Redo, outer.Redo) {
					continue
				}
				e.restore("", name, outer.Redo)
				continue
			}
		}
		e.restore("", name, record.Undo)
	}

	if ancestor == nil {
		return
	}
	for _, name := range ancestor.Names() {
		if _, ok := frame.records[name]; ok {
			continue
		}
		e.restore("", name, ancestor.records[name].Redo)
	}
}

// restore reinstalls snapshot for name and reports the transition.
func (e *Env) restore(owner, name string, snapshot Snapshot) {
	before := e.table.Capture(name)
	e.table.Restore(name, snapshot)
	e.tracer.transition(Transition{
		Kind:   TransitionRestore,
		Owner:  owner,
		Name:   name,
		Before: before,
		After:  snapshot,
		Depth:  e.depth,
	})
}

func (e *Env) currentFrame() *Frame {
	if len(e.frames) == 0 {
		return nil
	}
	return e.frames[len(e.frames)-1]
}
