// Package tinfo tracks per-thread kernel state: liveness, kill
// negotiation, and the doomed flag consulted by the scheduler before
// resuming a thread slated for destruction. Ground truth:
// biscuit/src/tinfo/tinfo.go.
//
// The teacher binds the current Tnote_t to the executing OS thread (M)
// through a field the forked runtime reserves for exactly this purpose
// (runtime.Gptr/Setgptr). Stock Go has no such per-M slot and no
// supported way to fake one safely, so Hexahedron carries the same
// "current thread's note, bound and cleared around a dispatch" shape but
// threads it explicitly via context.Context instead of ambient
// runtime-private storage — the idiomatic Go substitute for
// goroutine-local state (see DESIGN.md).
package tinfo

import (
	"context"
	"sync"

	"hexahedron/defs"
)

// Tnote_t stores per-thread state consulted by the scheduler and by
// signal delivery.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type ctxKey struct{}

// WithCurrent returns a context carrying note as the dispatch's current
// thread, for the duration of one scheduler quantum. It is the
// replacement for the teacher's SetCurrent/ClearCurrent pair: instead of
// mutating ambient per-M state, the scheduler hangs the note off the
// context it already threads through every dispatch call.
func WithCurrent(ctx context.Context, note *Tnote_t) context.Context {
	if note == nil {
		panic("nuts")
	}
	return context.WithValue(ctx, ctxKey{}, note)
}

// Current returns the thread note bound to ctx by WithCurrent. It panics
// if none was bound, matching the teacher's "nuts" invariant panic.
func Current(ctx context.Context) *Tnote_t {
	v := ctx.Value(ctxKey{})
	if v == nil {
		panic("nuts")
	}
	return v.(*Tnote_t)
}
