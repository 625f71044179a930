// Package signal implements the kernel's signal-delivery machinery:
// component H of spec.md, a per-thread pending/blocked mask and a
// per-process action table, dispatched against defs.SigDefaultAction
// when no handler is installed. Ground truth: tinfo.Tnote_t's existing
// kill-negotiation fields (Killed/Isdoomed/Killnaps) are the teacher's
// only shipped approximation of signal delivery against a sleeping
// thread; this package generalizes that single-purpose kill channel
// into the full per-signal pending/blocked/action model spec.md §4.G
// describes, in the same style (small mutex-guarded struct, explicit
// done/notify channel rather than a condition variable).
//
// signal is a leaf package: it does not import hexahedron/proc, so that
// proc can import signal without a cycle. Process-wide effects a
// delivered signal needs (terminating every thread, stopping or
// continuing the process) are expressed through the Hooks interface,
// the same dependency-injection shape hexahedron/fdops and
// hexahedron/archops already use to keep this module's packages
// acyclic.
package signal

import (
	"sync"

	"hexahedron/defs"
)

// Sigset_t is a bitmask over signal numbers 1..NSIG-1, per spec.md §3's
// "Signal set: bitmask over signal numbers."
type Sigset_t uint32

func bit(sig int) Sigset_t { return 1 << uint(sig) }

// Add returns s with sig added.
func (s Sigset_t) Add(sig int) Sigset_t { return s | bit(sig) }

// Del returns s with sig removed.
func (s Sigset_t) Del(sig int) Sigset_t { return s &^ bit(sig) }

// Has reports whether sig is a member of s.
func (s Sigset_t) Has(sig int) bool { return s&bit(sig) != 0 }

// Empty reports whether s has no members.
func (s Sigset_t) Empty() bool { return s == 0 }

// Deliverable returns the lowest-numbered signal present in s but not
// masked by blocked, and whether one was found. SIGKILL and SIGSTOP are
// never masked, matching spec.md §4.G: "SIGKILL and SIGSTOP cannot be
// blocked, caught, or ignored."
func (s Sigset_t) Deliverable(blocked Sigset_t) (int, bool) {
	live := s &^ (blocked &^ bit(defs.SIGKILL) &^ bit(defs.SIGSTOP))
	if live == 0 {
		return 0, false
	}
	for sig := 1; sig < defs.NSIG; sig++ {
		if live.Has(sig) {
			return sig, true
		}
	}
	return 0, false
}

// Disposition is the process-wide handling choice for one signal,
// spec.md §3's "Signal action: per-signal disposition (default, ignore,
// or handler function pointer) plus flags."
type Disposition int

const (
	SIGACT_DEFAULT Disposition = iota
	SIGACT_IGNORE
	SIGACT_HANDLE
)

// Flag bits on an Action, per spec.md §4.G.
type Flag uint32

const (
	SA_RESETHAND Flag = 1 << iota // handler reverts to SIGACT_DEFAULT after one delivery
	SA_RESTART                    // interrupted slow syscalls are restarted, not EINTR'd
	SA_NODEFER                    // sig is not added to its own handler's blocked set
)

// Action is one entry of a process's actions[NSIG] table.
type Action struct {
	Disp    Disposition
	Handler uintptr // userspace handler address, meaningful iff Disp == SIGACT_HANDLE
	Mask    Sigset_t // signals blocked for the duration of the handler
	Flags   Flag
}

// Actions is the per-process signal action table, indexed by signal
// number (index 0 unused).
type Actions struct {
	sync.Mutex
	tbl [defs.NSIG]Action
}

// NewActions returns a table with every signal at its default
// disposition, the state a freshly execed process starts in.
func NewActions() *Actions {
	return &Actions{}
}

// Get returns the current Action for sig.
func (a *Actions) Get(sig int) Action {
	a.Lock()
	defer a.Unlock()
	return a.tbl[sig]
}

// Set installs act as the disposition for sig, per the sigaction(2)
// contract: SIGKILL/SIGSTOP's disposition cannot be changed.
func (a *Actions) Set(sig int, act Action) defs.Err_t {
	if !defs.ValidSignal(sig) {
		return -defs.EINVAL
	}
	if sig == defs.SIGKILL || sig == defs.SIGSTOP {
		return -defs.EINVAL
	}
	a.Lock()
	a.tbl[sig] = act
	a.Unlock()
	return 0
}

// Clone returns a new Actions table with the same per-signal
// dispositions as a, the fork(2) inheritance path ("handlers are
// inherited across fork; only exec resets them").
func (a *Actions) Clone() *Actions {
	n := NewActions()
	a.Lock()
	n.tbl = a.tbl
	a.Unlock()
	return n
}

// ResetOnExec reverts every caught handler to SIGACT_DEFAULT, clearing
// Handler/Flags/Mask, matching execve(2)'s "handled signals are reset to
// default, ignored signals stay ignored" rule.
func (a *Actions) ResetOnExec() {
	a.Lock()
	for sig := 1; sig < defs.NSIG; sig++ {
		if a.tbl[sig].Disp == SIGACT_HANDLE {
			a.tbl[sig] = Action{}
		}
	}
	a.Unlock()
}

// ThreadState is the per-thread signal state spec.md §4.G names:
// pending, blocked, and a siglock serializing updates from other
// threads sending it a signal. Ground truth: tinfo.Tnote_t's
// mutex-guarded Killed/Isdoomed/Killnaps, generalized from a single
// kill bit to a full pending set plus a wake notification.
type ThreadState struct {
	mu      sync.Mutex
	pending Sigset_t
	blocked Sigset_t
	// wake, if non-nil, is signaled with the delivered signal number
	// whenever Send adds a deliverable signal to a sleeping thread's
	// pending set — the generalization of tinfo.Tnote_t.Killnaps.Killch
	// from "wake on kill" to "wake on any deliverable signal".
	wake Waker
}

// Waker is implemented by whatever blocking primitive parked the
// thread (sched.ThreadWaker, obtained from WaitQueue.Waker, satisfies it
// by calling WakeThread). Send calls
// Signal to cancel the wait the same way lock.Waiter.Signal cancels a
// Sleepq wait.
type Waker interface {
	Signal()
}

// SetWaker records the primitive the thread is currently blocked on, so
// a concurrent Send can cancel the wait. Callers clear it (SetWaker(nil))
// once they stop blocking.
func (ts *ThreadState) SetWaker(w Waker) {
	ts.mu.Lock()
	ts.wake = w
	ts.mu.Unlock()
}

// Block returns ts's current blocked mask.
func (ts *ThreadState) Block() Sigset_t {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.blocked
}

// SetBlocked installs mask as the thread's blocked set, per
// sigprocmask(2). SIGKILL/SIGSTOP are always force-cleared: they can
// never be blocked.
func (ts *ThreadState) SetBlocked(mask Sigset_t) {
	ts.mu.Lock()
	ts.blocked = mask.Del(defs.SIGKILL).Del(defs.SIGSTOP)
	ts.mu.Unlock()
}

// Pending returns the thread's currently pending set.
func (ts *ThreadState) Pending() Sigset_t {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.pending
}

// Deliverable reports the next signal Handle would act on, if any.
func (ts *ThreadState) Deliverable() (int, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.pending.Deliverable(ts.blocked)
}

// Send marks sig pending on ts and, if the signal is not currently
// blocked, cancels any in-progress wait so the target thread observes
// it promptly — spec.md §4.G: "delivering a signal to a sleeping thread
// wakes it."
func (ts *ThreadState) Send(sig int) {
	ts.mu.Lock()
	ts.pending = ts.pending.Add(sig)
	deliverable := !ts.blocked.Has(sig) || sig == defs.SIGKILL || sig == defs.SIGSTOP
	w := ts.wake
	ts.mu.Unlock()
	if deliverable && w != nil {
		w.Signal()
	}
}

// clear removes sig from the pending set, called once Handle has acted
// on it.
func (ts *ThreadState) clear(sig int) {
	ts.mu.Lock()
	ts.pending = ts.pending.Del(sig)
	ts.mu.Unlock()
}

// Hooks lets Handle trigger process-wide effects (terminate every
// thread, stop/continue the process group) without signal importing
// proc, the same pattern fdops.Fdops_i and archops.Ops already use to
// keep their collaborators out of this package's import graph.
type Hooks interface {
	// Exit tears the process down with the given waitpid wstatus
	// encoding (defs.ExitSignaled/ExitNormal).
	Exit(wstatus int)
	// StopAll suspends every thread in the process (SIGSTOP/SIGTSTP/
	// SIGTTIN/SIGTTOU's default action).
	StopAll()
	// ContinueAll resumes a stopped process (SIGCONT's default action).
	ContinueAll()
}

// Delivery describes the effect Handle decided for the signal it
// processed, for the caller (the thread about to return to user mode,
// or the scheduler dispatch loop) to act on.
type Delivery struct {
	Sig     int
	Invoke  bool   // true: call Handler at Addr with Mask blocked
	Addr    uintptr
	Mask    Sigset_t
	Oneshot bool // true: Handle has already reset the action to SIGACT_DEFAULT (SA_RESETHAND)
}

// Handle examines ts's pending set against actions and acts on the
// first deliverable signal: default dispositions are applied directly
// through hooks, SIGACT_IGNORE is dropped silently, and SIGACT_HANDLE
// is reported back as a Delivery for the caller to arrange the
// userspace upcall through. It returns (nil, 0) when nothing is
// deliverable.
func Handle(actions *Actions, ts *ThreadState, hooks Hooks) (*Delivery, defs.Err_t) {
	sig, ok := ts.Deliverable()
	if !ok {
		return nil, 0
	}
	act := actions.Get(sig)
	switch act.Disp {
	case SIGACT_IGNORE:
		ts.clear(sig)
		return nil, 0
	case SIGACT_HANDLE:
		ts.clear(sig)
		mask := act.Mask
		if act.Flags&SA_NODEFER == 0 {
			mask = mask.Add(sig)
		}
		d := &Delivery{
			Sig:     sig,
			Invoke:  true,
			Addr:    act.Handler,
			Mask:    mask,
			Oneshot: act.Flags&SA_RESETHAND != 0,
		}
		if d.Oneshot {
			actions.Set(sig, Action{})
		}
		return d, 0
	default: // SIGACT_DEFAULT
		ts.clear(sig)
		applyDefault(sig, hooks)
		return nil, 0
	}
}

// applyDefault carries out the POSIX default action for sig via hooks.
func applyDefault(sig int, hooks Hooks) {
	switch defs.SigDefaultAction(sig) {
	case defs.SIGRET_IGNORE:
		// no-op (SIGCHLD's default)
	case defs.SIGRET_TERM:
		hooks.Exit(defs.ExitSignaled(sig))
	case defs.SIGRET_TERMCORE:
		hooks.Exit(defs.ExitSignaled(sig))
	case defs.SIGRET_STOP:
		hooks.StopAll()
	case defs.SIGRET_CONT:
		hooks.ContinueAll()
	}
}
