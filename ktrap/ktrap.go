// Package ktrap implements the kernel's last line of defense: a recover
// wrapper installed at the top of every syscall-dispatch-like entry
// point (spec.md §7(a), "panics inside dispatch are logged with
// register dump and traceback, CPU halted"). It is new in Hexahedron —
// the teacher relies on the forked runtime's own trap handler to print
// registers and halt on an unrecovered panic — but keeps that idiom:
// fatal, not retried, not converted into an error return.
package ktrap

import (
	"fmt"
	"os"

	"hexahedron/klog"
)

// HaltFunc is invoked after a fatal panic has been logged. Production
// wiring sets this to the real "stop this CPU" primitive; tests leave it
// at the default, which simply returns, letting the caller's goroutine
// unwind instead of the process dying, so test failures show up as test
// failures.
var HaltFunc = func() {}

// Regs is a minimal snapshot of the call's logical register state for
// diagnostic output. A real arch backend would populate this from the
// trapframe; Hexahedron's portable dispatch code fills in what it has
// (the recovered panic value and a name for the entry point) since it
// never sees raw CPU registers.
type Regs struct {
	Entry string
	Tid   int
	Panic interface{}
}

func (r Regs) String() string {
	return fmt.Sprintf("entry=%s tid=%d panic=%v", r.Entry, r.Tid, r.Panic)
}

// Fatal, deferred by a dispatch function, recovers that function's panic,
// logs a register dump and traceback and then halts, mirroring the teacher's unrecovered-panic behavior at
// the syscall-dispatch boundary. entry names the dispatch site for the
// log (e.g. "sys_write", "unet.sendmsg"); tid identifies the thread.
//
// Fatal must be called as the outermost deferred call in a dispatch
// function:
//
//	func Sys_foo(tid int) (ret int) {
//	    defer ktrap.Fatal("sys_foo", tid)
//	    ...
//	}
func Fatal(entry string, tid int) {
	if r := recover(); r != nil {
		regs := Regs{Entry: entry, Tid: tid, Panic: r}
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", regs)
		klog.Callerdump(2)
		HaltFunc()
	}
}

// FatalFunc runs fn, recovering any panic with the same register-dump-
// and-halt sequence as Fatal, and reports whether fn panicked. Useful
// where the caller wants a boolean result rather than a deferred guard.
func FatalFunc(entry string, tid int, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			regs := Regs{Entry: entry, Tid: tid, Panic: r}
			fmt.Fprintf(os.Stderr, "FATAL: %s\n", regs)
			klog.Callerdump(2)
			HaltFunc()
			panicked = true
		}
	}()
	fn()
	return false
}
