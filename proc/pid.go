package proc

import (
	"sync"

	"hexahedron/defs"
)

// pidBitmap is the system-wide PID bitmap, per spec.md §4.F: "PID
// allocation: a bitmap or free list assigning small dense-ish
// identifiers; process creation scans for the lowest free id; process
// reaping frees it." Ground truth: no teacher source for this
// component ships (proc's go.mod is a placeholder); built directly from
// spec.md's contract in the same "small mutex-guarded map" idiom
// tinfo.Threadinfo_t already uses for per-thread state.
type pidBitmap struct {
	mu   sync.Mutex
	used map[defs.Pid_t]bool
}

var pids = &pidBitmap{used: make(map[defs.Pid_t]bool)}

// alloc returns the lowest free PID, scanning upward from 1 (PID 0 is
// never handed out) to the exhaustion ceiling.
// Per spec.md §4.F, exhausting the PID space is a fatal condition (there
// is no recovery path for a kernel that cannot name a new process), so
// it panics rather than returning an error — the same "no recovery path"
// reasoning documented for mem.AllocatePage's OOM handling.
func (b *pidBitmap) alloc() defs.Pid_t {
	b.mu.Lock()
	defer b.mu.Unlock()
	const ceiling = 1 << 22
	for cand := defs.Pid_t(1); cand < ceiling; cand++ {
		if !b.used[cand] {
			b.used[cand] = true
			return cand
		}
	}
	panic("proc: pid space exhausted")
}

// free returns pid to the pool, the counterpart to alloc called once a
// process has been fully reaped.
func (b *pidBitmap) free(pid defs.Pid_t) {
	b.mu.Lock()
	delete(b.used, pid)
	b.mu.Unlock()
}
