// Package res implements non-blocking admission control for long
// user-space copy loops, so that a single oversized sendmsg/recvmsg or
// mmap-backed copy cannot monopolize kernel bookkeeping capacity. It is
// the collaborator referenced but not shipped by the teacher's
// vm/as.go (res.Resadd_noblock(bounds.Bounds(...))).
package res

import "hexahedron/limits"

// Resadd_noblock reserves n units of the heap-pressure budget without
// blocking. It returns false if the budget is currently exhausted, in
// which case the caller should surface -ENOHEAP (spec.md §9 design
// notes) rather than sleep — the per-iteration admission check exists
// precisely so a copy loop can bail out cheaply instead of stalling
// behind a lock.
func Resadd_noblock(n uint) bool {
	return limits.Syslimit.Heappressure.Taken(n)
}

// Resdel releases n units previously reserved by Resadd_noblock, once
// the unit of work they guarded has completed.
func Resdel(n uint) {
	limits.Syslimit.Heappressure.Given(n)
}
