// Package limits tracks system-wide resource counters consulted by the
// process/thread and UNIX socket layers, using the same atomically
// updated "give/take" counter idiom the teacher uses throughout
// (biscuit/src/limits/limits.go).
package limits

import "sync/atomic"

/// Lhits counts the number of times a Sysatomic_t limit refused a Take.
var Lhits int32

/// Sysatomic_t is a numeric limit that can be atomically updated. Take
/// decrements toward zero and refuses once the counter would go
/// negative; Give reverses a prior Take.
type Sysatomic_t struct {
	v int64
}

/// Syslimit_t tracks system-wide resource limits for the subsystems in
/// scope here (process/thread/scheduler and UNIX sockets). The teacher's
/// struct additionally tracked vnode/futex/ARP/route/TCP-segment/block
/// counters that belong to the out-of-scope VFS and network stack; those
/// fields are dropped rather than carried as dead weight (see DESIGN.md).
type Syslimit_t struct {
	// Sysprocs bounds the number of live processes (spec.md §4.F PID
	// bitmap exhaustion panics; this is the softer pre-check consulted
	// by process creation before the bitmap is even touched).
	Sysprocs Sysatomic_t
	// Threads bounds the number of live threads system-wide.
	Threads Sysatomic_t
	// Socks bounds the number of live UNIX socket endpoints (spec.md
	// §4.H), mirroring the teacher's comment that "socks includes pipes
	// and all TCP connections in TIMEWAIT" — Hexahedron's in-scope
	// socket layer alone consumes this counter.
	Socks Sysatomic_t
	// Heappressure bounds the non-blocking admission budget consulted by
	// res.Resadd_noblock during long user-space copy loops (spec.md §9
	// design notes; SPEC_FULL.md §5).
	Heappressure Sysatomic_t
}

/// Syslimit holds the configured system-wide limits.
var Syslimit = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	l := &Syslimit_t{}
	l.Sysprocs.Given(1e4)
	l.Threads.Given(4e4)
	l.Socks.Given(1e5)
	l.Heappressure.Given(1 << 26) // 64MB of outstanding copy pressure
	return l
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(&s.v, int64(n))
}

/// Taken tries to decrement the limit by n. It returns true on success
/// and leaves the counter unchanged on failure.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(&s.v, -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(&s.v, int64(n))
	atomic.AddInt32(&Lhits, 1)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

/// Value returns the current value of the counter.
func (s *Sysatomic_t) Value() int64 {
	return atomic.LoadInt64(&s.v)
}
