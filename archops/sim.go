package archops

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Sim is a deterministic, goroutine-safe Ops implementation used by
// default and by every package's tests. It has no access to real
// physical memory or control registers; GetPhys hands out synthetic
// page-aligned addresses from a bump allocator, and Vtop/Cpuid/Rcr4
// return fixed, self-consistent values. It exists to let the portable
// logic in mem/vas/proc/sched run and be tested without a real machine
// underneath it, per spec.md §1's external-collaborator carve-out.
type Sim struct {
	mu       sync.Mutex
	nextPhys uintptr
}

// NewSim returns a fresh simulated arch backend.
func NewSim() *Sim {
	return &Sim{nextPhys: 1 << 20} // pretend the first MB is reserved
}

const simPageSize = 1 << 12

func (s *Sim) CPUHint() int {
	return int(atomic.AddUint64(&cpuRoundRobin, 1)) % MaxCPUs
}

var cpuRoundRobin uint64

func (s *Sim) GetPhys() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.nextPhys
	s.nextPhys += simPageSize
	return p
}

func (s *Sim) Vtop(v uintptr) (uintptr, bool) {
	if v == 0 {
		return 0, false
	}
	return v &^ (simPageSize - 1), true
}

func (s *Sim) Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	switch leaf {
	case 0x80000001:
		return 0, 0, 0, 1 << 26 // pretend 1GB pages supported
	case 0x1:
		return 0, 0, 0, 1 << 17 // pretend PSE supported
	default:
		return 0, 0, 0, 0
	}
}

func (s *Sim) Rcr4() uintptr {
	return 1 << 7 // PCID enabled
}

func (s *Sim) Pml4freeze() {}

func (s *Sim) Condflush(refp *int64, pmap uintptr, startva uintptr, pgcount int) bool {
	return true
}

func (s *Sim) Fxinit() [512]byte {
	var b [512]byte
	return b
}

// irqEnabled simulates a single global interrupt-enable flag. A real
// per-CPU implementation would track this per core; the simulation has
// no notion of "the calling CPU" (goroutines are not pinned to one), so
// it approximates with one flag shared across the process. This is
// sufficient to exercise Spinlock's save/restore control flow in tests,
// which is all the simulation is for.
var irqEnabled uint32 = 1

func (s *Sim) IRQDisable() bool {
	return atomic.SwapUint32(&irqEnabled, 0) == 1
}

func (s *Sim) IRQRestore(wasEnabled bool) {
	if wasEnabled {
		atomic.StoreUint32(&irqEnabled, 1)
	}
}

// Yield gives up the calling goroutine's timeslice, standing in for the
// thread-scheduler yield a real arch backend would issue.
func (s *Sim) Yield() {
	runtime.Gosched()
}
