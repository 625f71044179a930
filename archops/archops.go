// Package archops is the seam between portable kernel logic and the
// machine-specific primitives a real x86-64 port would supply through a
// customized runtime. The teacher (biscuit) forks the Go runtime itself
// and calls straight into it — runtime.Get_phys, runtime.CPUHint,
// runtime.Cpuid, runtime.Rcr4, runtime.Pml4freeze, runtime.Vtop,
// runtime.Condflush, runtime.MAXCPUS, runtime.Gptr/Setgptr — none of
// which exist in an unforked Go toolchain. Hexahedron keeps every one
// of those call sites but routes them through this interface instead,
// matching spec.md §1's "interrupt dispatch, context switch, and TLB
// shootdown are external collaborators, mocked or stubbed in tests."
//
// Ops is satisfied in production by a platform-specific implementation
// built against the real forked runtime (out of scope here); tests and
// this module's default wiring use Sim, an in-process simulation
// sufficient to exercise every caller's control flow.
package archops

// MaxCPUs bounds the per-CPU arrays the teacher sized with
// runtime.MAXCPUS.
const MaxCPUs = 32

// Ops is the machine-dependent collaborator every arch-sensitive package
// in this module (lock, slab, vas) calls through instead of
// reaching into the runtime directly.
type Ops interface {
	// CPUHint returns a hint for the calling CPU's index, used to pick a
	// per-CPU freelist/run-queue slot without an authoritative guarantee
	// (the teacher's runtime.CPUHint has the same relaxed contract).
	CPUHint() int

	// GetPhys allocates one physical page outside of the normal PFA path,
	// for runtime-internal bootstrap allocations (runtime.Get_phys).
	GetPhys() uintptr

	// Vtop translates a kernel virtual address to its backing physical
	// address, as the direct-mapped runtime does for its own page tables.
	Vtop(v uintptr) (uintptr, bool)

	// Cpuid executes the CPUID instruction for (leaf, subleaf) and
	// returns eax,ebx,ecx,edx.
	Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32)

	// Rcr4 reads the CR4 control register (used to check the PCID bit).
	Rcr4() uintptr

	// Pml4freeze broadcasts an IPI asking every other CPU to stop
	// consulting the top-level page table being recycled, then waits for
	// acknowledgement — the teacher's TLB-shootdown-adjacent primitive.
	Pml4freeze()

	// Condflush conditionally flushes a range of the TLB for an address
	// space if, and only if, the given physical page table root is the
	// one currently loaded by the calling CPU (runtime.Condflush).
	Condflush(refp *int64, pmap uintptr, startva uintptr, pgcount int) bool

	// Fxinit returns the initial FPU/SSE save-area image a fresh thread
	// starts from (runtime.Fxinit).
	Fxinit() [512]byte

	// IRQDisable disables interrupt delivery on the calling CPU and
	// returns whether interrupts were enabled beforehand, so the caller
	// can restore exactly that state with IRQRestore. This is the
	// primitive spec.md §4.A's Spinlock.acquire saves/restores around its
	// spin; the teacher's forked runtime inlines the equivalent cli/sti
	// pair directly at each lock site instead of naming it.
	IRQDisable() (wasEnabled bool)

	// IRQRestore re-enables interrupts on the calling CPU iff wasEnabled
	// is true.
	IRQRestore(wasEnabled bool)

	// Yield gives up the calling CPU to another runnable thread, the
	// backoff primitive Spinlock.Acquire calls into under contention.
	// gopher-os's own Spinlock names exactly this hook (a package-level
	// yieldFn, "TODO: replace with real yield function when
	// context-switching is implemented") without ever wiring it to
	// anything; Sim backs it with runtime.Gosched since this module's
	// threads are goroutines.
	Yield()
}

// Gptr/Setgptr, the teacher's per-M runtime-private pointer used to bind
// a *tinfo.Tnote_t to the executing thread, is deliberately not modeled
// here: stock Go has no per-M slot to stand in for it, and the natural
// substitute (a goroutine-keyed global map) is both unsafe without a
// true goroutine-id primitive and worse Go than just passing the value
// explicitly. tinfo.WithCurrent/Current carry it through
// context.Context instead (see tinfo package doc and DESIGN.md).

// Current holds the Ops implementation the running kernel binds at
// startup. Production code would set this to a real arch backend before
// any mem/vas/proc/sched package is touched; this module defaults it to
// Sim so the packages above compile and test without one.
var Current Ops = NewSim()
