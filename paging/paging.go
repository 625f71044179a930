// Package paging implements the four-level page-table walker: component
// C of spec.md. It translates virtual addresses to physical frames,
// installs and tears down page-table entries, and provides the
// temporary-window primitives (remap_phys/unmap_phys) the VAS layer uses
// to copy through CoW faults. Ground truth: PTE layout and constants
// from biscuit/src/mem/mem.go (kept, renamed into this package since the
// real x86_64 walker is the paging layer's job per spec.md §4.C, not the
// PFA's); the page-table tree itself is new, since the teacher's walker
// lives in the forked runtime/assembly, outside anything retrieved.
//
// Unlike real hardware, nothing here executes a CPU table walk: Root is
// an in-process four-level radix tree of mem.Pmap_t pages, each
// addressed the same way mem.PFA.Dmap addresses any other frame. This
// keeps the component testable while preserving the exact contract
// spec.md §4.C names (get_page/allocate_page/free_page/remap_phys/
// unmap_phys/clone) and the PTE flag vocabulary the rest of the module
// already shares through the mem package.
package paging

import (
	"hexahedron/archops"
	"hexahedron/mem"
)

// PTE_COW marks a page table entry as copy-on-write: present, read-only,
// and backed by a frame that may be shared with another address space.
// Real x86_64 PTEs reserve several bits for OS use; Hexahedron borrows
// one of them the same way the teacher's (unretrieved) vm package must,
// judging by vm/as.go's reference to a PTE_COW constant it never
// defines in the shipped sources.
const PTE_COW mem.Pa_t = 1 << 9

// PTE_WASCOW marks a page table entry that used to be copy-on-write but
// was resolved to a private writable copy by a fault; the VAS layer uses
// it to tell "two threads raced on the same CoW fault" apart from "this
// mapping was never CoW to begin with." Same spare-bit provenance as
// PTE_COW.
const PTE_WASCOW mem.Pa_t = 1 << 10

// Flags requested of allocate_page, per spec.md §4.C.
type Flags uint

const (
	ReadOnly Flags = 1 << iota
	NoExecute
	Kernel
	NotPresent
	NoAlloc
	Create // get_page may create missing intermediate tables
)

// Root is a page-table root: a four-level radix tree of mem.Pmap_t
// pages allocated from the PFA.
type Root struct {
	P_pmap mem.Pa_t
}

// NewRoot allocates a fresh, empty top-level page table.
func NewRoot() *Root {
	_, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		panic("OUT_OF_MEMORY")
	}
	return &Root{P_pmap: pa}
}

func pmapOf(pa mem.Pa_t) *mem.Pmap_t {
	pg := mem.Physmem.Dmap(pa)
	return (*mem.Pmap_t)(pgAsPmap(pg))
}

func pgAsPmap(pg *mem.Pg_t) *[512]mem.Pa_t {
	// mem.Pmap_t is defined as [512]Pa_t, word-sized the same as Pg_t;
	// Dmap already hands back a page-sized, page-aligned pointer, so a
	// direct reinterpretation is exactly what mem.Pg2bytes/Bytepg2pg do
	// for the byte view.
	return (*[512]mem.Pa_t)(AsPointer(pg))
}

func bits(va uintptr) (l4, l3, l2, l1, off int) {
	l4 = int((va >> 39) & 0x1ff)
	l3 = int((va >> 30) & 0x1ff)
	l2 = int((va >> 21) & 0x1ff)
	l1 = int((va >> 12) & 0x1ff)
	off = int(va & 0xfff)
	return
}

// walk returns nil both when no mapping exists and create was false, and
// when create was requested but the PFA could not supply a fresh
// intermediate-table frame — the latter lets a caller resolving a user
// page fault surface -ENOMEM (spec.md §8 scenario 6) instead of the
// kernel panicking on an exhausted allocator mid-fault.
func (r *Root) walk(va uintptr, create bool) *mem.Pa_t {
	l4, l3, l2, l1, _ := bits(va)
	idxs := [3]int{l4, l3, l2}
	cur := r.P_pmap
	for _, idx := range idxs {
		t := pmapOf(cur)
		ent := &t[idx]
		if *ent&mem.PTE_P == 0 {
			if !create {
				return nil
			}
			_, npa, ok := mem.Physmem.Refpg_new()
			if !ok {
				return nil
			}
			*ent = npa | mem.PTE_P | mem.PTE_W | mem.PTE_U
		}
		cur = *ent & mem.PTE_ADDR
	}
	t := pmapOf(cur)
	return &t[l1]
}

// GetPage resolves the PTE backing va, creating missing intermediate
// tables when flags includes Create. It returns nil if no mapping
// exists and Create was not requested.
func (r *Root) GetPage(va uintptr, flags Flags) *mem.Pa_t {
	return r.walk(va, flags&Create != 0)
}

// AllocatePage ensures the PTE at va points at a frame. A PTE that is
// already present, or a missing one when NoAlloc is set, is returned
// unchanged; the requested protection bits are written only when a
// fresh frame is allocated.
func (r *Root) AllocatePage(va uintptr, flags Flags) *mem.Pa_t {
	pte := r.walk(va, true)
	if pte == nil {
		return nil
	}
	if *pte&mem.PTE_P != 0 {
		return pte
	}
	if flags&NoAlloc != 0 {
		return pte
	}
	_, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil
	}
	mem.Physmem.Retain(pa)
	*pte = pa | encodeProt(flags)
	return pte
}

func encodeProt(flags Flags) mem.Pa_t {
	e := mem.PTE_P
	if flags&Kernel == 0 {
		e |= mem.PTE_U
	}
	if flags&ReadOnly == 0 {
		e |= mem.PTE_W
	}
	if flags&NoExecute != 0 {
		e |= mem.PTE_NX
	}
	if flags&NotPresent != 0 {
		e &^= mem.PTE_P
	}
	return e
}

// FreePage releases the frame backing va via the PFA and clears the
// PTE. It is a no-op if the page was not present.
func (r *Root) FreePage(va uintptr) {
	pte := r.walk(va, false)
	if pte == nil || *pte&mem.PTE_P == 0 {
		return
	}
	pa := *pte & mem.PTE_ADDR
	*pte = 0
	mem.Physmem.Release(pa)
}

// RemapPhys obtains a temporary kernel-space window mapping size bytes
// of physical memory starting at phys, for use copying through a CoW
// fault or reading a DMA buffer. UnmapPhys tears the window back down.
// On a real direct-mapped kernel this is a pointer computation (spec.md
// §4.C); Hexahedron's simulated address space already direct-maps all of
// physical memory via mem.PFA.Dmap, so RemapPhys is just that
// translation exposed under the name spec.md's contract uses, and
// UnmapPhys is a deliberate no-op.
func RemapPhys(phys mem.Pa_t, size int) *mem.Pg_t {
	return mem.Physmem.Dmap(phys)
}

// UnmapPhys tears down a window obtained from RemapPhys. It is a no-op
// in this simulated module (see RemapPhys's doc).
func UnmapPhys(phys mem.Pa_t, size int) {}

// Clone produces a copy of the page-table tree rooted at r: every
// intermediate table gets a freshly allocated frame in the new tree,
// while leaf PTEs are copied verbatim, so both trees map the same data
// frames and those frames' PFA refcounts are left untouched (CoW
// sharing is the VAS's job, per spec.md §4.C — Clone only duplicates
// the table structure).
func (r *Root) Clone() *Root {
	nr := NewRoot()
	r.copyLevel(r.P_pmap, nr.P_pmap, 3)
	return nr
}

func (r *Root) copyLevel(src, dst mem.Pa_t, level int) {
	st := pmapOf(src)
	dt := pmapOf(dst)
	for i := 0; i < 512; i++ {
		e := st[i]
		if e&mem.PTE_P == 0 {
			continue
		}
		if level == 0 {
			dt[i] = e
			continue
		}
		_, npa, ok := mem.Physmem.Refpg_new()
		if !ok {
			panic("OUT_OF_MEMORY")
		}
		dt[i] = npa | (e &^ mem.PTE_ADDR)
		r.copyLevel(e&mem.PTE_ADDR, npa, level-1)
	}
}

// MarkLoaded records that localCPU has loaded r into its page-table
// base register, for Tlbshoot's broadcast-avoidance check. A caller
// dispatching a thread backed by r onto localCPU calls this once the
// switch takes effect.
func (r *Root) MarkLoaded(localCPU int) {
	mem.Physmem.MarkResident(r.P_pmap, localCPU)
}

// MarkUnloaded drops localCPU from r's resident-CPU set, once the CPU
// has switched away from r (or r's frames are being reclaimed).
func (r *Root) MarkUnloaded(localCPU int) {
	mem.Physmem.ClearResident(r.P_pmap, localCPU)
}

// Tlbshoot invalidates the pgcount pages starting at va, previously
// mapped through r and now stale, on every CPU that might have them
// cached. Ground truth: biscuit's vm/as.go Vm_t.Tlbshoot, whose fast
// path "detects that one CPU has the pmap loaded ... by a pmap ref
// count" and skips the broadcast; Hexahedron detects the same
// condition directly off r.P_pmap's resident-CPU mask (Physpg_t.Cpumask)
// instead, since this module's PFA already tracks refcounts and
// residency as two separate fields rather than overloading one.
//
// localCPU is the CPU performing the unmap. When the mask shows no
// other CPU holds r loaded, the broadcast IPI (Pml4freeze) — and the
// stall it imposes on every other core — is skipped entirely and only
// a local flush (Condflush) runs.
func (r *Root) Tlbshoot(ops archops.Ops, va uintptr, pgcount int, localCPU int) {
	if pgcount == 0 {
		return
	}
	mask := mem.Physmem.ResidentMask(r.P_pmap)
	onlyLocal := mask&^(uint32(1)<<uint(localCPU)) == 0
	if !onlyLocal {
		ops.Pml4freeze()
	}
	var gen int64
	ops.Condflush(&gen, uintptr(r.P_pmap), va, pgcount)
}

// Destroy frees every frame reachable from r's top three levels (the
// tables themselves), leaving the caller responsible for having already
// freed every leaf-level data page via FreePage.
func (r *Root) Destroy() {
	r.destroyLevel(r.P_pmap, 3)
}

func (r *Root) destroyLevel(pa mem.Pa_t, level int) {
	if level > 0 {
		t := pmapOf(pa)
		for i := 0; i < 512; i++ {
			if t[i]&mem.PTE_P != 0 {
				r.destroyLevel(t[i]&mem.PTE_ADDR, level-1)
			}
		}
	}
	mem.Physmem.FreePage(pa)
}
