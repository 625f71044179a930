// Package vas implements a process's virtual address space: component E
// of spec.md. It owns a page-table root, a sorted list of mapped
// regions, and the copy-on-write fault resolver that ties the two
// together, plus the user<->kernel copy helpers every syscall argument
// path runs through. Ground truth: biscuit/src/vm/as.go (Vm_t) and
// vm/userbuf.go, reworked onto hexahedron/paging's software page-table
// walker and hexahedron/mem's refcounted frames instead of the forked
// runtime's recursive-mapping tricks (pmap_walk and the rest of the
// direct-mapped bootstrap). TLB shootdown itself is kept: a fault that
// replaces an already-present PTE calls paging.Root.Tlbshoot, mirroring
// Vm_t.Tlbshoot's fast-path/broadcast split (see paging/paging.go).
package vas

import (
	"sync"
	"time"

	"hexahedron/archops"
	"hexahedron/bounds"
	"hexahedron/defs"
	"hexahedron/mem"
	"hexahedron/paging"
	"hexahedron/res"
	"hexahedron/ustr"
	"hexahedron/util"
)

// AS is a process address space. The mutex protects Vmregion and the
// page table together, per spec.md §4.E's "one lock covers the region
// list and the table it describes."
type AS struct {
	sync.Mutex
	Vmregion Vmregion
	Pgtbl    *paging.Root

	pgfltaken bool
}

// NewAS allocates an empty address space with a fresh page-table root.
func NewAS() *AS {
	return &AS{Pgtbl: paging.NewRoot()}
}

// Lock_pmap acquires the address-space lock and marks that a page fault
// may be in flight, so Lockassert_pmap can catch accidental unlocked
// table access.
func (as *AS) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address-space lock.
func (as *AS) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the caller does not hold the address-space
// lock.
func (as *AS) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vas: pmap lock must be held")
	}
}

// Reserve adds a private anonymous mapping covering [start, start+len).
// perms should only carry PTE_U/PTE_W; the fault handler installs COW
// and dirty/present bits as it resolves each page. perms == 0 reserves
// a guard range that always faults.
func (as *AS) Reserve(start, length int, perms mem.Pa_t) {
	as.addRegion(VAnon, start, length, perms)
}

// ReserveShared adds a shared anonymous mapping: pages are never marked
// copy-on-write across a fork, so writes in the parent are visible to
// the child and vice versa.
func (as *AS) ReserveShared(start, length int, perms mem.Pa_t) {
	as.addRegion(VShareAnon, start, length, perms)
}

func (as *AS) addRegion(mt Mtype, start, length int, perms mem.Pa_t) {
	if length <= 0 {
		panic("vas: bad region length")
	}
	if mem.Pa_t(start|length)&mem.PGOFFSET != 0 {
		panic("vas: start and length must be page aligned")
	}
	vi := &Vminfo{
		Mtype: mt,
		Pgn:   uintptr(start) >> mem.PGSHIFT,
		Pglen: util.Roundup(length, mem.PGSIZE) >> mem.PGSHIFT,
		Perms: perms,
	}
	as.Lock()
	as.Vmregion.insert(vi)
	as.Unlock()
}

// Fault resolves a page fault at faultva for the given hardware error
// code (PTE_U/PTE_W bits describing the access that trapped). It is the
// sole place copy-on-write is resolved: spec.md §4.E's "first touch or
// first write to a CoW page allocates or claims a private frame."
func (as *AS) Fault(faultva uintptr, ecode mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(faultva)
	if !ok {
		return -defs.EFAULT
	}
	return as.fault(vmi, faultva, ecode)
}

func (as *AS) fault(vmi *Vminfo, faultva uintptr, ecode mem.Pa_t) defs.Err_t {
	as.Lockassert_pmap()
	localCPU := archops.Current.CPUHint()
	as.Pgtbl.MarkLoaded(localCPU)
	isguard := vmi.Perms == 0
	iswrite := ecode&mem.PTE_W != 0
	writeok := vmi.Perms&mem.PTE_W != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if vmi.Mtype == VFile {
		// file-backed faults need a VFS to page data in from; out of
		// scope here (see package doc and DESIGN.md's fs_mmap decision).
		return -defs.EINVAL
	}

	pte := as.Pgtbl.GetPage(faultva, paging.Create)
	if pte == nil {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&paging.PTE_WASCOW != 0) || (!iswrite && *pte&mem.PTE_P != 0) {
		// another thread resolved this fault first; nothing to do.
		return 0
	}

	var srcPg *mem.Pg_t
	var pPg mem.Pa_t
	perms := mem.PTE_U | mem.PTE_P

	if iswrite {
		cow := *pte&paging.PTE_COW != 0
		if cow {
			phys := *pte & mem.PTE_ADDR
			if vmi.Mtype == VAnon && mem.Physmem.Refcnt(phys) == 1 && phys != mem.P_zeropg {
				// sole owner of this CoW frame: claim it in place.
				*pte = (*pte &^ paging.PTE_COW) | mem.PTE_W | paging.PTE_WASCOW
				return 0
			}
			srcPg = mem.Physmem.Dmap(phys)
		} else if *pte != 0 {
			panic("vas: nonzero pte on first write fault")
		} else {
			srcPg = mem.Zeropg
		}
		newpg, newpa, ok := mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*newpg = *srcPg
		mem.Physmem.Retain(newpa)
		pPg = newpa
		perms |= mem.PTE_W | paging.PTE_WASCOW
	} else {
		if *pte != 0 {
			panic("vas: nonzero pte on first read fault")
		}
		pPg = mem.P_zeropg
		mem.Physmem.Retain(pPg)
		if vmi.Perms&mem.PTE_W != 0 {
			perms |= paging.PTE_COW
		}
	}

	if *pte&mem.PTE_P != 0 {
		old := *pte & mem.PTE_ADDR
		mem.Physmem.Release(old)
		// faultva's translation just changed to a different frame; any
		// CPU that cached the old one (this thread's process may be
		// running on several) must drop it before old is handed out
		// again by the PFA.
		as.Pgtbl.Tlbshoot(archops.Current, faultva, 1, localCPU)
	}
	*pte = pPg | perms
	return 0
}

// userdmap8Inner resolves the user virtual address va to a kernel-
// visible byte slice, faulting it in if necessary. k2u requests a
// writable mapping (the kernel is about to write into user memory).
func (as *AS) userdmap8Inner(va uintptr, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	voff := va & uintptr(mem.PGOFFSET)
	vmi, ok := as.Vmregion.Lookup(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte := as.Pgtbl.GetPage(va, paging.Create)
	if pte == nil {
		return nil, -defs.ENOMEM
	}
	ecode := mem.PTE_U
	needfault := true
	isp := *pte&mem.PTE_P != 0
	if k2u {
		ecode |= mem.PTE_W
		iscow := *pte&paging.PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else if isp {
		needfault = false
	}
	if needfault {
		if err := as.fault(vmi, va, ecode); err != 0 {
			return nil, err
		}
		pte = as.Pgtbl.GetPage(va, paging.Create)
	}
	pa := *pte & mem.PTE_ADDR
	bpg := mem.Physmem.Dmap8(pa)
	return bpg[voff:], 0
}

// Userdmap8r maps the user address va for reading.
func (as *AS) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.userdmap8Inner(uintptr(va), false)
}

// K2user copies src into user memory starting at uva, faulting pages in
// as needed and bailing out with -ENOHEAP if the heap-pressure budget
// is exhausted mid-copy.
func (as *AS) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return -defs.ENOHEAP
		}
		dst, err := as.userdmap8Inner(uintptr(uva+cnt), true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *AS) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(dst) {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)) {
			return -defs.ENOHEAP
		}
		src, err := as.userdmap8Inner(uintptr(uva+cnt), false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory, up to lenmax
// bytes.
func (as *AS) Userstr(uva, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	s := ustr.MkUstr()
	for i := 0; ; {
		str, err := as.userdmap8Inner(uintptr(uva+i), false)
		if err != 0 {
			return nil, err
		}
		for j, c := range str {
			if c == 0 {
				return append(s, str[:j]...), 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// Userreadn reads up to 8 bytes from user memory at va as a little
// endian integer.
func (as *AS) Userreadn(va, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("vas: large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var ret int
	for i := 0; i < n; {
		src, err := as.userdmap8Inner(uintptr(va+i), false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		ret |= util.Readn(src, l, 0) << (8 * uint(i))
		i += l
	}
	return ret, 0
}

// Usertimespec reads a {secs, nsecs} pair from user memory at va.
func (as *AS) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	return tot, time.Unix(int64(secs), int64(nsecs)), 0
}

// Unusedva finds an unused virtual range of at least length bytes at or
// after startva, rounded down to a page and clamped to mem.USERMIN.
func (as *AS) Unusedva(startva, length int) int {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	sv := util.Rounddown(startva, mem.PGSIZE)
	if uintptr(sv) < mem.USERMIN {
		sv = int(mem.USERMIN)
	}
	return int(as.Vmregion.Empty(uintptr(sv), uintptr(length)))
}

// Clone produces a forked address space: every anonymous page present
// in the parent is marked copy-on-write in both parent and child and
// its refcount is bumped, per spec.md §4.E's fork contract. Shared
// anonymous mappings keep pointing at the same frames in both address
// spaces, uncounted as CoW, so writes stay mutually visible.
func (as *AS) Clone() *AS {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	child := NewAS()
	for _, vi := range as.Vmregion.All() {
		nvi := &Vminfo{Mtype: vi.Mtype, Pgn: vi.Pgn, Pglen: vi.Pglen, Perms: vi.Perms}
		child.Vmregion.insert(nvi)
		for pgn := vi.Pgn; pgn < vi.Pgn+uintptr(vi.Pglen); pgn++ {
			va := pgn << mem.PGSHIFT
			pte := as.Pgtbl.GetPage(va, 0)
			if pte == nil || *pte&mem.PTE_P == 0 {
				continue
			}
			pa := *pte & mem.PTE_ADDR
			cpte := child.Pgtbl.GetPage(va, paging.Create)
			if vi.Mtype == VShareAnon {
				mem.Physmem.Retain(pa)
				*cpte = *pte
				continue
			}
			// anon: both sides become CoW, sharing the one frame.
			cow := (*pte &^ (mem.PTE_W | paging.PTE_WASCOW)) | paging.PTE_COW
			*pte = cow
			mem.Physmem.Retain(pa)
			*cpte = cow
		}
	}
	return child
}

// Destroy releases every present page and the page-table tree itself.
// Ground truth: vm/as.go's Uvmfree.
func (as *AS) Destroy() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, vi := range as.Vmregion.All() {
		for pgn := vi.Pgn; pgn < vi.Pgn+uintptr(vi.Pglen); pgn++ {
			va := pgn << mem.PGSHIFT
			pte := as.Pgtbl.GetPage(va, 0)
			if pte == nil || *pte&mem.PTE_P == 0 {
				continue
			}
			pa := *pte & mem.PTE_ADDR
			*pte = 0
			mem.Physmem.Release(pa)
		}
	}
	as.Pgtbl.MarkUnloaded(archops.Current.CPUHint())
	as.Pgtbl.Destroy()
	as.Vmregion.Clear()
}
