package vas

import "sort"

import "hexahedron/mem"

// Mtype identifies what backs a virtual memory region. Ground truth:
// spec.md §3 ("Vmregion") and biscuit's vm/as.go mtype_t (VANON/VSANON/
// VFILE). The file-backed case is named but left unimplemented here —
// VFS support is out of scope (Non-goal); Fault returns -EINVAL if a
// VFile region is ever reached instead of silently treating it as
// anonymous.
type Mtype int

const (
	VAnon Mtype = iota
	VShareAnon
	VFile
)

// Vminfo describes one mapped (or reserved-but-unmapped, for guard
// pages) virtual region: a run of pages sharing a backing type and
// permission set. Ground truth: vm/as.go's Vminfo_t, trimmed to the
// anon/shared-anon cases this module implements.
type Vminfo struct {
	Mtype Mtype
	Pgn   uintptr // first page number (va >> PGSHIFT)
	Pglen int     // length in pages
	Perms mem.Pa_t
}

func (vi *Vminfo) start() uintptr { return vi.Pgn << mem.PGSHIFT }
func (vi *Vminfo) end() uintptr   { return (vi.Pgn + uintptr(vi.Pglen)) << mem.PGSHIFT }
func (vi *Vminfo) contains(va uintptr) bool {
	pgn := va >> mem.PGSHIFT
	return pgn >= vi.Pgn && pgn < vi.Pgn+uintptr(vi.Pglen)
}

// Vmregion is a process address space's region list, kept sorted by
// starting page number so Lookup can use binary search (Empty scans
// the list in order).
// Ground truth: vm/as.go's Vmregion_t (an unretrieved sorted-array
// region map — biscuit's own doc comments describe it that way without
// shipping its source), rebuilt here over Go's sort/sort.Search.
type Vmregion struct {
	regions []*Vminfo
}

func (vr *Vmregion) insert(vi *Vminfo) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn >= vi.Pgn
	})
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vi
}

// Lookup returns the region containing va, if any.
func (vr *Vmregion) Lookup(va uintptr) (*Vminfo, bool) {
	pgn := va >> mem.PGSHIFT
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Pgn+uintptr(vr.regions[i].Pglen) > pgn
	})
	if i == len(vr.regions) || !vr.regions[i].contains(va) {
		return nil, false
	}
	return vr.regions[i], true
}

// Empty finds an unused virtual address range of at least length bytes
// starting no earlier than startva, for mmap's "let the kernel choose"
// mode.
func (vr *Vmregion) Empty(startva uintptr, length uintptr) uintptr {
	cur := startva
	for _, vi := range vr.regions {
		if vi.Pgn<<mem.PGSHIFT >= cur+length {
			break
		}
		if vi.end() > cur {
			cur = vi.end()
		}
	}
	return cur
}

// Clear drops every region, for address-space teardown.
func (vr *Vmregion) Clear() {
	vr.regions = nil
}

// All returns the region list for iteration (used by fork/destroy).
func (vr *Vmregion) All() []*Vminfo {
	return vr.regions
}
