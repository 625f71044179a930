package mem

// USERMIN is the lowest virtual address a VAS may reserve user memory
// at. The teacher derives this from a fixed PML4 slot (VUSER << 39) in
// its real recursive page-table layout; Hexahedron's vas package tracks
// virtual addresses as plain simulated offsets rather than real
// hardware addresses (see archops and the vas package doc), so USERMIN
// survives only as the same kind of round, easy-to-spot boundary the
// teacher chose, not as a literal PML4 index.
const USERMIN uintptr = 0x59 << 39

// Zeropg is a shared, read-only, zero-filled page used as the backing
// frame for every not-yet-written lazily mapped page, so that reads
// against an unwritten heap/stack/bss region observe zeros without
// consuming a distinct frame per page. Ground truth:
// biscuit/src/mem/dmap.go's Zeropg/P_zeropg pair.
var Zeropg *Pg_t

// P_zeropg is the physical address backing Zeropg.
var P_zeropg Pa_t

// InitZeropg allocates and registers the shared zero page. It must run
// once, after Init, before any lazy mapping is resolved.
func InitZeropg() {
	pg, pa, ok := Physmem.Refpg_new()
	if !ok {
		panic("OUT_OF_MEMORY")
	}
	Zeropg = pg
	P_zeropg = pa
	Physmem.Retain(pa)
}
