package paging

import "unsafe"

import "hexahedron/mem"

// AsPointer reinterprets a page-sized, page-aligned mem.Pg_t as a
// pointer suitable for viewing it as a [512]mem.Pa_t page-table page.
// Both types are exactly PGSIZE bytes, matching the teacher's
// mem.Pg2bytes/Bytepg2pg pointer-cast idiom in mem/mem.go.
func AsPointer(pg *mem.Pg_t) unsafe.Pointer {
	return unsafe.Pointer(pg)
}
