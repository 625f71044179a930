// Package elfops defines the ELF-loading contract proc.Exec calls
// through: parsing a program image's headers and mapping its segments
// into a freshly built address space. Ground truth: spec.md §1 names
// the ELF loader as an external collaborator out of this module's
// scope ("parsing and loading ELF binaries... assumed implemented
// elsewhere"); this package is the seam proc.Exec calls through to
// reach it, in exactly the dependency-injection shape
// hexahedron/fdops and hexahedron/archops already use to keep an
// out-of-scope concern from being hard-wired into the package that
// needs it. No teacher file ships an ELF loader (biscuit's retrieved
// sources cut it along with the rest of the fs/ tree), so the
// interface below is shaped directly from what proc.Exec needs: an
// entry point and an initial break. It carries no argv/envp layout for
// the new process's initial stack.
package elfops

import (
	"hexahedron/defs"
	"hexahedron/mem"
	"hexahedron/vas"
)

// Image describes a loaded program, everything proc.Exec needs to set
// up a thread's initial register state and heap.
type Image struct {
	Entry   uintptr // initial instruction pointer
	Brkaddr uintptr // initial program break (first byte past the last mapped segment)
}

// Loader maps a program image into as and reports its entry point and
// initial break. Implementations are free to source the image from
// wherever this module's scope ends (a disk-backed filesystem, an
// in-memory initrd, a network fetch); proc.Exec only ever sees this
// interface.
type Loader interface {
	// Load parses path's contents (however the implementation resolves
	// a path to bytes) and maps its segments into as, returning the
	// resulting Image. A non-zero Err_t leaves as unmodified.
	Load(as *vas.AS, path string) (Image, defs.Err_t)
}

// StaticLoader is a Loader backed by an in-memory table of pre-parsed
// images, keyed by path. It is the loader this module's own tests and
// examples use in place of a real ELF parser/filesystem, analogous to
// archops.Sim standing in for real hardware.
type StaticLoader struct {
	images map[string]Program
}

// Program is one segment-mapping recipe a StaticLoader knows how to
// install: a list of (offset, length, permission) regions to reserve in
// the target address space, plus the resulting entry point and break.
// Segment contents themselves are not copied in — this module has no
// on-disk backing store to source bytes from — so Load only reserves
// the mappings; their first touch resolves through vas.AS.Fault exactly
// like any other anonymous region.
type Program struct {
	Entry    uintptr
	Brkaddr  uintptr
	Segments []Segment
}

// Segment is one ELF program header's worth of virtual memory: a page-
// aligned range reserved with the given permissions.
type Segment struct {
	Start  int
	Length int
	Perms  uintptr
}

// NewStaticLoader returns a StaticLoader with no registered images.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{images: make(map[string]Program)}
}

// Register associates path with prog, so a later Load(as, path) installs
// prog's segment mappings.
func (l *StaticLoader) Register(path string, prog Program) {
	l.images[path] = prog
}

// Load implements Loader by reserving each of the named program's
// segments in as via vas.AS.Reserve and returning its recorded entry
// point and break.
func (l *StaticLoader) Load(as *vas.AS, path string) (Image, defs.Err_t) {
	prog, ok := l.images[path]
	if !ok {
		return Image{}, -defs.ENOENT
	}
	for _, seg := range prog.Segments {
		as.Reserve(seg.Start, seg.Length, mem.Pa_t(seg.Perms))
	}
	return Image{Entry: prog.Entry, Brkaddr: prog.Brkaddr}, 0
}
