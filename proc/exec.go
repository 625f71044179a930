package proc

import (
	"hexahedron/defs"
	"hexahedron/elfops"
	"hexahedron/vas"
)

// Exec replaces p's image with the program at path, loaded through
// loader (spec.md §1's ELF-loading external collaborator). Per spec.md
// §9's exec/VAS-replacement race window design note, the new address
// space is built and fully populated — every segment loaded — before
// it is ever installed as p.Vas: other threads of p (if any survive to
// see the swap; POSIX exec is specified only for single-threaded
// callers, which this module's Exec enforces) can only ever observe
// either the complete old address space or the complete new one, never
// a partially-built new one. The old address space is destroyed only
// after the swap, once nothing can still be faulting against it.
//
// Exec also resets p's signal actions to their POSIX exec(2) defaults
// (signal.Actions.ResetOnExec: caught handlers revert to default,
// ignored signals stay ignored) and returns the new entry point and
// break for the caller to install into the calling thread's register
// state.
func (p *Proc_t) Exec(loader elfops.Loader, path string) (elfops.Image, defs.Err_t) {
	p.mu.Lock()
	if len(p.Threads) > 1 {
		p.mu.Unlock()
		return elfops.Image{}, -defs.EINVAL
	}
	p.mu.Unlock()

	newAS := vas.NewAS()
	img, err := loader.Load(newAS, path)
	if err != 0 {
		newAS.Destroy()
		return elfops.Image{}, err
	}

	p.mu.Lock()
	oldAS := p.Vas
	p.Vas = newAS
	p.mu.Unlock()

	oldAS.Destroy()
	p.Actions.ResetOnExec()

	return img, 0
}
