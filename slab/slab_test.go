package slab

import (
	"testing"
	"unsafe"

	"hexahedron/archops"
	"hexahedron/mem"
)

// cpu0 pins CPUHint so every Alloc and Free in a test uses the same
// magazine pair.
type cpu0 struct{ *archops.Sim }

func (cpu0) CPUHint() int { return 0 }

func freshMem(t *testing.T, pages int) {
	t.Helper()
	mem.Init([]mem.Region{{Start: 0, Pages: pages, Tag: mem.RegionAvailable}})
}

type widget struct {
	A, B int64
}

func TestAllocFreeRoundTrip(t *testing.T) {
	freshMem(t, 256)
	c := NewCache(uint(unsafe.Sizeof(widget{})), 8, nil, nil)
	p := c.Alloc()
	if p == nil {
		t.Fatal("Alloc returned nil")
	}
	w := (*widget)(p)
	w.A, w.B = 7, 9
	c.Free(p)
}

func TestInitDeinitHooksRun(t *testing.T) {
	freshMem(t, 256)
	inits, deinits := 0, 0
	c := NewCache(16, 8,
		func(unsafe.Pointer) { inits++ },
		func(unsafe.Pointer) { deinits++ })
	p := c.Alloc()
	if inits != 1 {
		t.Fatalf("inits = %d, want 1", inits)
	}
	c.Free(p)
	if deinits != 1 {
		t.Fatalf("deinits = %d, want 1", deinits)
	}
}

func TestManyAllocationsDistinct(t *testing.T) {
	freshMem(t, 256)
	c := NewCache(16, 8, nil, nil)
	seen := make(map[unsafe.Pointer]bool)
	var ptrs []unsafe.Pointer
	for i := 0; i < c.objsPerSlab*3; i++ {
		p := c.Alloc()
		if seen[p] {
			t.Fatalf("duplicate object pointer returned: %v", p)
		}
		seen[p] = true
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		c.Free(p)
	}
}

func TestSlabReclaimedWhenOverMaxFree(t *testing.T) {
	freshMem(t, 4096)
	c := NewCache(16, 8, nil, nil)
	// Fill SLAB_MAX_FREE+2 slabs, then return every object straight to
	// the slab layer (Free would park them in a magazine instead), so
	// more slabs go fully free than SLAB_MAX_FREE allows to be kept.
	var ptrs []unsafe.Pointer
	for i := 0; i < (SLAB_MAX_FREE+2)*c.objsPerSlab; i++ {
		ptrs = append(ptrs, c.Alloc())
	}
	for _, p := range ptrs {
		c.freeSlow(p)
	}
	if c.emptyCount > SLAB_MAX_FREE {
		t.Fatalf("emptyCount = %d, want <= %d", c.emptyCount, SLAB_MAX_FREE)
	}
}

func TestForeignPointerFreeIsNoop(t *testing.T) {
	freshMem(t, 256)
	c := NewCache(16, 8, nil, nil)
	var junk [16]byte
	c.Free(unsafe.Pointer(&junk[0]))
}

func TestEnablePerCPUAndFastPath(t *testing.T) {
	freshMem(t, 256)
	c := NewCache(16, 8, nil, nil)
	c.EnablePerCPU()
	p := c.Alloc()
	if p == nil {
		t.Fatal("expected allocation after EnablePerCPU")
	}
	c.Free(p)
}

// TestFreeBootstrapsMagazineFromDedicatedCache drives Free's miss path
// (loaded full, previous non-empty, depot empty) so it must obtain a
// fresh magazine from magazineCache rather than falling back to a direct
// slab free, per spec.md §4.D's "allocate a new one from a dedicated
// magazine cache."
func TestFreeBootstrapsMagazineFromDedicatedCache(t *testing.T) {
	freshMem(t, 4096)
	saved := archops.Current
	archops.Current = cpu0{archops.NewSim()}
	defer func() { archops.Current = saved }()
	c := NewCache(16, 8, nil, nil)
	c.EnablePerCPU()

	// Fill the loaded magazine, then the previous one, so the next Free
	// call has nowhere to push without drawing a fresh magazine.
	var ptrs []unsafe.Pointer
	for i := 0; i < MAGAZINE_SIZE*2; i++ {
		ptrs = append(ptrs, c.Alloc())
	}
	for i := 0; i < MAGAZINE_SIZE*2; i++ {
		c.Free(ptrs[i])
	}
	pc := &c.mags[0]
	if pc.loaded == nil || !pc.loaded.full() {
		t.Fatalf("expected the loaded magazine to be full after %d frees", MAGAZINE_SIZE*2)
	}
	if pc.previous == nil || !pc.previous.full() {
		t.Fatalf("expected the previous magazine to be full too")
	}

	// One more free with both magazines full and an empty depot must
	// bootstrap a new magazine instead of falling through to freeSlow.
	// The object comes from the slab layer so the full magazines stay full.
	p := c.allocSlow()
	c.Free(p)
	if pc.loaded == nil || pc.loaded.n != 1 {
		t.Fatalf("expected a fresh one-object loaded magazine, got %+v", pc.loaded)
	}
}

func TestMagazineCacheRoundTrip(t *testing.T) {
	freshMem(t, 256)
	m := newMagazine()
	if m == nil || m.n != 0 {
		t.Fatalf("expected a fresh empty magazine, got %+v", m)
	}
	m.push(unsafe.Pointer(m))
	freeMagazine(m)
}
