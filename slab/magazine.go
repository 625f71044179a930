package slab

import (
	"unsafe"

	"golang.org/x/sync/semaphore"

	"hexahedron/archops"
	"hexahedron/lock"
)

// MAGAZINE_SIZE is the per-magazine object capacity, per spec.md §4.D.
const MAGAZINE_SIZE = 32

// magazine is a fixed-capacity LIFO of object pointers.
type magazine struct {
	objs [MAGAZINE_SIZE]unsafe.Pointer
	n    int
}

func (m *magazine) push(p unsafe.Pointer) bool {
	if m.n == MAGAZINE_SIZE {
		return false
	}
	m.objs[m.n] = p
	m.n++
	return true
}

func (m *magazine) pop() (unsafe.Pointer, bool) {
	if m.n == 0 {
		return nil, false
	}
	m.n--
	return m.objs[m.n], true
}

func (m *magazine) full() bool  { return m.n == MAGAZINE_SIZE }
func (m *magazine) empty() bool { return m.n == 0 }

// pcpuMag holds one CPU's loaded/previous magazine pair and the
// spinlock protecting them, per spec.md §4.D's "Per-CPU state holds
// loaded and previous magazines plus a spinlock."
type pcpuMag struct {
	mu       lock.Spinlock
	loaded   *magazine
	previous *magazine
}

// depot is the cache-wide pool of filled and empty magazines that
// per-CPU fast paths steal from and return to on a local miss. Its size
// is bounded by a weighted semaphore — grounded on nothing in the
// teacher (no magazine depot exists in the retrieved sources) but wired
// in per SPEC_FULL.md's domain-stack plan to give
// golang.org/x/sync/semaphore (already a teacher go.mod dependency,
// otherwise unused by anything the teacher's own retrieved code
// exercises) a concrete, exercised home: it bounds how many magazines a
// single cache may keep parked in its depot, so a pathological
// alloc/free pattern on one cache cannot pin unbounded memory in empty
// magazines system-wide.
type depot struct {
	mu   lock.Spinlock
	full []*magazine
	free []*magazine
	sem  *semaphore.Weighted
}

// depotMaxMagazines bounds the combined full+empty magazine count a
// single cache's depot will hold before surplus magazines are dropped
// (their contents already returned to the slab slow path by the caller
// that filled them).
const depotMaxMagazines = 64

// magazineCache is the dedicated cache spec.md §4.D's fast-free miss path
// names: "obtain an empty magazine from the empty depot or allocate a new
// one from a dedicated magazine cache." Every slab.Cache in the system
// shares this one magazine-struct cache, which is itself backed by the
// same Slab machinery every other cache uses — a cache of caches,
// bootstrapped before any per-cache depot exists. Its own per-CPU
// magazine front end (Alloc/Free) is never used: allocating a magazine
// via allocSlow/freeSlow directly sidesteps the fast path so filling one
// cache's depot can never recurse into filling another.
var magazineCache = NewCache(uint(unsafe.Sizeof(magazine{})), uint(unsafe.Alignof(magazine{})),
	func(p unsafe.Pointer) { *(*magazine)(p) = magazine{} }, nil)

// newMagazine draws one zeroed magazine from magazineCache.
func newMagazine() *magazine {
	return (*magazine)(magazineCache.allocSlow())
}

// freeMagazine returns an evicted, empty magazine to magazineCache.
func freeMagazine(m *magazine) {
	magazineCache.freeSlow(unsafe.Pointer(m))
}

func (d *depot) init() {
	d.sem = semaphore.NewWeighted(depotMaxMagazines)
}

func (d *depot) depositFull(m *magazine) bool {
	if !d.sem.TryAcquire(1) {
		return false
	}
	d.mu.Acquire()
	d.full = append(d.full, m)
	d.mu.Release()
	return true
}

func (d *depot) depositEmpty(m *magazine) bool {
	if !d.sem.TryAcquire(1) {
		return false
	}
	d.mu.Acquire()
	d.free = append(d.free, m)
	d.mu.Release()
	return true
}

func (d *depot) withdrawFull() *magazine {
	d.mu.Acquire()
	defer d.mu.Release()
	n := len(d.full)
	if n == 0 {
		return nil
	}
	m := d.full[n-1]
	d.full = d.full[:n-1]
	d.sem.Release(1)
	return m
}

func (d *depot) withdrawEmpty() *magazine {
	d.mu.Acquire()
	defer d.mu.Release()
	n := len(d.free)
	if n == 0 {
		return nil
	}
	m := d.free[n-1]
	d.free = d.free[:n-1]
	d.sem.Release(1)
	return m
}

// Alloc returns one object from the cache, trying the calling CPU's
// magazine pair first (spec.md §4.D "Fast allocate") and falling back to
// the slab slow path on a miss.
func (c *Cache) Alloc() unsafe.Pointer {
	pc := &c.mags[archops.Current.CPUHint()%len(c.mags)]
	pc.mu.Acquire()
	if pc.loaded == nil {
		pc.mu.Release()
		return c.allocSlow()
	}
	if p, ok := pc.loaded.pop(); ok {
		pc.mu.Release()
		return p
	}
	if pc.previous != nil && !pc.previous.empty() {
		pc.loaded, pc.previous = pc.previous, pc.loaded
		p, _ := pc.loaded.pop()
		pc.mu.Release()
		return p
	}
	if full := c.depot.withdrawFull(); full != nil {
		if pc.previous != nil {
			c.depot.depositEmpty(pc.previous)
		}
		pc.previous = pc.loaded
		pc.loaded = full
		p, _ := pc.loaded.pop()
		pc.mu.Release()
		return p
	}
	pc.mu.Release()
	return c.allocSlow()
}

// AllocFast is Alloc but never falls back to the slow path: it returns
// nil on any miss, matching spec.md §4.D's FAST flag ("forbids the slow
// path, caller accepts failure").
func (c *Cache) AllocFast() unsafe.Pointer {
	pc := &c.mags[archops.Current.CPUHint()%len(c.mags)]
	pc.mu.Acquire()
	defer pc.mu.Release()
	if pc.loaded != nil {
		if p, ok := pc.loaded.pop(); ok {
			return p
		}
	}
	if pc.previous != nil && !pc.previous.empty() {
		pc.loaded, pc.previous = pc.previous, pc.loaded
		p, _ := pc.loaded.pop()
		return p
	}
	return nil
}

// Free returns obj to the cache, pushing onto the calling CPU's loaded
// magazine (spec.md §4.D "Fast free") and falling back to the slab slow
// path if no magazine has room.
func (c *Cache) Free(obj unsafe.Pointer) {
	pc := &c.mags[archops.Current.CPUHint()%len(c.mags)]
	pc.mu.Acquire()
	if pc.loaded == nil {
		pc.loaded = newMagazine()
	}
	if pc.loaded.push(obj) {
		pc.mu.Release()
		return
	}
	if pc.previous != nil && pc.previous.empty() {
		pc.loaded, pc.previous = pc.previous, pc.loaded
		pc.loaded.push(obj)
		pc.mu.Release()
		return
	}
	if empty := c.depot.withdrawEmpty(); empty != nil {
		if pc.previous != nil {
			c.depot.depositFull(pc.previous)
		}
		pc.previous = pc.loaded
		pc.loaded = empty
		pc.loaded.push(obj)
		pc.mu.Release()
		return
	}
	// Depot has no empty magazine to hand out: bootstrap one from the
	// dedicated magazine cache rather than falling back to a direct
	// slab-slow-path free, per spec.md §4.D's fast-free miss path.
	fresh := newMagazine()
	if pc.previous != nil {
		if !c.depot.depositFull(pc.previous) {
			for {
				o, ok := pc.previous.pop()
				if !ok {
					break
				}
				c.freeSlow(o)
			}
			freeMagazine(pc.previous)
		}
	}
	pc.previous = pc.loaded
	pc.loaded = fresh
	pc.loaded.push(obj)
	pc.mu.Release()
}

// EnablePerCPU pre-allocates an empty loaded magazine for every CPU,
// matching spec.md §4.D's post_smp_hook: "magazines are enabled
// retroactively once CPU count is known."
func (c *Cache) EnablePerCPU() {
	for i := range c.mags {
		c.mags[i].mu.Acquire()
		c.mags[i].loaded = &magazine{}
		c.mags[i].mu.Release()
	}
}
