package mem

import (
	"testing"
	"time"

	"hexahedron/oommsg"
)

func freshPFA(t *testing.T, pages int) *PFA {
	t.Helper()
	return Init([]Region{{Start: 0, Pages: pages, Tag: RegionAvailable}})
}

func TestAllocateFreeSingle(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)
	if p.Refcnt(pa) != 0 {
		t.Fatalf("fresh allocation refcnt = %d, want 0", p.Refcnt(pa))
	}
	p.Retain(pa)
	if p.Refcnt(pa) != 1 {
		t.Fatalf("refcnt after Retain = %d, want 1", p.Refcnt(pa))
	}
	if freed := p.Release(pa); !freed {
		t.Fatal("expected Release to free the frame at refcnt 0")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)
	p.FreePage(pa)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	p.FreePage(pa)
}

func TestResidentMaskTracksMarkAndClear(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)

	if mask := p.ResidentMask(pa); mask != 0 {
		t.Fatalf("fresh frame ResidentMask = %#x, want 0", mask)
	}
	p.MarkResident(pa, 0)
	p.MarkResident(pa, 3)
	if mask := p.ResidentMask(pa); mask != 1<<0|1<<3 {
		t.Fatalf("ResidentMask = %#x, want bits 0 and 3 set", mask)
	}
	p.ClearResident(pa, 0)
	if mask := p.ResidentMask(pa); mask != 1<<3 {
		t.Fatalf("ResidentMask after ClearResident(0) = %#x, want only bit 3", mask)
	}
}

func TestFreePageResetsResidentMask(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)
	p.MarkResident(pa, 5)
	p.FreePage(pa)

	pa2 := p.AllocatePage(ZoneNormal)
	if pa2 != pa {
		t.Fatalf("expected the freed frame to be reused, got different pa")
	}
	if mask := p.ResidentMask(pa2); mask != 0 {
		t.Fatalf("reused frame carried stale ResidentMask %#x", mask)
	}
}

func TestOutOfMemoryPanics(t *testing.T) {
	p := freshPFA(t, 2)
	p.AllocatePage(ZoneNormal)
	p.AllocatePage(ZoneNormal)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected OUT_OF_MEMORY panic")
		}
	}()
	p.AllocatePage(ZoneNormal)
}

func TestAllocatePageRecoversViaOomDaemon(t *testing.T) {
	p := freshPFA(t, 2)
	held := p.AllocatePage(ZoneNormal)
	p.AllocatePage(ZoneNormal)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-oommsg.OomCh
		p.FreePage(held)
		msg.Resume <- true
	}()
	time.Sleep(10 * time.Millisecond) // let the daemon park on OomCh

	pa := p.AllocatePage(ZoneNormal)
	<-done
	if pa != held {
		t.Fatalf("expected the daemon-freed frame to be reused, got a different one")
	}
}

func TestAllocatePageGivesUpWhenDaemonDeclines(t *testing.T) {
	p := freshPFA(t, 2)
	p.AllocatePage(ZoneNormal)
	p.AllocatePage(ZoneNormal)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-oommsg.OomCh
		msg.Resume <- false
	}()
	time.Sleep(10 * time.Millisecond) // let the daemon park on OomCh

	defer func() {
		<-done
		if r := recover(); r == nil {
			t.Fatal("expected OUT_OF_MEMORY panic when the daemon declines to free memory")
		}
	}()
	p.AllocatePage(ZoneNormal)
}

func TestAllocatePagesContiguous(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePages(4, ZoneNormal)
	for i := 0; i < 4; i++ {
		got := pa + Pa_t(i*PGSIZE)
		if p.Refcnt(got) != 0 {
			t.Fatalf("page %d not allocated", i)
		}
	}
	p.FreePages(pa, 4)
	free, total := p.Pgcount()
	if free != total {
		t.Fatalf("after freeing all, free=%d total=%d", free, total)
	}
}

func TestDmapRoundTrip(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)
	pg := p.Dmap(pa)
	pg[0] = 0xdeadbeef
	pg2 := p.Dmap(pa)
	if pg2[0] != 0xdeadbeef {
		t.Fatal("Dmap did not return a consistent view of the same frame")
	}
}

func TestRetainAfterFreePanics(t *testing.T) {
	p := freshPFA(t, 16)
	pa := p.AllocatePage(ZoneNormal)
	p.FreePage(pa)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic retaining a freed page")
		}
	}()
	p.Retain(pa)
}
