package archops

import "testing"

func TestSimGetPhysMonotonicPageAligned(t *testing.T) {
	s := NewSim()
	a := s.GetPhys()
	b := s.GetPhys()
	if b <= a {
		t.Fatalf("GetPhys not monotonic: %x then %x", a, b)
	}
	if a%simPageSize != 0 || b%simPageSize != 0 {
		t.Fatalf("GetPhys not page-aligned: %x, %x", a, b)
	}
}

func TestSimVtop(t *testing.T) {
	s := NewSim()
	p, ok := s.Vtop(0x1000 + 42)
	if !ok || p != 0x1000 {
		t.Fatalf("Vtop = %x,%v want 0x1000,true", p, ok)
	}
	if _, ok := s.Vtop(0); ok {
		t.Fatal("Vtop(0) should report failure")
	}
}

func TestSimCPUHintBounded(t *testing.T) {
	s := NewSim()
	for i := 0; i < 100; i++ {
		h := s.CPUHint()
		if h < 0 || h >= MaxCPUs {
			t.Fatalf("CPUHint out of range: %d", h)
		}
	}
}
