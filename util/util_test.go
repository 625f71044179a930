package util

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		v, b, down, up int
		ispow          bool
	}{
		{0, 8, 0, 0, false},
		{1, 8, 0, 8, true},
		{8, 8, 8, 8, true},
		{9, 8, 8, 16, false},
		{4096, 4096, 4096, 4096, true},
	}
	for _, c := range cases {
		if got := Rounddown(c.v, c.b); got != c.down {
			t.Errorf("Rounddown(%d,%d) = %d, want %d", c.v, c.b, got, c.down)
		}
		if got := Roundup(c.v, c.b); got != c.up {
			t.Errorf("Roundup(%d,%d) = %d, want %d", c.v, c.b, got, c.up)
		}
		if got := IsPow2(c.v); got != c.ispow {
			t.Errorf("IsPow2(%d) = %v, want %v", c.v, got, c.ispow)
		}
	}
}

func TestReadWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 0, 0x1122334455667788)
	if got := Readn(buf, 8, 0); got != 0x1122334455667788 {
		t.Fatalf("got %x", got)
	}
	Writen(buf, 4, 8, 42)
	if got := Readn(buf, 4, 8); got != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Max(3, 5) != 5 {
		t.Fatal("min/max wrong")
	}
}
