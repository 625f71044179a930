package ustr

import "testing"

func TestExtendAndEq(t *testing.T) {
	root := MkUstrRoot()
	got := root.Extend(Ustr("tmp")).ExtendStr("echo")
	want := Ustr("//tmp/echo")
	if !got.Eq(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestIsAbsolute(t *testing.T) {
	if !MkUstrRoot().IsAbsolute() {
		t.Fatal("root must be absolute")
	}
	if MkUstrDot().IsAbsolute() {
		t.Fatal("dot must not be absolute")
	}
}

func TestNormalizeCollision(t *testing.T) {
	// "e" + combining acute accent (U+0301) vs. precomposed "é" are
	// canonically equivalent; Normalize must make them compare equal
	// even though the raw bytes differ.
	decomposed := Ustr("caf" + "e" + "́")
	precomposed := Ustr("caf" + "é")
	if decomposed.Eq(precomposed) {
		t.Fatal("test setup: raw forms should differ byte-for-byte")
	}
	if !decomposed.Normalize().Eq(precomposed.Normalize()) {
		t.Fatal("normalized forms should collide")
	}
}

func TestMkUstrSlice(t *testing.T) {
	buf := []uint8{'h', 'i', 0, 'x'}
	got := MkUstrSlice(buf)
	if got.String() != "hi" {
		t.Fatalf("got %q", got.String())
	}
}
