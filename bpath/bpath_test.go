package bpath

import (
	"testing"

	"hexahedron/ustr"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/tmp/echo", "/tmp/echo"},
		{"/tmp//echo", "/tmp/echo"},
		{"/tmp/./echo", "/tmp/echo"},
		{"/tmp/sub/../echo", "/tmp/echo"},
		{"/../echo", "/echo"},
		{"/a/b/../../c", "/c"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.Ustr(c.in)).String()
		if got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalizeRequiresAbsolute(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on relative path")
		}
	}()
	Canonicalize(ustr.Ustr("rel/path"))
}
