// Package bpath canonicalizes filesystem-style paths against a working
// directory, resolving "." and ".." components without touching the
// filesystem. It is the collaborator fd.Cwd_t.Canonicalpath calls in the
// teacher (biscuit/src/fd/fd.go), split out here because the teacher's
// retrieved sources reference it but never ship its body.
package bpath

import "hexahedron/ustr"

// Canonicalize resolves "." and ".." components in p, which must already
// be an absolute path (fd.Cwd_t.Fullpath joins a relative path onto cwd
// before calling this). The result is always absolute and normalized
// (spec.md §4.H: "Bound path is canonicalized against cwd").
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	comps := split(p)
	out := make([]ustr.Ustr, 0, len(comps))
	for _, c := range comps {
		switch {
		case len(c) == 0, c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	ret := ustr.MkUstrRoot()
	for i, c := range out {
		if i == 0 {
			ret = append(ustr.Ustr{}, '/')
			ret = append(ret, c...)
		} else {
			ret = ret.Extend(c)
		}
	}
	if len(out) == 0 {
		ret = ustr.MkUstrRoot()
	}
	return ret.Normalize()
}

// split breaks p into '/'-delimited components, dropping empty ones
// produced by repeated slashes.
func split(p ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				comps = append(comps, p[start:i])
			}
			start = i + 1
		}
	}
	return comps
}
