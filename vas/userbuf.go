package vas

import (
	"hexahedron/bounds"
	"hexahedron/defs"
	"hexahedron/res"
)

// Userbuf assists reading and writing a contiguous user buffer; address
// lookups and copies are atomic with respect to page faults. Ground
// truth: vm/userbuf.go's Userbuf_t.
type Userbuf struct {
	userva int
	len    int
	off    int
	as     *AS
}

// NewUserbuf builds a Userbuf over [userva, userva+length) in as.
func NewUserbuf(as *AS, userva, length int) *Userbuf {
	if length < 0 {
		panic("vas: negative user buffer length")
	}
	return &Userbuf{userva: userva, len: length, as: as}
}

// Remain reports the number of unread/unwritten bytes left.
func (ub *Userbuf) Remain() int { return ub.len - ub.off }

// Totalsz reports the buffer's total size.
func (ub *Userbuf) Totalsz() int { return ub.len }

// Uioread copies from user memory into dst.
func (ub *Userbuf) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(dst, false)
}

// Uiowrite copies src into user memory.
func (ub *Userbuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(src, true)
}

func (ub *Userbuf) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return ret, -defs.ENOHEAP
		}
		va := uintptr(ub.userva + ub.off)
		ubuf, err := ub.as.userdmap8Inner(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; left < len(ubuf) {
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// Fakeubuf implements the same read/write interface as Userbuf but
// operates directly on a kernel-owned slice, for code paths that need
// to treat an already-mapped kernel buffer like user memory (e.g. the
// console device feeding a line back through a generic read path).
// Ground truth: vm/userbuf.go's Fakeubuf_t.
type Fakeubuf struct {
	buf []uint8
	len int
}

// NewFakeubuf wraps buf for the Userbuf-compatible interface.
func NewFakeubuf(buf []uint8) *Fakeubuf {
	return &Fakeubuf{buf: buf, len: len(buf)}
}

func (fb *Fakeubuf) Remain() int   { return len(fb.buf) }
func (fb *Fakeubuf) Totalsz() int  { return fb.len }

func (fb *Fakeubuf) Uioread(dst []uint8) (int, defs.Err_t) {
	c := copy(dst, fb.buf)
	fb.buf = fb.buf[c:]
	return c, 0
}

func (fb *Fakeubuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	c := copy(fb.buf, src)
	fb.buf = fb.buf[c:]
	return c, 0
}
