// Package fdops defines the descriptor-operations contract that every
// open file descriptor's backing object implements: the VFS node
// surface spec.md §1 carves out as an external collaborator, trimmed to
// exactly the socket/pipe slice this module's scope covers (no regular
// files, no directories). Ground truth: the teacher's fd/fd.go and
// justanotherdot-biscuit/kernel/main.go's userio_i/passfd_t reference
// this surface (Fd_t.Fops, Reopen, Close) without shipping its
// definition — the teacher's own fdops package is a placeholder go.mod
// with no source. This package is new, built to match exactly the
// surface fd.Fd_t and circbuf.Circbuf_t already call through.
package fdops

import (
	"hexahedron/defs"
	"hexahedron/stat"
	"hexahedron/ustr"
)

// Userio_i is implemented by anything that can serve as the source or
// sink of a user<->kernel copy. vas.Userbuf and vas.Fakeubuf both
// satisfy it, as does any test fake that wants to hand a socket a
// pre-mapped kernel buffer. Ground truth: justanotherdot-biscuit's
// userio_i (uioread/uiowrite/remain/totalsz), Go-cased.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of poll-readiness conditions consulted by the
// poll syscall named in spec.md §6.
type Ready_t int

const (
	R_READ Ready_t = 1 << iota
	R_WRITE
	R_ERROR
	R_HUP
)

// Fdops_i is the operation set a descriptor's backing object (here,
// always a UNIX socket endpoint) implements. Every method returns
// defs.Err_t rather than a Go error, matching the uniform negated-errno
// vocabulary the rest of the module uses (spec.md §7).
type Fdops_i interface {
	// Close drops one reference to the backing object; the last Close
	// releases its resources.
	Close() defs.Err_t
	// Reopen bumps the backing object's reference count, for Copyfd/dup.
	Reopen() defs.Err_t
	// Fstat fills st with the backing object's stat information.
	Fstat(st *stat.Stat_t) defs.Err_t
	// Read/Write move bytes between the backing object and dst/src.
	// Sockets implement these as a degenerate Recvmsg/Sendmsg with no
	// peer address, matching POSIX read(2)/write(2) on a connected
	// socket fd.
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)

	// Bind/Listen/Connect/Accept/Sendmsg/Recvmsg are the socket-specific
	// surface spec.md §4.H describes. A descriptor that is not a socket
	// (none exist in this module's scope) would return -ENOTSOCK; every
	// Fdops_i this module produces is a socket endpoint, so they are
	// always implemented.
	Bind(path ustr.Ustr) defs.Err_t
	Listen(backlog int) defs.Err_t
	Connect(path ustr.Ustr) defs.Err_t
	Accept(nonblock bool) (Fdops_i, defs.Err_t)
	Sendmsg(data Userio_i, to ustr.Ustr, nonblock bool) (int, defs.Err_t)
	Recvmsg(data Userio_i, nonblock bool) (int, ustr.Ustr, bool, defs.Err_t)

	// Pollone reports which of the requested conditions in want are
	// currently satisfied, without blocking.
	Pollone(want Ready_t) Ready_t
}
