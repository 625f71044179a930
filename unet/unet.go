// Package unet implements UNIX-domain sockets: component I of spec.md,
// covering SOCK_STREAM, SOCK_SEQPACKET, and SOCK_DGRAM endpoints bound
// into a single path namespace and connected through an accept queue
// (stream/seqpacket) or addressed directly (dgram), per spec.md §4.H's
// state-machine diagram and per-socket-type semantics. Ground truth: no
// teacher source ships this component (biscuit's retrieved `fs`/`ufs`
// tree, where UNIX sockets would live, is out of spec.md's scope per
// its Non-goals) — built instead on the surface its already-ported
// sibling packages already define for exactly this role:
// `hexahedron/circbuf.Circbuf_t` for the stream byte pipe,
// `hexahedron/hashtable.Hashtable_t` for the path namespace (keyed on
// `ustr.Ustr`, the key type hashtable.go already special-cases),
// `hexahedron/fd.Fd_t`/`hexahedron/fdops.Fdops_i` for the descriptor
// surface a socket is handed out through, `hexahedron/bpath`/
// `hexahedron/ustr` for path canonicalization before a bind/connect
// ever reaches this package, and `hexahedron/lock.Sleepq` for blocking
// a caller — Fdops_i's methods carry no thread or CPU handle (unlike
// proc.Waitpid, which takes an explicit *Thread_t), so an endpoint
// cannot integrate with sched.WaitQueue's per-CPU run-queue parking;
// lock.Sleepq blocks the calling goroutine directly without needing to
// know which simulated CPU, if any, is running it, exactly the
// property this layer needs (see DESIGN.md).
package unet

import (
	"encoding/binary"
	"sync"
	"time"

	"hexahedron/circbuf"
	"hexahedron/defs"
	"hexahedron/fdops"
	"hexahedron/hashtable"
	"hexahedron/limits"
	"hexahedron/lock"
	"hexahedron/ustr"
)

// connectRetryInterval and connectRetries implement spec.md §4.H's
// literal Connect wait: "sleep with a 1-second retry x 3 ... dead or
// timeout -> return ETIMEDOUT/ECONNREFUSED." connectRetryInterval is a
// var, not a const, so tests can shrink it instead of spending three
// real seconds waiting out a timeout.
var connectRetryInterval = time.Second

const connectRetries = 3

// SockType names the three UNIX socket flavors spec.md §4.H describes.
type SockType int

const (
	SockStream SockType = iota
	SockSeqpacket
	SockDgram
)

// State is a node in spec.md §4.H's endpoint state-machine diagram:
// init -> bound -> listening -> connected for stream/seqpacket, or
// init -> bound -> connected directly for datagram sockets, with every
// state able to transition to closed.
type State int

const (
	StateInit State = iota
	StateBound
	StateListening
	StateConnected
	StateClosed
)

// pathMap is the system-wide UNIX socket path namespace, spec.md §4.H's
// "path_map: bound path -> listening endpoint". Keyed on the
// NFC-normalized canonical path (ustr.Ustr.Normalize, applied once in
// Bind/Connect), so two byte-distinct encodings of the same path
// collide the way a real filesystem's namespace would.
var pathMap = hashtable.MkHash(512)

// maxQueued bounds the accept and message queues: an admission-control
// ceiling this package chooses, not a constant spec.md names.
const maxQueued = 64

// sockaddr_un layout constants, matching the Linux ABI spec.md §6 names:
// sa_family_t sun_family (2 bytes, little endian) followed by a 108-byte
// sun_path.
const (
	sockAddrUnFamily  = 1 // AF_UNIX
	sockAddrUnPathMax = 108
	sockAddrUnSize    = 2 + sockAddrUnPathMax
)

// message is one queued datagram or seqpacket payload, tagged with the
// sender's bound path for Recvmsg's From return.
type message struct {
	data []byte
	from ustr.Ustr
}

// Endpoint is one UNIX socket descriptor's backing object. It
// implements fdops.Fdops_i directly: Read/Write degrade to Recvmsg/
// Sendmsg with no peer address, matching a connected socket fd's
// read(2)/write(2) behavior (spec.md §4.H).
type Endpoint struct {
	mu      sync.Mutex
	typ     SockType
	state   State
	path    ustr.Ustr
	bound   bool
	refs    int
	backlog int
	acceptq []*Endpoint

	acceptWQ lock.Sleepq
	connWQ   lock.Sleepq
	connErr  defs.Err_t
	connDone bool

	peer *Endpoint

	rx   *circbuf.Circbuf_t // SOCK_STREAM only: bytes addressed to this endpoint
	msgq []message          // SOCK_SEQPACKET/SOCK_DGRAM: whole messages addressed to this endpoint

	rwq lock.Sleepq // signaled when data/messages arrive for this endpoint
	wwq lock.Sleepq // signaled when room frees up in this endpoint's queue
}

var _ fdops.Fdops_i = (*Endpoint)(nil)

// NewEndpoint allocates an unbound, unconnected endpoint of the given
// type. It consults limits.Syslimit.Socks, per spec.md §4.H's note that
// "socks" bounds every live UNIX socket endpoint system-wide.
func NewEndpoint(typ SockType) (*Endpoint, defs.Err_t) {
	if !limits.Syslimit.Socks.Take() {
		return nil, -defs.ENOMEM
	}
	e := &Endpoint{typ: typ, state: StateInit, refs: 1, backlog: 1}
	e.acceptWQ.Init()
	e.connWQ.Init()
	e.rwq.Init()
	e.wwq.Init()
	if typ == SockStream {
		e.rx = &circbuf.Circbuf_t{}
		e.rx.Cb_init(4096)
	}
	return e, 0
}

// Bind installs e at path in the system path namespace. Per spec.md
// §4.H: bind requires the init state; the path must not already be
// bound.
func (e *Endpoint) Bind(path ustr.Ustr) defs.Err_t {
	norm := path.Normalize()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInit {
		return -defs.EINVAL
	}
	if _, ok := pathMap.Get(norm); ok {
		return -defs.EADDRINUSE
	}
	pathMap.Set(norm, e)
	e.path = norm
	e.bound = true
	e.state = StateBound
	return 0
}

// Listen transitions a bound stream/seqpacket endpoint into the
// listening state with the given backlog. Per spec.md §4.H: listen
// requires the bound state and a stream or seqpacket type.
func (e *Endpoint) Listen(backlog int) defs.Err_t {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.typ == SockDgram {
		return -defs.EOPNOTSUPP
	}
	if e.state != StateBound {
		return -defs.EINVAL
	}
	if backlog <= 0 {
		backlog = 1
	}
	if backlog > maxQueued {
		backlog = maxQueued
	}
	e.backlog = backlog
	e.state = StateListening
	return 0
}

// Connect implements the client half of spec.md §4.H's connection
// handshake. For SockStream/SockSeqpacket, it enqueues e onto the
// target's accept queue and blocks until a matching Accept links the
// two endpoints, or the queue is full/absent (-ECONNREFUSED). For
// SockDgram, no handshake occurs: e simply records a default peer for
// subsequent Sendmsg/Recvmsg calls that omit an explicit address,
// mirroring a connected UDP socket.
func (e *Endpoint) Connect(path ustr.Ustr) defs.Err_t {
	norm := path.Normalize()
	v, ok := pathMap.Get(norm)
	if !ok {
		return -defs.ECONNREFUSED
	}
	target := v.(*Endpoint)

	if e.typ == SockDgram {
		if target.typ != SockDgram {
			return -defs.EPROTOTYPE
		}
		e.mu.Lock()
		e.peer = target
		e.state = StateConnected
		e.mu.Unlock()
		return 0
	}

	if target.typ != e.typ {
		return -defs.EPROTOTYPE
	}

	target.mu.Lock()
	if target.state != StateListening || len(target.acceptq) >= target.backlog {
		target.mu.Unlock()
		return -defs.ECONNREFUSED
	}
	target.acceptq = append(target.acceptq, e)
	target.mu.Unlock()
	target.acceptWQ.Wake(1)

	e.mu.Lock()
	for attempt := 0; !e.connDone; {
		if attempt >= connectRetries {
			e.mu.Unlock()
			return -defs.ETIMEDOUT
		}
		w := e.connWQ.Insert(0)
		e.mu.Unlock()
		reason := w.WaitUntil(connectRetryInterval)
		e.mu.Lock()
		if reason == lock.WakeupTime && !e.connDone {
			e.connWQ.Remove(w)
			attempt++
		}
	}
	err := e.connErr
	e.mu.Unlock()
	return err
}

// MarshalSockaddrUn encodes path into a sockaddr_un-shaped byte buffer
// matching the Linux ABI (sa_family_t sun_family; char sun_path[108]),
// spec.md §6's wire format for bind/connect's address argument.
func MarshalSockaddrUn(path ustr.Ustr) ([]uint8, defs.Err_t) {
	if len(path) >= sockAddrUnPathMax {
		return nil, -defs.ENAMETOOLONG
	}
	buf := make([]uint8, sockAddrUnSize)
	binary.LittleEndian.PutUint16(buf[0:2], sockAddrUnFamily)
	copy(buf[2:], path)
	return buf, 0
}

// UnmarshalSockaddrUn decodes a sockaddr_un-shaped buffer into a path,
// rejecting anything not addressed to AF_UNIX.
func UnmarshalSockaddrUn(buf []uint8) (ustr.Ustr, defs.Err_t) {
	if len(buf) < 2 {
		return nil, -defs.EINVAL
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != sockAddrUnFamily {
		return nil, -defs.EINVAL
	}
	path := buf[2:]
	if len(path) > sockAddrUnPathMax {
		path = path[:sockAddrUnPathMax]
	}
	for i, c := range path {
		if c == 0 {
			path = path[:i]
			break
		}
	}
	return ustr.Ustr(append([]uint8{}, path...)), 0
}

// BindAddr decodes a sockaddr_un-shaped raw buffer — the syscall
// boundary's wire format for bind(2) — and binds e to the path it names.
func (e *Endpoint) BindAddr(raw []uint8) defs.Err_t {
	path, err := UnmarshalSockaddrUn(raw)
	if err != 0 {
		return err
	}
	return e.Bind(path)
}

// ConnectAddr decodes a sockaddr_un-shaped raw buffer and connects e to
// the path it names, the raw-bytes counterpart of Connect.
func (e *Endpoint) ConnectAddr(raw []uint8) defs.Err_t {
	path, err := UnmarshalSockaddrUn(raw)
	if err != 0 {
		return err
	}
	return e.Connect(path)
}

// Accept pops the next pending connection request from a listening
// endpoint's accept queue, blocking unless nonblock is set and the
// queue is empty. Completing the handshake creates a new Endpoint
// representing this side of the connection, wires peer pointers both
// ways, moves both endpoints to StateConnected, and wakes the client
// blocked in Connect.
func (e *Endpoint) Accept(nonblock bool) (fdops.Fdops_i, defs.Err_t) {
	e.mu.Lock()
	for {
		if e.state != StateListening {
			e.mu.Unlock()
			return nil, -defs.EINVAL
		}
		if len(e.acceptq) > 0 {
			break
		}
		if nonblock {
			e.mu.Unlock()
			return nil, -defs.EAGAIN
		}
		w := e.acceptWQ.Insert(0)
		e.mu.Unlock()
		w.Wait()
		e.mu.Lock()
	}
	client := e.acceptq[0]
	e.acceptq = e.acceptq[1:]
	e.mu.Unlock()

	srv, err := NewEndpoint(e.typ)
	if err != 0 {
		client.mu.Lock()
		client.connErr = err
		client.connDone = true
		client.mu.Unlock()
		client.connWQ.WakeAll()
		return nil, err
	}
	srv.mu.Lock()
	srv.peer = client
	srv.state = StateConnected
	srv.mu.Unlock()

	client.mu.Lock()
	client.peer = srv
	client.state = StateConnected
	client.connErr = 0
	client.connDone = true
	client.mu.Unlock()
	client.connWQ.WakeAll()

	return srv, 0
}
