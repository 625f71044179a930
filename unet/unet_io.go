package unet

import (
	"hexahedron/bounds"
	"hexahedron/defs"
	"hexahedron/fdops"
	"hexahedron/limits"
	"hexahedron/res"
	"hexahedron/stat"
	"hexahedron/ustr"
)

// Close drops one reference to e. The last Close tears the endpoint
// down: it is unbound from pathMap, its connection (if any) is
// notified so blocked peers see EOF/shutdown instead of hanging
// forever, any client still parked in its accept queue is refused
// rather than left waiting on a listener that will never call Accept
// again, and the Socks limit token is returned.
func (e *Endpoint) Close() defs.Err_t {
	e.mu.Lock()
	e.refs--
	if e.refs > 0 {
		e.mu.Unlock()
		return 0
	}
	e.state = StateClosed
	peer := e.peer
	e.peer = nil
	bound := e.bound
	path := e.path
	queued := e.acceptq
	e.acceptq = nil
	if e.rx != nil {
		e.rx.Cb_release()
	}
	e.mu.Unlock()

	if bound {
		pathMap.Del(path)
	}
	if peer != nil {
		peer.mu.Lock()
		if peer.peer == e {
			peer.peer = nil
		}
		peer.mu.Unlock()
		peer.rwq.WakeAll()
		peer.wwq.WakeAll()
	}
	for _, client := range queued {
		client.mu.Lock()
		client.connErr = -defs.ECONNREFUSED
		client.connDone = true
		client.mu.Unlock()
		client.connWQ.WakeAll()
	}
	limits.Syslimit.Socks.Give()
	return 0
}

// Reopen bumps e's reference count, for Copyfd/dup.
func (e *Endpoint) Reopen() defs.Err_t {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return 0
}

// Fstat fills st with socket device/mode information. Per spec.md §4.H,
// a UNIX socket has no backing inode; the device number alone
// identifies it as a datagram or stream/seqpacket socket, mirroring the
// teacher's D_SUD/D_SUS device slots.
func (e *Endpoint) Fstat(st *stat.Stat_t) defs.Err_t {
	e.mu.Lock()
	typ := e.typ
	e.mu.Unlock()
	dev := defs.D_SUS
	if typ == SockDgram {
		dev = defs.D_SUD
	}
	st.Wdev(uint(dev))
	st.Wmode(sockIFMT)
	st.Wsize(0)
	return 0
}

// sockIFMT is the S_IFSOCK file-type bits Linux stat(2) reports for a
// socket (no regular mode bits apply, since a UNIX socket has no
// permissions of its own distinct from the path's directory entry).
const sockIFMT = 0140000

// Read/Write degrade to Recvmsg/Sendmsg with no peer address, matching
// POSIX read(2)/write(2) on a connected socket fd (spec.md §4.H).
func (e *Endpoint) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	n, _, _, err := e.Recvmsg(dst, false)
	return n, err
}

func (e *Endpoint) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return e.Sendmsg(src, ustr.MkUstr(), false)
}

// Sendmsg implements spec.md §4.H's per-type send semantics: a stream
// socket copies bytes into its connected peer's byte pipe; a seqpacket
// or dgram socket enqueues one whole message, addressed either to the
// connected peer (to empty) or to an explicit path looked up in
// pathMap.
func (e *Endpoint) Sendmsg(data fdops.Userio_i, to ustr.Ustr, nonblock bool) (int, defs.Err_t) {
	e.mu.Lock()
	typ := e.typ
	peer := e.peer
	state := e.state
	e.mu.Unlock()

	if typ == SockStream {
		if state != StateConnected || peer == nil {
			return 0, -defs.ENOTCONN
		}
		return e.sendStream(peer, data, nonblock)
	}

	target := peer
	if len(to) > 0 {
		v, ok := pathMap.Get(to.Normalize())
		if !ok {
			return 0, -defs.ECONNREFUSED
		}
		target = v.(*Endpoint)
		if target.typ != typ {
			return 0, -defs.EPROTOTYPE
		}
	}
	if target == nil {
		return 0, -defs.ENOTCONN
	}
	return e.sendQueued(target, data, nonblock)
}

// sendStream writes as much of data as fits into peer's rx circbuf,
// blocking on peer.wwq while it is full (unless nonblock), and wakes
// peer.rwq once bytes land so a blocked Recvmsg can proceed.
func (e *Endpoint) sendStream(peer *Endpoint, data fdops.Userio_i, nonblock bool) (int, defs.Err_t) {
	total := 0
	for data.Remain() > 0 {
		peer.mu.Lock()
		if peer.state == StateClosed {
			peer.mu.Unlock()
			return total, -defs.ESHUTDOWN
		}
		if peer.rx.Full() {
			if nonblock {
				peer.mu.Unlock()
				if total > 0 {
					return total, 0
				}
				return 0, -defs.EAGAIN
			}
			w := peer.wwq.Insert(0)
			peer.mu.Unlock()
			w.Wait()
			continue
		}
		n, err := peer.rx.Copyin(data)
		peer.mu.Unlock()
		if err != 0 {
			return total, err
		}
		total += n
		peer.rwq.Wake(1)
		if n == 0 {
			break
		}
	}
	return total, 0
}

// sendQueued enqueues one whole message (seqpacket or dgram) onto
// target's msgq, charging bounds.B_UNET_SENDMSG per spec.md's note that
// the cost is "charged once per packet allocated by a seqpacket or
// dgram sendmsg" — a one-shot admission check with no matching release,
// the same fire-and-forget shape the teacher's vm/as.go uses for its
// own per-iteration Resadd_noblock calls.
func (e *Endpoint) sendQueued(target *Endpoint, data fdops.Userio_i, nonblock bool) (int, defs.Err_t) {
	buf := make([]byte, data.Remain())
	n, err := data.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	buf = buf[:n]

	e.mu.Lock()
	from := e.path
	e.mu.Unlock()

	for {
		target.mu.Lock()
		if target.state == StateClosed {
			target.mu.Unlock()
			return 0, -defs.ESHUTDOWN
		}
		if len(target.msgq) >= maxQueued {
			if nonblock {
				target.mu.Unlock()
				return 0, -defs.EAGAIN
			}
			w := target.wwq.Insert(0)
			target.mu.Unlock()
			w.Wait()
			continue
		}
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_UNET_SENDMSG)) {
			target.mu.Unlock()
			return 0, -defs.ENOHEAP
		}
		target.msgq = append(target.msgq, message{data: buf, from: from})
		target.mu.Unlock()
		target.rwq.Wake(1)
		return n, 0
	}
}

// Recvmsg implements spec.md §4.H's per-type receive semantics. For a
// stream socket it copies available bytes out of e's own rx circbuf,
// blocking while empty unless the peer has closed (returning EOF as a
// zero-length, no-error read) or nonblock is set. For seqpacket/dgram
// it pops one whole message from e's msgq. The returned bool is EOR:
// true whenever the read consumed a full message boundary, which is
// always the case here since stream reads return whatever is currently
// available (no boundaries to preserve) and seqpacket/dgram reads
// always pop one entire message.
func (e *Endpoint) Recvmsg(data fdops.Userio_i, nonblock bool) (int, ustr.Ustr, bool, defs.Err_t) {
	e.mu.Lock()
	typ := e.typ
	e.mu.Unlock()

	if typ == SockStream {
		return e.recvStream(data, nonblock)
	}
	return e.recvQueued(data, nonblock)
}

func (e *Endpoint) recvStream(data fdops.Userio_i, nonblock bool) (int, ustr.Ustr, bool, defs.Err_t) {
	e.mu.Lock()
	if e.state != StateConnected && e.state != StateClosed {
		e.mu.Unlock()
		return 0, ustr.MkUstr(), true, -defs.ENOTCONN
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if !e.rx.Empty() {
			n, err := e.rx.Copyout(data)
			e.mu.Unlock()
			e.wwq.Wake(1)
			return n, ustr.MkUstr(), true, err
		}
		if e.peer == nil {
			// remote end closed (Close cleared our peer pointer) and
			// nothing left buffered: report EOF like a drained pipe.
			e.mu.Unlock()
			return 0, ustr.MkUstr(), true, 0
		}
		if nonblock {
			e.mu.Unlock()
			return 0, ustr.MkUstr(), true, -defs.EAGAIN
		}
		w := e.rwq.Insert(0)
		e.mu.Unlock()
		w.Wait()
	}
}

func (e *Endpoint) recvQueued(data fdops.Userio_i, nonblock bool) (int, ustr.Ustr, bool, defs.Err_t) {
	for {
		e.mu.Lock()
		if len(e.msgq) > 0 {
			m := e.msgq[0]
			e.msgq = e.msgq[1:]
			e.mu.Unlock()
			n, err := data.Uiowrite(m.data)
			e.wwq.Wake(1)
			return n, m.from, true, err
		}
		if e.state == StateClosed {
			e.mu.Unlock()
			return 0, ustr.MkUstr(), true, 0
		}
		if nonblock {
			e.mu.Unlock()
			return 0, ustr.MkUstr(), true, -defs.EAGAIN
		}
		w := e.rwq.Insert(0)
		e.mu.Unlock()
		w.Wait()
	}
}

// Pollone reports which of want's conditions currently hold, without
// blocking, per spec.md §6's poll syscall.
func (e *Endpoint) Pollone(want fdops.Ready_t) fdops.Ready_t {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ready fdops.Ready_t
	if e.state == StateClosed {
		ready |= fdops.R_HUP
	}
	switch e.typ {
	case SockStream:
		if e.rx != nil && !e.rx.Empty() {
			ready |= fdops.R_READ
		}
		if e.peer != nil && (e.peer.rx == nil || !e.peer.rx.Full()) {
			ready |= fdops.R_WRITE
		}
	default:
		if len(e.msgq) > 0 {
			ready |= fdops.R_READ
		}
		if len(e.msgq) < maxQueued {
			ready |= fdops.R_WRITE
		}
	}
	if e.state == StateListening && len(e.acceptq) > 0 {
		ready |= fdops.R_READ
	}
	return ready & want
}
