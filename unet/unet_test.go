package unet

import (
	"testing"
	"time"

	"hexahedron/defs"
	"hexahedron/mem"
	"hexahedron/ustr"
	"hexahedron/vas"
)

// Stream buffers draw their pages from the PFA, so it must be
// bootstrapped before any test in this package runs.
var _ = mem.Init([]mem.Region{{Start: 0, Pages: 1024, Tag: mem.RegionAvailable}})

func path(s string) ustr.Ustr {
	return ustr.MkUstrSlice([]byte(s))
}

func TestBindDuplicatePathRejected(t *testing.T) {
	a, _ := NewEndpoint(SockStream)
	b, _ := NewEndpoint(SockStream)
	if err := a.Bind(path("/sock/dup")); err != 0 {
		t.Fatalf("first bind failed: %d", err)
	}
	if err := b.Bind(path("/sock/dup")); err != -defs.EADDRINUSE {
		t.Fatalf("expected EADDRINUSE, got %d", err)
	}
}

func TestConnectRefusedWhenNoListener(t *testing.T) {
	c, _ := NewEndpoint(SockStream)
	if err := c.Connect(path("/sock/nobody-home")); err != -defs.ECONNREFUSED {
		t.Fatalf("expected ECONNREFUSED, got %d", err)
	}
}

func TestStreamConnectAcceptExchangesData(t *testing.T) {
	srv, _ := NewEndpoint(SockStream)
	if err := srv.Bind(path("/sock/stream-echo")); err != 0 {
		t.Fatalf("bind: %d", err)
	}
	if err := srv.Listen(4); err != 0 {
		t.Fatalf("listen: %d", err)
	}

	accepted := make(chan *Endpoint, 1)
	go func() {
		fd, err := srv.Accept(false)
		if err != 0 {
			t.Errorf("accept: %d", err)
			return
		}
		accepted <- fd.(*Endpoint)
	}()

	cli, _ := NewEndpoint(SockStream)
	if err := cli.Connect(path("/sock/stream-echo")); err != 0 {
		t.Fatalf("connect: %d", err)
	}

	var peer *Endpoint
	select {
	case peer = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	payload := []byte("hello over a pipe")
	n, err := cli.Sendmsg(vas.NewFakeubuf(payload), ustr.MkUstr(), false)
	if err != 0 || n != len(payload) {
		t.Fatalf("sendmsg: n=%d err=%d", n, err)
	}

	buf := make([]byte, len(payload))
	rn, _, eor, rerr := peer.Recvmsg(vas.NewFakeubuf(buf), false)
	if rerr != 0 || rn != len(payload) || !eor {
		t.Fatalf("recvmsg: n=%d eor=%v err=%d", rn, eor, rerr)
	}
	if string(buf) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, buf)
	}
}

func TestStreamCloseDeliversEOF(t *testing.T) {
	srv, _ := NewEndpoint(SockStream)
	srv.Bind(path("/sock/stream-eof"))
	srv.Listen(1)

	accepted := make(chan *Endpoint, 1)
	go func() {
		fd, _ := srv.Accept(false)
		accepted <- fd.(*Endpoint)
	}()

	cli, _ := NewEndpoint(SockStream)
	if err := cli.Connect(path("/sock/stream-eof")); err != 0 {
		t.Fatalf("connect: %d", err)
	}
	peer := <-accepted

	done := make(chan struct{})
	var n int
	var rerr defs.Err_t
	go func() {
		buf := make([]byte, 16)
		n, _, _, rerr = peer.Recvmsg(vas.NewFakeubuf(buf), false)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let the reader park on an empty buffer
	if err := cli.Close(); err != 0 {
		t.Fatalf("close: %d", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EOF to be delivered")
	}
	if n != 0 || rerr != 0 {
		t.Fatalf("expected EOF (0, nil), got n=%d err=%d", n, rerr)
	}
}

// TestSeqpacketEcho mirrors the seqpacket echo scenario: a client sends
// one message, a server echoes it back whole, message boundaries
// preserved on both legs.
func TestSeqpacketEcho(t *testing.T) {
	srv, _ := NewEndpoint(SockSeqpacket)
	srv.Bind(path("/sock/seq-echo"))
	srv.Listen(4)

	accepted := make(chan *Endpoint, 1)
	go func() {
		fd, _ := srv.Accept(false)
		accepted <- fd.(*Endpoint)
	}()

	cli, _ := NewEndpoint(SockSeqpacket)
	if err := cli.Connect(path("/sock/seq-echo")); err != 0 {
		t.Fatalf("connect: %d", err)
	}
	peer := <-accepted

	msg := []byte("ping")
	if _, err := cli.Sendmsg(vas.NewFakeubuf(msg), ustr.MkUstr(), false); err != 0 {
		t.Fatalf("client sendmsg: %d", err)
	}

	rbuf := make([]byte, 64)
	n, _, eor, err := peer.Recvmsg(vas.NewFakeubuf(rbuf), false)
	if err != 0 || !eor || string(rbuf[:n]) != "ping" {
		t.Fatalf("server recvmsg: n=%d eor=%v err=%d body=%q", n, eor, err, rbuf[:n])
	}

	echo := []byte("pong")
	if _, err := peer.Sendmsg(vas.NewFakeubuf(echo), ustr.MkUstr(), false); err != 0 {
		t.Fatalf("server sendmsg: %d", err)
	}
	cbuf := make([]byte, 64)
	cn, _, ceor, cerr := cli.Recvmsg(vas.NewFakeubuf(cbuf), false)
	if cerr != 0 || !ceor || string(cbuf[:cn]) != "pong" {
		t.Fatalf("client recvmsg: n=%d eor=%v err=%d body=%q", cn, ceor, cerr, cbuf[:cn])
	}
}

func TestDgramSendRecvWithExplicitAddress(t *testing.T) {
	a, _ := NewEndpoint(SockDgram)
	b, _ := NewEndpoint(SockDgram)
	if err := a.Bind(path("/sock/dgram-a")); err != 0 {
		t.Fatalf("bind a: %d", err)
	}
	if err := b.Bind(path("/sock/dgram-b")); err != 0 {
		t.Fatalf("bind b: %d", err)
	}

	msg := []byte("datagram payload")
	if _, err := a.Sendmsg(vas.NewFakeubuf(msg), path("/sock/dgram-b"), false); err != 0 {
		t.Fatalf("sendmsg: %d", err)
	}

	buf := make([]byte, len(msg))
	n, from, eor, err := b.Recvmsg(vas.NewFakeubuf(buf), false)
	if err != 0 || !eor || n != len(msg) {
		t.Fatalf("recvmsg: n=%d eor=%v err=%d", n, eor, err)
	}
	if !from.Eq(path("/sock/dgram-a").Normalize()) {
		t.Fatalf("expected sender path /sock/dgram-a, got %q", from.String())
	}
}

func TestDgramSendmsgUnknownAddressRefused(t *testing.T) {
	a, _ := NewEndpoint(SockDgram)
	msg := []byte("nobody")
	if _, err := a.Sendmsg(vas.NewFakeubuf(msg), path("/sock/ghost"), false); err != -defs.ECONNREFUSED {
		t.Fatalf("expected ECONNREFUSED, got %d", err)
	}
}

func TestListenRejectsDatagramSocket(t *testing.T) {
	d, _ := NewEndpoint(SockDgram)
	d.Bind(path("/sock/dgram-listen"))
	if err := d.Listen(1); err != -defs.EOPNOTSUPP {
		t.Fatalf("expected EOPNOTSUPP, got %d", err)
	}
}

func TestAcceptNonblockReturnsEAGAINWhenEmpty(t *testing.T) {
	srv, _ := NewEndpoint(SockStream)
	srv.Bind(path("/sock/stream-nonblock"))
	srv.Listen(1)
	if _, err := srv.Accept(true); err != -defs.EAGAIN {
		t.Fatalf("expected EAGAIN, got %d", err)
	}
}

// withFastConnectRetry shrinks connectRetryInterval for the duration of a
// test so a 3-retry timeout doesn't cost 3 real seconds, and restores it
// afterward.
func withFastConnectRetry(t *testing.T) {
	t.Helper()
	saved := connectRetryInterval
	connectRetryInterval = time.Millisecond
	t.Cleanup(func() { connectRetryInterval = saved })
}

// TestConnectTimesOutWhenListenerNeverAccepts exercises spec.md §4.H's
// literal "sleep with a 1-second retry x 3 ... dead or timeout ->
// ETIMEDOUT": a client parked in a listener's accept queue whose listener
// never calls Accept must eventually give up rather than block forever.
func TestConnectTimesOutWhenListenerNeverAccepts(t *testing.T) {
	withFastConnectRetry(t)

	srv, _ := NewEndpoint(SockStream)
	srv.Bind(path("/sock/stream-never-accepted"))
	srv.Listen(1)

	cli, _ := NewEndpoint(SockStream)
	done := make(chan defs.Err_t, 1)
	go func() { done <- cli.Connect(path("/sock/stream-never-accepted")) }()

	select {
	case err := <-done:
		if err != -defs.ETIMEDOUT {
			t.Fatalf("expected ETIMEDOUT, got %d", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect to give up")
	}
}

// TestCloseRefusesQueuedAcceptClients covers the Close-side half of the
// same bug: a client parked in a listening endpoint's acceptq must be
// woken with ECONNREFUSED when that listener closes instead of being left
// to block forever on a listener that will never call Accept again.
func TestCloseRefusesQueuedAcceptClients(t *testing.T) {
	srv, _ := NewEndpoint(SockStream)
	srv.Bind(path("/sock/stream-close-queued"))
	srv.Listen(1)

	cli, _ := NewEndpoint(SockStream)
	done := make(chan defs.Err_t, 1)
	go func() { done <- cli.Connect(path("/sock/stream-close-queued")) }()

	time.Sleep(10 * time.Millisecond) // let the client park in srv's acceptq
	if err := srv.Close(); err != 0 {
		t.Fatalf("close: %d", err)
	}

	select {
	case err := <-done:
		if err != -defs.ECONNREFUSED {
			t.Fatalf("expected ECONNREFUSED, got %d", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued client to be refused")
	}
}
