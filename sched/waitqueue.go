package sched

import (
	"container/list"
	"time"

	"hexahedron/lock"
)

// WakeReason reports why Block/BlockTimeout returned, mirroring
// lock.Sleepq's WakeReason (WakeupThread/WakeupTime/WakeupSignal) for
// the same three outcomes, now carried against a scheduled Thread
// instead of a bare goroutine channel.
type WakeReason int

const (
	WakeupThread WakeReason = iota
	WakeupTime
	WakeupSignal
)

type waitEntry struct {
	t      *Thread
	reason WakeReason
	woken  bool
	elem   *list.Element
}

// WaitQueue is a FIFO of threads blocked on some condition (a mutex, an
// empty circbuf, an accept queue with no pending connection), per
// spec.md §4.A's Sleepq contract generalized to carry scheduler threads:
// insert parks the calling thread off its CPU's run queue, wake(n) pops
// up to n waiters and hands them back to their CPU so the dispatch loop
// resumes them. Ground truth: lock.Sleepq's Insert/Wake/WakeAll shape,
// reimplemented rather than wrapped because lock.Sleepq's Waiter parks a
// bare goroutine on a channel with no run-queue to re-insert into —
// sched.WaitQueue's Thread-aware variant is a distinct type, not a
// generalization of the same struct, and lock.Sleepq's API is already
// covered by lock_test.go's assertions on Wake's int-count return.
type WaitQueue struct {
	mu    lock.Spinlock
	items *list.List
}

// Init prepares an empty queue. A zero-value WaitQueue is not usable
// until Init is called.
func (wq *WaitQueue) Init() {
	wq.items = list.New()
}

func (wq *WaitQueue) insert(t *Thread) *waitEntry {
	e := &waitEntry{t: t}
	wq.mu.Acquire()
	e.elem = wq.items.PushBack(e)
	wq.mu.Release()
	return e
}

func (wq *WaitQueue) remove(e *waitEntry) {
	wq.mu.Acquire()
	if e.elem != nil {
		wq.items.Remove(e.elem)
		e.elem = nil
	}
	wq.mu.Release()
}

// Block parks the calling thread t on wq until Wake or WakeThread
// targets it, then returns the reason it was resumed. t's CPU dispatch
// loop is free to run other threads in the meantime: Block yields with
// reschedule=false, so t is off its run queue entirely until a wake
// re-queues it.
func (wq *WaitQueue) Block(t *Thread) WakeReason {
	e := wq.insert(t)
	t.cpu.Yield(t, false)
	return e.reason
}

// BlockTimeout is like Block but additionally wakes with WakeupTime once
// d elapses, matching spec.md §4.A's untilTime(sec,usec) sleep state.
func (wq *WaitQueue) BlockTimeout(t *Thread, d time.Duration) WakeReason {
	e := wq.insert(t)
	timer := time.AfterFunc(d, func() {
		wq.wake(e, WakeupTime)
	})
	t.cpu.Yield(t, false)
	timer.Stop()
	return e.reason
}

// wake marks e resumed with reason (if not already resumed by some
// other path) and re-queues its thread onto its own CPU's run queue.
func (wq *WaitQueue) wake(e *waitEntry, reason WakeReason) {
	wq.mu.Acquire()
	if e.woken {
		wq.mu.Release()
		return
	}
	e.woken = true
	e.reason = reason
	if e.elem != nil {
		wq.items.Remove(e.elem)
		e.elem = nil
	}
	wq.mu.Release()
	e.t.cpu.requeue(e.t)
}

// Wake resumes up to n threads from the front of the queue with
// WakeupThread, returning the number actually woken — the same contract
// as lock.Sleepq.Wake.
func (wq *WaitQueue) Wake(n int) int {
	wq.mu.Acquire()
	var woke []*waitEntry
	for len(woke) < n {
		front := wq.items.Front()
		if front == nil {
			break
		}
		wq.items.Remove(front)
		e := front.Value.(*waitEntry)
		e.elem = nil
		woke = append(woke, e)
	}
	wq.mu.Release()
	for _, e := range woke {
		wq.mu.Acquire()
		e.woken = true
		e.reason = WakeupThread
		wq.mu.Release()
		e.t.cpu.requeue(e.t)
	}
	return len(woke)
}

// WakeAll resumes every thread currently parked on wq.
func (wq *WaitQueue) WakeAll() int {
	return wq.Wake(1 << 30)
}

// WakeThread resumes t specifically, regardless of its FIFO position,
// with the given reason — the path signal delivery takes against a
// sleeping thread (spec.md §4.G: "delivering a signal to a sleeping
// thread wakes it with wakeup-signal"), which cannot wait for its turn
// at the front of the queue. It is a no-op if t is not currently parked
// on wq.
func (wq *WaitQueue) WakeThread(t *Thread, reason WakeReason) {
	wq.mu.Acquire()
	var found *waitEntry
	for e := wq.items.Front(); e != nil; e = e.Next() {
		we := e.Value.(*waitEntry)
		if we.t == t {
			found = we
			break
		}
	}
	wq.mu.Release()
	if found != nil {
		wq.wake(found, reason)
	}
}

// Len reports the number of threads currently parked.
func (wq *WaitQueue) Len() int {
	wq.mu.Acquire()
	defer wq.mu.Release()
	return wq.items.Len()
}

// ThreadWaker implements signal.Waker: its Signal cancels t's wait on wq
// with WakeupSignal, the hook signal.ThreadState.Send uses to interrupt a
// blocked thread without going through the package import that would
// otherwise cycle back from signal to sched. Callers obtain one via
// WaitQueue.Waker.
type ThreadWaker struct {
	wq *WaitQueue
	t  *Thread
}

// Waker returns a signal.Waker-compatible handle that cancels t's
// current wait on wq with WakeupSignal; if t is not parked on wq when
// Signal is called, nothing happens.
func (wq *WaitQueue) Waker(t *Thread) ThreadWaker {
	return ThreadWaker{wq: wq, t: t}
}

// Signal cancels tw's thread's wait with WakeupSignal.
func (tw ThreadWaker) Signal() {
	tw.wq.WakeThread(tw.t, WakeupSignal)
}
