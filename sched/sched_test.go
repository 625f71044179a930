package sched

import (
	"testing"
	"time"
)

func TestYieldRoundRobin(t *testing.T) {
	cpu := NewCPU(0)
	order := make(chan string, 16)
	done := make(chan struct{})

	var a, b *Thread
	a = cpu.Spawn("a", func(th *Thread) {
		for i := 0; i < 3; i++ {
			order <- "a"
			cpu.Yield(th, true)
		}
		done <- struct{}{}
	})
	b = cpu.Spawn("b", func(th *Thread) {
		for i := 0; i < 3; i++ {
			order <- "b"
			cpu.Yield(th, true)
		}
		done <- struct{}{}
	})
	_ = a
	_ = b

	go cpu.Boot()

	<-done
	<-done
	close(order)
	var got []string
	for s := range order {
		got = append(got, s)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 scheduling events, got %d: %v", len(got), got)
	}
	want := []string{"a", "b", "a", "b", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected round-robin order %v, got %v", want, got)
		}
	}
}

func TestWaitQueueBlockAndWake(t *testing.T) {
	cpu := NewCPU(0)
	var wq WaitQueue
	wq.Init()

	woke := make(chan WakeReason, 1)
	cpu.Spawn("waiter", func(th *Thread) {
		r := wq.Block(th)
		woke <- r
	})

	waker := cpu.Spawn("waker", func(th *Thread) {
		for wq.Len() == 0 {
			cpu.Yield(th, true)
		}
		wq.Wake(1)
	})
	_ = waker

	go cpu.Boot()

	select {
	case r := <-woke:
		if r != WakeupThread {
			t.Fatalf("expected WakeupThread, got %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wake")
	}
}

func TestWaitQueueBlockTimeout(t *testing.T) {
	cpu := NewCPU(0)
	var wq WaitQueue
	wq.Init()

	woke := make(chan WakeReason, 1)
	cpu.Spawn("waiter", func(th *Thread) {
		r := wq.BlockTimeout(th, 10*time.Millisecond)
		woke <- r
	})

	go cpu.Boot()

	select {
	case r := <-woke:
		if r != WakeupTime {
			t.Fatalf("expected WakeupTime, got %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout wake")
	}
}

func TestWakeThreadOutOfOrder(t *testing.T) {
	cpu := NewCPU(0)
	var wq WaitQueue
	wq.Init()

	first := make(chan WakeReason, 1)
	second := make(chan WakeReason, 1)

	var secondThread *Thread
	cpu.Spawn("first", func(th *Thread) {
		first <- wq.Block(th)
	})
	secondThread = cpu.Spawn("second", func(th *Thread) {
		second <- wq.Block(th)
	})

	waker := cpu.Spawn("waker", func(th *Thread) {
		for wq.Len() < 2 {
			cpu.Yield(th, true)
		}
		wq.WakeThread(secondThread, WakeupSignal)
	})
	_ = waker

	go cpu.Boot()

	select {
	case r := <-second:
		if r != WakeupSignal {
			t.Fatalf("expected WakeupSignal, got %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for out-of-order wake")
	}

	select {
	case <-first:
		t.Fatal("first waiter should not have woken")
	default:
	}
}

func TestThreadWakerSignal(t *testing.T) {
	cpu := NewCPU(0)
	var wq WaitQueue
	wq.Init()

	result := make(chan WakeReason, 1)
	var self *Thread
	self = cpu.Spawn("victim", func(th *Thread) {
		result <- wq.Block(th)
	})

	go cpu.Boot()

	time.Sleep(10 * time.Millisecond)
	tw := wq.Waker(self)
	tw.Signal()

	select {
	case r := <-result:
		if r != WakeupSignal {
			t.Fatalf("expected WakeupSignal via ThreadWaker, got %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
