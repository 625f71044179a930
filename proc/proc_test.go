package proc

import (
	"testing"
	"time"

	"hexahedron/defs"
	"hexahedron/elfops"
	"hexahedron/fd"
	"hexahedron/mem"
	"hexahedron/sched"
)

// NewProc allocates a page-table root, so the PFA must be bootstrapped
// before any test in this package runs.
var _ = mem.Init([]mem.Region{{Start: 0, Pages: 4096, Tag: mem.RegionAvailable}})

func rootCwd() *fd.Cwd_t {
	return fd.MkRootCwd(nil)
}

func TestNewProcAssignsDistinctPids(t *testing.T) {
	a, err := NewProc("a", nil, rootCwd())
	if err != 0 {
		t.Fatalf("unexpected error %d", err)
	}
	b, err := NewProc("b", nil, rootCwd())
	if err != 0 {
		t.Fatalf("unexpected error %d", err)
	}
	if a.Pid == b.Pid {
		t.Fatal("expected distinct pids")
	}
}

func TestGetrusageAndPprofReflectAccounting(t *testing.T) {
	p, err := NewProc("acct", nil, rootCwd())
	if err != 0 {
		t.Fatalf("unexpected error %d", err)
	}
	p.Accnt.Utadd(1000)
	p.Accnt.Systadd(2000)

	ru := p.Getrusage()
	if len(ru) == 0 {
		t.Fatal("expected a non-empty rusage encoding")
	}

	prof := p.Pprof()
	if len(prof.Sample) != 1 || prof.Sample[0].Value[0] != 1000 || prof.Sample[0].Value[1] != 2000 {
		t.Fatalf("unexpected pprof sample: %+v", prof.Sample)
	}
	pids := prof.Sample[0].Label["pid"]
	if len(pids) != 1 {
		t.Fatalf("expected a pid label, got %v", pids)
	}
}

func TestNewProcRegistersChild(t *testing.T) {
	parent, _ := NewProc("parent", nil, rootCwd())
	child, _ := NewProc("child", parent, rootCwd())
	if _, ok := parent.Children[child.Pid]; !ok {
		t.Fatal("expected child registered under parent")
	}
}

func TestForkDuplicatesAddressSpaceAndRuns(t *testing.T) {
	cpu := sched.NewCPU(0)
	parent, _ := NewProc("parent", nil, rootCwd())
	parent.Vas.Reserve(0x1000, mem.PGSIZE, mem.PTE_U|mem.PTE_W)

	ran := make(chan bool, 1)
	child, err := parent.Fork(cpu, func(t *Thread_t) {
		_, ok := t.Proc.Vas.Vmregion.Lookup(0x1000)
		ran <- ok
	})
	if err != 0 {
		t.Fatalf("fork failed: %d", err)
	}
	go cpu.Boot()

	select {
	case ok := <-ran:
		if !ok {
			t.Fatal("expected child to inherit parent's mapping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child thread to run")
	}
	if child.Parent != parent {
		t.Fatal("expected child's parent to be set")
	}
}

func TestWaitpidReapsExitedChild(t *testing.T) {
	cpu := sched.NewCPU(0)
	parent, _ := NewProc("parent", nil, rootCwd())

	child, _ := parent.Fork(cpu, func(t *Thread_t) {
		t.Proc.Exit(defs.ExitNormal(7))
	})

	waited := make(chan struct {
		pid defs.Pid_t
		sts int
	}, 1)
	parent.NewThread(cpu, func(self *Thread_t) {
		pid, sts, ru, _ := parent.Waitpid(self, 0)
		if len(ru) == 0 {
			t.Error("expected a non-empty rusage encoding from Waitpid")
		}
		waited <- struct {
			pid defs.Pid_t
			sts int
		}{pid, sts}
	})

	go cpu.Boot()

	select {
	case w := <-waited:
		if w.pid != child.Pid {
			t.Fatalf("expected to reap pid %d, got %d", child.Pid, w.pid)
		}
		if w.sts != defs.ExitNormal(7) {
			t.Fatalf("expected exit status %d, got %d", defs.ExitNormal(7), w.sts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for waitpid to reap the child")
	}
	if _, ok := parent.Children[child.Pid]; ok {
		t.Fatal("expected child removed from parent's Children after reap")
	}
}

func TestExecReplacesAddressSpace(t *testing.T) {
	p, _ := NewProc("p", nil, rootCwd())
	p.Vas.Reserve(0x1000, mem.PGSIZE, mem.PTE_U)

	loader := elfops.NewStaticLoader()
	loader.Register("/bin/init", elfops.Program{
		Entry:   0x500000,
		Brkaddr: 0x501000,
		Segments: []elfops.Segment{
			{Start: 0x500000, Length: mem.PGSIZE, Perms: uintptr(mem.PTE_U)},
		},
	})

	img, err := p.Exec(loader, "/bin/init")
	if err != 0 {
		t.Fatalf("exec failed: %d", err)
	}
	if img.Entry != 0x500000 {
		t.Fatalf("unexpected entry %x", img.Entry)
	}
	if _, ok := p.Vas.Vmregion.Lookup(0x1000); ok {
		t.Fatal("old mapping should not survive exec")
	}
	if _, ok := p.Vas.Vmregion.Lookup(0x500000); !ok {
		t.Fatal("new mapping should be installed after exec")
	}
}

func TestExecRejectsMultithreaded(t *testing.T) {
	cpu := sched.NewCPU(0)
	p, _ := NewProc("p", nil, rootCwd())
	done := make(chan struct{})
	p.NewThread(cpu, func(t *Thread_t) { <-done })
	p.NewThread(cpu, func(t *Thread_t) { <-done })

	loader := elfops.NewStaticLoader()
	_, err := p.Exec(loader, "/bin/init")
	if err != -defs.EINVAL {
		t.Fatalf("expected EINVAL for multithreaded exec, got %d", err)
	}
	close(done)
}
