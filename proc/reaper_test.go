package proc

import (
	"testing"

	"hexahedron/accnt"
	"hexahedron/sched"
)

func TestReapMergesAccountingAndFreesPids(t *testing.T) {
	parent, _ := NewProc("parent", nil, rootCwd())
	cpu := sched.NewCPU(0)

	var zombies []*Proc_t
	for i := 0; i < 3; i++ {
		z, _ := NewProc("z", parent, rootCwd())
		z.Accnt.Utadd(1000)
		z.Accnt.Systadd(500)
		zombies = append(zombies, z)
	}
	_ = cpu

	total := &accnt.Accnt_t{}
	if err := Reap(zombies, total); err != nil {
		t.Fatalf("unexpected reap error: %v", err)
	}
	if total.Userns != 3000 || total.Sysns != 1500 {
		t.Fatalf("expected merged accounting 3000/1500, got %d/%d", total.Userns, total.Sysns)
	}
	for _, z := range zombies {
		if pids.used[z.Pid] {
			t.Fatalf("expected pid %d freed by Reap", z.Pid)
		}
	}
}

func TestBringupCPUsRunsEachBootFunc(t *testing.T) {
	const n = 4
	seen := make(chan int, n)
	err := BringupCPUs(n, func(cpu *sched.CPU) error {
		seen <- cpu.ID
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != n {
		t.Fatalf("expected %d CPUs brought up, got %d", n, len(seen))
	}
}
