package accnt

import (
	"testing"

	"hexahedron/util"
)

func TestUtaddSystaddAccumulate(t *testing.T) {
	a := &Accnt_t{}
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(10)
	if a.Userns != 150 {
		t.Fatalf("Userns = %d, want 150", a.Userns)
	}
	if a.Sysns != 10 {
		t.Fatalf("Sysns = %d, want 10", a.Sysns)
	}
}

func TestAddMergesCounters(t *testing.T) {
	a := &Accnt_t{Userns: 100, Sysns: 20}
	b := &Accnt_t{Userns: 5, Sysns: 7}
	a.Add(b)
	if a.Userns != 105 || a.Sysns != 27 {
		t.Fatalf("merged = {%d, %d}, want {105, 27}", a.Userns, a.Sysns)
	}
}

func TestToRusageEncodesSecsAndUsecs(t *testing.T) {
	a := &Accnt_t{Userns: 2*1e9 + 500000*1000, Sysns: 3 * 1e9}
	ru := a.Fetch()
	if len(ru) != 32 {
		t.Fatalf("rusage encoding len = %d, want 32", len(ru))
	}
	usecSecs := util.Readn(ru, 8, 0)
	usecUsecs := util.Readn(ru, 8, 8)
	sysSecs := util.Readn(ru, 8, 16)
	if usecSecs != 2 || usecUsecs != 500000 {
		t.Fatalf("user timeval = {%d, %d}, want {2, 500000}", usecSecs, usecUsecs)
	}
	if sysSecs != 3 {
		t.Fatalf("sys timeval secs = %d, want 3", sysSecs)
	}
}

func TestPprofLabelsPidAndReportsCounters(t *testing.T) {
	a := &Accnt_t{Userns: 42, Sysns: 7}
	p := a.Pprof(1234)

	if len(p.Sample) != 1 {
		t.Fatalf("expected one sample, got %d", len(p.Sample))
	}
	s := p.Sample[0]
	if len(s.Value) != 2 || s.Value[0] != 42 || s.Value[1] != 7 {
		t.Fatalf("sample values = %v, want [42 7]", s.Value)
	}
	pids, ok := s.Label["pid"]
	if !ok || len(pids) != 1 || pids[0] != "1234" {
		t.Fatalf("sample pid label = %v, want [1234]", pids)
	}
	if len(p.SampleType) != 2 || p.SampleType[0].Type != "user_ns" || p.SampleType[1].Type != "sys_ns" {
		t.Fatalf("unexpected sample types: %+v", p.SampleType)
	}
}

func TestPprofDoesNotMutateCounters(t *testing.T) {
	a := &Accnt_t{Userns: 1, Sysns: 2}
	a.Pprof(1)
	if a.Userns != 1 || a.Sysns != 2 {
		t.Fatalf("Pprof mutated counters: {%d, %d}", a.Userns, a.Sysns)
	}
}
