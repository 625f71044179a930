package klog

import "testing"

func TestDistinctCallerDedup(t *testing.T) {
	dc := &DistinctCaller{Enabled: true}

	call := func() (bool, string) { return dc.Distinct() }

	// Both calls must come from the same call site to share a chain.
	var novel [2]bool
	var trace [2]string
	for i := range novel {
		novel[i], trace[i] = call()
	}
	if !novel[0] {
		t.Fatal("first call from a given chain must be novel")
	}
	if trace[0] == "" {
		t.Fatal("novel call must produce a trace")
	}

	if novel[1] {
		t.Fatal("second call from the same chain must not be novel")
	}

	if dc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", dc.Len())
	}
}

func TestDistinctCallerDisabled(t *testing.T) {
	dc := &DistinctCaller{Enabled: false}
	novel, trace := dc.Distinct()
	if novel || trace != "" {
		t.Fatal("disabled DistinctCaller must never report novel")
	}
}

func TestDistinctCallerWhitelist(t *testing.T) {
	dc := &DistinctCaller{Enabled: true, Whitel: map[string]bool{
		"testing.tRunner": true,
	}}
	// A whitelisted function anywhere in the recorded chain suppresses it.
	if novel, trace := dc.Distinct(); novel || trace != "" {
		t.Fatal("expected a chain through a whitelisted function to be suppressed")
	}
	dc2 := &DistinctCaller{Enabled: true}
	novel, _ := dc2.Distinct()
	if !novel {
		t.Fatal("expected novel on first call")
	}
}
