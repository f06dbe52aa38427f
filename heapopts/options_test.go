package heapopts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultVerifies(t *testing.T) {
	opts := Default()
	if err := opts.Verify(); err != nil {
		t.Errorf("Default().Verify() returned %v, want nil", err)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		errMsg string
	}{
		{"capacity", func(o *Options) { o.SlabCapacity = 0 }, "invalid slab-capacity 0"},
		{"max-slabs", func(o *Options) { o.MaxSlabs = -1 }, "invalid max-slabs -1"},
		{"probes", func(o *Options) { o.ProbeLimit = -3 }, "invalid probe-limit -3"},
		{"low-water", func(o *Options) { o.LowWater = o.SlabCapacity + 1 }, "invalid low-water 1001"},
		{"budget", func(o *Options) { o.StepBudget = 0 }, "invalid step-budget 0s"},
		{"interval", func(o *Options) { o.MinCycleInterval = -time.Second }, "invalid min-cycle-interval -1s"},
		{"check", func(o *Options) { o.CheckInterval = 0 }, "invalid check-interval 0"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			opts := Default()
			tc.mutate(&opts)
			err := opts.Verify()
			if err == nil {
				t.Fatalf("Verify() returned nil, want error containing %q", tc.errMsg)
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("Verify() returned %q, want it to contain %q", err, tc.errMsg)
			}
		})
	}
}

func TestParse(t *testing.T) {
	opts, err := Parse([]byte("slab-capacity: 64\nstep-budget: 2ms\nmin-cycle-interval: 0s\ntrace: true\n"))
	if err != nil {
		t.Fatalf("Parse returned %v", err)
	}
	if opts.SlabCapacity != 64 {
		t.Errorf("SlabCapacity = %d, want 64", opts.SlabCapacity)
	}
	if opts.StepBudget != 2*time.Millisecond {
		t.Errorf("StepBudget = %s, want 2ms", opts.StepBudget)
	}
	if opts.MinCycleInterval != 0 {
		t.Errorf("MinCycleInterval = %s, want 0s", opts.MinCycleInterval)
	}
	if !opts.Trace {
		t.Errorf("Trace = false, want true")
	}
	// Untouched keys keep their defaults.
	if opts.ProbeLimit != Default().ProbeLimit {
		t.Errorf("ProbeLimit = %d, want default %d", opts.ProbeLimit, Default().ProbeLimit)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("slab-size: 10\n")); err == nil {
		t.Errorf("Parse accepted an unknown key")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gc.yaml")
	if err := os.WriteFile(path, []byte("max-slabs: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned %v", err)
	}
	if opts.MaxSlabs != 3 {
		t.Errorf("MaxSlabs = %d, want 3", opts.MaxSlabs)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("Load of a missing file returned nil error")
	}

	opts, err = Load("")
	if err != nil || opts != Default() {
		t.Errorf("Load(\"\") returned %+v, %v, want defaults", opts, err)
	}
}
