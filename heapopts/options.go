// Package heapopts holds the tuning knobs of the slab allocator and the
// incremental collector, and loads them from YAML files.
package heapopts

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Options contains every setting that influences allocation and collection.
// The zero value is not usable; start from Default.
type Options struct {
	// Number of slots in every slab.
	SlabCapacity int `yaml:"slab-capacity"`

	// Upper bound on the number of slabs. Zero means unbounded. When the
	// bound is reached and every slot is taken, allocation reports
	// heap.ErrOutOfMemory instead of growing.
	MaxSlabs int `yaml:"max-slabs"`

	// How many random slot probes are tried before falling back to a
	// linear scan of the slab.
	ProbeLimit int `yaml:"probe-limit"`

	// Free-slot low-water mark of the last slab while the pool is small
	// (at most SmallHeapSlabs slabs). Larger pools use half the slab
	// capacity instead.
	LowWater       int `yaml:"low-water"`
	SmallHeapSlabs int `yaml:"small-heap-slabs"`

	// Wall-clock budget of one incremental collector step.
	StepBudget time.Duration `yaml:"step-budget"`

	// Minimum time between the end of one cycle and the start of the next.
	MinCycleInterval time.Duration `yaml:"min-cycle-interval"`

	// Units of mark or sweep work between two budget checks.
	CheckInterval int `yaml:"check-interval"`

	// Seed for the slot probe generator.
	Seed uint64 `yaml:"seed"`

	// Print collector state transitions to the trace writer.
	Trace bool `yaml:"trace"`
}

// Default returns the options used when no configuration file is given.
func Default() Options {
	return Options{
		SlabCapacity:     1000,
		ProbeLimit:       10,
		LowWater:         16,
		SmallHeapSlabs:   4,
		StepBudget:       5 * time.Millisecond,
		MinCycleInterval: 10 * time.Millisecond,
		CheckInterval:    1000,
		Seed:             0x5eed,
	}
}

// Verify performs validation on the given options, raising an error if
// options are not valid.
func (o *Options) Verify() error {
	if o.SlabCapacity < 1 {
		return fmt.Errorf("invalid slab-capacity %d: must be at least 1", o.SlabCapacity)
	}
	if o.MaxSlabs < 0 {
		return fmt.Errorf("invalid max-slabs %d: must not be negative", o.MaxSlabs)
	}
	if o.ProbeLimit < 0 {
		return fmt.Errorf("invalid probe-limit %d: must not be negative", o.ProbeLimit)
	}
	if o.LowWater < 0 || o.LowWater > o.SlabCapacity {
		return fmt.Errorf("invalid low-water %d: must be between 0 and slab-capacity (%d)", o.LowWater, o.SlabCapacity)
	}
	if o.SmallHeapSlabs < 0 {
		return fmt.Errorf("invalid small-heap-slabs %d: must not be negative", o.SmallHeapSlabs)
	}
	if o.StepBudget <= 0 {
		return fmt.Errorf("invalid step-budget %s: must be positive", o.StepBudget)
	}
	if o.MinCycleInterval < 0 {
		return fmt.Errorf("invalid min-cycle-interval %s: must not be negative", o.MinCycleInterval)
	}
	if o.CheckInterval < 1 {
		return fmt.Errorf("invalid check-interval %d: must be at least 1", o.CheckInterval)
	}
	return nil
}

// Parse reads options from YAML source. Keys that are not present keep
// their default value; unknown keys are an error.
func Parse(data []byte) (Options, error) {
	opts := Default()
	if err := yaml.UnmarshalStrict(data, &opts); err != nil {
		return Options{}, fmt.Errorf("heapopts: %w", err)
	}
	if err := opts.Verify(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load reads options from the YAML file at path. An empty path returns the
// defaults.
func Load(path string) (Options, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Options{}, fmt.Errorf("heapopts: config file %s does not exist", path)
	} else if err != nil {
		return Options{}, err
	}
	opts, err := Parse(data)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}
