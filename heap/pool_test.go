package heap

import (
	"errors"
	"testing"

	"github.com/tinygo-org/slabgc/heapopts"
)

func testPool(t *testing.T, modify func(*heapopts.Options)) *Pool {
	t.Helper()
	opts := heapopts.Default()
	if modify != nil {
		modify(&opts)
	}
	if err := opts.Verify(); err != nil {
		t.Fatal(err)
	}
	return newPool(&opts)
}

func newPayload() *StringPayload {
	return &StringPayload{data: []byte("payload")}
}

func TestAllocateFillsSlab(t *testing.T) {
	p := testPool(t, func(o *heapopts.Options) {
		o.SlabCapacity = 64
		o.LowWater = 0
	})
	seen := make(map[Handle]bool)
	for i := 0; i < 64; i++ {
		obj := newPayload()
		h, err := p.allocate(obj)
		if err != nil {
			t.Fatalf("allocate %d returned error: %v", i, err)
		}
		if seen[h] {
			t.Fatalf("allocate %d returned slot %s twice", i, h)
		}
		seen[h] = true
		if obj.handle() != h {
			t.Errorf("payload back-reference is %s, want %s", obj.handle(), h)
		}
		if st := p.slot(h).state; st != SlotUsed {
			t.Errorf("new slot %s is %s, want %s", h, st, SlotUsed)
		}
	}
	if p.Len() != 1 || p.Free(0) != 0 {
		t.Errorf("after filling: %d slabs, %d free", p.Len(), p.Free(0))
	}

	// The next allocation needs a new slab.
	p.dirty = false
	h, err := p.allocate(newPayload())
	if err != nil {
		t.Fatal(err)
	}
	if h.Slab() != 1 || !p.dirty {
		t.Errorf("allocate on a full pool returned %s, dirty=%v, want slab 1 and dirty", h, p.dirty)
	}
}

// With every slot but one taken the random probes almost always miss and
// the linear scan has to find the hole.
func TestAllocateFindsLastHole(t *testing.T) {
	for hole := 0; hole < 16; hole++ {
		p := testPool(t, func(o *heapopts.Options) {
			o.SlabCapacity = 16
			o.LowWater = 0
		})
		var handles []Handle
		for i := 0; i < 16; i++ {
			h, _ := p.allocate(newPayload())
			handles = append(handles, h)
		}
		for _, h := range handles {
			if h.Slot() == hole {
				p.release(h)
			}
		}
		h, err := p.allocate(newPayload())
		if err != nil {
			t.Fatal(err)
		}
		if h.Slab() != 0 || h.Slot() != hole {
			t.Errorf("allocate returned %s, want 0:%d", h, hole)
		}
	}
}

func TestAllocateMaxSlabs(t *testing.T) {
	p := testPool(t, func(o *heapopts.Options) {
		o.SlabCapacity = 4
		o.LowWater = 0
		o.MaxSlabs = 2
	})
	for i := 0; i < 8; i++ {
		if _, err := p.allocate(newPayload()); err != nil {
			t.Fatalf("allocate %d returned error: %v", i, err)
		}
	}
	if _, err := p.allocate(newPayload()); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("allocate on a full bounded pool returned %v, want ErrOutOfMemory", err)
	}
}

func TestLowWaterMark(t *testing.T) {
	p := testPool(t, func(o *heapopts.Options) {
		o.SlabCapacity = 100
		o.LowWater = 16
		o.SmallHeapSlabs = 4
	})
	for i := 0; i < 84; i++ {
		p.allocate(newPayload())
		if i == 0 {
			if !p.dirty {
				t.Fatal("growing the pool did not request a cycle")
			}
			p.dirty = false
		}
	}
	if p.dirty {
		t.Errorf("pool dirty with %d free slots, low-water mark is 16", p.Free(0))
	}
	p.allocate(newPayload())
	if !p.dirty {
		t.Errorf("pool not dirty with %d free slots, low-water mark is 16", p.Free(0))
	}

	// Large pools use half the slab capacity.
	big := testPool(t, func(o *heapopts.Options) {
		o.SlabCapacity = 100
		o.SmallHeapSlabs = 0
	})
	for i := 0; i < 50; i++ {
		big.allocate(newPayload())
		big.dirty = false
	}
	big.allocate(newPayload())
	if !big.dirty {
		t.Errorf("large pool not dirty with %d free slots, want dirty below 50", big.Free(0))
	}
}

func TestRelease(t *testing.T) {
	p := testPool(t, nil)
	obj := newPayload()
	h, _ := p.allocate(obj)
	p.release(h)
	if st := p.slot(h).state; st != SlotFree {
		t.Errorf("released slot is %s, want %s", st, SlotFree)
	}
	if !obj.handle().IsNil() || p.Live() != 0 {
		t.Errorf("after release: payload handle %s, live %d", obj.handle(), p.Live())
	}
	if p.liveBytes != 0 || p.frees != 1 {
		t.Errorf("after release: liveBytes %d, frees %d", p.liveBytes, p.frees)
	}

	defer func() {
		if recover() == nil {
			t.Error("double free did not panic")
		}
	}()
	p.release(h)
}

func TestSlotStates(t *testing.T) {
	p := testPool(t, func(o *heapopts.Options) {
		o.SlabCapacity = 4
		o.LowWater = 0
	})
	h, _ := p.allocate(newPayload())
	states := p.States(0)
	for i, st := range states {
		want := SlotFree
		if i == h.Slot() {
			want = SlotUsed
		}
		if st != want {
			t.Errorf("slot %d is %s, want %s", i, st, want)
		}
	}
	if SlotState(7).String() != "!err" {
		t.Errorf("invalid slot state prints as %q", SlotState(7).String())
	}
}
