package heap

// The pool is a growable list of fixed-size slabs. Every slab is a flat
// array of slots and every slot owns at most one payload. A slot is in one
// of three states:
//
//   - free: no payload.
//   - used: owns a payload.
//   - mark: owns a payload that the current collection cycle found
//     reachable (or that was allocated while the cycle was running).
//
// During normal operation (collector idle) there are no marked slots. The
// sweep turns every marked slot back into a used slot and every used slot
// into a free one.
//
// Slabs are never returned once created: an empty slab simply stays around
// for future allocations.

import (
	"errors"
	"math/rand/v2"

	"github.com/tinygo-org/slabgc/heapopts"
)

// ErrOutOfMemory is returned when the pool has reached its slab limit and
// every slot is taken.
var ErrOutOfMemory = errors.New("out of memory")

// SlotState stores the three states in which a slot can be.
type SlotState uint8

const (
	SlotFree SlotState = iota
	SlotUsed
	SlotMarked
)

// String returns a human-readable version of the slot state, for debugging.
func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotUsed:
		return "used"
	case SlotMarked:
		return "mark"
	default:
		// must never happen
		return "!err"
	}
}

type slot struct {
	obj   object // nil when free
	state SlotState
}

type slab struct {
	slots []slot
	free  int
}

// Pool is the slab allocator backing string and array payloads.
type Pool struct {
	slabs    []*slab
	capacity int
	maxSlabs int
	probes   int

	lowWater       int
	smallHeapSlabs int

	rng *rand.Rand

	// dirty is set when the pool would like a collection cycle. The
	// collector consumes it.
	dirty bool

	live       int     // slots in use
	liveBytes  uintptr // payload bytes in use
	mallocs    uint64  // total number of allocations
	frees      uint64  // total number of releases
	totalBytes uint64  // total number of payload bytes allocated
}

func newPool(opts *heapopts.Options) *Pool {
	return &Pool{
		capacity:       opts.SlabCapacity,
		maxSlabs:       opts.MaxSlabs,
		probes:         opts.ProbeLimit,
		lowWater:       opts.LowWater,
		smallHeapSlabs: opts.SmallHeapSlabs,
		rng:            rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// allocate claims a free slot for obj and returns its handle. The payload
// gets its back-reference set before allocate returns.
func (p *Pool) allocate(obj object) (Handle, error) {
	// Find a slab with room, growing the pool when there is none.
	index := -1
	for i, s := range p.slabs {
		if s.free > 0 {
			index = i
			break
		}
	}
	grew := false
	if index < 0 {
		if p.maxSlabs > 0 && len(p.slabs) >= p.maxSlabs {
			return Handle{}, ErrOutOfMemory
		}
		p.slabs = append(p.slabs, &slab{
			slots: make([]slot, p.capacity),
			free:  p.capacity,
		})
		index = len(p.slabs) - 1
		grew = true
		p.dirty = true
	}

	s := p.slabs[index]
	i := p.findFree(s)
	h := makeHandle(index, i)
	switch o := obj.(type) {
	case *StringPayload:
		o.h = h
	case *ArrayPayload:
		o.h = h
	}
	s.slots[i] = slot{obj: obj, state: SlotUsed}
	s.free--

	p.live++
	p.liveBytes += obj.size()
	p.mallocs++
	p.totalBytes += uint64(obj.size())

	// Schedule a cycle when the newest slab runs low. Small pools use a
	// fixed mark, large pools a relative one.
	if !grew && index == len(p.slabs)-1 && s.free < p.lowWaterMark() {
		p.dirty = true
	}
	return h, nil
}

// findFree returns the index of a free slot in s, which must have one.
func (p *Pool) findFree(s *slab) int {
	if gcAsserts && s.free <= 0 {
		panic("gc: no free slot in slab")
	}
	n := len(s.slots)
	for try := 0; try < p.probes; try++ {
		i := p.rng.IntN(n)
		if s.slots[i].state == SlotFree {
			return i
		}
	}
	start := p.rng.IntN(n)
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if s.slots[i].state == SlotFree {
			return i
		}
	}
	panic("gc: slab free count is wrong")
}

func (p *Pool) lowWaterMark() int {
	if len(p.slabs) <= p.smallHeapSlabs {
		return p.lowWater
	}
	return p.capacity / 2
}

// slot returns the slot named by h.
func (p *Pool) slot(h Handle) *slot {
	if gcAsserts && (h.IsNil() || h.Slab() >= len(p.slabs) || h.Slot() >= p.capacity) {
		panic("gc: invalid handle " + h.String())
	}
	return &p.slabs[h.Slab()].slots[h.Slot()]
}

// release frees the payload in slot h.
func (p *Pool) release(h Handle) {
	sl := p.slot(h)
	if sl.state == SlotFree {
		panic("gc: double free of " + h.String())
	}
	size := sl.obj.size()
	sl.obj.release()
	*sl = slot{}
	p.slabs[h.Slab()].free++

	p.live--
	p.liveBytes -= size
	p.frees++
}

// teardown drops every payload and every slab, regardless of reachability.
func (p *Pool) teardown() {
	for _, s := range p.slabs {
		for i := range s.slots {
			if s.slots[i].obj != nil {
				s.slots[i].obj.release()
			}
		}
	}
	p.slabs = nil
	p.live = 0
	p.liveBytes = 0
	p.dirty = false
}

// Len returns the number of slabs.
func (p *Pool) Len() int { return len(p.slabs) }

// Live returns the number of occupied slots.
func (p *Pool) Live() int { return p.live }

// States returns a copy of the slot states of slab i.
func (p *Pool) States(i int) []SlotState {
	s := p.slabs[i]
	states := make([]SlotState, len(s.slots))
	for j := range s.slots {
		states[j] = s.slots[j].state
	}
	return states
}

// Free returns the number of free slots of slab i.
func (p *Pool) Free(i int) int { return p.slabs[i].free }
