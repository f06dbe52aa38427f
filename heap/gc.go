package heap

// The collector is an incremental mark/sweep collector over the slab pool.
// It runs on the same goroutine as the interpreter: every allocation polls
// it, and a poll performs at most one time-budgeted step of work before
// returning. All progress (the mark queue and the sweep cursor) lives in the
// Collector, so the next poll resumes exactly where the previous one
// stopped.
//
// A cycle goes through these states:
//
//	idle -> dirty -> initMark -> bfsMark -> initSweep -> sweeping -> done -> idle
//
// The pool asks for a cycle (dirty) when it grows or when its newest slab
// runs low. The cycle starts on the next poll once the minimum interval
// since the previous cycle has passed. initMark marks the shadow roots
// immediately and depth first, and queues every scope value. bfsMark traces
// the queue breadth first. sweeping frees every slot that is still unmarked
// and clears the mark of the others.
//
// Two rules keep the incremental trace correct while the interpreter keeps
// running between steps:
//
//   - Allocate black: a payload allocated while a cycle is pending or in
//     progress is marked at birth (in the sweep phase only if the sweep has
//     not passed its slot yet), so that cycle never frees it.
//   - Deletion barrier: overwriting a value during marking (Heap.Store)
//     marks the old value first, so moving a payload from an untraced place
//     into an already traced one cannot hide it.
//
// Together these give snapshot-at-the-beginning semantics: whatever was
// reachable when the cycle started survives that cycle.

import (
	"fmt"
	"io"
	"time"
)

// gcAsserts enables the (cheap) invariant checks of the heap. A failing
// check is a bug in the heap or in its caller, never a script error.
const gcAsserts = true

// State is the state of the collector state machine.
type State uint8

const (
	StateIdle State = iota
	StateDirty
	StateInitMark
	StateBfsMark
	StateInitSweep
	StateSweeping
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDirty:
		return "dirty"
	case StateInitMark:
		return "initMark"
	case StateBfsMark:
		return "bfsMark"
	case StateInitSweep:
		return "initSweep"
	case StateSweeping:
		return "sweeping"
	case StateDone:
		return "done"
	default:
		return "!err"
	}
}

// marking reports whether the collector is tracing.
func (s State) marking() bool {
	return s == StateInitMark || s == StateBfsMark
}

// maxPauses is the number of step pauses kept in GCStats.
const maxPauses = 256

// Collector drives collection cycles over a Pool.
type Collector struct {
	pool  *Pool
	roots []RootProvider

	state State
	queue markQueue

	// Arrays allocated while dirty. They are born marked, so their elements
	// are queued when the cycle starts.
	bornDirty []*ArrayPayload

	// Sweep cursor: the next slot to sweep.
	sweepSlab int
	sweepSlot int

	// Work done in the current step, for budget checks.
	work int

	// Current cycle.
	before     int
	collected  int
	cycleStart time.Time
	cycleCPU   time.Duration

	lastDone time.Time
	last     CycleReport

	budget        time.Duration
	minInterval   time.Duration
	checkInterval int

	now    func() time.Time
	trace  io.Writer
	output io.Writer

	numGC      int64
	numSteps   int64
	pauseTotal time.Duration
	pauses     []time.Duration
}

// State returns the current state.
func (c *Collector) State() State { return c.state }

// AddRoots registers a root provider. Providers are consulted at the start
// of every cycle.
func (c *Collector) AddRoots(p RootProvider) {
	c.roots = append(c.roots, p)
}

// RemoveRoots deregisters a root provider.
func (c *Collector) RemoveRoots(p RootProvider) {
	for i, r := range c.roots {
		if r == p {
			c.roots = append(c.roots[:i], c.roots[i+1:]...)
			return
		}
	}
}

// Poll gives the collector a chance to run. Without wholeCycle it does at
// most one step of at most the step budget, and only when a cycle is due.
// With wholeCycle it runs from the current state through the end of the
// cycle without yielding, starting a new cycle if none is pending. The
// cycle summary is written to the output unless silent is set.
func (c *Collector) Poll(wholeCycle, silent bool) {
	if c.state == StateIdle && (c.pool.dirty || wholeCycle) {
		c.setState(StateDirty)
	}
	switch c.state {
	case StateIdle:
		return
	case StateDirty:
		if !wholeCycle && c.now().Sub(c.lastDone) < c.minInterval {
			return
		}
	}
	c.step(wholeCycle, silent)
}

// step runs the state machine until it yields or the cycle is done.
func (c *Collector) step(wholeCycle, silent bool) {
	start := c.now()
	startCPU := cpuTime()
	c.work = 0
	defer func() {
		c.endStep(start, startCPU)
	}()

	for {
		switch c.state {
		case StateDirty:
			c.beginCycle(start)
		case StateInitMark:
			c.markRoots()
			c.setState(StateBfsMark)
		case StateBfsMark:
			if !c.drain(start, wholeCycle) {
				c.yield(start)
				return
			}
			c.setState(StateInitSweep)
		case StateInitSweep:
			c.sweepSlab, c.sweepSlot = 0, 0
			c.setState(StateSweeping)
		case StateSweeping:
			if !c.sweep(start, wholeCycle) {
				c.yield(start)
				return
			}
			c.setState(StateDone)
		case StateDone:
			// The step is not over yet, but the report needs this step's
			// CPU time.
			c.cycleCPU += cpuTime() - startCPU
			startCPU = cpuTime()
			c.finishCycle(silent)
			return
		default:
			return
		}
	}
}

func (c *Collector) beginCycle(start time.Time) {
	c.before = c.pool.live
	c.collected = 0
	c.cycleStart = start
	c.cycleCPU = 0
	c.queue.Reset()
	c.pool.dirty = false
	c.setState(StateInitMark)
}

// markRoots marks every shadow root right away and queues every scope value
// for tracing.
func (c *Collector) markRoots() {
	for _, p := range c.roots {
		for _, v := range p.ShadowRoots() {
			c.mark(*v, true)
		}
	}
	for _, p := range c.roots {
		for _, scope := range p.ActiveScopes() {
			for _, v := range scope {
				c.enqueue(*v)
			}
		}
	}
	for _, a := range c.bornDirty {
		for _, e := range a.elems[:a.count] {
			c.enqueue(e)
		}
	}
	clear(c.bornDirty)
	c.bornDirty = c.bornDirty[:0]
}

// drain traces queued values until the queue is empty (true) or the step
// budget is used up (false).
func (c *Collector) drain(start time.Time, wholeCycle bool) bool {
	for !c.queue.Empty() {
		c.mark(c.queue.Pop(), false)
		if c.overBudget(start, wholeCycle) && !c.queue.Empty() {
			return false
		}
	}
	return true
}

// sweep frees unmarked slots and unmarks marked ones, starting at the sweep
// cursor. It returns false when it ran out of budget.
func (c *Collector) sweep(start time.Time, wholeCycle bool) bool {
	// The pool may grow between steps; new slabs are swept too.
	for c.sweepSlab < len(c.pool.slabs) {
		s := c.pool.slabs[c.sweepSlab]
		for c.sweepSlot < len(s.slots) {
			i := c.sweepSlot
			c.sweepSlot++
			switch s.slots[i].state {
			case SlotUsed:
				c.pool.release(makeHandle(c.sweepSlab, i))
				c.collected++
			case SlotMarked:
				s.slots[i].state = SlotUsed
			}
			if c.overBudget(start, wholeCycle) {
				return false
			}
		}
		c.sweepSlab++
		c.sweepSlot = 0
	}
	return true
}

// overBudget counts one finished unit of work and, every checkInterval
// units, checks the clock. Every step therefore makes progress. A
// whole-cycle run never runs over budget.
func (c *Collector) overBudget(start time.Time, wholeCycle bool) bool {
	c.work++
	if wholeCycle || c.work%c.checkInterval != 0 {
		return false
	}
	return c.now().Sub(start) > c.budget
}

// mark marks the payload named by v, following a reference first. Array
// elements are traced right away when deep is set and queued otherwise.
func (c *Collector) mark(v Value, deep bool) {
	v = v.Dereference()
	if gcAsserts && v.kind == KindReference {
		panic("gc: reference to a reference")
	}
	obj := v.object()
	if obj == nil {
		return
	}
	h := obj.handle()
	if h.IsNil() {
		panic("gc: marking freed payload")
	}
	sl := c.pool.slot(h)
	switch sl.state {
	case SlotFree:
		panic("gc: marking free slot " + h.String())
	case SlotMarked:
		return
	}
	if gcAsserts && sl.obj != obj {
		panic("gc: payload does not own slot " + h.String())
	}
	sl.state = SlotMarked

	if a, ok := obj.(*ArrayPayload); ok {
		for _, e := range a.elems[:a.count] {
			if deep {
				c.mark(e, true)
			} else {
				c.enqueue(e)
			}
		}
	}
}

// enqueue queues v unless it cannot name a payload.
func (c *Collector) enqueue(v Value) {
	switch v.kind {
	case KindString, KindArray, KindReference:
		c.queue.Push(v)
	}
}

// allocated applies the allocate-black rule to a fresh payload: outside
// idle, it is marked so that the cycle in progress or about to start keeps
// it.
func (c *Collector) allocated(h Handle) {
	sl := c.pool.slot(h)
	switch c.state {
	case StateDirty:
		sl.state = SlotMarked
		// Marking stops at a marked slot. Values stored in the array before
		// the cycle starts are queued by markRoots.
		if a, ok := sl.obj.(*ArrayPayload); ok {
			c.bornDirty = append(c.bornDirty, a)
		}
	case StateInitMark, StateBfsMark, StateInitSweep:
		sl.state = SlotMarked
	case StateSweeping:
		if !h.before(c.sweepSlab, c.sweepSlot) {
			sl.state = SlotMarked
		}
	}
}

// shade is the deletion barrier: it marks a value that is about to be
// overwritten while the collector is tracing.
func (c *Collector) shade(v Value) {
	if c.state.marking() {
		c.mark(v, false)
	}
}

func (c *Collector) finishCycle(silent bool) {
	end := c.now()
	c.last = CycleReport{
		Before:    c.before,
		Collected: c.collected,
		After:     c.pool.live,
		Slabs:     len(c.pool.slabs),
		CPUTime:   c.cycleCPU,
		WallTime:  end.Sub(c.cycleStart),
	}
	c.lastDone = end
	c.numGC++
	if !silent && c.output != nil {
		c.last.WriteTo(c.output)
	}
	c.setState(StateIdle)
}

func (c *Collector) endStep(start time.Time, startCPU time.Duration) {
	pause := c.now().Sub(start)
	if c.state != StateIdle {
		c.cycleCPU += cpuTime() - startCPU
	}
	c.numSteps++
	c.pauseTotal += pause
	if len(c.pauses) == maxPauses {
		copy(c.pauses, c.pauses[1:])
		c.pauses = c.pauses[:maxPauses-1]
	}
	c.pauses = append(c.pauses, pause)
}

func (c *Collector) yield(start time.Time) {
	if c.trace != nil {
		fmt.Fprintf(c.trace, "gc: %s yields after %d units (%s)\n", c.state, c.work, c.now().Sub(start))
	}
}

func (c *Collector) setState(s State) {
	if c.trace != nil {
		fmt.Fprintf(c.trace, "gc: %s -> %s\n", c.state, s)
	}
	c.state = s
}

// LastCycle returns the report of the most recently finished cycle.
func (c *Collector) LastCycle() CycleReport { return c.last }
