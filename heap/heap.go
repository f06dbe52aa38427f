// Package heap implements the runtime values of the scripting language and
// the memory they live in: a slab allocator for string and array payloads
// and an incremental, time-budgeted mark/sweep collector that reclaims them.
//
// Everything in this package runs on the interpreter's goroutine. A Heap is
// not safe for concurrent use.
package heap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tinygo-org/slabgc/heapopts"
)

var (
	// ErrIndexOutOfRange is returned for element or byte accesses past the
	// end of a payload.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrWrongKind is returned when an operation is applied to a value of
	// the wrong kind.
	ErrWrongKind = errors.New("wrong kind of value")
)

// Heap owns a pool and the collector that manages it. Independent heaps do
// not share any state.
type Heap struct {
	pool   *Pool
	gc     *Collector
	shadow ShadowRoots
	closed bool
}

// New creates an empty heap with the given options.
func New(opts heapopts.Options) (*Heap, error) {
	if err := opts.Verify(); err != nil {
		return nil, err
	}
	pool := newPool(&opts)
	h := &Heap{
		pool: pool,
		gc: &Collector{
			pool:          pool,
			budget:        opts.StepBudget,
			minInterval:   opts.MinCycleInterval,
			checkInterval: opts.CheckInterval,
			now:           time.Now,
			output:        os.Stdout,
		},
	}
	// Values under construction are held here while their allocation polls
	// the collector.
	h.gc.AddRoots(&h.shadow)
	if opts.Trace {
		h.gc.trace = os.Stderr
	}
	return h, nil
}

// Pool returns the slab allocator.
func (h *Heap) Pool() *Pool { return h.pool }

// Collector returns the collector.
func (h *Heap) Collector() *Collector { return h.gc }

// SetClock replaces the clock used for step budgets and the cycle throttle.
func (h *Heap) SetClock(now func() time.Time) { h.gc.now = now }

// SetTrace sets the writer receiving collector state transitions. A nil
// writer disables tracing.
func (h *Heap) SetTrace(w io.Writer) { h.gc.trace = w }

// SetOutput sets the writer receiving cycle summaries of non-silent
// collections. A nil writer discards them.
func (h *Heap) SetOutput(w io.Writer) { h.gc.output = w }

// Output returns the writer set with SetOutput.
func (h *Heap) Output() io.Writer { return h.gc.output }

// AddRoots registers a root provider with the collector.
func (h *Heap) AddRoots(p RootProvider) { h.gc.AddRoots(p) }

// RemoveRoots deregisters a root provider.
func (h *Heap) RemoveRoots(p RootProvider) { h.gc.RemoveRoots(p) }

// Hold registers v as a shadow root of the heap until the guard is
// released.
func (h *Heap) Hold(v *Value) Guard { return h.shadow.Hold(v) }

// Poll forwards to Collector.Poll.
func (h *Heap) Poll(wholeCycle, silent bool) { h.gc.Poll(wholeCycle, silent) }

// Collect runs a full stop-the-world collection and returns its report. A
// cycle that is pending or already underway is finished first, then a
// fresh cycle runs, so that payloads the first one had to keep alive are
// reclaimed as well. The report then covers both cycles: Before is taken at
// the start of the first, Collected is the sum and After is the final
// count.
func (h *Heap) Collect(silent bool) CycleReport {
	c := h.gc
	if c.state == StateIdle {
		c.Poll(true, silent)
		return c.last
	}
	c.Poll(true, true)
	first := c.last
	c.Poll(true, true)
	r := c.last
	r.Before = first.Before
	r.Collected += first.Collected
	r.CPUTime += first.CPUTime
	r.WallTime += first.WallTime
	c.last = r
	if !silent && c.output != nil {
		r.WriteTo(c.output)
	}
	return r
}

// Close releases every payload and slab without tracing. Values that still
// name payloads of this heap must not be used afterwards.
func (h *Heap) Close() {
	h.pool.teardown()
	h.gc.queue.Reset()
	h.gc.bornDirty = nil
	h.gc.state = StateIdle
	h.closed = true
}

// StateOf returns the state of the slot named by hd.
func (h *Heap) StateOf(hd Handle) SlotState {
	return h.pool.slot(hd).state
}

// alloc places obj in the pool, applies the allocation colour and polls the
// collector. v is the value under construction; it is held while polling
// so that a cycle started by this very allocation cannot free it.
func (h *Heap) alloc(obj object, v *Value) error {
	if h.closed {
		panic("heap: allocation after Close")
	}
	hd, err := h.pool.allocate(obj)
	if errors.Is(err, ErrOutOfMemory) {
		// Try to make room before giving up.
		h.Collect(true)
		hd, err = h.pool.allocate(obj)
	}
	if err != nil {
		return fmt.Errorf("heap: allocating %d bytes: %w", obj.size(), err)
	}
	h.gc.allocated(hd)

	g := h.shadow.Hold(v)
	h.gc.Poll(false, true)
	g.Release()
	return nil
}

// NewString allocates a string value.
func (h *Heap) NewString(s string) (Value, error) {
	return h.newString([]byte(s))
}

// NewStringBytes allocates a string value holding a copy of b.
func (h *Heap) NewStringBytes(b []byte) (Value, error) {
	return h.newString(append([]byte(nil), b...))
}

func (h *Heap) newString(data []byte) (Value, error) {
	p := &StringPayload{data: data}
	v := Value{kind: KindString, ptr: p}
	if err := h.alloc(p, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// NewArray allocates an array of n undefined elements.
func (h *Heap) NewArray(n int) (Value, error) {
	if n < 0 {
		return Value{}, fmt.Errorf("heap: negative array length %d", n)
	}
	return h.newArray(n, n)
}

// NewArrayOf allocates an array holding elems.
func (h *Heap) NewArrayOf(elems ...Value) (Value, error) {
	for i := range elems {
		g := h.Hold(&elems[i])
		defer g.Release()
	}
	v, err := h.newArray(len(elems), len(elems))
	if err != nil {
		return Value{}, err
	}
	copy(v.AsArray().elems, elems)
	return v, nil
}

func (h *Heap) newArray(count, capacity int) (Value, error) {
	p := &ArrayPayload{elems: make([]Value, capacity), count: count}
	v := Value{kind: KindArray, ptr: p}
	if err := h.alloc(p, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Copy returns a copy of v. Scalars are returned as is. Strings and arrays
// get a new payload; array elements are copied as values, so nested strings
// and arrays are shared with the original. References are followed first.
func (h *Heap) Copy(v Value) (Value, error) {
	v = v.Dereference()
	switch v.kind {
	case KindString:
		c, err := h.NewStringBytes(v.AsString().Bytes())
		if err != nil {
			return Value{}, err
		}
		c.flags = v.flags
		return c, nil
	case KindArray:
		a := v.AsArray()
		if a == nil {
			return v, nil
		}
		g := h.Hold(&v)
		defer g.Release()
		c, err := h.newArray(a.count, len(a.elems))
		if err != nil {
			return Value{}, err
		}
		copy(c.AsArray().elems, a.elems[:a.count])
		c.flags = v.flags
		return c, nil
	default:
		return v, nil
	}
}

// Store writes v into the slot dst. Every write to a slot that the
// collector may have traced (scope entries, array elements, reference
// targets) must go through Store.
func (h *Heap) Store(dst *Value, v Value) {
	h.gc.shade(*dst)
	*dst = v
}

// SetElem stores v at index i of the array arr.
func (h *Heap) SetElem(arr Value, i int, v Value) error {
	arr = arr.Dereference()
	if arr.kind != KindArray {
		return fmt.Errorf("%w: index into %s", ErrWrongKind, arr.kind)
	}
	slot, err := arr.AsArray().Slot(i)
	if err != nil {
		return err
	}
	h.Store(slot, v)
	return nil
}

// Append adds v to the end of the array stored in dst, following dst if it
// is a reference. When the payload is full a larger one is allocated and
// stored in dst; the old payload becomes garbage.
func (h *Heap) Append(dst *Value, v Value) error {
	if dst.kind == KindReference {
		dst = dst.Target()
	}
	if dst.kind != KindArray {
		return fmt.Errorf("%w: append to %s", ErrWrongKind, dst.kind)
	}
	a := dst.AsArray()
	if a != nil && a.count < len(a.elems) {
		h.Store(&a.elems[a.count], v)
		a.count++
		return nil
	}

	n := a.Len()
	g := h.Hold(&v)
	defer g.Release()
	gd := h.Hold(dst)
	defer gd.Release()
	grown, err := h.newArray(n+1, max(4, 2*n))
	if err != nil {
		return err
	}
	ga := grown.AsArray()
	copy(ga.elems, a.Elems())
	ga.elems[n] = v
	grown.flags = dst.flags
	h.Store(dst, grown)
	return nil
}
