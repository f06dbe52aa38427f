package heap

import (
	"fmt"
	"unsafe"
)

// Handle names one slot of the pool by index. Payloads keep the handle of
// their own slot, which gives the collector O(1) access to the mark state.
// The zero Handle names no slot.
type Handle struct {
	slab uint32 // slab index + 1
	slot uint32
}

func makeHandle(slab, slot int) Handle {
	return Handle{slab: uint32(slab) + 1, slot: uint32(slot)}
}

// IsNil reports whether h names no slot.
func (h Handle) IsNil() bool { return h.slab == 0 }

// Slab returns the index of the slab the handle points into.
func (h Handle) Slab() int { return int(h.slab) - 1 }

// Slot returns the index of the slot inside its slab.
func (h Handle) Slot() int { return int(h.slot) }

func (h Handle) String() string {
	if h.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d:%d", h.Slab(), h.Slot())
}

// before reports whether h lies strictly before the slab/slot position
// given, in sweep order.
func (h Handle) before(slab, slot int) bool {
	return h.Slab() < slab || (h.Slab() == slab && h.Slot() < slot)
}

// object is implemented by the two payload shapes owned by the pool.
type object interface {
	handle() Handle
	size() uintptr
	release()
}

// StringPayload is the heap buffer behind a String value.
type StringPayload struct {
	h    Handle
	data []byte
}

func (s *StringPayload) handle() Handle { return s.h }
func (s *StringPayload) size() uintptr  { return uintptr(len(s.data)) }

func (s *StringPayload) release() {
	s.h = Handle{}
	s.data = nil
}

func (s *StringPayload) check() {
	if gcAsserts && s.h.IsNil() {
		panic("gc: use of freed payload")
	}
}

// Len returns the length of the string in bytes.
func (s *StringPayload) Len() int {
	s.check()
	return len(s.data)
}

// Bytes returns the underlying buffer. Writes to it are visible through
// every value sharing the payload.
func (s *StringPayload) Bytes() []byte {
	s.check()
	return s.data
}

func (s *StringPayload) String() string {
	s.check()
	return string(s.data)
}

// SetByte changes one byte of the string in place.
func (s *StringPayload) SetByte(i int, c byte) error {
	s.check()
	if i < 0 || i >= len(s.data) {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, len(s.data))
	}
	s.data[i] = c
	return nil
}

// ArrayPayload is the heap buffer behind an Array value. The buffer holds
// Cap values of which the first Len are in use.
type ArrayPayload struct {
	h     Handle
	elems []Value
	count int
}

var valueSize = unsafe.Sizeof(Value{})

func (a *ArrayPayload) handle() Handle { return a.h }
func (a *ArrayPayload) size() uintptr  { return uintptr(len(a.elems)) * valueSize }

func (a *ArrayPayload) release() {
	a.h = Handle{}
	a.elems = nil
	a.count = 0
}

func (a *ArrayPayload) check() {
	if gcAsserts && a != nil && a.h.IsNil() {
		panic("gc: use of freed payload")
	}
}

// Len returns the number of elements in use. The null array has length 0.
func (a *ArrayPayload) Len() int {
	if a == nil {
		return 0
	}
	a.check()
	return a.count
}

// Cap returns the number of allocated elements.
func (a *ArrayPayload) Cap() int {
	if a == nil {
		return 0
	}
	a.check()
	return len(a.elems)
}

// At returns element i.
func (a *ArrayPayload) At(i int) (Value, error) {
	if i < 0 || i >= a.Len() {
		return Value{}, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, a.Len())
	}
	return a.elems[i], nil
}

// Slot returns the address of element i, for building references. Writes
// through it must go through Heap.Store.
func (a *ArrayPayload) Slot(i int) (*Value, error) {
	if i < 0 || i >= a.Len() {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, a.Len())
	}
	return &a.elems[i], nil
}

// Elems returns the elements in use.
func (a *ArrayPayload) Elems() []Value {
	if a == nil {
		return nil
	}
	a.check()
	return a.elems[:a.count]
}
