// Package scope implements the variable frames of the interpreter. An Env
// is the root provider of a heap: every slot of every live frame is a root.
package scope

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tinygo-org/slabgc/heap"
)

var (
	ErrUndefined = errors.New("undefined variable")
	ErrConst     = errors.New("assignment to constant")
	ErrNoFrame   = errors.New("no call frame to pop")
)

// Env is a stack of frames. The first frame holds the globals and can not
// be popped. Name lookup checks the innermost frame, then the globals.
type Env struct {
	heap   *heap.Heap
	frames []heap.Scope
	shadow heap.ShadowRoots
}

// New creates an environment with an empty global frame and registers it
// as a root provider of h.
func New(h *heap.Heap) *Env {
	e := &Env{
		heap:   h,
		frames: []heap.Scope{{}},
	}
	h.AddRoots(e)
	return e
}

// Close deregisters the environment from its heap. Its values become
// garbage.
func (e *Env) Close() {
	e.heap.RemoveRoots(e)
}

// Heap returns the heap the environment roots values in.
func (e *Env) Heap() *heap.Heap { return e.heap }

// Depth returns the number of call frames above the global frame.
func (e *Env) Depth() int { return len(e.frames) - 1 }

// Push enters a new call frame.
func (e *Env) Push() {
	e.frames = append(e.frames, heap.Scope{})
}

// Pop leaves the innermost call frame. Its values stop being roots.
func (e *Env) Pop() error {
	if len(e.frames) == 1 {
		return ErrNoFrame
	}
	top := e.frames[len(e.frames)-1]
	for _, slot := range top {
		// Let a running cycle see what the frame held.
		e.heap.Store(slot, heap.Undefined())
	}
	e.frames[len(e.frames)-1] = nil
	e.frames = e.frames[:len(e.frames)-1]
	return nil
}

// Define creates name in the innermost frame, or overwrites it if it
// already exists there. Constants can not be redefined.
func (e *Env) Define(name string, v heap.Value) error {
	return e.define(e.frames[len(e.frames)-1], name, v)
}

// DefineGlobal is like Define, in the global frame.
func (e *Env) DefineGlobal(name string, v heap.Value) error {
	return e.define(e.frames[0], name, v)
}

func (e *Env) define(frame heap.Scope, name string, v heap.Value) error {
	if slot, ok := frame[name]; ok {
		if slot.IsConst() {
			return fmt.Errorf("%w: %s", ErrConst, name)
		}
		e.heap.Store(slot, v)
		return nil
	}
	slot := new(heap.Value)
	*slot = v
	frame[name] = slot
	return nil
}

// Lookup returns the slot holding name.
func (e *Env) Lookup(name string) (*heap.Value, error) {
	if slot, ok := e.frames[len(e.frames)-1][name]; ok {
		return slot, nil
	}
	if slot, ok := e.frames[0][name]; ok {
		return slot, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUndefined, name)
}

// Get returns the value of name. References are followed.
func (e *Env) Get(name string) (heap.Value, error) {
	slot, err := e.Lookup(name)
	if err != nil {
		return heap.Value{}, err
	}
	return slot.Dereference(), nil
}

// Set assigns v to name. When name holds a reference the assignment goes to
// the referenced slot.
func (e *Env) Set(name string, v heap.Value) error {
	slot, err := e.Lookup(name)
	if err != nil {
		return err
	}
	if slot.IsConst() {
		return fmt.Errorf("%w: %s", ErrConst, name)
	}
	if slot.IsReference() {
		slot = slot.Target()
		if slot.IsConst() {
			return fmt.Errorf("%w: %s", ErrConst, name)
		}
	}
	e.heap.Store(slot, v.Dereference())
	return nil
}

// Ref returns a reference to the slot of name. A reference to a reference
// is collapsed into a reference to the final slot.
func (e *Env) Ref(name string) (heap.Value, error) {
	slot, err := e.Lookup(name)
	if err != nil {
		return heap.Value{}, err
	}
	if slot.IsReference() {
		return *slot, nil
	}
	return heap.Ref(slot), nil
}

// MarkConst write-protects name.
func (e *Env) MarkConst(name string) error {
	slot, err := e.Lookup(name)
	if err != nil {
		return err
	}
	slot.MarkConst(true)
	return nil
}

// Undefine removes name from the innermost frame.
func (e *Env) Undefine(name string) error {
	top := e.frames[len(e.frames)-1]
	slot, ok := top[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	e.heap.Store(slot, heap.Undefined())
	delete(top, name)
	return nil
}

// Names returns the names visible in the innermost frame and the global
// frame, sorted.
func (e *Env) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, frame := range []heap.Scope{e.frames[0], e.frames[len(e.frames)-1]} {
		for name := range frame {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Hold registers v as a root until the guard is released. Builtins use it
// for intermediate results.
func (e *Env) Hold(v *heap.Value) heap.Guard { return e.shadow.Hold(v) }

// ActiveScopes implements heap.RootProvider.
func (e *Env) ActiveScopes() []heap.Scope { return e.frames }

// ShadowRoots implements heap.RootProvider.
func (e *Env) ShadowRoots() []*heap.Value { return e.shadow.ShadowRoots() }
