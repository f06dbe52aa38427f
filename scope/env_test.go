package scope

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/tinygo-org/slabgc/heap"
	"github.com/tinygo-org/slabgc/heapopts"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	h, err := heap.New(heapopts.Default())
	if err != nil {
		t.Fatal(err)
	}
	h.SetOutput(io.Discard)
	t.Cleanup(h.Close)
	return New(h)
}

func TestDefineGet(t *testing.T) {
	e := newTestEnv(t)
	if err := e.Define("x", heap.Int(1)); err != nil {
		t.Fatal(err)
	}
	if v, err := e.Get("x"); err != nil || v != heap.Int(1) {
		t.Errorf("Get(x) returned %v, %v, want 1", v, err)
	}
	if _, err := e.Get("y"); !errors.Is(err, ErrUndefined) {
		t.Errorf("Get(y) returned %v, want ErrUndefined", err)
	}
	if err := e.Define("x", heap.Int(2)); err != nil {
		t.Errorf("redefining x returned %v", err)
	}
	if v, _ := e.Get("x"); v != heap.Int(2) {
		t.Errorf("x = %v after redefinition, want 2", v)
	}
}

func TestFrames(t *testing.T) {
	e := newTestEnv(t)
	e.Define("g", heap.Int(1))
	e.Push()
	e.Define("l", heap.Int(2))
	if e.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", e.Depth())
	}
	if _, err := e.Get("g"); err != nil {
		t.Errorf("global not visible in call frame: %v", err)
	}
	e.Push()
	if _, err := e.Get("l"); !errors.Is(err, ErrUndefined) {
		t.Errorf("caller's local visible in callee: %v", err)
	}
	e.DefineGlobal("g2", heap.Int(3))
	if got := e.Names(); !reflect.DeepEqual(got, []string{"g", "g2"}) {
		t.Errorf("Names returned %v", got)
	}
	if err := e.Pop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Pop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Pop(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("popping the global frame returned %v, want ErrNoFrame", err)
	}
	if _, err := e.Get("l"); !errors.Is(err, ErrUndefined) {
		t.Errorf("local survived Pop: %v", err)
	}
}

func TestConst(t *testing.T) {
	e := newTestEnv(t)
	e.Define("c", heap.Int(1))
	if err := e.MarkConst("c"); err != nil {
		t.Fatal(err)
	}
	if err := e.Set("c", heap.Int(2)); !errors.Is(err, ErrConst) {
		t.Errorf("Set on a constant returned %v, want ErrConst", err)
	}
	if err := e.Define("c", heap.Int(2)); !errors.Is(err, ErrConst) {
		t.Errorf("redefining a constant returned %v, want ErrConst", err)
	}
	r, _ := e.Ref("c")
	e.Define("r", r)
	if err := e.Set("r", heap.Int(2)); !errors.Is(err, ErrConst) {
		t.Errorf("Set through a reference to a constant returned %v, want ErrConst", err)
	}
	if v, _ := e.Get("c"); v.AsInt() != 1 {
		t.Errorf("constant changed to %d", v.AsInt())
	}
}

func TestReferences(t *testing.T) {
	e := newTestEnv(t)
	e.Define("x", heap.Int(1))
	r, err := e.Ref("x")
	if err != nil {
		t.Fatal(err)
	}
	e.Define("r", r)
	if err := e.Set("r", heap.Int(5)); err != nil {
		t.Fatal(err)
	}
	if v, _ := e.Get("x"); v.AsInt() != 5 {
		t.Errorf("x = %d after write through reference, want 5", v.AsInt())
	}
	if err := e.Set("x", heap.Int(6)); err != nil {
		t.Fatal(err)
	}
	if v, _ := e.Get("r"); v.AsInt() != 6 {
		t.Errorf("reference reads %d after write to target, want 6", v.AsInt())
	}

	// References to references collapse.
	rr, _ := e.Ref("r")
	if rr.Target() != r.Target() {
		t.Error("reference to a reference was not collapsed")
	}
	// Assigning a reference stores the referenced value.
	e.Define("y", heap.Int(0))
	e.Set("y", rr)
	if v, _ := e.Lookup("y"); v.IsReference() || v.AsInt() != 6 {
		t.Errorf("y = %v, want a plain 6", *v)
	}
}

func TestEnvRootsValues(t *testing.T) {
	e := newTestEnv(t)
	h := e.Heap()
	s, err := h.NewString("global")
	if err != nil {
		t.Fatal(err)
	}
	e.Define("s", s)
	e.Push()
	l, _ := h.NewString("local")
	e.Define("l", l)

	var tmp heap.Value
	g := e.Hold(&tmp)
	tmp, _ = h.NewString("held")

	h.Collect(true)
	for _, v := range []heap.Value{s, l, tmp} {
		if st := h.StateOf(v.Handle()); st != heap.SlotUsed {
			t.Errorf("rooted %q is %s, want %s", v.AsString().String(), st, heap.SlotUsed)
		}
	}

	lh, th := l.Handle(), tmp.Handle()
	e.Pop()
	g.Release()
	h.Collect(true)
	if st := h.StateOf(lh); st != heap.SlotFree {
		t.Errorf("local of popped frame is %s, want %s", st, heap.SlotFree)
	}
	if st := h.StateOf(th); st != heap.SlotFree {
		t.Errorf("released temporary is %s, want %s", st, heap.SlotFree)
	}

	sh := s.Handle()
	if err := e.Undefine("s"); err != nil {
		t.Fatal(err)
	}
	h.Collect(true)
	if st := h.StateOf(sh); st != heap.SlotFree {
		t.Errorf("undefined global is %s, want %s", st, heap.SlotFree)
	}
	if err := e.Undefine("s"); !errors.Is(err, ErrUndefined) {
		t.Errorf("second Undefine returned %v, want ErrUndefined", err)
	}

	e.Close()
}
