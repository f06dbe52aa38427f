// Package builtins implements the native functions every script starts
// with, and installs them in the global frame of an environment.
package builtins

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tinygo-org/slabgc/diagnostics"
	"github.com/tinygo-org/slabgc/heap"
	"github.com/tinygo-org/slabgc/scope"
)

var (
	ErrArgs        = errors.New("wrong number of arguments")
	ErrNotCallable = errors.New("not callable")
)

// Library holds the streams the builtins read from and print to.
type Library struct {
	In  *bufio.Reader
	Out io.Writer
}

// NewLibrary returns a library that reads from in and prints to out.
func NewLibrary(in io.Reader, out io.Writer) *Library {
	return &Library{In: bufio.NewReader(in), Out: out}
}

// Builtins returns the native functions of the library, by name.
func (lib *Library) Builtins() []*heap.Builtin {
	return []*heap.Builtin{
		{Name: "print", Fn: lib.print},
		{Name: "typeof", Fn: typeOf},
		{Name: "gc", Fn: collect},
		{Name: "heapstats", Fn: lib.heapStats},
		{Name: "heapdump", Fn: lib.heapDump},
		{Name: "readInt", Fn: lib.readInt},
		{Name: "readDouble", Fn: lib.readDouble},
		{Name: "readString", Fn: lib.readString},
		{Name: "readBool", Fn: lib.readBool},
	}
}

// Register defines every builtin as a constant in the global frame of env.
// Globals are never popped, so these values stay rooted for the lifetime of
// the environment.
func Register(env *scope.Env, lib *Library) error {
	for _, b := range lib.Builtins() {
		v := heap.BuiltinValue(b)
		v.MarkConst(true)
		if err := env.DefineGlobal(b.Name, v); err != nil {
			return fmt.Errorf("builtins: %w", err)
		}
	}
	return nil
}

// Call calls the builtin stored under name with args. The arguments are
// held as roots for the duration of the call.
func Call(env *scope.Env, name string, args []heap.Value) (heap.Value, error) {
	fn, err := env.Get(name)
	if err != nil {
		return heap.Value{}, err
	}
	if !fn.IsBuiltin() || fn.AsBuiltin() == nil {
		return heap.Value{}, fmt.Errorf("%w: %s is a %s", ErrNotCallable, name, fn.Kind())
	}
	for i := range args {
		g := env.Hold(&args[i])
		defer g.Release()
	}
	b := fn.AsBuiltin()
	v, err := b.Fn(env.Heap(), args)
	if err != nil {
		return heap.Value{}, fmt.Errorf("%s: %w", b.Name, err)
	}
	return v, nil
}

func arity(args []heap.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrArgs, len(args), n)
	}
	return nil
}

// print writes the string form of its argument and a newline. It returns
// the number of bytes written.
func (lib *Library) print(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if len(args) == 0 {
		return heap.Value{}, fmt.Errorf("%w: expected at least one argument", ErrArgs)
	}
	n, err := fmt.Fprintln(lib.Out, heap.Format(args[0]))
	if err != nil {
		return heap.Value{}, err
	}
	return heap.Int(n), nil
}

// typeOf returns the type name of its argument as a string.
func typeOf(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if err := arity(args, 1); err != nil {
		return heap.Value{}, err
	}
	return h.NewString(args[0].Kind().String())
}

// collect runs a full collection and prints its report. A cycle that was
// already pending or running is finished first and a fresh one follows; the
// report covers both.
func collect(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if err := arity(args, 0); err != nil {
		return heap.Value{}, err
	}
	h.Collect(false)
	return heap.Undefined(), nil
}

func (lib *Library) heapStats(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if err := arity(args, 0); err != nil {
		return heap.Value{}, err
	}
	diagnostics.MemReport(lib.Out, h)
	return heap.Undefined(), nil
}

func (lib *Library) heapDump(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	if err := arity(args, 0); err != nil {
		return heap.Value{}, err
	}
	diagnostics.DumpSlabs(lib.Out, h)
	return heap.Undefined(), nil
}

// readWord returns the next whitespace separated word of the input, or ""
// at the end of the input.
func (lib *Library) readWord() (string, error) {
	var word string
	_, err := fmt.Fscan(lib.In, &word)
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	return word, err
}

// The read builtins return undefined when the input does not hold a value
// of the requested type.

func (lib *Library) readInt(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	word, err := lib.readWord()
	if err != nil {
		return heap.Value{}, err
	}
	n, err := strconv.Atoi(word)
	if err != nil {
		return heap.Undefined(), nil
	}
	return heap.Int(n), nil
}

func (lib *Library) readDouble(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	word, err := lib.readWord()
	if err != nil {
		return heap.Value{}, err
	}
	f, err := strconv.ParseFloat(word, 64)
	if err != nil {
		return heap.Undefined(), nil
	}
	return heap.Double(f), nil
}

func (lib *Library) readString(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	word, err := lib.readWord()
	if err != nil || word == "" {
		return heap.Undefined(), err
	}
	return h.NewString(word)
}

func (lib *Library) readBool(h *heap.Heap, args []heap.Value) (heap.Value, error) {
	word, err := lib.readWord()
	if err != nil {
		return heap.Value{}, err
	}
	switch strings.ToLower(word) {
	case "true":
		return heap.Bool(true), nil
	case "false":
		return heap.Bool(false), nil
	}
	return heap.Undefined(), nil
}
