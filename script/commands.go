package script

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tinygo-org/slabgc/diagnostics"
	"github.com/tinygo-org/slabgc/heap"
)

type command struct {
	minArgs int
	maxArgs int // -1 for no limit
	usage   string
	run     func(r *Runner, args []string) error
}

var commands = map[string]command{
	"let":         {2, -1, "NAME KIND [ARG...]", (*Runner).let},
	"const":       {1, 1, "NAME", (*Runner).constant},
	"throw":       {1, 1, "NAME", (*Runner).throw},
	"set":         {2, 2, "NAME FROM", (*Runner).set},
	"elem":        {3, 3, "ARRAY INDEX FROM", (*Runner).elem},
	"append":      {2, 2, "ARRAY FROM", (*Runner).append},
	"drop":        {1, 1, "NAME", (*Runner).drop},
	"push":        {0, 0, "", (*Runner).push},
	"pop":         {0, 0, "", (*Runner).pop},
	"churn":       {1, 1, "COUNT", (*Runner).churn},
	"poll":        {0, 1, "[COUNT]", (*Runner).poll},
	"call":        {1, -1, "BUILTIN [NAME...]", (*Runner).callBuiltin},
	"gc":          {0, 1, "[silent]", (*Runner).gc},
	"stats":       {0, 0, "", (*Runner).stats},
	"dump":        {0, 0, "", (*Runner).dump},
	"vars":        {0, 0, "", (*Runner).vars},
	"expect":      {2, 3, "NAME KIND [TEXT]", (*Runner).expect},
	"expect-live": {1, 1, "COUNT", (*Runner).expectLive},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// valueKinds lists the KIND arguments of let with their argument counts.
var valueKinds = map[string]struct{ min, max int }{
	"undef":   {0, 0},
	"int":     {1, 1},
	"bool":    {1, 1},
	"char":    {1, 1},
	"double":  {1, 1},
	"string":  {0, 1},
	"array":   {0, 1},
	"func":    {0, 1},
	"copy":    {1, 1},
	"ref":     {1, 2},
	"at":      {2, 2},
	"convert": {2, 2},
	"call":    {1, -1},
}

func (r *Runner) let(args []string) error {
	name, kind, rest := args[0], args[1], args[2:]
	n, ok := valueKinds[kind]
	if !ok {
		return fmt.Errorf("%w: let %s: unknown kind %q", ErrUsage, name, kind)
	}
	if len(rest) < n.min || (n.max >= 0 && len(rest) > n.max) {
		return fmt.Errorf("%w: let %s %s: wrong number of arguments", ErrUsage, name, kind)
	}
	v, err := r.build(name, kind, rest)
	if err != nil {
		return err
	}
	return r.env.Define(name, v)
}

// build creates the value of a let command.
func (r *Runner) build(name, kind string, args []string) (heap.Value, error) {
	h := r.env.Heap()
	switch kind {
	case "undef":
		return heap.Undefined(), nil
	case "int":
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return heap.Value{}, fmt.Errorf("invalid int %q", args[0])
		}
		return heap.Int(i), nil
	case "bool":
		b, err := strconv.ParseBool(args[0])
		if err != nil {
			return heap.Value{}, fmt.Errorf("invalid bool %q", args[0])
		}
		return heap.Bool(b), nil
	case "char":
		if len(args[0]) == 1 {
			return heap.Char(args[0][0]), nil
		}
		code, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return heap.Value{}, fmt.Errorf("invalid char %q: want one byte or a code", args[0])
		}
		return heap.Char(byte(code)), nil
	case "double":
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return heap.Value{}, fmt.Errorf("invalid double %q", args[0])
		}
		return heap.Double(f), nil
	case "string":
		text := ""
		if len(args) == 1 {
			text = args[0]
		}
		return h.NewString(text)
	case "array":
		if len(args) == 0 {
			return heap.NullArray(), nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return heap.Value{}, fmt.Errorf("invalid array length %q", args[0])
		}
		return h.NewArray(n)
	case "func":
		fn := name
		if len(args) == 1 {
			fn = args[0]
		}
		return heap.FunctionValue(&function{name: fn}), nil
	case "copy":
		v, err := r.value(args[0])
		if err != nil {
			return heap.Value{}, err
		}
		return h.Copy(v)
	case "ref":
		if len(args) == 1 {
			return r.env.Ref(args[0])
		}
		slot, err := r.elemSlot(args[0], args[1])
		if err != nil {
			return heap.Value{}, err
		}
		return heap.Ref(slot), nil
	case "at":
		slot, err := r.elemSlot(args[0], args[1])
		if err != nil {
			return heap.Value{}, err
		}
		return *slot, nil
	case "convert":
		k, ok := heap.KindByName(args[0])
		if !ok {
			return heap.Value{}, fmt.Errorf("unknown kind %q", args[0])
		}
		v, err := r.value(args[1])
		if err != nil {
			return heap.Value{}, err
		}
		return h.ConvertTo(v, k)
	case "call":
		return r.call(args[0], args[1:])
	}
	panic("unreachable")
}

// elemSlot returns the address of an array element.
func (r *Runner) elemSlot(arrayName, index string) (*heap.Value, error) {
	arr, err := r.value(arrayName)
	if err != nil {
		return nil, err
	}
	if !arr.IsArray() {
		return nil, fmt.Errorf("%w: %s is a %s", heap.ErrWrongKind, arrayName, arr.Kind())
	}
	i, err := strconv.Atoi(index)
	if err != nil {
		return nil, fmt.Errorf("invalid index %q", index)
	}
	return arr.AsArray().Slot(i)
}

func (r *Runner) constant(args []string) error {
	return r.env.MarkConst(args[0])
}

func (r *Runner) throw(args []string) error {
	slot, err := r.env.Lookup(args[0])
	if err != nil {
		return err
	}
	slot.MarkThrown(true)
	return nil
}

func (r *Runner) set(args []string) error {
	v, err := r.value(args[1])
	if err != nil {
		return err
	}
	return r.env.Set(args[0], v)
}

func (r *Runner) elem(args []string) error {
	v, err := r.value(args[2])
	if err != nil {
		return err
	}
	slot, err := r.elemSlot(args[0], args[1])
	if err != nil {
		return err
	}
	r.env.Heap().Store(slot, v)
	return nil
}

func (r *Runner) append(args []string) error {
	v, err := r.value(args[1])
	if err != nil {
		return err
	}
	slot, err := r.env.Lookup(args[0])
	if err != nil {
		return err
	}
	if slot.IsConst() {
		return fmt.Errorf("append to constant %s", args[0])
	}
	return r.env.Heap().Append(slot, v)
}

func (r *Runner) drop(args []string) error {
	return r.env.Undefine(args[0])
}

func (r *Runner) push(args []string) error {
	r.env.Push()
	return nil
}

func (r *Runner) pop(args []string) error {
	return r.env.Pop()
}

// churn allocates short-lived strings that are never stored anywhere.
func (r *Runner) churn(args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return fmt.Errorf("invalid count %q", args[0])
	}
	h := r.env.Heap()
	for i := 0; i < n; i++ {
		r.churned++
		if _, err := h.NewString("churn " + strconv.Itoa(r.churned)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) poll(args []string) error {
	n := 1
	if len(args) == 1 {
		var err error
		n, err = strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
	}
	for i := 0; i < n; i++ {
		r.env.Heap().Poll(false, true)
	}
	return nil
}

func (r *Runner) callBuiltin(args []string) error {
	_, err := r.call(args[0], args[1:])
	return err
}

func (r *Runner) gc(args []string) error {
	silent := false
	if len(args) == 1 {
		if args[0] != "silent" {
			return fmt.Errorf("%w: gc [silent]", ErrUsage)
		}
		silent = true
	}
	report := r.env.Heap().Collect(true)
	if !silent {
		_, err := report.WriteTo(r.out)
		return err
	}
	return nil
}

func (r *Runner) stats(args []string) error {
	diagnostics.MemReport(r.out, r.env.Heap())
	return nil
}

func (r *Runner) dump(args []string) error {
	diagnostics.DumpSlabs(r.out, r.env.Heap())
	return nil
}

// vars prints every visible variable with its type and value.
func (r *Runner) vars(args []string) error {
	for _, name := range r.env.Names() {
		slot, err := r.env.Lookup(name)
		if err != nil {
			return err
		}
		flags := ""
		if slot.IsConst() {
			flags += " const"
		}
		if slot.IsThrown() {
			flags += " thrown"
		}
		fmt.Fprintf(r.out, "%s %s%s = %s\n", name, slot.Kind(), flags, heap.Format(*slot))
	}
	return nil
}

func (r *Runner) expect(args []string) error {
	name, kind := args[0], args[1]
	want, ok := heap.KindByName(kind)
	if !ok {
		return fmt.Errorf("unknown kind %q", kind)
	}
	slot, err := r.env.Lookup(name)
	if err != nil {
		return err
	}
	v := *slot
	if want != heap.KindReference {
		v = v.Dereference()
	}
	if v.Kind() != want {
		return fmt.Errorf("%w: %s is a %s, want %s", ErrExpectation, name, v.Kind(), want)
	}
	if len(args) == 3 {
		if got := heap.Format(v); got != args[2] {
			return fmt.Errorf("%w: %s is %q, want %q", ErrExpectation, name, got, args[2])
		}
	}
	return nil
}

func (r *Runner) expectLive(args []string) error {
	want, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid count %q", args[0])
	}
	if got := r.env.Heap().Pool().Live(); got != want {
		return fmt.Errorf("%w: %d live payloads, want %d", ErrExpectation, got, want)
	}
	return nil
}
