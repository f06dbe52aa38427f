package heap

import "math"

// Kind is the tag of a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindReference
	KindInt
	KindBool
	KindChar
	KindDouble
	KindString
	KindArray
	KindFunction
	KindBuiltin
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindReference: "reference",
	KindInt:       "int",
	KindBool:      "bool",
	KindChar:      "char",
	KindDouble:    "double",
	KindString:    "string",
	KindArray:     "array",
	KindFunction:  "function",
	KindBuiltin:   "builtin",
}

// String returns the type name as reported by the typeof builtin.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "!err"
}

// KindByName returns the kind with the given typeof name.
func KindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Function is an interpreted function. The evaluator owns its AST; the heap
// only needs to tell functions apart and print them.
type Function interface {
	Name() string
}

// Builtin is a native function callable from scripts.
type Builtin struct {
	Name string
	Fn   func(h *Heap, args []Value) (Value, error)
}

type valueFlags uint8

const (
	flagConst valueFlags = 1 << iota
	flagThrown
)

// Value is the tagged datum used for every runtime value. Scalars live in
// bits, everything else in ptr:
//
//	KindReference  *Value
//	KindString     *StringPayload (nil never happens)
//	KindArray      *ArrayPayload (nil for the null array)
//	KindFunction   Function (nil for the null function)
//	KindBuiltin    *Builtin (nil for the null builtin)
//
// Copying a Value copies the payload pointer, so strings and arrays alias.
// The zero Value is Undefined.
type Value struct {
	kind  Kind
	flags valueFlags
	bits  uint64
	ptr   any
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Int returns an integer value.
func Int(i int) Value { return Value{kind: KindInt, bits: uint64(int64(i))} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

// Char returns a character value.
func Char(c byte) Value { return Value{kind: KindChar, bits: uint64(c)} }

// Double returns a floating point value.
func Double(d float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(d)} }

// FunctionValue wraps an interpreted function. fn may be nil.
func FunctionValue(fn Function) Value { return Value{kind: KindFunction, ptr: fn} }

// BuiltinValue wraps a native function. b may be nil.
func BuiltinValue(b *Builtin) Value { return Value{kind: KindBuiltin, ptr: b} }

// NullArray returns an array value without a payload. It behaves as an
// empty array and costs no allocation.
func NullArray() Value { return Value{kind: KindArray, ptr: (*ArrayPayload)(nil)} }

// Ref returns a reference aliasing the Value stored at target. The caller
// must make sure target is not itself a reference and outlives the result.
func Ref(target *Value) Value {
	if gcAsserts && target == nil {
		panic("heap: reference to nil slot")
	}
	return Value{kind: KindReference, ptr: target}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsReference() bool { return v.kind == KindReference }
func (v Value) IsInt() bool       { return v.kind == KindInt }
func (v Value) IsBool() bool      { return v.kind == KindBool }
func (v Value) IsChar() bool      { return v.kind == KindChar }
func (v Value) IsDouble() bool    { return v.kind == KindDouble }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsArray() bool     { return v.kind == KindArray }
func (v Value) IsFunction() bool  { return v.kind == KindFunction }
func (v Value) IsBuiltin() bool   { return v.kind == KindBuiltin }

// IsConst reports whether the value is write-protected.
func (v Value) IsConst() bool { return v.flags&flagConst != 0 }

// IsThrown reports whether the value is an exception in flight.
func (v Value) IsThrown() bool { return v.flags&flagThrown != 0 }

// MarkConst sets or clears the const flag.
func (v *Value) MarkConst(is bool) { v.setFlag(flagConst, is) }

// MarkThrown sets or clears the thrown flag.
func (v *Value) MarkThrown(is bool) { v.setFlag(flagThrown, is) }

func (v *Value) setFlag(f valueFlags, is bool) {
	if is {
		v.flags |= f
	} else {
		v.flags &^= f
	}
}

// Dereference returns the aliased value of a reference and the value itself
// otherwise.
func (v Value) Dereference() Value {
	if v.kind == KindReference {
		return *v.ptr.(*Value)
	}
	return v
}

// Target returns the slot a reference aliases.
func (v Value) Target() *Value {
	v.expect(KindReference)
	return v.ptr.(*Value)
}

func (v Value) AsInt() int {
	v.expect(KindInt)
	return int(int64(v.bits))
}

func (v Value) AsBool() bool {
	v.expect(KindBool)
	return v.bits != 0
}

func (v Value) AsChar() byte {
	v.expect(KindChar)
	return byte(v.bits)
}

func (v Value) AsDouble() float64 {
	v.expect(KindDouble)
	return math.Float64frombits(v.bits)
}

// AsString returns the string payload.
func (v Value) AsString() *StringPayload {
	v.expect(KindString)
	return v.ptr.(*StringPayload)
}

// AsArray returns the array payload, which is nil for the null array.
func (v Value) AsArray() *ArrayPayload {
	v.expect(KindArray)
	a, _ := v.ptr.(*ArrayPayload)
	return a
}

func (v Value) AsFunction() Function {
	v.expect(KindFunction)
	fn, _ := v.ptr.(Function)
	return fn
}

func (v Value) AsBuiltin() *Builtin {
	v.expect(KindBuiltin)
	b, _ := v.ptr.(*Builtin)
	return b
}

func (v Value) expect(k Kind) {
	if v.kind != k {
		panic("heap: read " + k.String() + " from " + v.kind.String() + " value")
	}
}

// object returns the heap payload named by the value, if any. References
// are not followed.
func (v Value) object() object {
	switch v.kind {
	case KindString:
		return v.ptr.(*StringPayload)
	case KindArray:
		if a, _ := v.ptr.(*ArrayPayload); a != nil {
			return a
		}
	}
	return nil
}

// Handle returns the slot of the payload named by v. It is the zero Handle
// for values without a payload.
func (v Value) Handle() Handle {
	if obj := v.Dereference().object(); obj != nil {
		return obj.handle()
	}
	return Handle{}
}
