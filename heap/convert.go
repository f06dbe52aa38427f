package heap

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNotConvertible is returned for conversions that have no meaning, such
// as producing a reference from a plain value.
var ErrNotConvertible = errors.New("not convertible")

// ConvertTo coerces v to the given kind. References are followed first and
// converting to the kind v already has returns v itself. Only conversion to
// a string may allocate.
func (h *Heap) ConvertTo(v Value, k Kind) (Value, error) {
	v = v.Dereference()
	if v.kind == k {
		return v, nil
	}
	switch k {
	case KindUndefined:
		return Undefined(), nil
	case KindReference:
		return Value{}, fmt.Errorf("%w: %s to reference", ErrNotConvertible, v.kind)
	case KindInt:
		return Int(ToInt(v)), nil
	case KindBool:
		return Bool(ToBool(v)), nil
	case KindChar:
		return Char(toChar(v)), nil
	case KindDouble:
		return Double(ToDouble(v)), nil
	case KindString:
		return h.NewString(Format(v))
	case KindArray:
		return NullArray(), nil
	case KindFunction:
		return FunctionValue(nil), nil
	case KindBuiltin:
		return BuiltinValue(nil), nil
	}
	return Value{}, fmt.Errorf("%w: unknown kind %d", ErrNotConvertible, k)
}

// ToInt returns the integer interpretation of v.
func ToInt(v Value) int {
	v = v.Dereference()
	switch v.kind {
	case KindInt:
		return v.AsInt()
	case KindBool:
		if v.AsBool() {
			return 1
		}
		return 0
	case KindChar:
		return int(v.AsChar())
	case KindDouble:
		return int(v.AsDouble())
	case KindString:
		return parseIntPrefix(v.AsString().Bytes())
	case KindArray, KindFunction, KindBuiltin:
		if isNull(v) {
			return 0
		}
		return 1
	}
	return 0
}

// ToBool returns the truth value of v.
func ToBool(v Value) bool {
	v = v.Dereference()
	switch v.kind {
	case KindBool:
		return v.AsBool()
	case KindDouble:
		return v.AsDouble() != 0
	case KindString:
		return v.AsString().Len() > 0
	case KindArray, KindFunction, KindBuiltin:
		return !isNull(v)
	}
	return ToInt(v) != 0
}

// ToDouble returns the floating point interpretation of v.
func ToDouble(v Value) float64 {
	v = v.Dereference()
	switch v.kind {
	case KindDouble:
		return v.AsDouble()
	case KindString:
		return parseFloatPrefix(v.AsString().Bytes())
	}
	return float64(ToInt(v))
}

func toChar(v Value) byte {
	v = v.Dereference()
	if v.kind == KindString {
		if b := v.AsString().Bytes(); len(b) > 0 {
			return b[0]
		}
		return 0
	}
	return byte(ToInt(v))
}

// Format returns the text a value converts to. It does not allocate on the
// heap.
func Format(v Value) string {
	v = v.Dereference()
	switch v.kind {
	case KindUndefined:
		return "[undefined]"
	case KindInt, KindBool:
		return strconv.Itoa(ToInt(v))
	case KindChar:
		return string([]byte{v.AsChar()})
	case KindDouble:
		return strconv.FormatFloat(v.AsDouble(), 'g', 6, 64)
	case KindString:
		return v.AsString().String()
	case KindArray:
		return "[array]"
	case KindFunction, KindBuiltin:
		return "[function]"
	}
	return "!err"
}

func isNull(v Value) bool {
	switch v.kind {
	case KindArray:
		return v.AsArray() == nil
	case KindFunction:
		return v.AsFunction() == nil
	case KindBuiltin:
		return v.AsBuiltin() == nil
	}
	return false
}

// parseIntPrefix parses a decimal integer at the start of b, after optional
// leading spaces, and ignores whatever follows. It returns 0 when there is
// no number.
func parseIntPrefix(b []byte) int {
	i := skipSpace(b, 0)
	start := i
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		i++
	}
	j := scanDigits(b, i)
	if j == i {
		return 0
	}
	// Out of range values saturate.
	n, err := strconv.Atoi(string(b[start:j]))
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return n
}

// parseFloatPrefix is the floating point counterpart of parseIntPrefix.
func parseFloatPrefix(b []byte) float64 {
	i := skipSpace(b, 0)
	start := i
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		i++
	}
	mant := scanDigits(b, i)
	digits := mant - i
	if mant < len(b) && b[mant] == '.' {
		frac := scanDigits(b, mant+1)
		digits += frac - (mant + 1)
		mant = frac
	}
	if digits == 0 {
		return 0
	}
	end := mant
	if end < len(b) && (b[end] == 'e' || b[end] == 'E') {
		e := end + 1
		if e < len(b) && (b[e] == '+' || b[e] == '-') {
			e++
		}
		if d := scanDigits(b, e); d > e {
			end = d
		}
	}
	f, err := strconv.ParseFloat(string(b[start:end]), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return f
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r' || b[i] == '\v' || b[i] == '\f') {
		i++
	}
	return i
}

func scanDigits(b []byte, i int) int {
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	return i
}
