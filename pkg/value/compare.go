package value

import (
	"bytes"
	"math"
	"strings"
)

// Equal reports whether a and b hold the same value.
// Numeric kinds compare by numeric value; any other cross-kind pair is unequal.
func Equal(a, b Value) bool {
	if a.kind.IsNumeric() && b.kind.IsNumeric() {
		c, ok := compareNumeric(a, b)
		return ok && c == 0
	}
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindText:
		return a.s == b.s
	case KindBytes:
		return bytes.Equal(a.raw, b.raw)
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for i := range a.m {
			if !Equal(a.m[i].Key, b.m[i].Key) || !Equal(a.m[i].Value, b.m[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders a relative to b. ok is false when the kinds have no ordering
// between them, in which case every ordered predicate must evaluate to false.
func Compare(a, b Value) (c int, ok bool) {
	if a.kind.IsNumeric() && b.kind.IsNumeric() {
		return compareNumeric(a, b)
	}
	if a.kind != b.kind {
		return 0, false
	}

	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		default:
			return 1, true
		}
	case KindText:
		return strings.Compare(a.s, b.s), true
	case KindBytes:
		return bytes.Compare(a.raw, b.raw), true
	case KindList:
		n := min(len(a.list), len(b.list))
		for i := 0; i < n; i++ {
			c, ok := Compare(a.list[i], b.list[i])
			if !ok {
				return 0, false
			}
			if c != 0 {
				return c, true
			}
		}
		return cmpInt(len(a.list), len(b.list)), true
	}
	return 0, false
}

// Less reports a < b; false when not comparable
func Less(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c < 0
}

// Greater reports a > b; false when not comparable
func Greater(a, b Value) bool {
	c, ok := Compare(a, b)
	return ok && c > 0
}

// In reports whether v equals any item of the list value set
func In(v, set Value) bool {
	items, ok := set.AsList()
	if !ok {
		return false
	}
	for _, item := range items {
		if Equal(v, item) {
			return true
		}
	}
	return false
}

// Contains reports whether container holds needle: a substring of text,
// a subsequence of bytes, or an element of a list.
func Contains(container, needle Value) bool {
	switch container.kind {
	case KindText:
		s, ok := needle.AsText()
		return ok && strings.Contains(container.s, s)
	case KindBytes:
		b, ok := needle.AsBytes()
		return ok && bytes.Contains(container.raw, b)
	case KindList:
		return In(needle, container)
	}
	return false
}

func compareNumeric(a, b Value) (int, bool) {
	switch {
	case a.kind.IsFloat() || b.kind.IsFloat():
		return compareWithFloat(a, b)
	case a.kind.IsSigned() && b.kind.IsSigned():
		return cmpInt64(a.i, b.i), true
	case a.kind.IsUnsigned() && b.kind.IsUnsigned():
		return cmpUint64(a.u, b.u), true
	case a.kind.IsSigned():
		if a.i < 0 {
			return -1, true
		}
		return cmpUint64(uint64(a.i), b.u), true
	default:
		if b.i < 0 {
			return 1, true
		}
		return cmpUint64(a.u, uint64(b.i)), true
	}
}

// compareWithFloat keeps integer/float equality exact: a float only equals an
// integer when it is integral and converts to the same integer.
func compareWithFloat(a, b Value) (int, bool) {
	if a.kind.IsFloat() && b.kind.IsFloat() {
		if math.IsNaN(a.f) || math.IsNaN(b.f) {
			return 0, false
		}
		return cmpFloat(a.f, b.f), true
	}

	if b.kind.IsFloat() {
		c, ok := compareWithFloat(b, a)
		return -c, ok
	}

	// a is float, b is an integer
	f := a.f
	if math.IsNaN(f) {
		return 0, false
	}
	if iv, ok := integral(f); ok {
		return compareNumeric(iv, b)
	}
	// A non-integral float never equals an integer
	bf, _ := b.AsFloat64()
	return cmpFloat(f, bf), true
}

// integral converts an integral float into an integer value
func integral(f float64) (Value, bool) {
	if math.IsInf(f, 0) || f != math.Trunc(f) {
		return Value{}, false
	}
	switch {
	case f < 0 && f >= math.MinInt64:
		return Int64(int64(f)), true
	case f >= 0 && f < math.MaxUint64:
		return Uint64(uint64(f)), true
	}
	return Value{}, false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int) int { return cmpInt64(int64(a), int64(b)) }
