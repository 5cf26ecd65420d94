// ABOUTME: Order-preserving keys for range indices
// ABOUTME: bytes.Compare on two keys agrees with value.Compare on their values

package codec

import (
	"math"

	"github.com/nainya/entgraph/pkg/value"
)

// Key classes. Every numeric key sorts before every text key.
const (
	OrderNumeric byte = 0x10
	OrderText    byte = 0x20
)

// AppendOrderKey appends the order key of v to out. ok is false for kinds
// with no total order across the index: null, bool, bytes, collections and NaN.
//
// Numbers of every width share one float64 key space, so keys of values that
// differ only past float64 precision collide; callers re-check candidates.
func AppendOrderKey(out []byte, v value.Value) ([]byte, bool) {
	switch k := v.Kind(); {
	case k.IsNumeric():
		f, _ := v.AsFloat64()
		if math.IsNaN(f) {
			return out, false
		}
		return AppendFloatKey(out, f), true
	case k == value.KindText:
		s, _ := v.AsText()
		out = AppendTextPrefix(out, s)
		return append(out, 0), true
	}
	return out, false
}

// AppendFloatKey appends the numeric order key of f
func AppendFloatKey(out []byte, f float64) []byte {
	if f == 0 {
		f = 0 // -0 sorts with +0
	}
	bits := math.Float64bits(f)
	if bits>>63 == 1 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out = append(out, OrderNumeric)
	return appendUint64(out, bits)
}

// AppendTextPrefix appends the key of s without its terminator. Every text
// starting with s has a key starting with the result.
//
// 0x00 ends a text, so 0x00 and 0x01 are escaped as 0x01 0x01 and 0x01 0x02.
func AppendTextPrefix(out []byte, s string) []byte {
	out = append(out, OrderText)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0x00, 0x01:
			out = append(out, 0x01, c+1)
		default:
			out = append(out, c)
		}
	}
	return out
}
