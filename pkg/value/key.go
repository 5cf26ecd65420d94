package value

import (
	"math"
	"strconv"
	"strings"
)

// Key returns a string that is identical for values that are Equal.
// Numeric values are normalised so Int8(5), Uint64(5) and Float64(5) share a key.
// The secondary index buckets records by this key.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "n"
	case KindBool:
		if v.b {
			return "b:1"
		}
		return "b:0"
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return "i:" + strconv.FormatUint(v.u, 10)
	case KindFloat32, KindFloat64:
		if iv, ok := integral(v.f); ok {
			return iv.Key()
		}
		if math.IsNaN(v.f) {
			return "f:NaN"
		}
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return "s:" + v.s
	case KindBytes:
		return "x:" + string(v.raw)
	case KindList:
		var sb strings.Builder
		sb.WriteString("l:")
		for i := range v.list {
			writeFramed(&sb, v.list[i].Key())
		}
		return sb.String()
	case KindMap:
		var sb strings.Builder
		sb.WriteString("m:")
		for i := range v.m {
			writeFramed(&sb, v.m[i].Key.Key())
			writeFramed(&sb, v.m[i].Value.Key())
		}
		return sb.String()
	}
	return "invalid"
}

// writeFramed length-prefixes k so nested keys cannot collide
func writeFramed(sb *strings.Builder, k string) {
	sb.WriteString(strconv.Itoa(len(k)))
	sb.WriteByte(':')
	sb.WriteString(k)
}
