// ABOUTME: Dynamically typed value used for record fields and predicate operands
// ABOUTME: Tagged union over scalars, text, bytes, lists and maps

package value

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind identifies the concrete type stored in a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindText
	KindBytes
	KindList
	KindMap
)

var kindNames = map[Kind]string{
	KindNull:    "null",
	KindBool:    "bool",
	KindInt8:    "int8",
	KindInt16:   "int16",
	KindInt32:   "int32",
	KindInt64:   "int64",
	KindUint8:   "uint8",
	KindUint16:  "uint16",
	KindUint32:  "uint32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindText:    "text",
	KindBytes:   "bytes",
	KindList:    "list",
	KindMap:     "map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name (as produced by Kind.String) back to a Kind
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	switch name {
	case "int":
		return KindInt64, nil
	case "uint":
		return KindUint64, nil
	case "float", "double":
		return KindFloat64, nil
	case "string":
		return KindText, nil
	}
	return KindNull, fmt.Errorf("value: unknown kind %q", name)
}

// IsSigned reports whether k is a signed integer kind
func (k Kind) IsSigned() bool { return k >= KindInt8 && k <= KindInt64 }

// IsUnsigned reports whether k is an unsigned integer kind
func (k Kind) IsUnsigned() bool { return k >= KindUint8 && k <= KindUint64 }

// IsFloat reports whether k is a floating point kind
func (k Kind) IsFloat() bool { return k == KindFloat32 || k == KindFloat64 }

// IsNumeric reports whether k is any integer or floating point kind
func (k Kind) IsNumeric() bool { return k.IsSigned() || k.IsUnsigned() || k.IsFloat() }

// Value is an immutable tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
	raw  []byte
	list []Value
	m    []MapEntry
}

// MapEntry is a single key/value pair of a map Value
type MapEntry struct {
	Key   Value
	Value Value
}

// Null returns the absent value
func Null() Value { return Value{} }

func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Int8(i int8) Value       { return Value{kind: KindInt8, i: int64(i)} }
func Int16(i int16) Value     { return Value{kind: KindInt16, i: int64(i)} }
func Int32(i int32) Value     { return Value{kind: KindInt32, i: int64(i)} }
func Int64(i int64) Value     { return Value{kind: KindInt64, i: i} }
func Uint8(u uint8) Value     { return Value{kind: KindUint8, u: uint64(u)} }
func Uint16(u uint16) Value   { return Value{kind: KindUint16, u: uint64(u)} }
func Uint32(u uint32) Value   { return Value{kind: KindUint32, u: uint64(u)} }
func Uint64(u uint64) Value   { return Value{kind: KindUint64, u: u} }
func Float32(f float32) Value { return Value{kind: KindFloat32, f: float64(f)} }
func Float64(f float64) Value { return Value{kind: KindFloat64, f: f} }
func Text(s string) Value     { return Value{kind: KindText, s: s} }

// Int is shorthand for Int64
func Int(i int) Value { return Int64(int64(i)) }

// Bytes copies b into a new bytes value
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, raw: cp}
}

// List builds an ordered list value
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map builds a map value. Later entries replace earlier ones with an equal key.
func Map(entries ...MapEntry) Value {
	byKey := make(map[string]MapEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key.Key()] = e
	}
	out := make([]MapEntry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Key() < out[j].Key.Key()
	})
	return Value{kind: KindMap, m: out}
}

// TextMap builds a map value keyed by text
func TextMap(m map[string]Value) Value {
	entries := make([]MapEntry, 0, len(m))
	for k, v := range m {
		entries = append(entries, MapEntry{Key: Text(k), Value: v})
	}
	return Map(entries...)
}

// Kind returns the kind of v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the absent value
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt64 returns v as int64 if it is an integer that fits
func (v Value) AsInt64() (int64, bool) {
	switch {
	case v.kind.IsSigned():
		return v.i, true
	case v.kind.IsUnsigned():
		if v.u > math.MaxInt64 {
			return 0, false
		}
		return int64(v.u), true
	}
	return 0, false
}

// AsUint64 returns v as uint64 if it is a non-negative integer
func (v Value) AsUint64() (uint64, bool) {
	switch {
	case v.kind.IsUnsigned():
		return v.u, true
	case v.kind.IsSigned():
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	}
	return 0, false
}

// AsFloat64 returns any numeric value as float64
func (v Value) AsFloat64() (float64, bool) {
	switch {
	case v.kind.IsFloat():
		return v.f, true
	case v.kind.IsSigned():
		return float64(v.i), true
	case v.kind.IsUnsigned():
		return float64(v.u), true
	}
	return 0, false
}

// AsText returns the string held by a text value
func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// AsBytes returns the bytes held by a bytes value. The slice must not be modified.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.raw, true
}

// AsList returns the items of a list value. The slice must not be modified.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the entries of a map value ordered by key
func (v Value) AsMap() ([]MapEntry, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Len returns the number of items in a list, map, text or bytes value
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindText:
		return len(v.s)
	case KindBytes:
		return len(v.raw)
	}
	return 0
}

// Lookup finds key in a map value
func (v Value) Lookup(key Value) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	k := key.Key()
	i := sort.Search(len(v.m), func(i int) bool { return v.m[i].Key.Key() >= k })
	if i < len(v.m) && v.m[i].Key.Key() == k {
		return v.m[i].Value, true
	}
	return Value{}, false
}

// Clone returns a deep copy of v
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		return Bytes(v.raw)
	case KindList:
		items := make([]Value, len(v.list))
		for i := range v.list {
			items[i] = v.list[i].Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		entries := make([]MapEntry, len(v.m))
		for i := range v.m {
			entries[i] = MapEntry{Key: v.m[i].Key.Clone(), Value: v.m[i].Value.Clone()}
		}
		return Value{kind: KindMap, m: entries}
	}
	return v
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return fmt.Sprintf("%d", v.u)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.raw)
	case KindList:
		parts := make([]string, len(v.list))
		for i := range v.list {
			parts[i] = v.list[i].String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(v.m))
		for i := range v.m {
			parts[i] = v.m[i].Key.String() + ": " + v.m[i].Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "invalid"
}
