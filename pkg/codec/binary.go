// ABOUTME: Type-tagged binary encoding of values and records for the journal
// ABOUTME: Integers are big-endian with flipped sign bits; text is escaped and null-terminated

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// RecordVersion is the first byte of every encoded record
const RecordVersion = 1

// ErrMalformed is returned for input that is not a valid encoding
var ErrMalformed = errors.New("codec: malformed input")

// AppendValue appends the encoding of v to out
func AppendValue(out []byte, v value.Value) []byte {
	k := v.Kind()
	out = append(out, byte(k))

	switch {
	case k == value.KindNull:
	case k == value.KindBool:
		b, _ := v.AsBool()
		if b {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case k.IsSigned():
		i, _ := v.AsInt64()
		out = appendUint64(out, uint64(i)+(1<<63))
	case k.IsUnsigned():
		u, _ := v.AsUint64()
		out = appendUint64(out, u)
	case k.IsFloat():
		f, _ := v.AsFloat64()
		out = appendUint64(out, math.Float64bits(f))
	case k == value.KindText:
		s, _ := v.AsText()
		out = append(out, escapeString([]byte(s))...)
		out = append(out, 0)
	case k == value.KindBytes:
		b, _ := v.AsBytes()
		out = append(out, escapeString(b)...)
		out = append(out, 0)
	case k == value.KindList:
		items, _ := v.AsList()
		out = binary.AppendUvarint(out, uint64(len(items)))
		for _, item := range items {
			out = AppendValue(out, item)
		}
	case k == value.KindMap:
		entries, _ := v.AsMap()
		out = binary.AppendUvarint(out, uint64(len(entries)))
		for _, e := range entries {
			out = AppendValue(out, e.Key)
			out = AppendValue(out, e.Value)
		}
	default:
		panic(fmt.Sprintf("codec: unknown kind: %d", k))
	}
	return out
}

// EncodeValue encodes a single value
func EncodeValue(v value.Value) []byte {
	return AppendValue(make([]byte, 0, 16), v)
}

// DecodeValue decodes a single value and rejects trailing bytes
func DecodeValue(data []byte) (value.Value, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return value.Value{}, err
	}
	if d.pos != len(data) {
		return value.Value{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-d.pos)
	}
	return v, nil
}

// EncodeRecord encodes a record
func EncodeRecord(e *ent.Ent) []byte {
	out := make([]byte, 0, 128)
	out = append(out, RecordVersion)
	out = appendUint64(out, e.ID())
	out = appendString(out, e.TypeName())
	out = appendUint64(out, e.Created())
	out = appendUint64(out, e.LastUpdated())

	names := e.FieldNames()
	out = binary.AppendUvarint(out, uint64(len(names)))
	for _, name := range names {
		v, _ := e.Field(name)
		out = appendString(out, name)
		out = AppendValue(out, v)
	}

	names = e.EdgeNames()
	out = binary.AppendUvarint(out, uint64(len(names)))
	for _, name := range names {
		ev, _ := e.Edge(name)
		out = appendString(out, name)
		out = append(out, byte(ev.Cardinality()), byte(ev.Policy()))
		ids := ev.IDs()
		out = binary.AppendUvarint(out, uint64(len(ids)))
		for _, id := range ids {
			out = appendUint64(out, id)
		}
	}
	return out
}

// DecodeRecord decodes a record produced by EncodeRecord
func DecodeRecord(data []byte) (*ent.Ent, error) {
	d := &decoder{data: data}
	version, err := d.byte()
	if err != nil {
		return nil, err
	}
	if version != RecordVersion {
		return nil, fmt.Errorf("%w: record version %d", ErrMalformed, version)
	}

	id, err := d.uint64()
	if err != nil {
		return nil, err
	}
	typ, err := d.string()
	if err != nil {
		return nil, err
	}
	created, err := d.uint64()
	if err != nil {
		return nil, err
	}
	updated, err := d.uint64()
	if err != nil {
		return nil, err
	}

	n, err := d.count()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]value.Value, n)
	for i := 0; i < n; i++ {
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = v
	}

	n, err = d.count()
	if err != nil {
		return nil, err
	}
	edges := make(map[string]ent.EdgeValue, n)
	for i := 0; i < n; i++ {
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		card, err := d.byte()
		if err != nil {
			return nil, err
		}
		policy, err := d.byte()
		if err != nil {
			return nil, err
		}
		m, err := d.count()
		if err != nil {
			return nil, err
		}
		ids := make([]ident.ID, m)
		for j := range ids {
			if ids[j], err = d.uint64(); err != nil {
				return nil, err
			}
		}
		ev, err := ent.NewEdgeValue(ent.Cardinality(card), ids, ent.DeletionPolicy(policy))
		if err != nil {
			return nil, fmt.Errorf("%w: edge %q: %v", ErrMalformed, name, err)
		}
		edges[name] = ev
	}

	if d.pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-d.pos)
	}
	return ent.Restore(id, typ, created, updated, fields, edges), nil
}

func appendUint64(out []byte, u uint64) []byte {
	return binary.BigEndian.AppendUint64(out, u)
}

func appendString(out []byte, s string) []byte {
	out = append(out, escapeString([]byte(s))...)
	return append(out, 0)
}

// escapeString escapes 0x00, 0xFE and 0xFF so that 0x00 terminates
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b >= 0xFE {
			escapes++
		}
	}

	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0:
			out = append(out, 0xFE, 0x01)
		case 0xFE:
			out = append(out, 0xFE, 0xFE)
		case 0xFF:
			out = append(out, 0xFE, 0xFF)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != 0xFE {
			out = append(out, s[i])
			continue
		}
		if i+1 >= len(s) {
			return nil, fmt.Errorf("%w: dangling escape", ErrMalformed)
		}
		i++
		switch s[i] {
		case 0x01:
			out = append(out, 0)
		case 0xFE, 0xFF:
			out = append(out, s[i])
		default:
			return nil, fmt.Errorf("%w: bad escape %#x", ErrMalformed, s[i])
		}
	}
	return out, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: unexpected end at pos %d", ErrMalformed, d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) uint64() (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("%w: incomplete uint64 at pos %d", ErrMalformed, d.pos)
	}
	u := binary.BigEndian.Uint64(d.data[d.pos : d.pos+8])
	d.pos += 8
	return u, nil
}

// count reads a collection length, bounded by the remaining input
func (d *decoder) count() (int, error) {
	n, size := binary.Uvarint(d.data[d.pos:])
	if size <= 0 {
		return 0, fmt.Errorf("%w: bad length at pos %d", ErrMalformed, d.pos)
	}
	d.pos += size
	if n > uint64(len(d.data)-d.pos) {
		return 0, fmt.Errorf("%w: length %d exceeds input", ErrMalformed, n)
	}
	return int(n), nil
}

func (d *decoder) rawString() ([]byte, error) {
	end := d.pos
	for end < len(d.data) && d.data[end] != 0 {
		end++
	}
	if end >= len(d.data) {
		return nil, fmt.Errorf("%w: unterminated string at pos %d", ErrMalformed, d.pos)
	}
	s, err := unescapeString(d.data[d.pos:end])
	if err != nil {
		return nil, err
	}
	d.pos = end + 1
	return s, nil
}

func (d *decoder) string() (string, error) {
	s, err := d.rawString()
	return string(s), err
}

func (d *decoder) value() (value.Value, error) {
	tag, err := d.byte()
	if err != nil {
		return value.Value{}, err
	}
	k := value.Kind(tag)

	switch {
	case k == value.KindNull:
		return value.Null(), nil
	case k == value.KindBool:
		b, err := d.byte()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(b != 0), nil
	case k.IsSigned():
		u, err := d.uint64()
		if err != nil {
			return value.Value{}, err
		}
		return signed(k, int64(u-(1<<63))), nil
	case k.IsUnsigned():
		u, err := d.uint64()
		if err != nil {
			return value.Value{}, err
		}
		return unsigned(k, u), nil
	case k.IsFloat():
		u, err := d.uint64()
		if err != nil {
			return value.Value{}, err
		}
		if k == value.KindFloat32 {
			return value.Float32(float32(math.Float64frombits(u))), nil
		}
		return value.Float64(math.Float64frombits(u)), nil
	case k == value.KindText:
		s, err := d.string()
		if err != nil {
			return value.Value{}, err
		}
		return value.Text(s), nil
	case k == value.KindBytes:
		b, err := d.rawString()
		if err != nil {
			return value.Value{}, err
		}
		return value.Bytes(b), nil
	case k == value.KindList:
		n, err := d.count()
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			if items[i], err = d.value(); err != nil {
				return value.Value{}, err
			}
		}
		return value.List(items...), nil
	case k == value.KindMap:
		n, err := d.count()
		if err != nil {
			return value.Value{}, err
		}
		entries := make([]value.MapEntry, n)
		for i := range entries {
			if entries[i].Key, err = d.value(); err != nil {
				return value.Value{}, err
			}
			if entries[i].Value, err = d.value(); err != nil {
				return value.Value{}, err
			}
		}
		return value.Map(entries...), nil
	}
	return value.Value{}, fmt.Errorf("%w: unknown kind %d at pos %d", ErrMalformed, tag, d.pos-1)
}

func signed(k value.Kind, i int64) value.Value {
	switch k {
	case value.KindInt8:
		return value.Int8(int8(i))
	case value.KindInt16:
		return value.Int16(int16(i))
	case value.KindInt32:
		return value.Int32(int32(i))
	}
	return value.Int64(i)
}

func unsigned(k value.Kind, u uint64) value.Value {
	switch k {
	case value.KindUint8:
		return value.Uint8(uint8(u))
	case value.KindUint16:
		return value.Uint16(uint16(u))
	case value.KindUint32:
		return value.Uint32(uint32(u))
	}
	return value.Uint64(u)
}
