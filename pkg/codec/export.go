package codec

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/value"
)

// ValueToProto converts a value to a protobuf struct value. 64-bit
// integers outside the float64-exact range are exported as strings; bytes
// are base64; maps with non-text keys become lists of key/value pairs.
func ValueToProto(v value.Value) (*structpb.Value, error) {
	k := v.Kind()
	switch {
	case k == value.KindNull:
		return structpb.NewNullValue(), nil
	case k == value.KindBool:
		b, _ := v.AsBool()
		return structpb.NewBoolValue(b), nil
	case k.IsSigned():
		i, _ := v.AsInt64()
		if i > maxExact || i < -maxExact {
			return structpb.NewStringValue(strconv.FormatInt(i, 10)), nil
		}
		return structpb.NewNumberValue(float64(i)), nil
	case k.IsUnsigned():
		u, _ := v.AsUint64()
		if u > maxExact {
			return structpb.NewStringValue(strconv.FormatUint(u, 10)), nil
		}
		return structpb.NewNumberValue(float64(u)), nil
	case k.IsFloat():
		f, _ := v.AsFloat64()
		return structpb.NewNumberValue(f), nil
	case k == value.KindText:
		s, _ := v.AsText()
		return structpb.NewStringValue(s), nil
	case k == value.KindBytes:
		b, _ := v.AsBytes()
		return structpb.NewStringValue(base64.StdEncoding.EncodeToString(b)), nil
	case k == value.KindList:
		items, _ := v.AsList()
		list := &structpb.ListValue{Values: make([]*structpb.Value, len(items))}
		for i, item := range items {
			pv, err := ValueToProto(item)
			if err != nil {
				return nil, err
			}
			list.Values[i] = pv
		}
		return structpb.NewListValue(list), nil
	case k == value.KindMap:
		return mapToProto(v)
	}
	return nil, fmt.Errorf("codec: cannot export kind %s", k)
}

// maxExact is the largest integer magnitude a float64 holds exactly
const maxExact = 1 << 53

func mapToProto(v value.Value) (*structpb.Value, error) {
	entries, _ := v.AsMap()
	textKeys := true
	for _, e := range entries {
		if e.Key.Kind() != value.KindText {
			textKeys = false
			break
		}
	}

	if textKeys {
		st := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(entries))}
		for _, e := range entries {
			key, _ := e.Key.AsText()
			pv, err := ValueToProto(e.Value)
			if err != nil {
				return nil, err
			}
			st.Fields[key] = pv
		}
		return structpb.NewStructValue(st), nil
	}

	pairs := &structpb.ListValue{}
	for _, e := range entries {
		key, err := ValueToProto(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := ValueToProto(e.Value)
		if err != nil {
			return nil, err
		}
		pair := &structpb.Struct{Fields: map[string]*structpb.Value{"key": key, "value": val}}
		pairs.Values = append(pairs.Values, structpb.NewStructValue(pair))
	}
	return structpb.NewListValue(pairs), nil
}

// RecordToProto converts a record to a protobuf struct. Ids are strings,
// matching the protobuf JSON mapping of uint64.
func RecordToProto(e *ent.Ent) (*structpb.Struct, error) {
	fields := &structpb.Struct{Fields: make(map[string]*structpb.Value)}
	for _, name := range e.FieldNames() {
		v, _ := e.Field(name)
		pv, err := ValueToProto(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields.Fields[name] = pv
	}

	edges := &structpb.Struct{Fields: make(map[string]*structpb.Value)}
	for _, name := range e.EdgeNames() {
		ev, _ := e.Edge(name)
		targets := &structpb.ListValue{}
		for _, id := range ev.IDs() {
			targets.Values = append(targets.Values, structpb.NewStringValue(strconv.FormatUint(id, 10)))
		}
		edges.Fields[name] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"cardinality": structpb.NewStringValue(ev.Cardinality().String()),
			"policy":      structpb.NewStringValue(ev.Policy().String()),
			"targets":     structpb.NewListValue(targets),
		}})
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":           structpb.NewStringValue(strconv.FormatUint(e.ID(), 10)),
		"type":         structpb.NewStringValue(e.TypeName()),
		"created":      structpb.NewNumberValue(float64(e.Created())),
		"last_updated": structpb.NewNumberValue(float64(e.LastUpdated())),
		"fields":       structpb.NewStructValue(fields),
		"edges":        structpb.NewStructValue(edges),
	}}, nil
}

// Exporter writes records as newline-delimited protobuf JSON
type Exporter struct {
	w    io.Writer
	opts protojson.MarshalOptions
	n    int
}

// NewExporter creates an exporter writing to w
func NewExporter(w io.Writer) *Exporter {
	return &Exporter{w: w}
}

// Write exports one record as a single JSON line
func (x *Exporter) Write(e *ent.Ent) error {
	st, err := RecordToProto(e)
	if err != nil {
		return err
	}
	line, err := x.opts.Marshal(st)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := x.w.Write(line); err != nil {
		return err
	}
	x.n++
	return nil
}

// Count returns how many records were written
func (x *Exporter) Count() int { return x.n }
