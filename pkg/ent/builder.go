package ent

import (
	"fmt"

	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// Builder assembles a record. Ids default to ephemeral and timestamps to now.
type Builder struct {
	e      *Ent
	schema *TypeSchema
	err    error
}

// NewBuilder starts a record of the given type
func NewBuilder(typeName string) *Builder {
	return &Builder{e: New(typeName)}
}

// Schema makes Build verify the record against s
func (b *Builder) Schema(s *TypeSchema) *Builder {
	b.schema = s
	return b
}

func (b *Builder) ID(id ident.ID) *Builder {
	b.e.id = id
	return b
}

func (b *Builder) Created(ms uint64) *Builder {
	b.e.created = ms
	return b
}

func (b *Builder) LastUpdated(ms uint64) *Builder {
	b.e.lastUpdated = ms
	return b
}

// Field sets a field from a Value
func (b *Builder) Field(name string, v value.Value) *Builder {
	b.e.SetField(name, v)
	return b
}

// FieldAny sets a field from a Go value, recording conversion errors for Build
func (b *Builder) FieldAny(name string, x any) *Builder {
	v, err := value.From(x)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("field %q: %w", name, err)
		}
		return b
	}
	return b.Field(name, v)
}

func (b *Builder) Edge(name string, ev EdgeValue) *Builder {
	b.e.SetEdge(name, ev)
	return b
}

func (b *Builder) Connect(w WeakHandle) *Builder {
	b.e.conn = w
	return b
}

// Build returns the record, or an error naming every missing required
// field and edge
func (b *Builder) Build() (*Ent, error) {
	if b.err != nil {
		return nil, b.err
	}
	e := b.e.Clone()
	e.SetTimestamps(e.created, e.lastUpdated)
	if b.schema != nil {
		if err := b.schema.Check(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Commit builds the record and persists it through w
func (b *Builder) Commit(w WeakHandle) (*Ent, error) {
	e, err := b.Build()
	if err != nil {
		return nil, err
	}
	e.Connect(w)
	if err := e.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}
