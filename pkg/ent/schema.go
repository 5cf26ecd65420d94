// ABOUTME: Static per-type schema: field kinds, index flags and edge specs
// ABOUTME: Schemas are validated once at registration and checked on every insert

package ent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// FieldSpec describes one field of a record type.
// A KindNull Kind accepts values of any kind.
type FieldSpec struct {
	Name     string
	Kind     value.Kind
	Indexed  bool
	Optional bool
}

// EdgeSpec describes one edge of a record type.
// Many edges keep duplicate targets unless Distinct is set.
type EdgeSpec struct {
	Name        string
	Target      string
	Cardinality Cardinality
	Policy      DeletionPolicy
	Distinct    bool
}

// TypeSchema is the static description of a record type
type TypeSchema struct {
	Name   string
	Fields []FieldSpec
	Edges  []EdgeSpec
}

// Validate checks the schema itself for consistency
func (s *TypeSchema) Validate() error {
	if s.Name == "" {
		return &SchemaError{Reason: "type name is empty"}
	}
	seen := make(map[string]string)
	for _, f := range s.Fields {
		if f.Name == "" {
			return &SchemaError{Type: s.Name, Reason: "field name is empty"}
		}
		if _, dup := seen[f.Name]; dup {
			return &SchemaError{Type: s.Name, Name: f.Name, Reason: "declared twice"}
		}
		if f.Kind > value.KindMap {
			return &SchemaError{Type: s.Name, Name: f.Name, Reason: fmt.Sprintf("unknown kind %d", f.Kind)}
		}
		seen[f.Name] = "field"
	}
	for _, ed := range s.Edges {
		if ed.Name == "" {
			return &SchemaError{Type: s.Name, Reason: "edge name is empty"}
		}
		if kind, dup := seen[ed.Name]; dup {
			return &SchemaError{Type: s.Name, Name: ed.Name, Reason: "edge clashes with " + kind}
		}
		if ed.Target == "" {
			return &SchemaError{Type: s.Name, Name: ed.Name, Reason: "edge target type is empty"}
		}
		if ed.Cardinality < CardOne || ed.Cardinality > CardMany {
			return &SchemaError{Type: s.Name, Name: ed.Name, Reason: "invalid cardinality"}
		}
		if ed.Policy != Shallow && ed.Policy != Deep {
			return &SchemaError{Type: s.Name, Name: ed.Name, Reason: "invalid deletion policy"}
		}
		if ed.Distinct && ed.Cardinality != CardMany {
			return &SchemaError{Type: s.Name, Name: ed.Name, Reason: "distinct applies to many edges only"}
		}
		seen[ed.Name] = "edge"
	}
	return nil
}

// Field returns the spec of the named field
func (s *TypeSchema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Edge returns the spec of the named edge
func (s *TypeSchema) Edge(name string) (EdgeSpec, bool) {
	for _, ed := range s.Edges {
		if ed.Name == name {
			return ed, true
		}
	}
	return EdgeSpec{}, false
}

// IndexedFields returns the names of indexed fields
func (s *TypeSchema) IndexedFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Indexed {
			names = append(names, f.Name)
		}
	}
	return names
}

// Missing lists required fields and One edges that e does not carry
func (s *TypeSchema) Missing(e *Ent) []string {
	var missing []string
	for _, f := range s.Fields {
		if _, ok := e.fields[f.Name]; !ok && !f.Optional {
			missing = append(missing, f.Name)
		}
	}
	for _, ed := range s.Edges {
		if _, ok := e.edges[ed.Name]; !ok && ed.Cardinality == CardOne {
			missing = append(missing, ed.Name)
		}
	}
	return missing
}

// Check verifies that e conforms to the schema
func (s *TypeSchema) Check(e *Ent) error {
	if e.typ != s.Name {
		return &SchemaError{Type: s.Name, Reason: fmt.Sprintf("record has type %q", e.typ)}
	}
	if missing := s.Missing(e); len(missing) > 0 {
		return &SchemaError{Type: s.Name, Name: missing[0], Reason: fmt.Sprintf("required %v missing", missing)}
	}
	for _, name := range e.FieldNames() {
		spec, ok := s.Field(name)
		if !ok {
			return &SchemaError{Type: s.Name, Name: name, Reason: "unknown field"}
		}
		v := e.fields[name]
		if v.IsNull() && spec.Optional {
			continue
		}
		if spec.Kind != value.KindNull && v.Kind() != spec.Kind {
			return &SchemaError{Type: s.Name, Name: name,
				Reason: fmt.Sprintf("expected %s, got %s", spec.Kind, v.Kind())}
		}
	}
	for _, name := range e.EdgeNames() {
		spec, ok := s.Edge(name)
		if !ok {
			return &SchemaError{Type: s.Name, Name: name, Reason: "unknown edge"}
		}
		ev := e.edges[name]
		if ev.card != spec.Cardinality {
			return &SchemaError{Type: s.Name, Name: name,
				Reason: fmt.Sprintf("expected %s edge, got %s", spec.Cardinality, ev.card)}
		}
		seen := make(map[ident.ID]bool, len(ev.ids))
		for _, id := range ev.ids {
			if id == ident.Ephemeral {
				return &SchemaError{Type: s.Name, Name: name, Reason: "edge points at an ephemeral record"}
			}
			if spec.Distinct && seen[id] {
				return &SchemaError{Type: s.Name, Name: name, Reason: fmt.Sprintf("duplicate target %d", id)}
			}
			seen[id] = true
		}
	}
	return nil
}

// Normalize applies schema deletion policies to e's edges and fills in
// absent Maybe and Many edges
func (s *TypeSchema) Normalize(e *Ent) {
	for _, spec := range s.Edges {
		ev, ok := e.edges[spec.Name]
		if !ok {
			switch spec.Cardinality {
			case CardMaybe:
				ev = None()
			case CardMany:
				ev = Many()
			default:
				continue
			}
		}
		ev.policy = spec.Policy
		e.edges[spec.Name] = ev
	}
}

// Registry holds one schema per record type
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeSchema
}

// NewRegistry creates a registry with the given schemas
func NewRegistry(schemas ...*TypeSchema) (*Registry, error) {
	r := &Registry{types: make(map[string]*TypeSchema)}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a schema. Each type registers once.
func (r *Registry) Register(s *TypeSchema) error {
	if s == nil {
		return &SchemaError{Reason: "nil schema"}
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]*TypeSchema)
	}
	if _, dup := r.types[s.Name]; dup {
		return &SchemaError{Type: s.Name, Reason: "already registered"}
	}
	r.types[s.Name] = s
	return nil
}

// Lookup returns the schema registered for typeName
func (r *Registry) Lookup(typeName string) (*TypeSchema, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[typeName]
	return s, ok
}

// Types returns the registered type names in sorted order
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
