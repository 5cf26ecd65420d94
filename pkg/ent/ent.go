// ABOUTME: The Ent record: identity, timestamps, fields and edges
// ABOUTME: Records hold a weak handle back to the store they are connected to

package ent

import (
	"fmt"
	"sort"
	"time"

	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// Ent is a schema-typed record. Ents are not safe for concurrent mutation;
// stores keep their own copies.
type Ent struct {
	id          ident.ID
	typ         string
	created     uint64
	lastUpdated uint64
	fields      map[string]value.Value
	edges       map[string]EdgeValue
	conn        WeakHandle
}

// NowMillis returns the current time in epoch milliseconds
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// New creates an ephemeral record of the given type stamped with the current time
func New(typeName string) *Ent {
	now := NowMillis()
	return &Ent{
		typ:         typeName,
		created:     now,
		lastUpdated: now,
		fields:      make(map[string]value.Value),
		edges:       make(map[string]EdgeValue),
	}
}

// Restore rebuilds a record from stored parts. The maps are copied.
func Restore(id ident.ID, typeName string, created, lastUpdated uint64,
	fields map[string]value.Value, edges map[string]EdgeValue) *Ent {
	e := &Ent{
		id:          id,
		typ:         typeName,
		created:     created,
		lastUpdated: lastUpdated,
		fields:      make(map[string]value.Value, len(fields)),
		edges:       make(map[string]EdgeValue, len(edges)),
	}
	for k, v := range fields {
		e.fields[k] = v.Clone()
	}
	for k, v := range edges {
		e.edges[k] = v.WithPolicy(v.policy)
	}
	if e.lastUpdated < e.created {
		e.lastUpdated = e.created
	}
	return e
}

func (e *Ent) ID() ident.ID        { return e.id }
func (e *Ent) TypeName() string    { return e.typ }
func (e *Ent) Created() uint64     { return e.created }
func (e *Ent) LastUpdated() uint64 { return e.lastUpdated }

// IsEphemeral reports whether the record has not been assigned an id yet
func (e *Ent) IsEphemeral() bool { return e.id == ident.Ephemeral }

// AssignID replaces the ephemeral id. It fails once a real id is set.
func (e *Ent) AssignID(id ident.ID) error {
	if id == ident.Ephemeral {
		return fmt.Errorf("%w: cannot assign the ephemeral id", ErrInvalidID)
	}
	if e.id != ident.Ephemeral && e.id != id {
		return fmt.Errorf("%w: record already has id %d", ErrInvalidID, e.id)
	}
	e.id = id
	return nil
}

// SetTimestamps sets both timestamps, keeping last_updated >= created
func (e *Ent) SetTimestamps(created, lastUpdated uint64) {
	e.created = created
	if lastUpdated < created {
		lastUpdated = created
	}
	e.lastUpdated = lastUpdated
}

// Touch moves last_updated forward to at, never before created
func (e *Ent) Touch(at uint64) {
	if at < e.created {
		at = e.created
	}
	e.lastUpdated = at
}

// Field returns the named field's value
func (e *Ent) Field(name string) (value.Value, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// FieldNames returns the record's field names in sorted order
func (e *Ent) FieldNames() []string {
	names := make([]string, 0, len(e.fields))
	for n := range e.fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetField stores v under name and returns the previous value, if any
func (e *Ent) SetField(name string, v value.Value) (value.Value, bool) {
	if e.fields == nil {
		e.fields = make(map[string]value.Value)
	}
	old, ok := e.fields[name]
	e.fields[name] = v
	return old, ok
}

// RemoveField deletes a field and returns its value
func (e *Ent) RemoveField(name string) (value.Value, bool) {
	old, ok := e.fields[name]
	delete(e.fields, name)
	return old, ok
}

// Edge returns the named edge
func (e *Ent) Edge(name string) (EdgeValue, bool) {
	ev, ok := e.edges[name]
	return ev, ok
}

// EdgeTargets returns the ids the named edge points at
func (e *Ent) EdgeTargets(name string) ([]ident.ID, bool) {
	ev, ok := e.edges[name]
	if !ok {
		return nil, false
	}
	return ev.ids, true
}

// EdgeNames returns the record's edge names in sorted order
func (e *Ent) EdgeNames() []string {
	names := make([]string, 0, len(e.edges))
	for n := range e.edges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetEdge stores ev under name and returns the previous edge, if any
func (e *Ent) SetEdge(name string, ev EdgeValue) (EdgeValue, bool) {
	if e.edges == nil {
		e.edges = make(map[string]EdgeValue)
	}
	old, ok := e.edges[name]
	e.edges[name] = ev.WithPolicy(ev.policy)
	return old, ok
}

// RemoveEdge deletes an edge and returns it
func (e *Ent) RemoveEdge(name string) (EdgeValue, bool) {
	old, ok := e.edges[name]
	delete(e.edges, name)
	return old, ok
}

// Clone returns a deep copy that shares the store connection
func (e *Ent) Clone() *Ent {
	c := Restore(e.id, e.typ, e.created, e.lastUpdated, e.fields, e.edges)
	c.conn = e.conn
	return c
}

// Connect attaches the record to a store handle
func (e *Ent) Connect(w WeakHandle) { e.conn = w }

// Disconnect detaches the record from its store
func (e *Ent) Disconnect() { e.conn = WeakHandle{} }

// Handle returns the record's weak store handle
func (e *Ent) Handle() WeakHandle { return e.conn }

// IsConnected reports whether the record's store is still alive
func (e *Ent) IsConnected() bool {
	_, err := e.conn.Upgrade()
	return err == nil
}

// replaceState copies stored state into e, keeping e's connection
func (e *Ent) replaceState(src *Ent) {
	c := src.Clone()
	e.id = c.id
	e.typ = c.typ
	e.created = c.created
	e.lastUpdated = c.lastUpdated
	e.fields = c.fields
	e.edges = c.edges
}

func (e *Ent) String() string {
	return fmt.Sprintf("%s(%d)", e.typ, e.id)
}
