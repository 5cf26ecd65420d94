// ABOUTME: Store operations reachable from a record through its weak handle
// ABOUTME: Every call fails with ErrDisconnected when the store is gone

package ent

import (
	"fmt"

	"github.com/nainya/entgraph/pkg/ident"
)

func notFound(id ident.ID) error {
	return fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Load fetches the record with id through w; a missing record is ErrNotFound
func Load(w WeakHandle, id ident.ID) (*Ent, error) {
	db, err := w.Upgrade()
	if err != nil {
		return nil, err
	}
	e, err := db.Get(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound(id)
	}
	e.Connect(w)
	return e, nil
}

// Commit persists the record. The first commit assigns the real id;
// later commits update the stored copy. The record is refreshed with the
// stored timestamps and edges afterwards.
func (e *Ent) Commit() error {
	db, err := e.conn.Upgrade()
	if err != nil {
		return err
	}
	id, err := db.Insert(e)
	if err != nil {
		return err
	}
	if err := e.AssignID(id); err != nil {
		return err
	}
	stored, err := db.Get(id)
	if err != nil {
		return err
	}
	if stored != nil {
		e.replaceState(stored)
	}
	return nil
}

// Refresh reloads the record's state from the store
func (e *Ent) Refresh() error {
	db, err := e.conn.Upgrade()
	if err != nil {
		return err
	}
	if e.IsEphemeral() {
		return fmt.Errorf("%w: record was never committed", ErrNotFound)
	}
	stored, err := db.Get(e.id)
	if err != nil {
		return err
	}
	if stored == nil {
		return notFound(e.id)
	}
	e.replaceState(stored)
	return nil
}

// Remove deletes the record from its store, cascading through edges
func (e *Ent) Remove() (bool, error) {
	db, err := e.conn.Upgrade()
	if err != nil {
		return false, err
	}
	if e.IsEphemeral() {
		return false, nil
	}
	return db.Remove(e.id)
}

// LoadEdge loads the targets of the named edge in edge order. A missing
// target, or one whose type differs from the schema, is a BrokenEdgeError.
func (e *Ent) LoadEdge(name string) ([]*Ent, error) {
	db, err := e.conn.Upgrade()
	if err != nil {
		return nil, err
	}
	ev, ok := e.edges[name]
	if !ok {
		return nil, &SchemaError{Type: e.typ, Name: name, Reason: "unknown edge"}
	}
	var wantType string
	if src, ok := db.(SchemaSource); ok {
		if s, ok := src.Schema(e.typ); ok {
			if spec, ok := s.Edge(name); ok {
				wantType = spec.Target
			}
		}
	}

	out := make([]*Ent, 0, len(ev.ids))
	for _, id := range ev.ids {
		target, err := db.Get(id)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, &BrokenEdgeError{Owner: e.id, Edge: name, Target: id, Reason: "target does not exist"}
		}
		if wantType != "" && target.typ != wantType {
			return nil, &BrokenEdgeError{Owner: e.id, Edge: name, Target: id,
				Reason: fmt.Sprintf("target is %q, want %q", target.typ, wantType)}
		}
		target.Connect(e.conn)
		out = append(out, target)
	}
	return out, nil
}

// LoadOne loads the target of a One edge
func (e *Ent) LoadOne(name string) (*Ent, error) {
	if err := e.expectCardinality(name, CardOne); err != nil {
		return nil, err
	}
	targets, err := e.LoadEdge(name)
	if err != nil {
		return nil, err
	}
	return targets[0], nil
}

// LoadMaybe loads the target of a Maybe edge, nil when the edge is empty
func (e *Ent) LoadMaybe(name string) (*Ent, error) {
	if err := e.expectCardinality(name, CardMaybe); err != nil {
		return nil, err
	}
	targets, err := e.LoadEdge(name)
	if err != nil || len(targets) == 0 {
		return nil, err
	}
	return targets[0], nil
}

func (e *Ent) expectCardinality(name string, want Cardinality) error {
	ev, ok := e.edges[name]
	if !ok {
		return &SchemaError{Type: e.typ, Name: name, Reason: "unknown edge"}
	}
	if ev.card != want {
		return &SchemaError{Type: e.typ, Name: name,
			Reason: fmt.Sprintf("expected %s edge, got %s", want, ev.card)}
	}
	return nil
}
