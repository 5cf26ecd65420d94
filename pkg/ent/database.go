package ent

import (
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
)

// Database is the contract every storage backend satisfies
type Database interface {
	// Get returns a copy of the record with id, or nil when there is none
	Get(id ident.ID) (*Ent, error)

	// Insert stores a copy of e. An ephemeral id is replaced with a newly
	// allocated one; an id held by a record of another type is rejected.
	Insert(e *Ent) (ident.ID, error)

	// Remove deletes the record and repairs every edge that referenced it.
	// It reports whether the record existed.
	Remove(id ident.ID) (bool, error)

	// FindAll returns every record matching q in insertion order
	FindAll(q query.Query) ([]*Ent, error)

	// GetAll returns the records for ids that exist, in the order given
	GetAll(ids []ident.ID) ([]*Ent, error)
}

// SchemaSource is implemented by databases that know their record schemas
type SchemaSource interface {
	Schema(typeName string) (*TypeSchema, bool)
}
