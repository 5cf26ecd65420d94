package ent

import (
	"errors"
	"fmt"

	"github.com/nainya/entgraph/pkg/ident"
)

var (
	// ErrDisconnected is returned when a record has no live store handle
	ErrDisconnected = errors.New("ent: disconnected from store")

	// ErrNotFound is returned when a strict load requests a missing record
	ErrNotFound = errors.New("ent: not found")

	// ErrDuplicateID is returned when an insert collides with a different record
	ErrDuplicateID = errors.New("ent: duplicate id")

	// ErrBrokenEdge is returned when an edge references a missing or mistyped target
	ErrBrokenEdge = errors.New("ent: broken edge")

	// ErrConstraintViolation is returned when edge repair would break a required edge
	ErrConstraintViolation = errors.New("ent: constraint violation")

	// ErrIndexCorruption signals an internal index or adjacency desync
	ErrIndexCorruption = errors.New("ent: index corruption")

	// ErrSchema is returned when a record does not satisfy its type schema
	ErrSchema = errors.New("ent: schema violation")

	// ErrInvalidID is returned for identifiers that cannot be assigned
	ErrInvalidID = errors.New("ent: invalid id")

	// ErrClosed is returned by stores that have been closed
	ErrClosed = errors.New("ent: store closed")
)

// DuplicateIDError describes an insert that collides with a stored record of another type
type DuplicateIDError struct {
	ID       ident.ID
	Existing string
	Incoming string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("ent: id %d already holds a %q record, cannot insert %q", e.ID, e.Existing, e.Incoming)
}

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// BrokenEdgeError describes an edge whose target is missing or of the wrong type
type BrokenEdgeError struct {
	Owner  ident.ID
	Edge   string
	Target ident.ID
	Reason string
}

func (e *BrokenEdgeError) Error() string {
	return fmt.Sprintf("ent: edge %q of %d -> %d is broken: %s", e.Edge, e.Owner, e.Target, e.Reason)
}

func (e *BrokenEdgeError) Unwrap() error { return ErrBrokenEdge }

// ConstraintError describes a removal that would leave a One edge dangling
type ConstraintError struct {
	Owner  ident.ID
	Edge   string
	Target ident.ID
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("ent: removing %d would break required edge %q of %d", e.Target, e.Edge, e.Owner)
}

func (e *ConstraintError) Unwrap() error { return ErrConstraintViolation }

// SchemaError describes a record or schema that fails validation
type SchemaError struct {
	Type   string
	Name   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("ent: type %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("ent: type %q, %q: %s", e.Type, e.Name, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// IndexCorruptionError describes an internal invariant failure
type IndexCorruptionError struct {
	ID     ident.ID
	Detail string
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("ent: index corruption at %d: %s", e.ID, e.Detail)
}

func (e *IndexCorruptionError) Unwrap() error { return ErrIndexCorruption }
