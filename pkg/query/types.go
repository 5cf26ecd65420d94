// ABOUTME: Condition tree for filtering records
// ABOUTME: Identity, type, timestamp, field, edge and boolean conditions

package query

import (
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// Subject is the view of a record that conditions are evaluated against
type Subject interface {
	ID() ident.ID
	TypeName() string
	Created() uint64
	LastUpdated() uint64
	Field(name string) (value.Value, bool)
	EdgeTargets(name string) ([]ident.ID, bool)
}

// Resolver gives edge conditions access to the rest of the store.
// A nil Resolver makes every condition that needs one evaluate to false.
type Resolver interface {
	// Resolve returns the record with the given id, if present
	Resolve(id ident.ID) (Subject, bool)

	// Referrers returns the records whose edge named edge points at target
	Referrers(target ident.ID, edge string) []Subject
}

// Condition is a node of the filter tree
type Condition interface {
	isCondition()
}

// All matches every record
type All struct{}

// HasID matches the record with the given identifier
type HasID struct {
	ID ident.ID
}

// HasType matches records of the given type
type HasType struct {
	Name string
}

// Created matches on the creation timestamp
type Created struct {
	Time TimeCondition
}

// LastUpdated matches on the last update timestamp
type LastUpdated struct {
	Time TimeCondition
}

// Field matches records whose named field satisfies Cond.
// Records without the field never match.
type Field struct {
	Name string
	Cond ValueCondition
}

// Edge matches records whose named edge has a target passing Filter
type Edge struct {
	Name   string
	Filter Filter
}

// Referenced matches records that some record satisfying By points at
// through its edge named Edge
type Referenced struct {
	Edge string
	By   Condition
}

// And matches when every condition matches. An empty And matches everything.
type And []Condition

// Or matches when any condition matches. An empty Or matches nothing.
type Or []Condition

// Xor matches when exactly one side matches
type Xor struct {
	Left, Right Condition
}

// Not inverts Inner
type Not struct {
	Inner Condition
}

func (All) isCondition()         {}
func (HasID) isCondition()       {}
func (HasType) isCondition()     {}
func (Created) isCondition()     {}
func (LastUpdated) isCondition() {}
func (Field) isCondition()       {}
func (Edge) isCondition()        {}
func (Referenced) isCondition()  {}
func (And) isCondition()         {}
func (Or) isCondition()          {}
func (Xor) isCondition()         {}
func (Not) isCondition()         {}

// Filter selects edge targets
type Filter interface {
	isFilter()
}

// IDFilter tests each target identifier, as a Uint64 value, without loading it
type IDFilter struct {
	Cond ValueCondition
}

// TargetFilter resolves each target and evaluates Cond against it.
// Missing targets never match.
type TargetFilter struct {
	Cond Condition
}

func (IDFilter) isFilter()     {}
func (TargetFilter) isFilter() {}

// FilterIDs builds an identifier-level edge filter
func FilterIDs(c ValueCondition) Filter { return IDFilter{Cond: c} }

// FilterTargets builds an edge filter that inspects the target records
func FilterTargets(c Condition) Filter { return TargetFilter{Cond: c} }

// PointsTo is the edge filter selecting edges that reference id
func PointsTo(id ident.ID) Filter { return IDFilter{Cond: EqualTo(value.Uint64(id))} }
