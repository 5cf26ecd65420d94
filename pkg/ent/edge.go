// ABOUTME: Edge values: cardinality-constrained references to other records
// ABOUTME: Each edge carries the policy applied when its target is removed

package ent

import (
	"fmt"
	"strings"

	"github.com/nainya/entgraph/pkg/ident"
)

// Cardinality is the number of targets an edge holds
type Cardinality uint8

const (
	// CardOne holds exactly one target
	CardOne Cardinality = iota + 1
	// CardMaybe holds zero or one target
	CardMaybe
	// CardMany holds an ordered list of targets
	CardMany
)

func (c Cardinality) String() string {
	switch c {
	case CardOne:
		return "one"
	case CardMaybe:
		return "maybe"
	case CardMany:
		return "many"
	}
	return fmt.Sprintf("cardinality(%d)", uint8(c))
}

// ParseCardinality parses "one", "maybe" or "many"
func ParseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one":
		return CardOne, nil
	case "maybe", "optional":
		return CardMaybe, nil
	case "many":
		return CardMany, nil
	}
	return 0, fmt.Errorf("ent: unknown cardinality %q", s)
}

// DeletionPolicy decides what happens to an edge's owner when a target is removed
type DeletionPolicy uint8

const (
	// Shallow clears the reference to the removed target
	Shallow DeletionPolicy = iota
	// Deep removes the owner as well
	Deep
)

func (p DeletionPolicy) String() string {
	switch p {
	case Shallow:
		return "shallow"
	case Deep:
		return "deep"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParseDeletionPolicy parses "shallow" or "deep"; empty means shallow
func ParseDeletionPolicy(s string) (DeletionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shallow":
		return Shallow, nil
	case "deep":
		return Deep, nil
	}
	return 0, fmt.Errorf("ent: unknown deletion policy %q", s)
}

// EdgeValue is the current content of an edge
type EdgeValue struct {
	card   Cardinality
	ids    []ident.ID
	policy DeletionPolicy
}

// One references exactly one target
func One(id ident.ID) EdgeValue {
	return EdgeValue{card: CardOne, ids: []ident.ID{id}}
}

// Some references a single optional target
func Some(id ident.ID) EdgeValue {
	return EdgeValue{card: CardMaybe, ids: []ident.ID{id}}
}

// None is an optional edge without a target
func None() EdgeValue {
	return EdgeValue{card: CardMaybe}
}

// Many references an ordered list of targets
func Many(ids ...ident.ID) EdgeValue {
	cp := make([]ident.ID, len(ids))
	copy(cp, ids)
	return EdgeValue{card: CardMany, ids: cp}
}

// WithPolicy returns a copy of the edge using policy p
func (e EdgeValue) WithPolicy(p DeletionPolicy) EdgeValue {
	e.ids = e.IDs()
	e.policy = p
	return e
}

// Deep returns a copy of the edge with the Deep deletion policy
func (e EdgeValue) Deep() EdgeValue { return e.WithPolicy(Deep) }

func (e EdgeValue) Cardinality() Cardinality { return e.card }
func (e EdgeValue) Policy() DeletionPolicy   { return e.policy }
func (e EdgeValue) Len() int                 { return len(e.ids) }

// IDs returns a copy of the edge's targets
func (e EdgeValue) IDs() []ident.ID {
	cp := make([]ident.ID, len(e.ids))
	copy(cp, e.ids)
	return cp
}

// ID returns the first target
func (e EdgeValue) ID() (ident.ID, bool) {
	if len(e.ids) == 0 {
		return ident.Ephemeral, false
	}
	return e.ids[0], true
}

// Contains reports whether id is a target of the edge
func (e EdgeValue) Contains(id ident.ID) bool {
	for _, t := range e.ids {
		if t == id {
			return true
		}
	}
	return false
}

// Without returns the edge with every reference to id cleared.
// A One edge cannot lose its target and yields ErrConstraintViolation.
func (e EdgeValue) Without(id ident.ID) (EdgeValue, error) {
	if !e.Contains(id) {
		return e, nil
	}
	switch e.card {
	case CardOne:
		return e, ErrConstraintViolation
	case CardMaybe:
		return EdgeValue{card: CardMaybe, policy: e.policy}, nil
	}
	kept := make([]ident.ID, 0, len(e.ids))
	for _, t := range e.ids {
		if t != id {
			kept = append(kept, t)
		}
	}
	return EdgeValue{card: e.card, ids: kept, policy: e.policy}, nil
}

// Equal reports whether two edges hold the same targets, cardinality and policy
func (e EdgeValue) Equal(o EdgeValue) bool {
	if e.card != o.card || e.policy != o.policy || len(e.ids) != len(o.ids) {
		return false
	}
	for i := range e.ids {
		if e.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

func (e EdgeValue) String() string {
	parts := make([]string, len(e.ids))
	for i, id := range e.ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("%s[%s]/%s", e.card, strings.Join(parts, ","), e.policy)
}

// NewEdgeValue rebuilds an edge from its parts, as decoders do
func NewEdgeValue(card Cardinality, ids []ident.ID, policy DeletionPolicy) (EdgeValue, error) {
	switch card {
	case CardOne:
		if len(ids) != 1 {
			return EdgeValue{}, fmt.Errorf("ent: one edge needs exactly one target, got %d", len(ids))
		}
	case CardMaybe:
		if len(ids) > 1 {
			return EdgeValue{}, fmt.Errorf("ent: maybe edge holds at most one target, got %d", len(ids))
		}
	case CardMany:
	default:
		return EdgeValue{}, fmt.Errorf("ent: invalid cardinality %d", card)
	}
	if policy != Shallow && policy != Deep {
		return EdgeValue{}, fmt.Errorf("ent: invalid deletion policy %d", policy)
	}
	cp := make([]ident.ID, len(ids))
	copy(cp, ids)
	return EdgeValue{card: card, ids: cp, policy: policy}, nil
}
