// ABOUTME: Recursive evaluation of condition trees against records
// ABOUTME: And/Or short-circuit left to right; edges resolve through the store

package query

import (
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// Evaluate reports whether s satisfies c. r is consulted only by edge
// conditions that inspect target records or reverse references.
func Evaluate(c Condition, s Subject, r Resolver) bool {
	switch cond := c.(type) {
	case nil, All:
		return true
	case HasID:
		return s.ID() == cond.ID
	case HasType:
		return s.TypeName() == cond.Name
	case Created:
		return cond.Time.Matches(s.Created())
	case LastUpdated:
		return cond.Time.Matches(s.LastUpdated())
	case Field:
		v, ok := s.Field(cond.Name)
		if !ok {
			return false
		}
		return cond.Cond.Matches(v)
	case Edge:
		targets, ok := s.EdgeTargets(cond.Name)
		if !ok {
			return false
		}
		return evaluateFilter(cond.Filter, targets, r)
	case Referenced:
		if r == nil {
			return false
		}
		for _, owner := range r.Referrers(s.ID(), cond.Edge) {
			if Evaluate(cond.By, owner, r) {
				return true
			}
		}
		return false
	case And:
		for _, sub := range cond {
			if !Evaluate(sub, s, r) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range cond {
			if Evaluate(sub, s, r) {
				return true
			}
		}
		return false
	case Xor:
		return Evaluate(cond.Left, s, r) != Evaluate(cond.Right, s, r)
	case Not:
		return !Evaluate(cond.Inner, s, r)
	}
	return false
}

// evaluateFilter matches when any target passes the filter
func evaluateFilter(f Filter, targets []ident.ID, r Resolver) bool {
	switch filter := f.(type) {
	case nil:
		return len(targets) > 0
	case IDFilter:
		for _, id := range targets {
			if filter.Cond.Matches(value.Uint64(id)) {
				return true
			}
		}
	case TargetFilter:
		if r == nil {
			return false
		}
		for _, id := range targets {
			target, ok := r.Resolve(id)
			if ok && Evaluate(filter.Cond, target, r) {
				return true
			}
		}
	}
	return false
}
