// ABOUTME: Timestamp and value predicates used by conditions
// ABOUTME: Cross-kind comparisons evaluate to no match instead of erroring

package query

import (
	"bytes"
	"strings"

	"github.com/nainya/entgraph/pkg/value"
)

// TimeOp selects how a TimeCondition compares a timestamp
type TimeOp uint8

const (
	TimeBefore TimeOp = iota + 1
	TimeOnOrBefore
	TimeAfter
	TimeOnOrAfter
	TimeBetween
	TimeOnOrBetween
)

// TimeCondition compares millisecond timestamps.
// Between excludes both bounds; OnOrBetween includes both.
type TimeCondition struct {
	Op    TimeOp
	Start uint64
	End   uint64
}

func Before(t uint64) TimeCondition     { return TimeCondition{Op: TimeBefore, Start: t} }
func OnOrBefore(t uint64) TimeCondition { return TimeCondition{Op: TimeOnOrBefore, Start: t} }
func After(t uint64) TimeCondition      { return TimeCondition{Op: TimeAfter, Start: t} }
func OnOrAfter(t uint64) TimeCondition  { return TimeCondition{Op: TimeOnOrAfter, Start: t} }

func Between(start, end uint64) TimeCondition {
	return TimeCondition{Op: TimeBetween, Start: start, End: end}
}

func OnOrBetween(start, end uint64) TimeCondition {
	return TimeCondition{Op: TimeOnOrBetween, Start: start, End: end}
}

// Matches reports whether t satisfies the condition
func (c TimeCondition) Matches(t uint64) bool {
	switch c.Op {
	case TimeBefore:
		return t < c.Start
	case TimeOnOrBefore:
		return t <= c.Start
	case TimeAfter:
		return t > c.Start
	case TimeOnOrAfter:
		return t >= c.Start
	case TimeBetween:
		return c.Start < t && t < c.End
	case TimeOnOrBetween:
		return c.Start <= t && t <= c.End
	}
	return false
}

// ValueOp selects how a ValueCondition tests a value
type ValueOp uint8

const (
	OpEqualTo ValueOp = iota + 1
	OpNotEqualTo
	OpLessThan
	OpLessThanOrEqualTo
	OpGreaterThan
	OpGreaterThanOrEqualTo
	OpInRange
	OpNotInRange
	OpIn
	OpNotIn
	OpContains
	OpContainsAll
	OpContainsAny
	OpStartsWith
	OpEndsWith
	OpHasKey
	OpHasValue
	OpAllOf
	OpAnyOf
	OpNot
)

// ValueCondition is a predicate over a single Value
type ValueCondition struct {
	Op ValueOp

	// Operand is the comparison value; the lower bound for ranges
	Operand value.Value

	// Upper is the upper bound for ranges
	Upper value.Value

	// Set holds the values for In, NotIn, ContainsAll and ContainsAny
	Set []value.Value

	// Subs holds the nested conditions for AllOf, AnyOf and Not
	Subs []ValueCondition
}

func EqualTo(v value.Value) ValueCondition    { return ValueCondition{Op: OpEqualTo, Operand: v} }
func NotEqualTo(v value.Value) ValueCondition { return ValueCondition{Op: OpNotEqualTo, Operand: v} }
func LessThan(v value.Value) ValueCondition   { return ValueCondition{Op: OpLessThan, Operand: v} }
func GreaterThan(v value.Value) ValueCondition {
	return ValueCondition{Op: OpGreaterThan, Operand: v}
}

func LessThanOrEqualTo(v value.Value) ValueCondition {
	return ValueCondition{Op: OpLessThanOrEqualTo, Operand: v}
}

func GreaterThanOrEqualTo(v value.Value) ValueCondition {
	return ValueCondition{Op: OpGreaterThanOrEqualTo, Operand: v}
}

// InRange matches lo <= v <= hi
func InRange(lo, hi value.Value) ValueCondition {
	return ValueCondition{Op: OpInRange, Operand: lo, Upper: hi}
}

// NotInRange matches values comparable to both bounds that fall outside them
func NotInRange(lo, hi value.Value) ValueCondition {
	return ValueCondition{Op: OpNotInRange, Operand: lo, Upper: hi}
}

func In(vs ...value.Value) ValueCondition    { return ValueCondition{Op: OpIn, Set: vs} }
func NotIn(vs ...value.Value) ValueCondition { return ValueCondition{Op: OpNotIn, Set: vs} }

// Contains matches text containing a substring, bytes containing a
// subsequence, or lists containing an element
func Contains(v value.Value) ValueCondition { return ValueCondition{Op: OpContains, Operand: v} }

func ContainsAll(vs ...value.Value) ValueCondition {
	return ValueCondition{Op: OpContainsAll, Set: vs}
}

func ContainsAny(vs ...value.Value) ValueCondition {
	return ValueCondition{Op: OpContainsAny, Set: vs}
}

func StartsWith(v value.Value) ValueCondition { return ValueCondition{Op: OpStartsWith, Operand: v} }
func EndsWith(v value.Value) ValueCondition   { return ValueCondition{Op: OpEndsWith, Operand: v} }
func HasKey(k value.Value) ValueCondition     { return ValueCondition{Op: OpHasKey, Operand: k} }
func HasValue(v value.Value) ValueCondition   { return ValueCondition{Op: OpHasValue, Operand: v} }

func AllOf(cs ...ValueCondition) ValueCondition { return ValueCondition{Op: OpAllOf, Subs: cs} }
func AnyOf(cs ...ValueCondition) ValueCondition { return ValueCondition{Op: OpAnyOf, Subs: cs} }

// Negate inverts c
func Negate(c ValueCondition) ValueCondition {
	return ValueCondition{Op: OpNot, Subs: []ValueCondition{c}}
}

// Matches reports whether v satisfies the condition
func (c ValueCondition) Matches(v value.Value) bool {
	switch c.Op {
	case OpEqualTo:
		return value.Equal(v, c.Operand)
	case OpNotEqualTo:
		return comparableKinds(v, c.Operand) && !value.Equal(v, c.Operand)
	case OpLessThan:
		return value.Less(v, c.Operand)
	case OpLessThanOrEqualTo:
		cmp, ok := value.Compare(v, c.Operand)
		return ok && cmp <= 0
	case OpGreaterThan:
		return value.Greater(v, c.Operand)
	case OpGreaterThanOrEqualTo:
		cmp, ok := value.Compare(v, c.Operand)
		return ok && cmp >= 0
	case OpInRange:
		lo, okLo := value.Compare(v, c.Operand)
		hi, okHi := value.Compare(v, c.Upper)
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpNotInRange:
		lo, okLo := value.Compare(v, c.Operand)
		hi, okHi := value.Compare(v, c.Upper)
		return okLo && okHi && (lo < 0 || hi > 0)
	case OpIn:
		return inSet(v, c.Set)
	case OpNotIn:
		return !inSet(v, c.Set)
	case OpContains:
		return value.Contains(v, c.Operand)
	case OpContainsAll:
		for _, item := range c.Set {
			if !value.Contains(v, item) {
				return false
			}
		}
		return true
	case OpContainsAny:
		for _, item := range c.Set {
			if value.Contains(v, item) {
				return true
			}
		}
		return false
	case OpStartsWith:
		return hasAffix(v, c.Operand, strings.HasPrefix, bytes.HasPrefix)
	case OpEndsWith:
		return hasAffix(v, c.Operand, strings.HasSuffix, bytes.HasSuffix)
	case OpHasKey:
		_, ok := v.Lookup(c.Operand)
		return ok
	case OpHasValue:
		entries, ok := v.AsMap()
		if !ok {
			return false
		}
		for _, e := range entries {
			if value.Equal(e.Value, c.Operand) {
				return true
			}
		}
		return false
	case OpAllOf:
		for _, sub := range c.Subs {
			if !sub.Matches(v) {
				return false
			}
		}
		return true
	case OpAnyOf:
		for _, sub := range c.Subs {
			if sub.Matches(v) {
				return true
			}
		}
		return false
	case OpNot:
		return len(c.Subs) == 1 && !c.Subs[0].Matches(v)
	}
	return false
}

func inSet(v value.Value, set []value.Value) bool {
	for _, item := range set {
		if value.Equal(v, item) {
			return true
		}
	}
	return false
}

func comparableKinds(a, b value.Value) bool {
	if a.Kind().IsNumeric() && b.Kind().IsNumeric() {
		return true
	}
	return a.Kind() == b.Kind()
}

func hasAffix(
	v, affix value.Value,
	textFn func(string, string) bool,
	bytesFn func([]byte, []byte) bool,
) bool {
	if s, ok := v.AsText(); ok {
		a, ok := affix.AsText()
		return ok && textFn(s, a)
	}
	if b, ok := v.AsBytes(); ok {
		a, ok := affix.AsBytes()
		return ok && bytesFn(b, a)
	}
	return false
}
