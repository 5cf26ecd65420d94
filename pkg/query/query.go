// ABOUTME: Query wrapper around a condition tree with a fluent builder
// ABOUTME: Each Where call narrows the query with an additional conjunct

package query

import (
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

// Query is a root condition. The zero Query matches every record.
type Query struct {
	Root Condition
}

// New creates a query matching records that satisfy every condition
func New(conds ...Condition) Query {
	var q Query
	for _, c := range conds {
		q = q.Where(c)
	}
	return q
}

// Condition returns the root condition, All when empty
func (q Query) Condition() Condition {
	if q.Root == nil {
		return All{}
	}
	return q.Root
}

// Matches evaluates the query against s
func (q Query) Matches(s Subject, r Resolver) bool {
	return Evaluate(q.Condition(), s, r)
}

// Where narrows the query with c
func (q Query) Where(c Condition) Query {
	if c == nil {
		return q
	}
	switch root := q.Root.(type) {
	case nil, All:
		return Query{Root: c}
	case And:
		next := make(And, len(root), len(root)+1)
		copy(next, root)
		return Query{Root: append(next, c)}
	default:
		return Query{Root: And{root, c}}
	}
}

// Or produces a query satisfied when either q or other is
func (q Query) Or(other Query) Query {
	return Query{Root: Or{q.Condition(), other.Condition()}}
}

// Xor produces a query satisfied when exactly one of q and other is
func (q Query) Xor(other Query) Query {
	return Query{Root: Xor{Left: q.Condition(), Right: other.Condition()}}
}

// Not produces the opposite of q
func (q Query) Not() Query {
	return Query{Root: Not{Inner: q.Condition()}}
}

// IntoEdge returns a query for the records referenced through edge by the
// records matching q
func (q Query) IntoEdge(edge string) Query {
	return Query{Root: Referenced{Edge: edge, By: q.Condition()}}
}

func (q Query) WithID(id ident.ID) Query     { return q.Where(HasID{ID: id}) }
func (q Query) OfType(name string) Query     { return q.Where(HasType{Name: name}) }
func (q Query) CreatedBefore(t uint64) Query { return q.Where(Created{Time: Before(t)}) }
func (q Query) CreatedAfter(t uint64) Query  { return q.Where(Created{Time: After(t)}) }

func (q Query) CreatedOnOrBefore(t uint64) Query {
	return q.Where(Created{Time: OnOrBefore(t)})
}

func (q Query) CreatedOnOrAfter(t uint64) Query {
	return q.Where(Created{Time: OnOrAfter(t)})
}

func (q Query) CreatedBetween(start, end uint64) Query {
	return q.Where(Created{Time: Between(start, end)})
}

func (q Query) CreatedOnOrBetween(start, end uint64) Query {
	return q.Where(Created{Time: OnOrBetween(start, end)})
}

func (q Query) LastUpdatedBefore(t uint64) Query {
	return q.Where(LastUpdated{Time: Before(t)})
}

func (q Query) LastUpdatedAfter(t uint64) Query {
	return q.Where(LastUpdated{Time: After(t)})
}

func (q Query) LastUpdatedOnOrBefore(t uint64) Query {
	return q.Where(LastUpdated{Time: OnOrBefore(t)})
}

func (q Query) LastUpdatedOnOrAfter(t uint64) Query {
	return q.Where(LastUpdated{Time: OnOrAfter(t)})
}

func (q Query) LastUpdatedBetween(start, end uint64) Query {
	return q.Where(LastUpdated{Time: Between(start, end)})
}

func (q Query) LastUpdatedOnOrBetween(start, end uint64) Query {
	return q.Where(LastUpdated{Time: OnOrBetween(start, end)})
}

// WhereField narrows to records whose field satisfies c
func (q Query) WhereField(name string, c ValueCondition) Query {
	return q.Where(Field{Name: name, Cond: c})
}

// FieldEq narrows to records whose field equals v
func (q Query) FieldEq(name string, v value.Value) Query {
	return q.WhereField(name, EqualTo(v))
}

// WhereEdge narrows to records whose edge has a target passing f
func (q Query) WhereEdge(name string, f Filter) Query {
	return q.Where(Edge{Name: name, Filter: f})
}
