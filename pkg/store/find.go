// ABOUTME: Query execution against the in-memory store
// ABOUTME: Narrows candidates through type, id, field and ordered indices, then re-checks every condition

package store

import (
	"bytes"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/nainya/entgraph/internal/metrics"
	"github.com/nainya/entgraph/pkg/codec"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
)

// FindAll returns copies of every record matching q in insertion order.
// Indices only narrow the candidates; each candidate is evaluated against
// the full condition, so results never depend on whether an index was used.
func (m *Memory) FindAll(q query.Query) ([]*ent.Ent, error) {
	start := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readableLocked(); err != nil {
		return nil, err
	}

	cond := q.Condition()
	view := resolver{m}
	var (
		matched []*record
		path    = metrics.PathScan
		scanned int
	)

	var candidates *roaring64.Bitmap
	if !m.opts.DisableIndexes {
		candidates, _ = m.candidatesLocked(cond, "")
	}

	if candidates != nil {
		path = metrics.PathIndex
		it := candidates.Iterator()
		for it.HasNext() {
			id := it.Next()
			r := m.records[id]
			if r == nil {
				err := corruption(id, "indexed id has no record")
				m.log.Error("query hit a stale index entry").Err(err).Send()
				return nil, err
			}
			scanned++
			if query.Evaluate(cond, r.ent, view) {
				matched = append(matched, r)
			}
		}
		sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	} else {
		for _, r := range m.ordered() {
			scanned++
			if query.Evaluate(cond, r.ent, view) {
				matched = append(matched, r)
			}
		}
	}

	out := make([]*ent.Ent, len(matched))
	for i, r := range matched {
		out[i] = r.ent.Clone()
	}
	m.metrics.RecordQuery(path, scanned, len(out))
	m.metrics.RecordStoreOperation("find_all", nil, time.Since(start))
	return out, nil
}

// candidatesLocked returns a superset of the ids that can satisfy c among
// records of type typ (any type when typ is empty). It reports false when
// no index applies and the caller must scan.
func (m *Memory) candidatesLocked(c query.Condition, typ string) (*roaring64.Bitmap, bool) {
	switch cond := c.(type) {
	case query.HasID:
		bm := roaring64.New()
		if m.records[cond.ID] != nil {
			bm.Add(cond.ID)
		}
		return bm, true

	case query.HasType:
		if bm := m.ix.types[cond.Name]; bm != nil {
			return bm.Clone(), true
		}
		return roaring64.New(), true

	case query.Field:
		if typ == "" || !m.isIndexedLocked(typ, cond.Name) {
			return nil, false
		}
		fk := fieldKey{typ, cond.Name}
		switch cond.Cond.Op {
		case query.OpEqualTo:
			return m.ix.lookup(fk, cond.Cond.Operand), true
		case query.OpIn:
			bm := roaring64.New()
			for _, v := range cond.Cond.Set {
				bm.Or(m.ix.lookup(fk, v))
			}
			return bm, true
		}
		return m.rangeCandidatesLocked(fk, cond.Cond)

	case query.And:
		// A type conjunct scopes field lookups in its siblings
		for _, sub := range cond {
			if ht, ok := sub.(query.HasType); ok {
				typ = ht.Name
				break
			}
		}
		var acc *roaring64.Bitmap
		for _, sub := range cond {
			bm, ok := m.candidatesLocked(sub, typ)
			if !ok {
				continue
			}
			if acc == nil {
				acc = bm
			} else {
				acc.And(bm)
			}
		}
		return acc, acc != nil

	case query.Or:
		acc := roaring64.New()
		for _, sub := range cond {
			bm, ok := m.candidatesLocked(sub, typ)
			if !ok {
				return nil, false
			}
			acc.Or(bm)
		}
		return acc, true
	}
	return nil, false
}

// rangeCandidatesLocked serves ordered comparisons and text prefixes from
// the field's ordered index
func (m *Memory) rangeCandidatesLocked(fk fieldKey, c query.ValueCondition) (*roaring64.Bitmap, bool) {
	ox := m.ix.ordered[fk]
	if ox == nil {
		return roaring64.New(), true
	}

	if c.Op == query.OpStartsWith {
		p, ok := c.Operand.AsText()
		if !ok {
			return nil, false
		}
		return ox.prefix(p), true
	}

	key, ok := codec.AppendOrderKey(nil, c.Operand)
	if !ok {
		return nil, false
	}
	class := key[0]

	switch c.Op {
	case query.OpLessThan, query.OpLessThanOrEqualTo:
		return ox.scan(class, nil, key), true
	case query.OpGreaterThan, query.OpGreaterThanOrEqualTo:
		return ox.scan(class, key, nil), true
	case query.OpInRange:
		upper, ok := codec.AppendOrderKey(nil, c.Upper)
		if !ok || upper[0] != class {
			return nil, false
		}
		if bytes.Compare(key, upper) > 0 {
			return roaring64.New(), true
		}
		return ox.scan(class, key, upper), true
	}
	return nil, false
}

func (m *Memory) isIndexedLocked(typ, field string) bool {
	s, ok := m.schemas.Lookup(typ)
	if !ok {
		return false
	}
	spec, ok := s.Field(field)
	return ok && spec.Indexed
}

// resolver lets edge conditions reach other records. It is only used
// while the store's read lock is held.
type resolver struct {
	m *Memory
}

func (r resolver) Resolve(id ident.ID) (query.Subject, bool) {
	rec := r.m.records[id]
	if rec == nil {
		return nil, false
	}
	return rec.ent, true
}

func (r resolver) Referrers(target ident.ID, edge string) []query.Subject {
	var out []query.Subject
	for _, ref := range r.m.ix.refs(target) {
		if ref.edge != edge {
			continue
		}
		if rec := r.m.records[ref.owner]; rec != nil {
			out = append(out, rec.ent)
		}
	}
	return out
}
