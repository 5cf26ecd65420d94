// ABOUTME: Secondary indices kept in step with the record map
// ABOUTME: Type buckets, per-field value buckets, ordered field keys and reverse edge adjacency

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/nainya/entgraph/pkg/btree"
	"github.com/nainya/entgraph/pkg/codec"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/value"
)

type fieldKey struct {
	typ   string
	field string
}

// edgeRef names one edge of one owner record
type edgeRef struct {
	owner ident.ID
	edge  string
}

// indices holds everything derived from the record map
type indices struct {
	types   map[string]*roaring64.Bitmap
	fields  map[fieldKey]map[string]*roaring64.Bitmap
	ordered map[fieldKey]*orderedIndex
	reverse map[ident.ID]map[edgeRef]struct{}

	// orphans are targets whose reverse set emptied during a mutation
	orphans []ident.ID
}

func newIndices() *indices {
	return &indices{
		types:   make(map[string]*roaring64.Bitmap),
		fields:  make(map[fieldKey]map[string]*roaring64.Bitmap),
		ordered: make(map[fieldKey]*orderedIndex),
		reverse: make(map[ident.ID]map[edgeRef]struct{}),
	}
}

func corruption(id ident.ID, format string, args ...any) error {
	return &ent.IndexCorruptionError{ID: id, Detail: fmt.Sprintf(format, args...)}
}

func (ix *indices) addType(typ string, id ident.ID) {
	bm := ix.types[typ]
	if bm == nil {
		bm = roaring64.New()
		ix.types[typ] = bm
	}
	bm.Add(id)
}

func (ix *indices) removeType(typ string, id ident.ID) error {
	bm := ix.types[typ]
	if bm == nil || !bm.CheckedRemove(id) {
		return corruption(id, "missing from type index %q", typ)
	}
	if bm.IsEmpty() {
		delete(ix.types, typ)
	}
	return nil
}

func (ix *indices) countType(typ string) uint64 {
	if bm := ix.types[typ]; bm != nil {
		return bm.GetCardinality()
	}
	return 0
}

func (ix *indices) addField(fk fieldKey, v value.Value, id ident.ID) {
	buckets := ix.fields[fk]
	if buckets == nil {
		buckets = make(map[string]*roaring64.Bitmap)
		ix.fields[fk] = buckets
	}
	key := v.Key()
	bm := buckets[key]
	if bm == nil {
		bm = roaring64.New()
		buckets[key] = bm
	}
	bm.Add(id)

	ox := ix.ordered[fk]
	if ox == nil {
		ox = newOrderedIndex()
		ix.ordered[fk] = ox
	}
	ox.add(v, id)
}

func (ix *indices) removeField(fk fieldKey, v value.Value, id ident.ID) error {
	key := v.Key()
	bm := ix.fields[fk][key]
	if bm == nil || !bm.CheckedRemove(id) {
		return corruption(id, "missing from index %s.%s for %s", fk.typ, fk.field, v)
	}
	if bm.IsEmpty() {
		delete(ix.fields[fk], key)
	}
	if ox := ix.ordered[fk]; ox == nil || !ox.remove(v, id) {
		return corruption(id, "missing from ordered index %s.%s for %s", fk.typ, fk.field, v)
	}
	return nil
}

// lookup returns a copy of the bucket holding values Equal to v
func (ix *indices) lookup(fk fieldKey, v value.Value) *roaring64.Bitmap {
	if bm := ix.fields[fk][v.Key()]; bm != nil {
		return bm.Clone()
	}
	return roaring64.New()
}

// orderedIndex keeps the numeric and text values of one field sorted.
// Keys are the value's order key followed by the big-endian id. Texts whose
// key would not fit a page are only tracked as ids.
type orderedIndex struct {
	keys     *btree.Set
	oversize *roaring64.Bitmap
}

func newOrderedIndex() *orderedIndex {
	return &orderedIndex{keys: btree.New(), oversize: roaring64.New()}
}

func orderedKey(v value.Value, id ident.ID) ([]byte, bool) {
	k, ok := codec.AppendOrderKey(nil, v)
	if !ok {
		return nil, false
	}
	return binary.BigEndian.AppendUint64(k, id), true
}

func (ox *orderedIndex) add(v value.Value, id ident.ID) {
	k, ok := orderedKey(v, id)
	if !ok {
		return
	}
	if len(k) > btree.MaxKeySize {
		ox.oversize.Add(id)
		return
	}
	// Errors are limited to the size checked above
	_, _ = ox.keys.Add(k)
}

// remove reports false when an orderable value was not indexed
func (ox *orderedIndex) remove(v value.Value, id ident.ID) bool {
	k, ok := orderedKey(v, id)
	if !ok {
		return true
	}
	if len(k) > btree.MaxKeySize {
		return ox.oversize.CheckedRemove(id)
	}
	return ox.keys.Remove(k)
}

// scan returns the ids whose order key lies in [lo, hi] within class. A nil
// bound leaves that end open. Bounds are inclusive because distinct numbers
// can share a key; callers re-check every candidate.
func (ox *orderedIndex) scan(class byte, lo, hi []byte) *roaring64.Bitmap {
	bm := roaring64.New()
	if lo == nil {
		lo = []byte{class}
	}
	ox.keys.Ascend(lo, func(k []byte) bool {
		if k[0] != class {
			return false
		}
		if hi != nil && bytes.Compare(k[:len(k)-8], hi) > 0 {
			return false
		}
		bm.Add(binary.BigEndian.Uint64(k[len(k)-8:]))
		return true
	})
	if class == codec.OrderText {
		bm.Or(ox.oversize)
	}
	return bm
}

// prefix returns the ids of texts starting with p
func (ox *orderedIndex) prefix(p string) *roaring64.Bitmap {
	bm := roaring64.New()
	ox.keys.AscendPrefix(codec.AppendTextPrefix(nil, p), func(k []byte) bool {
		bm.Add(binary.BigEndian.Uint64(k[len(k)-8:]))
		return true
	})
	bm.Or(ox.oversize)
	return bm
}

func (ix *indices) addRef(target ident.ID, ref edgeRef) {
	refs := ix.reverse[target]
	if refs == nil {
		refs = make(map[edgeRef]struct{})
		ix.reverse[target] = refs
	}
	refs[ref] = struct{}{}
}

func (ix *indices) dropRef(target ident.ID, ref edgeRef) error {
	refs := ix.reverse[target]
	if _, ok := refs[ref]; !ok {
		return corruption(target, "no reverse entry for %d.%s", ref.owner, ref.edge)
	}
	delete(refs, ref)
	if len(refs) == 0 {
		delete(ix.reverse, target)
		ix.orphans = append(ix.orphans, target)
	}
	return nil
}

// refs returns the references to target ordered by owner then edge
func (ix *indices) refs(target ident.ID) []edgeRef {
	set := ix.reverse[target]
	out := make([]edgeRef, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].owner != out[j].owner {
			return out[i].owner < out[j].owner
		}
		return out[i].edge < out[j].edge
	})
	return out
}

// outgoing returns the distinct (target, edge) pairs of a record
func outgoing(e *ent.Ent) map[ident.ID][]string {
	out := make(map[ident.ID][]string)
	for _, name := range e.EdgeNames() {
		targets, _ := e.EdgeTargets(name)
		seen := make(map[ident.ID]bool, len(targets))
		for _, t := range targets {
			if seen[t] {
				continue
			}
			seen[t] = true
			out[t] = append(out[t], name)
		}
	}
	return out
}
