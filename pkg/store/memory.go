// ABOUTME: In-memory entity graph store with secondary indices and reverse adjacency
// ABOUTME: Every mutation is computed in full, handed to OnCommit, then applied under one lock

package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/internal/metrics"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
)

type record struct {
	ent *ent.Ent
	seq uint64
}

// Memory is an in-memory ent.Database. It is safe for concurrent use:
// readers share a lock and every mutation holds it exclusively, so no
// reader observes a partially applied insert or cascade.
type Memory struct {
	id      uuid.UUID
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics
	alloc   *ident.Allocator
	schemas *ent.Registry

	mu       sync.RWMutex
	records  map[ident.ID]*record
	seq      uint64
	ix       *indices
	poisoned error
	closed   bool
}

var (
	_ ent.Database     = (*Memory)(nil)
	_ ent.SchemaSource = (*Memory)(nil)
)

// NewMemory creates an empty store and registers opts.Schemas
func NewMemory(opts Options) (*Memory, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = ent.NowMillis
	}
	schemas, err := ent.NewRegistry(opts.Schemas...)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	return &Memory{
		id:      id,
		opts:    opts,
		log:     opts.Logger.StoreLogger(id.String()),
		metrics: opts.Metrics,
		alloc:   ident.NewAllocator(ident.Ephemeral),
		schemas: schemas,
		records: make(map[ident.ID]*record),
		ix:      newIndices(),
	}, nil
}

// ID returns the store instance id
func (m *Memory) ID() uuid.UUID { return m.id }

// Register adds a schema. Types that already have records cannot gain one.
func (m *Memory) Register(s *ent.TypeSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return err
	}
	if s != nil && m.ix.countType(s.Name) > 0 {
		return &ent.SchemaError{Type: s.Name, Reason: "records of this type already exist"}
	}
	return m.schemas.Register(s)
}

// Schema implements ent.SchemaSource
func (m *Memory) Schema(typeName string) (*ent.TypeSchema, bool) {
	return m.schemas.Lookup(typeName)
}

// Types lists the registered schema names
func (m *Memory) Types() []string { return m.schemas.Types() }

// Get returns a copy of the record, or nil when it does not exist
func (m *Memory) Get(id ident.ID) (*ent.Ent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readableLocked(); err != nil {
		return nil, err
	}
	r := m.records[id]
	if r == nil {
		return nil, nil
	}
	return r.ent.Clone(), nil
}

// GetAll returns copies of the records that exist, in the order requested
func (m *Memory) GetAll(ids []ident.ID) ([]*ent.Ent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readableLocked(); err != nil {
		return nil, err
	}
	out := make([]*ent.Ent, 0, len(ids))
	for _, id := range ids {
		if r := m.records[id]; r != nil {
			out = append(out, r.ent.Clone())
		}
	}
	return out, nil
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Scan calls fn with a copy of every record in insertion order until fn
// returns false
func (m *Memory) Scan(fn func(*ent.Ent) bool) error {
	m.mu.RLock()
	if err := m.readableLocked(); err != nil {
		m.mu.RUnlock()
		return err
	}
	snapshot := make([]*ent.Ent, 0, len(m.records))
	for _, r := range m.ordered() {
		snapshot = append(snapshot, r.ent.Clone())
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e) {
			break
		}
	}
	return nil
}

// Insert stores a record. An ephemeral record gets a fresh id; a record
// carrying an id is created with it, or replaces the stored record of the
// same type. The returned id is the one the record is stored under.
func (m *Memory) Insert(e *ent.Ent) (ident.ID, error) {
	start := time.Now()
	id, err := m.insert(e)
	m.metrics.RecordStoreOperation("insert", err, time.Since(start))
	m.log.LogStoreOperation("insert", time.Since(start), 1, err)
	return id, err
}

func (m *Memory) insert(e *ent.Ent) (ident.ID, error) {
	if e == nil {
		return ident.Ephemeral, fmt.Errorf("%w: nil record", ent.ErrSchema)
	}
	rec := e.Clone()
	rec.Disconnect()
	if rec.TypeName() == "" {
		return ident.Ephemeral, &ent.SchemaError{Reason: "record has no type"}
	}
	if s, ok := m.schemas.Lookup(rec.TypeName()); ok {
		if err := s.Check(rec); err != nil {
			return ident.Ephemeral, err
		}
		s.Normalize(rec)
	}
	for _, name := range rec.EdgeNames() {
		ev, _ := rec.Edge(name)
		if ev.Contains(ident.Ephemeral) {
			return ident.Ephemeral, fmt.Errorf("%w: edge %q points at the ephemeral id", ent.ErrInvalidID, name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return ident.Ephemeral, err
	}

	var existing *record
	if !rec.IsEphemeral() {
		existing = m.records[rec.ID()]
		if existing != nil && existing.ent.TypeName() != rec.TypeName() {
			return ident.Ephemeral, &ent.DuplicateIDError{
				ID:       rec.ID(),
				Existing: existing.ent.TypeName(),
				Incoming: rec.TypeName(),
			}
		}
	}

	now := m.opts.Now()
	if existing != nil {
		created := existing.ent.Created()
		rec.SetTimestamps(created, max(now, existing.ent.LastUpdated()))
		return m.commitLocked(rec.ID(), []Change{{Kind: ChangePut, ID: rec.ID(), Record: rec}}, nil, func() error {
			return m.replaceLocked(existing, rec)
		})
	}

	created := rec.Created()
	if created == 0 {
		created = now
	}
	rec.SetTimestamps(created, max(now, created))

	// Targets without a record must not be handed out before this record
	// claims its own id
	var claimed []ident.ID
	for target := range outgoing(rec) {
		if m.records[target] == nil && len(m.ix.reverse[target]) == 0 {
			if fresh, err := m.alloc.Reserve(target); err == nil && fresh {
				claimed = append(claimed, target)
			}
		}
	}

	if rec.IsEphemeral() {
		id := m.alloc.Allocate()
		if err := rec.AssignID(id); err != nil {
			m.releaseAll(append(claimed, id))
			return ident.Ephemeral, err
		}
		claimed = append(claimed, id)
	} else {
		fresh, err := m.alloc.Reserve(rec.ID())
		if err != nil {
			m.releaseAll(claimed)
			return ident.Ephemeral, err
		}
		if fresh {
			claimed = append(claimed, rec.ID())
		}
	}

	return m.commitLocked(rec.ID(), []Change{{Kind: ChangePut, ID: rec.ID(), Record: rec}}, claimed, func() error {
		m.addLocked(rec)
		return nil
	})
}

// commitLocked hands changes to OnCommit and applies them on success.
// On a hook failure the ids in claimed are released.
func (m *Memory) commitLocked(id ident.ID, changes []Change, claimed []ident.ID, apply func() error) (ident.ID, error) {
	if m.opts.OnCommit != nil {
		hooked := make([]Change, len(changes))
		for i, c := range changes {
			hooked[i] = c
			if c.Record != nil {
				hooked[i].Record = c.Record.Clone()
			}
		}
		if err := m.opts.OnCommit(hooked); err != nil {
			m.releaseAll(claimed)
			return ident.Ephemeral, fmt.Errorf("commit hook: %w", err)
		}
	}
	if err := apply(); err != nil {
		return ident.Ephemeral, m.poisonLocked(err)
	}
	m.flushOrphansLocked()
	m.metrics.SetRecordCounts(m.typeCountsLocked())
	return id, nil
}

func (m *Memory) releaseAll(ids []ident.ID) {
	for _, id := range ids {
		m.alloc.Release(id)
	}
}

// addLocked links a new record into the map and every index
func (m *Memory) addLocked(rec *ent.Ent) {
	id := rec.ID()
	m.seq++
	m.records[id] = &record{ent: rec, seq: m.seq}
	m.ix.addType(rec.TypeName(), id)

	for _, name := range m.indexedLocked(rec.TypeName()) {
		if v, ok := rec.Field(name); ok {
			m.ix.addField(fieldKey{rec.TypeName(), name}, v, id)
		}
	}
	for target, edges := range outgoing(rec) {
		for _, edge := range edges {
			m.ix.addRef(target, edgeRef{owner: id, edge: edge})
		}
		m.claimTargetLocked(target)
	}
}

// replaceLocked swaps the state of a stored record, updating only the
// index entries that changed
func (m *Memory) replaceLocked(old *record, rec *ent.Ent) error {
	id := rec.ID()
	prev := old.ent

	for _, name := range m.indexedLocked(rec.TypeName()) {
		fk := fieldKey{rec.TypeName(), name}
		before, had := prev.Field(name)
		after, has := rec.Field(name)
		if had && has && before.Key() == after.Key() {
			continue
		}
		if had {
			if err := m.ix.removeField(fk, before, id); err != nil {
				return err
			}
		}
		if has {
			m.ix.addField(fk, after, id)
		}
	}

	before, after := outgoing(prev), outgoing(rec)
	for target, edges := range after {
		for _, edge := range edges {
			m.ix.addRef(target, edgeRef{owner: id, edge: edge})
		}
		m.claimTargetLocked(target)
	}
	for target, edges := range before {
		for _, edge := range edges {
			if containsString(after[target], edge) {
				continue
			}
			if err := m.ix.dropRef(target, edgeRef{owner: id, edge: edge}); err != nil {
				return err
			}
		}
	}

	old.ent = rec
	return nil
}

// unlinkLocked removes a record and its outgoing references. References
// pointing at the record are left for the caller to settle.
func (m *Memory) unlinkLocked(id ident.ID) error {
	r := m.records[id]
	if r == nil {
		return corruption(id, "record vanished during removal")
	}
	rec := r.ent

	if err := m.ix.removeType(rec.TypeName(), id); err != nil {
		return err
	}
	for _, name := range m.indexedLocked(rec.TypeName()) {
		if v, ok := rec.Field(name); ok {
			if err := m.ix.removeField(fieldKey{rec.TypeName(), name}, v, id); err != nil {
				return err
			}
		}
	}
	for target, edges := range outgoing(rec) {
		for _, edge := range edges {
			if err := m.ix.dropRef(target, edgeRef{owner: id, edge: edge}); err != nil {
				return err
			}
		}
	}
	delete(m.records, id)
	return nil
}

// claimTargetLocked keeps a dangling target's id away from the allocator
func (m *Memory) claimTargetLocked(target ident.ID) {
	if m.records[target] == nil {
		_, _ = m.alloc.Reserve(target)
	}
}

// flushOrphansLocked releases ids that are neither stored nor referenced
func (m *Memory) flushOrphansLocked() {
	for _, id := range m.ix.orphans {
		if m.records[id] == nil && len(m.ix.reverse[id]) == 0 {
			m.alloc.Release(id)
		}
	}
	m.ix.orphans = m.ix.orphans[:0]
}

func (m *Memory) indexedLocked(typeName string) []string {
	s, ok := m.schemas.Lookup(typeName)
	if !ok {
		return nil
	}
	return s.IndexedFields()
}

// ordered returns the records in insertion order
func (m *Memory) ordered() []*record {
	out := make([]*record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *Memory) typeCountsLocked() map[string]int {
	counts := make(map[string]int, len(m.ix.types))
	for typ, bm := range m.ix.types {
		counts[typ] = int(bm.GetCardinality())
	}
	return counts
}

func (m *Memory) readableLocked() error {
	if m.closed {
		return ent.ErrClosed
	}
	return m.poisoned
}

func (m *Memory) writableLocked() error {
	return m.readableLocked()
}

// poisonLocked stops the store after an internal inconsistency. Every
// later operation fails with the same error.
func (m *Memory) poisonLocked(err error) error {
	if !errors.Is(err, ent.ErrIndexCorruption) {
		err = &ent.IndexCorruptionError{Detail: err.Error()}
	}
	if m.poisoned == nil {
		m.poisoned = err
		m.log.Error("index corruption detected, store poisoned").Err(err).Send()
	}
	return err
}

// Stats summarises the store
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		StoreID:     m.id.String(),
		Records:     len(m.records),
		Types:       m.typeCountsLocked(),
		HighWater:   m.alloc.HighWater(),
		Reclaimable: m.alloc.Reclaimable(),
		Poisoned:    m.poisoned != nil,
	}
	for _, buckets := range m.ix.fields {
		st.IndexedFields++
		st.IndexBuckets += len(buckets)
	}
	for _, ox := range m.ix.ordered {
		st.OrderedKeys += ox.keys.Len() + int(ox.oversize.GetCardinality())
	}
	for target, refs := range m.ix.reverse {
		st.Targets++
		st.References += len(refs)
		if m.records[target] == nil {
			st.Dangling++
		}
	}
	return st
}

// Close marks the store closed. Later operations return ent.ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
