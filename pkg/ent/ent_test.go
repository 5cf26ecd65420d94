package ent

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
	"github.com/nainya/entgraph/pkg/value"
)

// mapDB is a minimal Database for exercising the accessor layer
type mapDB struct {
	alloc   ident.Allocator
	records map[ident.ID]*Ent
	order   []ident.ID
	schemas map[string]*TypeSchema
	closed  bool
}

func newMapDB(schemas ...*TypeSchema) *mapDB {
	db := &mapDB{records: make(map[ident.ID]*Ent), schemas: make(map[string]*TypeSchema)}
	for _, s := range schemas {
		db.schemas[s.Name] = s
	}
	return db
}

func (db *mapDB) Get(id ident.ID) (*Ent, error) {
	e, ok := db.records[id]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (db *mapDB) Insert(e *Ent) (ident.ID, error) {
	c := e.Clone()
	if c.IsEphemeral() {
		c.id = db.alloc.Allocate()
	} else if old, ok := db.records[c.id]; ok && old.typ != c.typ {
		return ident.Ephemeral, &DuplicateIDError{ID: c.id, Existing: old.typ, Incoming: c.typ}
	}
	if _, ok := db.records[c.id]; !ok {
		db.order = append(db.order, c.id)
	}
	db.records[c.id] = c
	return c.id, nil
}

func (db *mapDB) Remove(id ident.ID) (bool, error) {
	_, ok := db.records[id]
	delete(db.records, id)
	return ok, nil
}

func (db *mapDB) FindAll(q query.Query) ([]*Ent, error) {
	var out []*Ent
	for _, id := range db.order {
		if e, ok := db.records[id]; ok && q.Matches(e, nil) {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (db *mapDB) GetAll(ids []ident.ID) ([]*Ent, error) {
	var out []*Ent
	for _, id := range ids {
		if e, ok := db.records[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (db *mapDB) Schema(typeName string) (*TypeSchema, bool) {
	s, ok := db.schemas[typeName]
	return s, ok
}

func (db *mapDB) Close() error {
	db.closed = true
	return nil
}

func pageSchema() *TypeSchema {
	return &TypeSchema{
		Name: "Page",
		Fields: []FieldSpec{
			{Name: "title", Kind: value.KindText, Indexed: true},
			{Name: "views", Kind: value.KindUint64, Optional: true},
		},
		Edges: []EdgeSpec{
			{Name: "header", Target: "Content", Cardinality: CardOne, Policy: Deep},
			{Name: "subheader", Target: "Content", Cardinality: CardMaybe},
			{Name: "body", Target: "Content", Cardinality: CardMany},
		},
	}
}

func TestNewRecordIsEphemeral(t *testing.T) {
	before := NowMillis()
	e := New("Page")

	assert.True(t, e.IsEphemeral())
	assert.Equal(t, "Page", e.TypeName())
	assert.GreaterOrEqual(t, e.Created(), before)
	assert.Equal(t, e.Created(), e.LastUpdated())
	assert.False(t, e.IsConnected())
}

func TestAssignIDOnlyOnce(t *testing.T) {
	e := New("Page")
	require.ErrorIs(t, e.AssignID(ident.Ephemeral), ErrInvalidID)
	require.NoError(t, e.AssignID(7))
	require.NoError(t, e.AssignID(7), "reassigning the same id is a no-op")
	require.ErrorIs(t, e.AssignID(8), ErrInvalidID)
	assert.Equal(t, ident.ID(7), e.ID())
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	e := New("Page")
	e.SetTimestamps(100, 50)
	assert.Equal(t, uint64(100), e.LastUpdated())
	e.Touch(20)
	assert.Equal(t, uint64(100), e.LastUpdated())
	e.Touch(300)
	assert.Equal(t, uint64(300), e.LastUpdated())

	r := Restore(1, "Page", 10, 5, nil, nil)
	assert.Equal(t, uint64(10), r.LastUpdated())
}

func TestCloneIsDeep(t *testing.T) {
	e := New("Page")
	e.SetField("tags", value.List(value.Text("a")))
	e.SetEdge("body", Many(1, 2))

	c := e.Clone()
	c.SetField("tags", value.List())
	c.SetEdge("body", Many(3))

	tags, _ := e.Field("tags")
	assert.Equal(t, 1, tags.Len())
	ids, _ := e.EdgeTargets("body")
	assert.Equal(t, []ident.ID{1, 2}, ids)
}

func TestEdgeValues(t *testing.T) {
	one := One(5)
	id, ok := one.ID()
	require.True(t, ok)
	assert.Equal(t, ident.ID(5), id)
	assert.Equal(t, Shallow, one.Policy())
	assert.Equal(t, Deep, one.Deep().Policy())
	assert.Equal(t, Shallow, one.Policy(), "Deep returns a copy")

	_, err := one.Without(5)
	assert.ErrorIs(t, err, ErrConstraintViolation)
	kept, err := one.Without(6)
	require.NoError(t, err)
	assert.True(t, kept.Equal(one))

	maybe, err := Some(5).Deep().Without(5)
	require.NoError(t, err)
	assert.Equal(t, 0, maybe.Len())
	assert.Equal(t, Deep, maybe.Policy())

	many, err := Many(1, 5, 2, 5).Without(5)
	require.NoError(t, err)
	assert.Equal(t, []ident.ID{1, 2}, many.IDs())

	_, err = NewEdgeValue(CardOne, nil, Shallow)
	assert.Error(t, err)
	_, err = NewEdgeValue(CardMaybe, []ident.ID{1, 2}, Shallow)
	assert.Error(t, err)
	ev, err := NewEdgeValue(CardMany, []ident.ID{1, 1}, Deep)
	require.NoError(t, err)
	assert.Equal(t, "many[1,1]/deep", ev.String())
}

func TestParseEdgeEnums(t *testing.T) {
	c, err := ParseCardinality("Maybe")
	require.NoError(t, err)
	assert.Equal(t, CardMaybe, c)
	_, err = ParseCardinality("some")
	assert.Error(t, err)

	p, err := ParseDeletionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Shallow, p)
	p, err = ParseDeletionPolicy("DEEP")
	require.NoError(t, err)
	assert.Equal(t, Deep, p)
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, pageSchema().Validate())

	cases := map[string]*TypeSchema{
		"empty name":      {},
		"duplicate field": {Name: "A", Fields: []FieldSpec{{Name: "x"}, {Name: "x"}}},
		"edge clashes":    {Name: "A", Fields: []FieldSpec{{Name: "x"}}, Edges: []EdgeSpec{{Name: "x", Target: "B", Cardinality: CardOne}}},
		"no target":       {Name: "A", Edges: []EdgeSpec{{Name: "e", Cardinality: CardOne}}},
		"no cardinality":  {Name: "A", Edges: []EdgeSpec{{Name: "e", Target: "B"}}},
		"distinct maybe":  {Name: "A", Edges: []EdgeSpec{{Name: "e", Target: "B", Cardinality: CardMaybe, Distinct: true}}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Validate(), ErrSchema)
		})
	}
}

func TestSchemaCheckAndNormalize(t *testing.T) {
	s := pageSchema()
	e := New("Page")
	e.SetField("title", value.Text("Home"))

	err := s.Check(e)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "header", se.Name)

	e.SetEdge("header", One(3))
	require.NoError(t, s.Check(e))

	s.Normalize(e)
	header, _ := e.Edge("header")
	assert.Equal(t, Deep, header.Policy())
	sub, ok := e.Edge("subheader")
	require.True(t, ok)
	assert.Equal(t, CardMaybe, sub.Cardinality())
	body, ok := e.Edge("body")
	require.True(t, ok)
	assert.Equal(t, 0, body.Len())

	e.SetField("views", value.Int(3))
	assert.ErrorIs(t, s.Check(e), ErrSchema, "kind mismatch")
	e.SetField("views", value.Null())
	assert.NoError(t, s.Check(e), "optional field may be null")

	e.SetField("bogus", value.Bool(true))
	assert.ErrorIs(t, s.Check(e), ErrSchema)
	e.RemoveField("bogus")

	e.SetEdge("body", One(4))
	assert.ErrorIs(t, s.Check(e), ErrSchema, "cardinality mismatch")
}

func TestSchemaDistinctManyEdge(t *testing.T) {
	s := pageSchema()
	e := New("Page")
	e.SetField("title", value.Text("Home"))
	e.SetEdge("header", One(3))

	// Duplicates are kept by default
	e.SetEdge("body", Many(4, 4))
	require.NoError(t, s.Check(e))

	s.Edges[2].Distinct = true
	require.NoError(t, s.Validate())
	var se *SchemaError
	require.ErrorAs(t, s.Check(e), &se)
	assert.Equal(t, "body", se.Name)
	assert.Contains(t, se.Reason, "duplicate target 4")

	e.SetEdge("body", Many(4, 5))
	assert.NoError(t, s.Check(e))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(pageSchema())
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(pageSchema()), ErrSchema)
	assert.ErrorIs(t, r.Register(&TypeSchema{}), ErrSchema)

	s, ok := r.Lookup("Page")
	require.True(t, ok)
	assert.Equal(t, []string{"title"}, s.IndexedFields())
	assert.Equal(t, []string{"Page"}, r.Types())

	var nilRegistry *Registry
	_, ok = nilRegistry.Lookup("Page")
	assert.False(t, ok)
}

func TestDisconnectedOperations(t *testing.T) {
	e := New("Page")

	assert.ErrorIs(t, e.Commit(), ErrDisconnected)
	assert.ErrorIs(t, e.Refresh(), ErrDisconnected)
	_, err := e.Remove()
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = e.LoadEdge("header")
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = Load(WeakHandle{}, 1)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestCloseDisconnectsRecords(t *testing.T) {
	db := newMapDB()
	h := NewHandle(db)
	e := New("Page")
	_, err := h.Insert(e)
	require.NoError(t, err)
	require.True(t, e.IsConnected())

	require.NoError(t, h.Close())
	assert.True(t, db.closed)
	assert.False(t, e.IsConnected())
	assert.ErrorIs(t, e.Refresh(), ErrDisconnected)
	_, err = h.Get(e.ID())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestWeakHandleDoesNotKeepStoreAlive(t *testing.T) {
	w := func() WeakHandle {
		return NewHandle(newMapDB()).Weak()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		_, err := w.Upgrade()
		return errors.Is(err, ErrDisconnected)
	}, time.Second, 10*time.Millisecond)
	_, ok := w.Strong()
	assert.False(t, ok)
}

func TestCommitRefreshRemove(t *testing.T) {
	h := NewHandle(newMapDB())
	w := h.Weak()

	e := New("Page")
	e.Connect(w)
	e.SetField("title", value.Text("Home"))
	require.NoError(t, e.Commit())
	require.False(t, e.IsEphemeral())
	id := e.ID()

	e.SetField("title", value.Text("Start"))
	require.NoError(t, e.Commit())
	assert.Equal(t, id, e.ID(), "second commit updates in place")

	other, err := h.Load(id)
	require.NoError(t, err)
	title, _ := other.Field("title")
	assert.True(t, value.Equal(value.Text("Start"), title))

	other.SetField("title", value.Text("Again"))
	require.NoError(t, other.Commit())
	require.NoError(t, e.Refresh())
	title, _ = e.Field("title")
	assert.True(t, value.Equal(value.Text("Again"), title))

	removed, err := e.Remove()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.ErrorIs(t, e.Refresh(), ErrNotFound)
	_, err = h.Load(id)
	assert.ErrorIs(t, err, ErrNotFound)
	missing, err := h.Get(id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoadEdges(t *testing.T) {
	h := NewHandle(newMapDB(pageSchema()))
	w := h.Weak()

	header, err := NewBuilder("Content").Field("body", value.Text("hi")).Commit(w)
	require.NoError(t, err)
	wrong, err := NewBuilder("Image").Commit(w)
	require.NoError(t, err)

	page, err := NewBuilder("Page").
		Field("title", value.Text("Home")).
		Edge("header", One(header.ID())).
		Edge("subheader", None()).
		Edge("body", Many(header.ID(), header.ID())).
		Commit(w)
	require.NoError(t, err)

	got, err := page.LoadOne("header")
	require.NoError(t, err)
	assert.Equal(t, header.ID(), got.ID())
	assert.True(t, got.IsConnected())

	none, err := page.LoadMaybe("subheader")
	require.NoError(t, err)
	assert.Nil(t, none)

	body, err := page.LoadEdge("body")
	require.NoError(t, err)
	assert.Len(t, body, 2)

	_, err = page.LoadMaybe("header")
	assert.ErrorIs(t, err, ErrSchema)

	page.SetEdge("subheader", Some(wrong.ID()))
	_, err = page.LoadMaybe("subheader")
	var broken *BrokenEdgeError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, wrong.ID(), broken.Target)

	page.SetEdge("body", Many(header.ID(), 999))
	_, err = page.LoadEdge("body")
	assert.ErrorIs(t, err, ErrBrokenEdge)
}

func TestBuilder(t *testing.T) {
	_, err := NewBuilder("Page").Schema(pageSchema()).Build()
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "title")
	assert.Contains(t, se.Reason, "header")

	_, err = NewBuilder("Page").FieldAny("title", struct{}{}).Build()
	assert.Error(t, err)

	e, err := NewBuilder("Page").
		Schema(pageSchema()).
		ID(42).
		Created(100).
		LastUpdated(10).
		FieldAny("title", "Home").
		Edge("header", One(1)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, ident.ID(42), e.ID())
	assert.Equal(t, uint64(100), e.LastUpdated())
}

func TestHandleDuplicateID(t *testing.T) {
	h := NewHandle(newMapDB())
	_, err := NewBuilder("Page").ID(5).Commit(h.Weak())
	require.NoError(t, err)

	_, err = NewBuilder("Content").ID(5).Commit(h.Weak())
	var dup *DuplicateIDError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Page", dup.Existing)
	assert.ErrorIs(t, err, ErrDuplicateID)

	all, err := h.FindAll(query.Query{}.OfType("Page"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsConnected())

	batch, err := h.GetAll([]ident.ID{9, 5})
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}
