package store

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
	"github.com/nainya/entgraph/pkg/value"
)

type fakeClock struct {
	now atomic.Uint64
}

func newClock(start uint64) *fakeClock {
	c := &fakeClock{}
	c.now.Store(start)
	return c
}

func (c *fakeClock) Now() uint64      { return c.now.Load() }
func (c *fakeClock) Advance(d uint64) { c.now.Add(d) }

func testSchemas() []*ent.TypeSchema {
	return []*ent.TypeSchema{
		{
			Name:   "Content",
			Fields: []ent.FieldSpec{{Name: "text", Kind: value.KindText, Indexed: true}},
		},
		{
			Name: "Page",
			Fields: []ent.FieldSpec{
				{Name: "title", Kind: value.KindText, Indexed: true},
				{Name: "views", Kind: value.KindUint64, Indexed: true, Optional: true},
			},
			Edges: []ent.EdgeSpec{
				{Name: "header", Target: "Content", Cardinality: ent.CardOne, Policy: ent.Deep},
				{Name: "subheader", Target: "Content", Cardinality: ent.CardMaybe},
				{Name: "body", Target: "Content", Cardinality: ent.CardMany},
			},
		},
	}
}

func newTestStore(t *testing.T, mutate ...func(*Options)) (*Memory, *fakeClock) {
	t.Helper()
	clock := newClock(1000)
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.Schemas = testSchemas()
	for _, f := range mutate {
		f(&opts)
	}
	m, err := NewMemory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, clock
}

// blank returns an ephemeral record with unset timestamps so the store
// stamps it with the fake clock
func blank(typ string) *ent.Ent {
	return ent.Restore(ident.Ephemeral, typ, 0, 0, nil, nil)
}

func insertContent(t *testing.T, m *Memory, text string) ident.ID {
	t.Helper()
	e := blank("Content")
	e.SetField("text", value.Text(text))
	id, err := m.Insert(e)
	require.NoError(t, err)
	return id
}

func insertPage(t *testing.T, m *Memory, title string, header ident.ID, body ...ident.ID) ident.ID {
	t.Helper()
	e := blank("Page")
	e.SetField("title", value.Text(title))
	e.SetEdge("header", ent.One(header))
	e.SetEdge("body", ent.Many(body...))
	id, err := m.Insert(e)
	require.NoError(t, err)
	return id
}

// insertNode stores a schemaless record whose edges keep their own policies
func insertNode(t *testing.T, m *Memory, id ident.ID, edges map[string]ent.EdgeValue) ident.ID {
	t.Helper()
	got, err := m.Insert(ent.Restore(id, "Node", 0, 0, nil, edges))
	require.NoError(t, err)
	return got
}

func mustGet(t *testing.T, m *Memory, id ident.ID) *ent.Ent {
	t.Helper()
	e, err := m.Get(id)
	require.NoError(t, err)
	require.NotNil(t, e, "record %d", id)
	return e
}

func TestInsertAssignsIDAndTimestamps(t *testing.T) {
	m, _ := newTestStore(t)

	e := blank("Content")
	e.SetField("text", value.Text("hello"))
	id, err := m.Insert(e)
	require.NoError(t, err)

	assert.Equal(t, ident.ID(1), id)
	assert.True(t, e.IsEphemeral(), "caller's record is not modified")

	got := mustGet(t, m, id)
	assert.Equal(t, id, got.ID())
	assert.Equal(t, uint64(1000), got.Created())
	assert.Equal(t, uint64(1000), got.LastUpdated())
	assert.False(t, got.IsConnected())
}

func TestInsertKeepsCallerCreated(t *testing.T) {
	m, _ := newTestStore(t)

	e := ent.Restore(ident.Ephemeral, "Content", 5000, 5000, map[string]value.Value{"text": value.Text("x")}, nil)
	id, err := m.Insert(e)
	require.NoError(t, err)

	got := mustGet(t, m, id)
	assert.Equal(t, uint64(5000), got.Created())
	assert.Equal(t, uint64(5000), got.LastUpdated(), "last update never precedes creation")
}

func TestGetMissing(t *testing.T) {
	m, _ := newTestStore(t)

	e, err := m.Get(42)
	require.NoError(t, err)
	assert.Nil(t, e)

	all, err := m.GetAll([]ident.ID{42, 43})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestGetAllSkipsMissing(t *testing.T) {
	m, _ := newTestStore(t)
	a := insertContent(t, m, "a")
	b := insertContent(t, m, "b")

	all, err := m.GetAll([]ident.ID{b, 99, a})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b, all[0].ID())
	assert.Equal(t, a, all[1].ID())
}

func TestUpsertKeepsCreationAndOrder(t *testing.T) {
	m, clock := newTestStore(t)
	a := insertContent(t, m, "a")
	b := insertContent(t, m, "b")

	clock.Advance(500)
	e := mustGet(t, m, a)
	e.SetField("text", value.Text("a2"))
	id, err := m.Insert(e)
	require.NoError(t, err)
	assert.Equal(t, a, id)

	got := mustGet(t, m, a)
	assert.Equal(t, uint64(1000), got.Created())
	assert.Equal(t, uint64(1500), got.LastUpdated())
	text, _ := got.Field("text")
	assert.True(t, value.Equal(value.Text("a2"), text))

	all, err := m.FindAll(query.Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []ident.ID{a, b}, []ident.ID{all[0].ID(), all[1].ID()})
	assert.Equal(t, 2, m.Len())
}

func TestInsertDuplicateIDOfOtherType(t *testing.T) {
	m, _ := newTestStore(t)
	c := insertContent(t, m, "c")

	_, err := m.Insert(ent.Restore(c, "Node", 0, 0, nil, nil))
	require.ErrorIs(t, err, ent.ErrDuplicateID)

	var dup *ent.DuplicateIDError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, c, dup.ID)
	assert.Equal(t, "Content", dup.Existing)
	assert.Equal(t, "Node", dup.Incoming)

	assert.Equal(t, "Content", mustGet(t, m, c).TypeName())
}

func TestExplicitIDIsNeverAllocated(t *testing.T) {
	m, _ := newTestStore(t)
	insertNode(t, m, 4, nil)

	seen := map[ident.ID]bool{4: true}
	for i := 0; i < 8; i++ {
		id := insertContent(t, m, "x")
		assert.False(t, seen[id], "id %d issued twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, 9)
}

func TestDanglingTargetsAreNotAllocated(t *testing.T) {
	m, _ := newTestStore(t)

	// On an empty store the first free id is the target itself
	n := insertNode(t, m, ident.Ephemeral, map[string]ent.EdgeValue{"next": ent.One(1)})
	assert.NotEqual(t, ident.ID(1), n)

	p := insertPage(t, m, "Dangling", 7)
	for i := 0; i < 10; i++ {
		id := insertContent(t, m, "x")
		assert.NotEqual(t, ident.ID(1), id)
		assert.NotEqual(t, ident.ID(7), id)
	}

	st := m.Stats()
	assert.Equal(t, 2, st.Dangling)

	// The target can still be created explicitly and then resolves
	e := ent.Restore(7, "Content", 0, 0, map[string]value.Value{"text": value.Text("late")}, nil)
	_, err := m.Insert(e)
	require.NoError(t, err)

	page := mustGet(t, m, p)
	h := ent.NewHandle(m)
	page.Connect(h.Weak())
	header, err := page.LoadOne("header")
	require.NoError(t, err)
	assert.Equal(t, ident.ID(7), header.ID())
	assert.Equal(t, 1, m.Stats().Dangling)
	runtime.KeepAlive(h)
}

func TestUnreferencedDanglingIDIsReleased(t *testing.T) {
	m, _ := newTestStore(t)
	n := insertNode(t, m, ident.Ephemeral, map[string]ent.EdgeValue{"next": ent.Many(1)})

	e := mustGet(t, m, n)
	e.SetEdge("next", ent.Many())
	_, err := m.Insert(e)
	require.NoError(t, err)

	assert.Equal(t, 0, m.Stats().Dangling)
	assert.Equal(t, ident.ID(1), insertContent(t, m, "reuses the freed id"))
}

func TestRemovedIDsAreReused(t *testing.T) {
	m, _ := newTestStore(t)
	insertContent(t, m, "a")
	b := insertContent(t, m, "b")
	insertContent(t, m, "c")

	ok, err := m.Remove(b)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, b, insertContent(t, m, "d"))
	assert.Equal(t, ident.ID(4), insertContent(t, m, "e"))
}

func TestInsertValidatesSchema(t *testing.T) {
	m, _ := newTestStore(t)

	noHeader := blank("Page")
	noHeader.SetField("title", value.Text("t"))
	_, err := m.Insert(noHeader)
	assert.ErrorIs(t, err, ent.ErrSchema)

	wrongKind := blank("Content")
	wrongKind.SetField("text", value.Int(3))
	_, err = m.Insert(wrongKind)
	assert.ErrorIs(t, err, ent.ErrSchema)

	untyped := blank("")
	_, err = m.Insert(untyped)
	assert.ErrorIs(t, err, ent.ErrSchema)

	_, err = m.Insert(nil)
	assert.ErrorIs(t, err, ent.ErrSchema)

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, ident.ID(1), insertContent(t, m, "first"))
}

func TestInsertRejectsEphemeralTargets(t *testing.T) {
	m, _ := newTestStore(t)
	_, err := m.Insert(ent.Restore(ident.Ephemeral, "Node", 0, 0, nil,
		map[string]ent.EdgeValue{"next": ent.Many(ident.Ephemeral)}))
	assert.ErrorIs(t, err, ent.ErrInvalidID)
}

func TestInsertNormalizesEdges(t *testing.T) {
	m, _ := newTestStore(t)
	c := insertContent(t, m, "c")
	p := insertPage(t, m, "p", c)

	page := mustGet(t, m, p)
	header, ok := page.Edge("header")
	require.True(t, ok)
	assert.Equal(t, ent.Deep, header.Policy())

	sub, ok := page.Edge("subheader")
	require.True(t, ok)
	assert.Equal(t, ent.CardMaybe, sub.Cardinality())
	assert.Equal(t, 0, sub.Len())
}

func TestRegisterRejectsPopulatedType(t *testing.T) {
	m, _ := newTestStore(t)
	insertNode(t, m, ident.Ephemeral, nil)

	err := m.Register(&ent.TypeSchema{Name: "Node"})
	assert.ErrorIs(t, err, ent.ErrSchema)

	require.NoError(t, m.Register(&ent.TypeSchema{Name: "Tag"}))
	s, ok := m.Schema("Tag")
	require.True(t, ok)
	assert.Equal(t, "Tag", s.Name)
	assert.Equal(t, []string{"Content", "Page", "Tag"}, m.Types())
}

func TestCommitHookFailureAbortsInsert(t *testing.T) {
	fail := true
	var seen []Change
	m, _ := newTestStore(t, func(o *Options) {
		o.OnCommit = func(changes []Change) error {
			if fail {
				return errors.New("disk full")
			}
			seen = append(seen, changes...)
			return nil
		}
	})

	_, err := m.Insert(ent.Restore(ident.Ephemeral, "Node", 0, 0, nil,
		map[string]ent.EdgeValue{"next": ent.One(9)}))
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.Stats().Targets)

	fail = false
	id := insertContent(t, m, "ok")
	assert.Equal(t, ident.ID(1), id)
	require.Len(t, seen, 1)
	assert.Equal(t, ChangePut, seen[0].Kind)
	assert.Equal(t, id, seen[0].ID)
	assert.Equal(t, id, seen[0].Record.ID())
}

func TestClosedStore(t *testing.T) {
	m, _ := newTestStore(t)
	id := insertContent(t, m, "x")
	require.NoError(t, m.Close())

	_, err := m.Get(id)
	assert.ErrorIs(t, err, ent.ErrClosed)
	_, err = m.Insert(blank("Node"))
	assert.ErrorIs(t, err, ent.ErrClosed)
	_, err = m.Remove(id)
	assert.ErrorIs(t, err, ent.ErrClosed)
	_, err = m.FindAll(query.Query{})
	assert.ErrorIs(t, err, ent.ErrClosed)
}

func TestConcurrentInsertsGetUniqueIDs(t *testing.T) {
	m, _ := newTestStore(t)

	const workers, perWorker = 8, 100
	var (
		mu  sync.Mutex
		ids = make(map[ident.ID]bool)
	)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				e := blank("Content")
				e.SetField("text", value.Text("x"))
				id, err := m.Insert(e)
				if err != nil {
					return err
				}
				mu.Lock()
				if ids[id] {
					mu.Unlock()
					return errors.New("duplicate id")
				}
				ids[id] = true
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, workers*perWorker)
	assert.Equal(t, workers*perWorker, m.Len())
}

func TestConcurrentReadersSeeWholeCascades(t *testing.T) {
	m, _ := newTestStore(t)

	// Pages whose header does not resolve; a reader must never see one
	orphaned := query.New().OfType("Page").Where(query.Not{
		Inner: query.Edge{Name: "header", Filter: query.FilterTargets(query.All{})},
	})

	var g errgroup.Group
	stop := make(chan struct{})
	g.Go(func() error {
		defer close(stop)
		for i := 0; i < 200; i++ {
			c := blank("Content")
			c.SetField("text", value.Text("c"))
			cid, err := m.Insert(c)
			if err != nil {
				return err
			}
			p := blank("Page")
			p.SetField("title", value.Text("p"))
			p.SetEdge("header", ent.One(cid))
			if _, err := m.Insert(p); err != nil {
				return err
			}
			if _, err := m.Remove(cid); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			pages, err := m.FindAll(orphaned)
			if err != nil {
				return err
			}
			if len(pages) > 0 {
				return errors.New("page observed without its header")
			}
		}
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, m.Len())
}

func TestHandleOverMemory(t *testing.T) {
	m, _ := newTestStore(t)
	h := ent.NewHandle(m)

	c := blank("Content")
	c.SetField("text", value.Text("header"))
	cid, err := h.Insert(c)
	require.NoError(t, err)

	p, err := ent.NewBuilder("Page").
		Field("title", value.Text("Start")).
		Edge("header", ent.One(cid)).
		Connect(h.Weak()).
		Commit(h.Weak())
	require.NoError(t, err)
	assert.False(t, p.IsEphemeral())

	header, err := p.LoadOne("header")
	require.NoError(t, err)
	assert.Equal(t, cid, header.ID())

	found, err := h.FindAll(query.New().OfType("Page").FieldEq("title", value.Text("Start")))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].IsConnected())

	require.NoError(t, h.Close())
	_, err = m.Get(cid)
	assert.ErrorIs(t, err, ent.ErrClosed)
	_, err = p.LoadOne("header")
	assert.ErrorIs(t, err, ent.ErrDisconnected)
}

func TestStats(t *testing.T) {
	m, _ := newTestStore(t)
	c := insertContent(t, m, "c")
	insertPage(t, m, "a", c, c)
	insertPage(t, m, "b", c)

	st := m.Stats()
	assert.Equal(t, m.ID().String(), st.StoreID)
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, map[string]int{"Content": 1, "Page": 2}, st.Types)
	assert.Equal(t, 2, st.IndexedFields)
	assert.Equal(t, 3, st.IndexBuckets)
	assert.Equal(t, 3, st.OrderedKeys)
	assert.Equal(t, 1, st.Targets)
	assert.Equal(t, 3, st.References)
	assert.Equal(t, ident.ID(3), st.HighWater)
	assert.False(t, st.Poisoned)
}
