// ABOUTME: Ownership handles: one strong Handle per store, weak handles per record
// ABOUTME: Records must upgrade their weak handle before any store operation

package ent

import (
	"io"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/query"
)

// Handle is the strong owner of a store. The application creates it,
// passes it to the code that needs the store and closes it on teardown.
type Handle struct {
	id uuid.UUID
	mu sync.RWMutex
	db Database
}

// NewHandle wraps db in a strong handle
func NewHandle(db Database) *Handle {
	return &Handle{id: uuid.New(), db: db}
}

// ID identifies the handle
func (h *Handle) ID() uuid.UUID { return h.id }

// Database returns the owned store, or ErrDisconnected after Close
func (h *Handle) Database() (Database, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, ErrDisconnected
	}
	return h.db, nil
}

// Weak returns a non-owning reference to the handle
func (h *Handle) Weak() WeakHandle {
	return WeakHandle{ptr: weak.Make(h)}
}

// Close detaches the store and closes it when it is an io.Closer.
// Every weak handle fails with ErrDisconnected afterwards.
func (h *Handle) Close() error {
	h.mu.Lock()
	db := h.db
	h.db = nil
	h.mu.Unlock()
	if c, ok := db.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Insert persists e, assigns its id and connects it to the handle
func (h *Handle) Insert(e *Ent) (ident.ID, error) {
	e.Connect(h.Weak())
	if err := e.Commit(); err != nil {
		return ident.Ephemeral, err
	}
	return e.ID(), nil
}

// Get returns the record with id connected to the handle, or nil
func (h *Handle) Get(id ident.ID) (*Ent, error) {
	db, err := h.Database()
	if err != nil {
		return nil, err
	}
	e, err := db.Get(id)
	if err != nil || e == nil {
		return nil, err
	}
	e.Connect(h.Weak())
	return e, nil
}

// Load is a strict Get: a missing record yields ErrNotFound
func (h *Handle) Load(id ident.ID) (*Ent, error) {
	e, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound(id)
	}
	return e, nil
}

// GetAll fetches the existing records among ids
func (h *Handle) GetAll(ids []ident.ID) ([]*Ent, error) {
	db, err := h.Database()
	if err != nil {
		return nil, err
	}
	ents, err := db.GetAll(ids)
	if err != nil {
		return nil, err
	}
	h.connectAll(ents)
	return ents, nil
}

// FindAll runs q against the store
func (h *Handle) FindAll(q query.Query) ([]*Ent, error) {
	db, err := h.Database()
	if err != nil {
		return nil, err
	}
	ents, err := db.FindAll(q)
	if err != nil {
		return nil, err
	}
	h.connectAll(ents)
	return ents, nil
}

// Remove deletes the record with id from the store
func (h *Handle) Remove(id ident.ID) (bool, error) {
	db, err := h.Database()
	if err != nil {
		return false, err
	}
	return db.Remove(id)
}

func (h *Handle) connectAll(ents []*Ent) {
	w := h.Weak()
	for _, e := range ents {
		e.Connect(w)
	}
}

// WeakHandle is a non-owning reference to a Handle. The zero value is
// unconnected.
type WeakHandle struct {
	ptr weak.Pointer[Handle]
}

// Upgrade returns the store, or ErrDisconnected when the handle was
// closed or collected
func (w WeakHandle) Upgrade() (Database, error) {
	h := w.ptr.Value()
	if h == nil {
		return nil, ErrDisconnected
	}
	return h.Database()
}

// Strong returns the owning handle if it is still alive
func (w WeakHandle) Strong() (*Handle, bool) {
	h := w.ptr.Value()
	return h, h != nil
}
