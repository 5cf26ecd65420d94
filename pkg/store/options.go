package store

import (
	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/internal/metrics"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
)

// ChangeKind tells whether a change writes or removes a record
type ChangeKind uint8

const (
	ChangePut ChangeKind = iota + 1
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangePut:
		return "put"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// Change is one record-level effect of a mutation. Record is set for puts
// and holds the state the store is about to apply.
type Change struct {
	Kind   ChangeKind
	ID     ident.ID
	Record *ent.Ent
}

// CommitFunc receives the complete change set of a mutation before it is
// applied. Returning an error aborts the mutation with nothing applied.
type CommitFunc func(changes []Change) error

// Options configures a Memory store
type Options struct {
	// Logger receives store events; nil discards them
	Logger *logger.Logger

	// Metrics records store activity; nil disables it
	Metrics *metrics.Metrics

	// Now returns the current time in milliseconds; nil uses the wall clock
	Now func() uint64

	// OnCommit is called with every change set before it is applied
	OnCommit CommitFunc

	// Schemas are registered when the store is created
	Schemas []*ent.TypeSchema

	// DisableIndexes makes every query a full scan
	DisableIndexes bool
}

// DefaultOptions returns options with a no-op logger and the wall clock
func DefaultOptions() Options {
	return Options{
		Logger: logger.Nop(),
		Now:    ent.NowMillis,
	}
}

// Stats is a point-in-time summary of a store
type Stats struct {
	StoreID string

	Records int
	Types   map[string]int

	// IndexedFields counts (type, field) pairs with a secondary index
	IndexedFields int

	// IndexBuckets counts distinct indexed values across all fields
	IndexBuckets int

	// OrderedKeys counts numeric and text values held for range queries
	OrderedKeys int

	// Targets counts ids with at least one incoming edge
	Targets int

	// Dangling counts targets that have no record
	Dangling int

	// References counts (owner, edge) pairs across all targets
	References int

	HighWater   ident.ID
	Reclaimable uint64

	Poisoned bool
}
