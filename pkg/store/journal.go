// ABOUTME: Durable store: the in-memory store with every change set journaled to a WAL
// ABOUTME: Replays committed change sets on open and snapshots through WAL checkpoints

package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nainya/entgraph/pkg/codec"
	"github.com/nainya/entgraph/pkg/ent"
	"github.com/nainya/entgraph/pkg/ident"
	"github.com/nainya/entgraph/pkg/wal"
)

// DefaultJournalName is the base file name of the journal inside its directory
const DefaultJournalName = "graph.wal"

// JournalOptions configures the write-ahead log behind a Journaled store
type JournalOptions struct {
	// Dir holds the journal files
	Dir string

	// Name is the journal base name; empty means DefaultJournalName
	Name string

	// SyncOnCommit fsyncs after every change set
	SyncOnCommit bool

	// Compress stores records zstd-compressed
	Compress bool

	// MaxFileSize rotates journal files; zero uses the WAL default
	MaxFileSize int64

	// CheckpointInterval enables periodic snapshots when positive
	CheckpointInterval time.Duration
}

// Journaled is a Memory store whose change sets are written to a WAL
// before they are applied. Reopening the same directory restores the graph.
type Journaled struct {
	*Memory

	wal      *wal.WAL
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	ckpt     *wal.Checkpointer
	replay   *wal.RecoveryStats

	closeOnce sync.Once
	closeErr  error
}

var _ ent.Database = (*Journaled)(nil)

// OpenJournaled opens or creates the journal in jopts.Dir and replays it
func OpenJournaled(jopts JournalOptions, opts Options) (*Journaled, error) {
	if jopts.Dir == "" {
		return nil, fmt.Errorf("journal directory is required")
	}
	name := jopts.Name
	if name == "" {
		name = DefaultJournalName
	}

	userHook := opts.OnCommit
	opts.OnCommit = nil
	mem, err := NewMemory(opts)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(jopts.Dir, name), wal.Options{
		MaxFileSize:  jopts.MaxFileSize,
		SyncOnCommit: jopts.SyncOnCommit,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		w.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		w.Close()
		return nil, err
	}

	j := &Journaled{
		Memory:   mem,
		wal:      w,
		compress: jopts.Compress,
		enc:      enc,
		dec:      dec,
	}

	start := time.Now()
	stats, err := wal.NewRecovery(w).RecoverWithStats(j.apply)
	if err != nil {
		j.closeFiles()
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	j.replay = stats
	mem.restoreAllocator()

	// The caller's hook may still veto, so it runs before anything is journaled
	mem.opts.OnCommit = func(changes []Change) error {
		if userHook != nil {
			if err := userHook(changes); err != nil {
				return err
			}
		}
		return j.write(changes)
	}

	mem.metrics.RecordJournal(0, stats.ReplayedOperations)
	mem.log.Info("journal replayed").
		Str("path", w.Path).
		Int("records", mem.Len()).
		Int("operations", stats.ReplayedOperations).
		Int("uncommitted", stats.UncommittedTxns).
		Int("damaged_files", stats.DamagedFiles).
		Dur("duration", time.Since(start)).
		Send()

	if jopts.CheckpointInterval > 0 {
		j.ckpt = wal.NewCheckpointer(j.Checkpoint)
		j.ckpt.SetInterval(jopts.CheckpointInterval)
		j.ckpt.OnError(func(err error) {
			mem.log.Error("checkpoint failed").Err(err).Send()
		})
		j.ckpt.Start()
	}
	return j, nil
}

// ReplayStats describes the recovery performed when the store was opened
func (j *Journaled) ReplayStats() wal.RecoveryStats { return *j.replay }

// Path returns the journal base path
func (j *Journaled) Path() string { return j.wal.Path }

// Checkpoint writes a snapshot of every record and drops older journal files
func (j *Journaled) Checkpoint() error {
	start := time.Now()
	m := j.Memory

	// Holding the write lock keeps change sets from interleaving with the snapshot
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writableLocked(); err != nil {
		return err
	}
	ops := make([]wal.Op, 0, len(m.records))
	for _, r := range m.ordered() {
		ops = append(ops, j.putOp(r.ent))
	}
	err := j.wal.Checkpoint(ops)
	m.metrics.RecordStoreOperation("checkpoint", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	m.log.Info("checkpoint written").Int("records", len(ops)).Dur("duration", time.Since(start)).Send()
	return nil
}

// Sync flushes the journal to disk
func (j *Journaled) Sync() error { return j.wal.Fsync() }

// Close stops checkpointing, closes the store and syncs the journal
func (j *Journaled) Close() error {
	j.closeOnce.Do(func() {
		if j.ckpt != nil {
			j.ckpt.Stop()
		}
		_ = j.Memory.Close()
		j.closeErr = j.closeFiles()
	})
	return j.closeErr
}

func (j *Journaled) closeFiles() error {
	j.enc.Close()
	j.dec.Close()
	return j.wal.Close()
}

func (j *Journaled) putOp(rec *ent.Ent) wal.Op {
	data := codec.EncodeRecord(rec)
	var flags byte
	if j.compress {
		data = j.enc.EncodeAll(data, nil)
		flags = wal.FlagCompressed
	}
	return wal.Op{Type: wal.OpPut, Flags: flags, Key: wal.IDKey(rec.ID()), Value: data}
}

// write journals one change set
func (j *Journaled) write(changes []Change) error {
	ops := make([]wal.Op, 0, len(changes))
	for _, c := range changes {
		switch c.Kind {
		case ChangePut:
			ops = append(ops, j.putOp(c.Record))
		case ChangeDelete:
			ops = append(ops, wal.Op{Type: wal.OpDelete, Key: wal.IDKey(c.ID)})
		}
	}
	_, n, err := j.wal.Commit(ops)
	j.Memory.metrics.RecordJournal(n, 0)
	return err
}

// apply replays one journal entry
func (j *Journaled) apply(e *wal.Entry) error {
	id, err := wal.KeyID(e.Key)
	if err != nil {
		return err
	}
	switch e.OpType {
	case wal.OpPut:
		data := e.Value
		if e.Flags&wal.FlagCompressed != 0 {
			if data, err = j.dec.DecodeAll(data, nil); err != nil {
				return fmt.Errorf("record %d: %w", id, err)
			}
		}
		rec, err := codec.DecodeRecord(data)
		if err != nil {
			return fmt.Errorf("record %d: %w", id, err)
		}
		if rec.ID() != id {
			return fmt.Errorf("%w: entry key %d holds record %d", wal.ErrInvalidEntry, id, rec.ID())
		}
		return j.Memory.restorePut(rec)
	case wal.OpDelete:
		return j.Memory.restoreDelete(id)
	}
	return nil
}

// restorePut applies a journaled record exactly as written
func (m *Memory) restorePut(rec *ent.Ent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.records[rec.ID()]; existing != nil {
		if existing.ent.TypeName() == rec.TypeName() {
			if err := m.replaceLocked(existing, rec); err != nil {
				return err
			}
			m.flushOrphansLocked()
			return nil
		}
		if err := m.unlinkLocked(rec.ID()); err != nil {
			return err
		}
	}
	if _, err := m.alloc.Reserve(rec.ID()); err != nil {
		return err
	}
	m.addLocked(rec)
	m.flushOrphansLocked()
	return nil
}

// restoreDelete removes a journaled record. Owners repaired by the same
// change set follow as separate puts, so incoming references may remain
// until then.
func (m *Memory) restoreDelete(id ident.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.records[id] == nil {
		return nil
	}
	if err := m.unlinkLocked(id); err != nil {
		return err
	}
	if len(m.ix.reverse[id]) == 0 {
		m.alloc.Release(id)
	}
	m.flushOrphansLocked()
	return nil
}

// restoreAllocator compacts the allocator to the ids that are stored or
// referenced, making every gap reusable
func (m *Memory) restoreAllocator() {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := make([]ident.ID, 0, len(m.records)+len(m.ix.reverse))
	for id := range m.records {
		live = append(live, id)
	}
	for id := range m.ix.reverse {
		live = append(live, id)
	}
	m.alloc.Restore(live)
	m.metrics.SetRecordCounts(m.typeCountsLocked())
}
