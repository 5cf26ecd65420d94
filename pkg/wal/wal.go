package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxFileSize is the size at which the log rotates to a new file (100MB)
	DefaultMaxFileSize = 100 << 20
)

// Options configures a WAL
type Options struct {
	// MaxFileSize triggers rotation; zero means DefaultMaxFileSize
	MaxFileSize int64

	// SyncOnCommit fsyncs after every committed change set
	SyncOnCommit bool
}

// Op is one operation of a change set
type Op struct {
	Type  OpType
	Flags byte
	Key   []byte
	Value []byte
}

// WAL represents a Write-Ahead Log
type WAL struct {
	// Path is the base path for WAL files (e.g., "/data/graph.wal")
	Path string

	opts Options

	// fd is the current log file descriptor
	fd *os.File

	// mu protects concurrent access to WAL
	mu sync.Mutex

	// lsn is the current Log Sequence Number (atomic)
	lsn uint64

	// txn is the last issued change set id (atomic)
	txn uint64

	// fileSize is the current log file size
	fileSize int64

	// fileIndex is the current log file index (0, 1, 2, ...)
	fileIndex int

	// closed indicates whether the WAL is closed
	closed bool
}

// Open opens or creates the WAL at path
func Open(path string, opts Options) (*WAL, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	w := &WAL{Path: path, opts: opts}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.Path), 0755); err != nil {
		return err
	}
	files, err := w.findLogFiles()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return w.openFileNoLock(0)
	}

	// Continue sequence numbers after the highest on disk
	maxLSN, maxTxn, err := scanHighest(files)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&w.lsn, maxLSN)
	atomic.StoreUint64(&w.txn, maxTxn)

	// Drop a torn tail so new entries are not appended after garbage
	latest := files[len(files)-1]
	valid, err := validLength(latest)
	if err != nil {
		return err
	}
	if stat, err := os.Stat(latest); err == nil && stat.Size() > valid {
		if err := os.Truncate(latest, valid); err != nil {
			return err
		}
	}

	index, ok := w.fileIndexOf(filepath.Base(latest))
	if !ok {
		index = 0
	}
	return w.openFileNoLock(index)
}

func (w *WAL) openFileNoLock(index int) error {
	fd, err := os.OpenFile(w.logFilePath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return err
	}
	w.fd = fd
	w.fileIndex = index
	w.fileSize = stat.Size()
	w.closed = false
	return nil
}

// NextLSN returns the next Log Sequence Number
func (w *WAL) NextLSN() uint64 {
	return atomic.AddUint64(&w.lsn, 1)
}

// LastLSN returns the most recently issued Log Sequence Number
func (w *WAL) LastLSN() uint64 {
	return atomic.LoadUint64(&w.lsn)
}

// Write writes an entry to the WAL
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}
	_, err := w.writeNoLock(entry)
	return err
}

func (w *WAL) writeNoLock(entry Entry) (int, error) {
	data := entry.Encode()

	if w.fileSize > 0 && w.fileSize+int64(len(data)) > w.opts.MaxFileSize {
		if err := w.rotateNoLock(); err != nil {
			return 0, err
		}
	}

	n, err := w.fd.Write(data)
	w.fileSize += int64(n)
	return n, err
}

// Commit appends ops as one change set followed by a commit marker.
// Recovery replays a change set only when its marker is present.
func (w *WAL) Commit(ops []Op) (txnID uint64, written int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, 0, ErrLogClosed
	}
	txnID = atomic.AddUint64(&w.txn, 1)
	written, err = w.appendTxnNoLock(txnID, ops)
	if err != nil {
		return txnID, written, err
	}
	if w.opts.SyncOnCommit {
		err = w.fd.Sync()
	}
	return txnID, written, err
}

func (w *WAL) appendTxnNoLock(txnID uint64, ops []Op) (int, error) {
	now := time.Now()
	written := 0
	for _, op := range ops {
		n, err := w.writeNoLock(Entry{
			LSN:       w.NextLSN(),
			TxnID:     txnID,
			OpType:    op.Type,
			Flags:     op.Flags,
			Key:       op.Key,
			Value:     op.Value,
			Timestamp: now,
		})
		written += n
		if err != nil {
			return written, err
		}
	}
	n, err := w.writeNoLock(Entry{LSN: w.NextLSN(), TxnID: txnID, OpType: OpCommit, Timestamp: now})
	return written + n, err
}

// Checkpoint starts a new log file holding the snapshot ops as one change
// set, followed by a checkpoint marker naming it, then removes every older
// log file. The marker is written only once the snapshot is durable.
func (w *WAL) Checkpoint(snapshot []Op) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}
	if err := w.rotateNoLock(); err != nil {
		return err
	}
	// A large snapshot may rotate again; keep every file from here on
	first := w.fileIndex
	txnID := atomic.AddUint64(&w.txn, 1)
	if _, err := w.appendTxnNoLock(txnID, snapshot); err != nil {
		return fmt.Errorf("write snapshot failed: %w", err)
	}
	if err := w.fd.Sync(); err != nil {
		return fmt.Errorf("fsync snapshot failed: %w", err)
	}
	marker := Entry{LSN: w.NextLSN(), TxnID: txnID, OpType: OpCheckpoint, Timestamp: time.Now()}
	if _, err := w.writeNoLock(marker); err != nil {
		return fmt.Errorf("write checkpoint entry failed: %w", err)
	}
	if err := w.fd.Sync(); err != nil {
		return fmt.Errorf("fsync checkpoint failed: %w", err)
	}
	return w.removeBeforeNoLock(first)
}

// Fsync ensures all written data is persisted to disk
func (w *WAL) Fsync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrLogClosed
	}

	return w.fd.Sync()
}

// Close syncs and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	syncErr := w.fd.Sync()
	err := w.fd.Close()
	w.closed = true
	if syncErr != nil {
		return syncErr
	}
	return err
}

// Files returns the log files in index order
func (w *WAL) Files() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.findLogFiles()
}

// rotateNoLock rotates to a new log file (caller must hold mu)
func (w *WAL) rotateNoLock() error {
	if err := w.fd.Sync(); err != nil {
		return err
	}
	if err := w.fd.Close(); err != nil {
		return err
	}
	return w.openFileNoLock(w.fileIndex + 1)
}

// removeBeforeNoLock deletes log files with an index below keep
func (w *WAL) removeBeforeNoLock(keep int) error {
	files, err := w.findLogFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if index, ok := w.fileIndexOf(filepath.Base(f)); ok && index < keep {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// baseName returns the base filename for WAL files (e.g., "graph.wal" from "/path/to/graph.wal")
func (w *WAL) baseName() string {
	return filepath.Base(w.Path)
}

// logFilePath returns the path for a log file with the given index
func (w *WAL) logFilePath(index int) string {
	dir := filepath.Dir(w.Path)
	name := fmt.Sprintf("%s.%03d", w.baseName(), index)
	return filepath.Join(dir, name)
}

// fileIndexOf parses the index of a log file name belonging to this WAL
func (w *WAL) fileIndexOf(name string) (int, bool) {
	var index int
	if _, err := fmt.Sscanf(name, w.baseName()+".%d", &index); err != nil {
		return 0, false
	}
	// Reject names that merely share a prefix
	if name != fmt.Sprintf("%s.%03d", w.baseName(), index) {
		return 0, false
	}
	return index, true
}

// findLogFiles returns all WAL files sorted by index
func (w *WAL) findLogFiles() ([]string, error) {
	dir := filepath.Dir(w.Path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type indexed struct {
		path  string
		index int
	}
	var found []indexed
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if index, ok := w.fileIndexOf(entry.Name()); ok {
			found = append(found, indexed{filepath.Join(dir, entry.Name()), index})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].index < found[j].index })

	files := make([]string, len(found))
	for i, f := range found {
		files[i] = f.path
	}
	return files, nil
}

// scanHighest returns the highest LSN and change set id in files
func scanHighest(files []string) (maxLSN, maxTxn uint64, err error) {
	r := NewReader(files)
	if err := r.Open(); err != nil {
		return 0, 0, err
	}
	defer r.Close()

	for {
		entry, err := r.Next()
		if err == io.EOF {
			return maxLSN, maxTxn, nil
		}
		if err != nil {
			return 0, 0, err
		}
		maxLSN = max(maxLSN, entry.LSN)
		maxTxn = max(maxTxn, entry.TxnID)
	}
}
