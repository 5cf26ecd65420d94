package wal

import (
	"fmt"
)

// ReplayFunc is called for each PUT or DELETE of a committed change set
type ReplayFunc func(entry *Entry) error

// Recovery manages crash recovery from WAL
type Recovery struct {
	wal *WAL
}

// NewRecovery creates a recovery manager
func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// Recover replays the WAL and calls the replay function for each committed operation
func (r *Recovery) Recover(replay ReplayFunc) error {
	_, err := r.RecoverWithStats(replay)
	return err
}

// Transaction represents the WAL entries of one change set
type Transaction struct {
	TxnID     uint64
	StartLSN  uint64
	Entries   []*Entry
	Committed bool
}

// groupByTransaction groups WAL entries by change set id
func (r *Recovery) groupByTransaction(entries []*Entry) []*Transaction {
	txnMap := make(map[uint64]*Transaction)
	var txnList []*Transaction

	for _, entry := range entries {
		if entry.OpType == OpCheckpoint {
			continue
		}

		txn, exists := txnMap[entry.TxnID]
		if !exists {
			txn = &Transaction{
				TxnID:    entry.TxnID,
				StartLSN: entry.LSN,
				Entries:  make([]*Entry, 0),
			}
			txnMap[entry.TxnID] = txn
			txnList = append(txnList, txn)
		}

		if entry.OpType == OpCommit {
			txn.Committed = true
		} else {
			txn.Entries = append(txn.Entries, entry)
		}
	}

	return txnList
}

// findLastCheckpoint returns the last checkpoint marker whose snapshot
// change set committed, together with that snapshot. Markers without a
// committed snapshot are ignored so the older change sets still replay.
func (r *Recovery) findLastCheckpoint(entries []*Entry, txns []*Transaction) (*Entry, *Transaction) {
	byID := make(map[uint64]*Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.TxnID] = txn
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OpType != OpCheckpoint {
			continue
		}
		if snap := byID[entries[i].TxnID]; snap != nil && snap.Committed {
			return entries[i], snap
		}
	}
	return nil, nil
}

// RecoveryStats describes one recovery pass
type RecoveryStats struct {
	TotalEntries       int
	CommittedTxns      int
	UncommittedTxns    int
	ReplayedOperations int
	DamagedFiles       int
	LastCheckpointLSN  uint64
}

// RecoverWithStats performs recovery and returns statistics
func (r *Recovery) RecoverWithStats(replay ReplayFunc) (*RecoveryStats, error) {
	stats := &RecoveryStats{}

	files, err := r.wal.Files()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return stats, nil
	}

	entries, damaged, err := readAllCounting(files)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL entries: %w", err)
	}

	stats.TotalEntries = len(entries)
	stats.DamagedFiles = damaged

	transactions := r.groupByTransaction(entries)

	marker, snapshot := r.findLastCheckpoint(entries, transactions)
	if marker != nil {
		stats.LastCheckpointLSN = marker.LSN
	}

	for _, txn := range transactions {
		// Change sets before the last snapshot are covered by it
		if snapshot != nil && txn.StartLSN < snapshot.StartLSN {
			continue
		}

		if !txn.Committed {
			stats.UncommittedTxns++
			continue
		}

		stats.CommittedTxns++
		for _, entry := range txn.Entries {
			if entry.OpType != OpPut && entry.OpType != OpDelete {
				continue
			}
			if err := replay(entry); err != nil {
				return stats, fmt.Errorf("replay failed at LSN %d: %w", entry.LSN, err)
			}
			stats.ReplayedOperations++
		}
	}

	return stats, nil
}
