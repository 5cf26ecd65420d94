package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType represents the type of WAL operation
type OpType byte

const (
	// OpPut stores a full record under its id
	OpPut OpType = 1

	// OpDelete removes the record with the key's id
	OpDelete OpType = 2

	// OpCommit marks the end of a change set
	OpCommit OpType = 3

	// OpCheckpoint follows a committed snapshot change set, named by its
	// TxnID; change sets started before the snapshot are obsolete
	OpCheckpoint OpType = 4
)

// FlagCompressed marks a zstd-compressed value
const FlagCompressed byte = 1 << 0

const (
	// EntryHeaderSize is the fixed size of the entry header
	// Layout: LSN(8) + TxnID(8) + OpType(1) + Flags(1) + Reserved(6) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 40

	// MaxEntryPayload bounds key plus value length; larger headers are treated as corruption
	MaxEntryPayload = 64 << 20
)

// Entry represents a single WAL entry
type Entry struct {
	LSN       uint64    // Log Sequence Number (monotonically increasing)
	TxnID     uint64    // Change set the entry belongs to
	OpType    OpType    // Operation type
	Flags     byte      // Value encoding flags
	Key       []byte    // Record id for PUT/DELETE
	Value     []byte    // Encoded record for PUT
	Timestamp time.Time // Entry timestamp, millisecond precision
}

// IDKey encodes a record id as an entry key
func IDKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// KeyID decodes a record id from an entry key
func KeyID(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("%w: key length %d", ErrInvalidEntry, len(key))
	}
	return binary.BigEndian.Uint64(key), nil
}

// Encode serializes the entry to bytes with CRC32 checksum
// Format: [Header(40)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	totalSize := EntryHeaderSize + keyLen + valLen + 4 // +4 for CRC32

	buf := make([]byte, totalSize)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	buf[17] = e.Flags
	// bytes 18-23 are reserved (padding)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.UnixMilli()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	// CRC32 covers everything before it
	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)

	return buf
}

// payloadLen returns key plus value length from an encoded header
func payloadLen(header []byte) (int, error) {
	keyLen := binary.LittleEndian.Uint32(header[24:28])
	valLen := binary.LittleEndian.Uint32(header[28:32])
	n := uint64(keyLen) + uint64(valLen)
	if n > MaxEntryPayload {
		return 0, ErrCorrupted
	}
	return int(n), nil
}

// DecodeEntry deserializes a WAL entry from bytes
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	keyLen := int(binary.LittleEndian.Uint32(data[24:28]))
	valLen := int(binary.LittleEndian.Uint32(data[28:32]))
	expectedSize := EntryHeaderSize + keyLen + valLen + 4
	if keyLen+valLen > MaxEntryPayload {
		return nil, ErrCorrupted
	}
	if len(data) < expectedSize {
		return nil, ErrTruncated
	}
	data = data[:expectedSize]

	storedCRC := binary.LittleEndian.Uint32(data[expectedSize-4:])
	if storedCRC != crc32.ChecksumIEEE(data[:expectedSize-4]) {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		TxnID:     binary.LittleEndian.Uint64(data[8:16]),
		OpType:    OpType(data[16]),
		Flags:     data[17],
		Timestamp: time.UnixMilli(int64(binary.LittleEndian.Uint64(data[32:40]))),
	}
	if entry.OpType < OpPut || entry.OpType > OpCheckpoint {
		return nil, ErrInvalidEntry
	}

	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		copy(entry.Key, data[offset:offset+keyLen])
		offset += keyLen
	}

	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		copy(entry.Value, data[offset:offset+valLen])
	}

	return entry, nil
}

// Size returns the encoded size of the entry
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

func (op OpType) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	case OpCommit:
		return "COMMIT"
	case OpCheckpoint:
		return "CHECKPOINT"
	}
	return "UNKNOWN"
}

// String returns a human-readable representation of the entry
func (e *Entry) String() string {
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Op=%s Flags=%#x KeyLen=%d ValLen=%d]",
		e.LSN, e.TxnID, e.OpType, e.Flags, len(e.Key), len(e.Value))
}
