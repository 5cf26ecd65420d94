// ABOUTME: Page layout for the ordered key set
// ABOUTME: Pages are immutable once stored; every update builds new pages

package btree

import (
	"bytes"
	"encoding/binary"
)

const (
	nodeInternal = 1 // keys with child pointers
	nodeLeaf     = 2 // keys only
)

const (
	header   = 4
	pageSize = 4096

	// MaxKeySize is the longest key a page accepts
	MaxKeySize = 1000
)

// node is one page:
//
//	| type | nkeys | pointers   | offsets    | keys              |
//	| 2B   | 2B    | nkeys * 8B | nkeys * 2B | (klen 2B, key)... |
type node []byte

func (n node) kind() uint16 {
	return binary.LittleEndian.Uint16(n[0:2])
}

func (n node) nkeys() uint16 {
	return binary.LittleEndian.Uint16(n[2:4])
}

func (n node) setHeader(kind, nkeys uint16) {
	binary.LittleEndian.PutUint16(n[0:2], kind)
	binary.LittleEndian.PutUint16(n[2:4], nkeys)
}

func (n node) ptr(idx uint16) uint64 {
	if idx >= n.nkeys() {
		panic("btree: pointer index out of range")
	}
	return binary.LittleEndian.Uint64(n[header+8*idx:])
}

func (n node) setPtr(idx uint16, p uint64) {
	if idx >= n.nkeys() {
		panic("btree: pointer index out of range")
	}
	binary.LittleEndian.PutUint64(n[header+8*idx:], p)
}

func (n node) offsetPos(idx uint16) uint16 {
	if idx < 1 || idx > n.nkeys() {
		panic("btree: offset index out of range")
	}
	return header + 8*n.nkeys() + 2*(idx-1)
}

// offset of key idx from the start of the key area; key 0 is at 0
func (n node) offset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(n[n.offsetPos(idx):])
}

func (n node) setOffset(idx, off uint16) {
	binary.LittleEndian.PutUint16(n[n.offsetPos(idx):], off)
}

func (n node) keyPos(idx uint16) uint16 {
	if idx > n.nkeys() {
		panic("btree: key index out of range")
	}
	return header + 10*n.nkeys() + n.offset(idx)
}

func (n node) key(idx uint16) []byte {
	if idx >= n.nkeys() {
		panic("btree: key index out of range")
	}
	pos := n.keyPos(idx)
	klen := binary.LittleEndian.Uint16(n[pos:])
	return n[pos+2:][:klen]
}

// size is the number of bytes in use
func (n node) size() uint16 {
	return n.keyPos(n.nkeys())
}

// lookupLE returns the index of the last key <= key. The first key of every
// page is a copy of the parent's separator, so it never exceeds key.
func lookupLE(n node, key []byte) uint16 {
	found := uint16(0)
	for i := uint16(1); i < n.nkeys(); i++ {
		cmp := bytes.Compare(n.key(i), key)
		if cmp <= 0 {
			found = i
		}
		if cmp >= 0 {
			break
		}
	}
	return found
}

// appendRange copies count keys (and pointers) from old[src:] to dst[at:]
func appendRange(dst, old node, at, src, count uint16) {
	if src+count > old.nkeys() || at+count > dst.nkeys() {
		panic("btree: range out of bounds")
	}
	if count == 0 {
		return
	}
	if old.kind() == nodeInternal {
		for i := uint16(0); i < count; i++ {
			dst.setPtr(at+i, old.ptr(src+i))
		}
	}

	dstBegin := dst.offset(at)
	srcBegin := old.offset(src)
	for i := uint16(1); i <= count; i++ {
		dst.setOffset(at+i, dstBegin+old.offset(src+i)-srcBegin)
	}

	begin := old.keyPos(src)
	end := old.keyPos(src + count)
	copy(dst[dst.keyPos(at):], old[begin:end])
}

// appendKey writes one key (and its child pointer) at idx
func appendKey(dst node, idx uint16, p uint64, key []byte) {
	dst.setPtr(idx, p)
	pos := dst.keyPos(idx)
	binary.LittleEndian.PutUint16(dst[pos:], uint16(len(key)))
	copy(dst[pos+2:], key)
	dst.setOffset(idx+1, dst.offset(idx)+2+uint16(len(key)))
}
