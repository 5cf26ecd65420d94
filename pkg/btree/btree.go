// ABOUTME: Copy-on-write B+tree holding an ordered set of byte keys
// ABOUTME: Backs the range indices of the in-memory store

// Package btree implements an ordered set of byte strings on fixed-size pages.
package btree

import (
	"bytes"
	"errors"
)

var (
	// ErrKeyTooLarge is returned for keys longer than MaxKeySize
	ErrKeyTooLarge = errors.New("btree: key too large")

	// ErrEmptyKey is returned for zero-length keys, which the tree reserves
	ErrEmptyKey = errors.New("btree: empty key")
)

// pages hands out and frees page numbers. Page 0 means "no page".
type pages struct {
	live map[uint64]node
	next uint64
}

func (p *pages) get(ptr uint64) node {
	n, ok := p.live[ptr]
	if !ok {
		panic("btree: dangling page pointer")
	}
	return n
}

func (p *pages) alloc(n node) uint64 {
	p.next++
	p.live[p.next] = n
	return p.next
}

func (p *pages) free(ptr uint64) {
	delete(p.live, ptr)
}

// Set is an ordered set of keys. It is not safe for concurrent use.
type Set struct {
	root  uint64
	pages pages
	count int
}

// New returns an empty set
func New() *Set {
	return &Set{pages: pages{live: make(map[uint64]node)}}
}

// Len returns the number of keys
func (s *Set) Len() int { return s.count }

// Pages returns the number of live pages
func (s *Set) Pages() int { return len(s.pages.live) }

// Has reports whether key is in the set
func (s *Set) Has(key []byte) bool {
	if s.root == 0 || len(key) == 0 {
		return false
	}
	n := s.pages.get(s.root)
	for {
		idx := lookupLE(n, key)
		if n.kind() == nodeLeaf {
			return bytes.Equal(key, n.key(idx))
		}
		n = s.pages.get(n.ptr(idx))
	}
}

// Add inserts key and reports whether it was absent
func (s *Set) Add(key []byte) (bool, error) {
	switch {
	case len(key) == 0:
		return false, ErrEmptyKey
	case len(key) > MaxKeySize:
		return false, ErrKeyTooLarge
	case s.Has(key):
		return false, nil
	}
	s.count++

	if s.root == 0 {
		// The empty sentinel covers the whole key space
		root := node(make([]byte, pageSize))
		root.setHeader(nodeLeaf, 2)
		appendKey(root, 0, 0, nil)
		appendKey(root, 1, 0, key)
		s.root = s.pages.alloc(root)
		return true, nil
	}

	updated := s.insert(s.pages.get(s.root), key)
	nsplit, split := split3(updated)
	s.pages.free(s.root)
	if nsplit > 1 {
		root := node(make([]byte, pageSize))
		root.setHeader(nodeInternal, nsplit)
		for i, kid := range split[:nsplit] {
			appendKey(root, uint16(i), s.pages.alloc(kid), kid.key(0))
		}
		s.root = s.pages.alloc(root)
	} else {
		s.root = s.pages.alloc(split[0])
	}
	return true, nil
}

// insert returns a copy of n holding key; the copy may exceed one page
func (s *Set) insert(n node, key []byte) node {
	out := node(make([]byte, 2*pageSize))
	idx := lookupLE(n, key)

	switch n.kind() {
	case nodeLeaf:
		out.setHeader(nodeLeaf, n.nkeys()+1)
		appendRange(out, n, 0, 0, idx+1)
		appendKey(out, idx+1, 0, key)
		appendRange(out, n, idx+2, idx+1, n.nkeys()-(idx+1))
	case nodeInternal:
		kptr := n.ptr(idx)
		kid := s.insert(s.pages.get(kptr), key)
		nsplit, split := split3(kid)
		s.pages.free(kptr)
		s.replaceKids(out, n, idx, split[:nsplit]...)
	default:
		panic("btree: bad node type")
	}
	return out
}

// replaceKids replaces the link at idx with one link per kid
func (s *Set) replaceKids(out, old node, idx uint16, kids ...node) {
	inc := uint16(len(kids))
	out.setHeader(nodeInternal, old.nkeys()+inc-1)
	appendRange(out, old, 0, 0, idx)
	for i, kid := range kids {
		appendKey(out, idx+uint16(i), s.pages.alloc(kid), kid.key(0))
	}
	appendRange(out, old, idx+inc, idx+1, old.nkeys()-(idx+1))
}

// split3 cuts an oversized node into at most three pages
func split3(old node) (uint16, [3]node) {
	if old.size() <= pageSize {
		return 1, [3]node{old[:pageSize]}
	}
	left := node(make([]byte, 2*pageSize))
	right := node(make([]byte, pageSize))
	split2(left, right, old)
	if left.size() <= pageSize {
		return 2, [3]node{left[:pageSize], right}
	}
	leftleft := node(make([]byte, pageSize))
	middle := node(make([]byte, pageSize))
	split2(leftleft, middle, left)
	return 3, [3]node{leftleft, middle, right}
}

// split2 moves keys into right until it is three quarters full
func split2(left, right, old node) {
	nkeys := old.nkeys()
	nright := uint16(0)
	used := uint16(header)
	for i := nkeys; i > 1; i-- {
		k := old.key(i - 1)
		cost := 8 + 2 + 2 + uint16(len(k))
		if used+cost > pageSize*3/4 && nright > 0 {
			break
		}
		used += cost
		nright++
	}
	nleft := nkeys - nright

	left.setHeader(old.kind(), nleft)
	appendRange(left, old, 0, 0, nleft)
	right.setHeader(old.kind(), nright)
	appendRange(right, old, 0, nleft, nright)
}

// Remove deletes key and reports whether it was present
func (s *Set) Remove(key []byte) bool {
	if s.root == 0 || len(key) == 0 {
		return false
	}
	updated := s.remove(s.pages.get(s.root), key)
	if updated == nil {
		return false
	}
	s.count--
	s.pages.free(s.root)
	if updated.kind() == nodeInternal && updated.nkeys() == 1 {
		// Drop a level when the root is left with one child
		s.root = updated.ptr(0)
	} else {
		s.root = s.pages.alloc(updated)
	}
	return true
}

// remove returns a copy of n without key, or nil when key is absent
func (s *Set) remove(n node, key []byte) node {
	idx := lookupLE(n, key)
	switch n.kind() {
	case nodeLeaf:
		if !bytes.Equal(key, n.key(idx)) {
			return nil
		}
		out := node(make([]byte, pageSize))
		out.setHeader(nodeLeaf, n.nkeys()-1)
		appendRange(out, n, 0, 0, idx)
		appendRange(out, n, idx, idx+1, n.nkeys()-(idx+1))
		return out
	case nodeInternal:
		return s.removeFromKid(n, idx, key)
	default:
		panic("btree: bad node type")
	}
}

func (s *Set) removeFromKid(n node, idx uint16, key []byte) node {
	kptr := n.ptr(idx)
	updated := s.remove(s.pages.get(kptr), key)
	if updated == nil {
		return nil
	}
	s.pages.free(kptr)

	out := node(make([]byte, pageSize))
	dir, sibling := s.mergeTarget(n, idx, updated)
	switch {
	case dir < 0:
		merged := node(make([]byte, pageSize))
		merge(merged, sibling, updated)
		s.pages.free(n.ptr(idx - 1))
		replace2(out, n, idx-1, s.pages.alloc(merged), merged.key(0))
	case dir > 0:
		merged := node(make([]byte, pageSize))
		merge(merged, updated, sibling)
		s.pages.free(n.ptr(idx + 1))
		replace2(out, n, idx, s.pages.alloc(merged), merged.key(0))
	case updated.nkeys() == 0:
		out.setHeader(nodeInternal, 0)
	default:
		s.replaceKids(out, n, idx, updated)
	}
	return out
}

// mergeTarget picks a sibling to absorb a kid that shrank below a quarter page
func (s *Set) mergeTarget(n node, idx uint16, updated node) (int, node) {
	if updated.size() > pageSize/4 {
		return 0, nil
	}
	if idx > 0 {
		sibling := s.pages.get(n.ptr(idx - 1))
		if sibling.size()+updated.size()-header <= pageSize {
			return -1, sibling
		}
	}
	if idx+1 < n.nkeys() {
		sibling := s.pages.get(n.ptr(idx + 1))
		if sibling.size()+updated.size()-header <= pageSize {
			return +1, sibling
		}
	}
	return 0, nil
}

func merge(out, left, right node) {
	out.setHeader(left.kind(), left.nkeys()+right.nkeys())
	appendRange(out, left, 0, 0, left.nkeys())
	appendRange(out, right, left.nkeys(), 0, right.nkeys())
}

// replace2 replaces the two links at idx and idx+1 with one
func replace2(out, old node, idx uint16, ptr uint64, key []byte) {
	out.setHeader(nodeInternal, old.nkeys()-1)
	appendRange(out, old, 0, 0, idx)
	appendKey(out, idx, ptr, key)
	appendRange(out, old, idx+1, idx+2, old.nkeys()-(idx+2))
}
