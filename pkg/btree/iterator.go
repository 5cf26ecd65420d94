// ABOUTME: Forward iterator over the ordered key set
// ABOUTME: Seeks with a root-to-leaf path and walks leaves in key order

package btree

import "bytes"

// iter walks keys in ascending order
type iter struct {
	set  *Set
	path []node   // nodes from root to current leaf
	pos  []uint16 // position at each level
}

func (s *Set) iter() *iter {
	return &iter{
		set:  s,
		path: make([]node, 0, 8),
		pos:  make([]uint16, 0, 8),
	}
}

// seekLE positions the iterator at the last key <= key
func (it *iter) seekLE(key []byte) bool {
	it.path = it.path[:0]
	it.pos = it.pos[:0]
	if it.set.root == 0 {
		return false
	}

	n := it.set.pages.get(it.set.root)
	for {
		it.path = append(it.path, n)
		idx := lookupLE(n, key)
		it.pos = append(it.pos, idx)
		if n.kind() == nodeLeaf {
			return true
		}
		n = it.set.pages.get(n.ptr(idx))
	}
}

func (it *iter) valid() bool {
	if len(it.path) == 0 {
		return false
	}
	last := len(it.path) - 1
	return it.pos[last] < it.path[last].nkeys()
}

func (it *iter) key() []byte {
	if !it.valid() {
		return nil
	}
	last := len(it.path) - 1
	return it.path[last].key(it.pos[last])
}

// next advances to the following key and reports whether one exists
func (it *iter) next() bool {
	if len(it.path) == 0 {
		return false
	}
	leaf := len(it.pos) - 1
	it.pos[leaf]++
	if it.pos[leaf] < it.path[leaf].nkeys() {
		return true
	}

	it.path = it.path[:leaf]
	it.pos = it.pos[:leaf]
	for len(it.pos) > 0 {
		parent := len(it.pos) - 1
		it.pos[parent]++
		if it.pos[parent] < it.path[parent].nkeys() {
			return it.descend()
		}
		it.path = it.path[:parent]
		it.pos = it.pos[:parent]
	}
	return false
}

// descend follows the current child down to its first key. Empty pages
// left behind by removals are skipped.
func (it *iter) descend() bool {
	for {
		last := len(it.path) - 1
		child := it.set.pages.get(it.path[last].ptr(it.pos[last]))
		it.path = append(it.path, child)
		it.pos = append(it.pos, 0)
		if child.nkeys() == 0 {
			return it.next()
		}
		if child.kind() == nodeLeaf {
			return true
		}
	}
}

// Ascend calls fn for every key >= from in ascending order until fn
// returns false. A nil from starts at the smallest key. Keys passed to fn
// must not be retained.
func (s *Set) Ascend(from []byte, fn func(key []byte) bool) {
	it := s.iter()
	if !it.seekLE(from) {
		return
	}
	if !it.valid() && !it.next() {
		return
	}
	// Skip the sentinel and anything below from
	for it.valid() && (len(it.key()) == 0 || bytes.Compare(it.key(), from) < 0) {
		if !it.next() {
			return
		}
	}
	for it.valid() {
		if !fn(it.key()) {
			return
		}
		if !it.next() {
			return
		}
	}
}

// AscendPrefix calls fn for every key starting with prefix
func (s *Set) AscendPrefix(prefix []byte, fn func(key []byte) bool) {
	s.Ascend(prefix, func(key []byte) bool {
		if !bytes.HasPrefix(key, prefix) {
			return false
		}
		return fn(key)
	})
}
