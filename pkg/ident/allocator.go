// ABOUTME: Record identifier type and concurrent identifier allocator
// ABOUTME: Recycles released identifiers, smallest first, using roaring bitmaps

package ident

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ID identifies a record within a single store
type ID = uint64

// Ephemeral marks a record that has not been persisted yet.
// Allocate never returns it.
const Ephemeral ID = 0

// Allocator issues unique identifiers and reclaims released ones.
// The zero value is ready to use and safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	// highWater is the largest identifier ever issued sequentially
	highWater ID

	// free holds released identifiers at or below highWater
	free *roaring64.Bitmap

	// reserved holds identifiers above highWater claimed through Reserve
	reserved *roaring64.Bitmap
}

// NewAllocator creates an allocator that continues after highWater
func NewAllocator(highWater ID) *Allocator {
	return &Allocator{highWater: highWater}
}

func (a *Allocator) init() {
	if a.free == nil {
		a.free = roaring64.New()
		a.reserved = roaring64.New()
	}
}

// Allocate returns an identifier that is not currently in use.
// The smallest reclaimed identifier wins; otherwise the high-water mark advances.
func (a *Allocator) Allocate() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()

	if !a.free.IsEmpty() {
		id := a.free.Minimum()
		a.free.Remove(id)
		return id
	}

	for {
		a.highWater++
		if !a.reserved.Contains(a.highWater) {
			return a.highWater
		}
		// Reserved ids are skipped once the sequence passes them
		a.reserved.Remove(a.highWater)
	}
}

// Reserve claims a caller-chosen identifier so Allocate never issues it.
// It reports false if the identifier is already in use.
func (a *Allocator) Reserve(id ID) (bool, error) {
	if id == Ephemeral {
		return false, fmt.Errorf("ident: cannot reserve the ephemeral id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()

	if id > a.highWater {
		return a.reserved.CheckedAdd(id), nil
	}
	return a.free.CheckedRemove(id), nil
}

// Release marks id free for reuse. Releasing an id that is not in use is a no-op.
func (a *Allocator) Release(id ID) {
	if id == Ephemeral {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()

	if id > a.highWater {
		a.reserved.Remove(id)
		return
	}
	a.free.Add(id)
}

// InUse reports whether id is currently issued or reserved
func (a *Allocator) InUse(id ID) bool {
	if id == Ephemeral {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()

	if id > a.highWater {
		return a.reserved.Contains(id)
	}
	return !a.free.Contains(id)
}

// HighWater returns the largest sequentially issued identifier
func (a *Allocator) HighWater() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highWater
}

// Reclaimable returns how many released identifiers are waiting for reuse
func (a *Allocator) Reclaimable() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	return a.free.GetCardinality()
}

// restoreGap bounds how many unused ids below the high-water mark Restore
// turns into reclaimable ids
const restoreGap = 1 << 16

// Restore resets the allocator so that exactly the ids in live are in use.
// The high-water mark becomes the largest live id with at most restoreGap
// unused ids below it; those gaps become reclaimable. Sparse ids above it
// stay reserved.
func (a *Allocator) Restore(live []ID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = roaring64.New()
	a.reserved = roaring64.New()
	a.highWater = Ephemeral

	used := roaring64.New()
	for _, id := range live {
		if id == Ephemeral {
			continue
		}
		used.Add(id)
	}

	var n uint64
	it := used.Iterator()
	for it.HasNext() {
		id := it.Next()
		n++
		if id-n > restoreGap {
			a.reserved.Add(id)
			continue
		}
		a.highWater = id
	}
	if a.highWater == Ephemeral {
		return
	}
	a.free.AddRange(1, a.highWater+1)
	a.free.AndNot(used)
}
