package ident

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAllocateNeverIssuesEphemeral(t *testing.T) {
	var a Allocator

	for i := 0; i < 100; i++ {
		require.NotEqual(t, Ephemeral, a.Allocate())
	}
	assert.Equal(t, ID(100), a.HighWater())
}

func TestAllocateReusesSmallestReleased(t *testing.T) {
	var a Allocator
	for i := 0; i < 10; i++ {
		a.Allocate()
	}

	a.Release(7)
	a.Release(3)
	a.Release(5)
	assert.Equal(t, uint64(3), a.Reclaimable())

	assert.Equal(t, ID(3), a.Allocate())
	assert.Equal(t, ID(5), a.Allocate())
	assert.Equal(t, ID(7), a.Allocate())
	assert.Equal(t, ID(11), a.Allocate())
}

func TestReleasedIdNotReissuedWhileInUse(t *testing.T) {
	var a Allocator
	first := a.Allocate()
	second := a.Allocate()

	a.Release(first)
	reused := a.Allocate()
	require.Equal(t, first, reused)

	// Nothing is free now, so the next id must be fresh
	next := a.Allocate()
	assert.NotEqual(t, second, next)
	assert.NotEqual(t, reused, next)
}

func TestReserveAboveHighWater(t *testing.T) {
	var a Allocator

	ok, err := a.Reserve(3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Reserve(3)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation of the same id must fail")

	assert.Equal(t, ID(1), a.Allocate())
	assert.Equal(t, ID(2), a.Allocate())
	assert.Equal(t, ID(4), a.Allocate(), "reserved id must be skipped")
	assert.True(t, a.InUse(3))
}

func TestReserveReclaimedId(t *testing.T) {
	var a Allocator
	a.Allocate()
	a.Allocate()
	a.Release(1)

	ok, err := a.Reserve(1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Reserve(2)
	require.NoError(t, err)
	assert.False(t, ok, "id 2 is still issued")

	assert.Equal(t, ID(3), a.Allocate())
}

func TestReserveEphemeralFails(t *testing.T) {
	var a Allocator
	_, err := a.Reserve(Ephemeral)
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	a := NewAllocator(0)
	a.Restore([]ID{2, 5, 9})

	assert.Equal(t, ID(9), a.HighWater())
	assert.True(t, a.InUse(5))
	assert.False(t, a.InUse(4))

	var got []ID
	for i := 0; i < 7; i++ {
		got = append(got, a.Allocate())
	}
	assert.Equal(t, []ID{1, 3, 4, 6, 7, 8, 10}, got)
}

func TestRestoreSparseIDs(t *testing.T) {
	a := NewAllocator(0)
	a.Restore([]ID{1, 3, 1 << 50, 1<<50 + 7})

	assert.Equal(t, ID(3), a.HighWater())
	assert.Equal(t, uint64(1), a.Reclaimable())
	assert.True(t, a.InUse(1<<50))
	assert.True(t, a.InUse(1<<50+7))
	assert.False(t, a.InUse(1<<50+1))

	assert.Equal(t, []ID{2, 4, 5}, []ID{a.Allocate(), a.Allocate(), a.Allocate()})

	// Released sparse ids are no longer in use
	a.Release(1 << 50)
	assert.False(t, a.InUse(1<<50))
}

func TestRestoreOnlySparseIDs(t *testing.T) {
	a := NewAllocator(0)
	a.Restore([]ID{1 << 40})

	assert.Equal(t, Ephemeral, a.HighWater())
	assert.Zero(t, a.Reclaimable())
	assert.True(t, a.InUse(1<<40))
	assert.Equal(t, ID(1), a.Allocate())
}

func TestConcurrentAllocateIsUnique(t *testing.T) {
	const (
		workers = 8
		perWork = 10000
	)

	var a Allocator
	var mu sync.Mutex
	seen := make(map[ID]struct{}, workers*perWork)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			local := make([]ID, 0, perWork)
			for i := 0; i < perWork; i++ {
				local = append(local, a.Allocate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, workers*perWork)
	_, hasEphemeral := seen[Ephemeral]
	assert.False(t, hasEphemeral)
}

func TestConcurrentReleaseAndAllocate(t *testing.T) {
	var a Allocator
	for i := 0; i < 1000; i++ {
		a.Allocate()
	}

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		start := ID(w*250 + 1)
		g.Go(func() error {
			for id := start; id < start+250; id++ {
				a.Release(id)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, uint64(1000), a.Reclaimable())

	seen := make(map[ID]bool)
	for i := 0; i < 1000; i++ {
		id := a.Allocate()
		require.False(t, seen[id])
		seen[id] = true
		require.LessOrEqual(t, id, ID(1000))
	}
}
