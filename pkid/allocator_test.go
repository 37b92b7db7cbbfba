package pkid

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateNeverReturnsZero(t *testing.T) {
	a := New(1000)
	for i := 0; i < 1000; i++ {
		id, ok := a.Allocate()
		require.True(t, ok)
		require.NotZero(t, id)
	}
}

func TestAllocateDistinctWhileHeld(t *testing.T) {
	a := New(500)
	seen := make(map[uint16]struct{})

	for i := 0; i < 500; i++ {
		id, ok := a.Allocate()
		require.True(t, ok)

		_, dup := seen[id]
		require.False(t, dup, "identifier %d handed out twice", id)
		seen[id] = struct{}{}

		assert.True(t, a.IsAllocated(id))
	}
}

func TestAllocateReleaseIsAllocated(t *testing.T) {
	a := New(16)

	id, ok := a.Allocate()
	require.True(t, ok)
	require.True(t, a.IsAllocated(id))

	a.Release(id)
	assert.False(t, a.IsAllocated(id))
}

func TestReleaseAllLeavesBitmapEmpty(t *testing.T) {
	a := New(100)

	ids := make([]uint16, 0, 100)
	for i := 0; i < 100; i++ {
		id, ok := a.Allocate()
		require.True(t, ok)
		ids = append(ids, id)
	}

	for _, id := range ids {
		a.Release(id)
	}

	assert.Equal(t, 0, a.InUse())
	for _, id := range ids {
		assert.False(t, a.IsAllocated(id))
	}
}

func TestAllocateFailsSoftAtCapacity(t *testing.T) {
	a := New(4)

	for i := 0; i < 4; i++ {
		_, ok := a.Allocate()
		require.True(t, ok)
	}

	id, ok := a.Allocate()
	assert.False(t, ok)
	assert.Zero(t, id)
}

func TestAllocateFullRange(t *testing.T) {
	a := New(0) // 0 falls back to the 65535 maximum

	seen := make(map[uint16]struct{}, MaxPacketID)
	for i := 0; i < MaxPacketID; i++ {
		id, ok := a.Allocate()
		require.True(t, ok, "allocation %d failed", i)
		require.NotZero(t, id)

		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}

	// The whole 1..65535 space is handed out exactly once
	_, ok := a.Allocate()
	assert.False(t, ok)
	assert.Equal(t, MaxPacketID, a.InUse())
}

func TestReleaseUnallocatedIsNoOp(t *testing.T) {
	a := New(2)

	a.Release(0)
	a.Release(100)

	id1, ok := a.Allocate()
	require.True(t, ok)
	id2, ok := a.Allocate()
	require.True(t, ok)
	require.NotEqual(t, id1, id2)

	// Double release must not free a second capacity slot
	a.Release(id1)
	a.Release(id1)

	_, ok = a.Allocate()
	require.True(t, ok)
	_, ok = a.Allocate()
	assert.False(t, ok)
}

func TestAllocateWaitBlocksUntilRelease(t *testing.T) {
	a := New(1)

	held, ok := a.Allocate()
	require.True(t, ok)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		a.Release(held)
		close(released)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, err := a.AllocateWait(ctx)
	require.NoError(t, err)
	assert.NotZero(t, id)
	<-released
}

func TestAllocateWaitHonorsContext(t *testing.T) {
	a := New(1)
	_, ok := a.Allocate()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.AllocateWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMarkAllocated(t *testing.T) {
	a := New(8)

	require.True(t, a.MarkAllocated(42))
	assert.True(t, a.IsAllocated(42))

	// Already reserved
	assert.False(t, a.MarkAllocated(42))

	// A fresh allocation never collides with the reserved identifier
	for i := 0; i < 7; i++ {
		id, ok := a.Allocate()
		require.True(t, ok)
		require.NotEqual(t, uint16(42), id)
	}
}

func TestConcurrentAllocateRelease(t *testing.T) {
	a := New(1024)

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := make(map[uint16]int)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				id, ok := a.Allocate()
				if !ok {
					continue
				}

				mu.Lock()
				counts[id]++
				if counts[id] > 1 {
					mu.Unlock()
					t.Errorf("identifier %d held twice", id)
					return
				}
				mu.Unlock()

				mu.Lock()
				counts[id]--
				mu.Unlock()
				a.Release(id)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, a.InUse())
}
