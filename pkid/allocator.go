// Package pkid provides a lock-free allocator for MQTT packet identifiers.
//
// Identifiers live in the range 1..65535; zero is reserved to mean "no
// identifier". The identifier space is a bitmap partitioned into shards of
// one atomic 64-bit word each, so allocation is a compare-and-swap and release
// an atomic AND on one word, with no coordinator lock. A weighted semaphore bounds the
// number of outstanding identifiers to the receive maximum granted by the
// server, throttling callers before the bitmap is touched.
package pkid

import (
	"context"
	"math/bits"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	// MaxPacketID is the largest valid MQTT packet identifier
	MaxPacketID = 65535

	// wordBits is the number of identifiers managed by one shard
	wordBits = 64

	// numShards covers the whole identifier space; the top bit of the last
	// shard would map to identifier 65536 and is never handed out
	numShards = (MaxPacketID + wordBits - 1) / wordBits
)

// Allocator hands out unique packet identifiers. It is safe for concurrent
// use by any number of goroutines.
type Allocator struct {
	shards [numShards]atomic.Uint64

	// cursor remembers the shard that satisfied the last allocation, so
	// successive allocations walk the shards round-robin instead of
	// re-contending on shard zero
	cursor atomic.Uint32

	sem      *semaphore.Weighted
	capacity int64
}

// New creates an allocator bounded to receiveMax outstanding identifiers.
// A receiveMax of 0 falls back to the protocol maximum of 65535.
func New(receiveMax uint16) *Allocator {
	if receiveMax == 0 {
		receiveMax = MaxPacketID
	}
	return &Allocator{
		sem:      semaphore.NewWeighted(int64(receiveMax)),
		capacity: int64(receiveMax),
	}
}

// Capacity returns the maximum number of outstanding identifiers.
func (a *Allocator) Capacity() int64 {
	return a.capacity
}

// Allocate reserves the next free identifier without blocking. It returns
// 0 and false when the capacity granted by the server is exhausted.
func (a *Allocator) Allocate() (uint16, bool) {
	if !a.sem.TryAcquire(1) {
		return 0, false
	}

	id, ok := a.scan()
	if !ok {
		a.sem.Release(1)
		return 0, false
	}
	return id, true
}

// AllocateWait reserves the next free identifier, blocking on the capacity
// semaphore until an identifier is released or the context is done.
func (a *Allocator) AllocateWait(ctx context.Context) (uint16, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}

	id, ok := a.scan()
	if !ok {
		// The semaphore admitted us, so the bitmap cannot actually be full;
		// a racing release will surface a free bit on the retry
		for {
			if err := ctx.Err(); err != nil {
				a.sem.Release(1)
				return 0, err
			}
			if id, ok = a.scan(); ok {
				break
			}
			runtime.Gosched()
		}
	}
	return id, nil
}

// scan walks the shards round-robin and CAS-sets the lowest clear bit of the
// first shard with room.
func (a *Allocator) scan() (uint16, bool) {
	start := a.cursor.Load() % numShards

	for i := uint32(0); i < numShards; i++ {
		shard := (start + i) % numShards
		word := &a.shards[shard]

		for {
			current := word.Load()
			free := ^current
			if shard == numShards-1 {
				// Bit 63 of the last shard is identifier 65536, out of range
				free &^= 1 << 63
			}
			if free == 0 {
				break // shard exhausted, move on
			}

			bit := uint32(bits.TrailingZeros64(free))
			if word.CompareAndSwap(current, current|(1<<bit)) {
				a.cursor.Store(shard)
				return uint16(shard*wordBits+bit) + 1, true
			}
			// CAS lost to a concurrent writer; reload and retry this shard
		}
	}

	return 0, false
}

// Release returns an identifier to the pool. Releasing an identifier that is
// not allocated is a no-op and does not disturb the capacity bound.
func (a *Allocator) Release(id uint16) {
	if id == 0 {
		return
	}

	shard := uint32(id-1) / wordBits
	mask := uint64(1) << (uint32(id-1) % wordBits)

	// Clear-bit semantics: AND with the complement of the mask
	old := a.shards[shard].And(^mask)
	if old&mask != 0 {
		a.sem.Release(1)
	}
}

// MarkAllocated reserves a specific identifier. It is used when reconciling
// inflight state carried over from a previous connection, so resent packets
// keep their original identifiers. Returns false if the identifier is taken
// or no capacity remains.
func (a *Allocator) MarkAllocated(id uint16) bool {
	if id == 0 {
		return false
	}
	if !a.sem.TryAcquire(1) {
		return false
	}

	shard := uint32(id-1) / wordBits
	mask := uint64(1) << (uint32(id-1) % wordBits)

	old := a.shards[shard].Or(mask)
	if old&mask != 0 {
		a.sem.Release(1)
		return false
	}
	return true
}

// IsAllocated reports whether the identifier is currently reserved.
func (a *Allocator) IsAllocated(id uint16) bool {
	if id == 0 {
		return false
	}
	shard := uint32(id-1) / wordBits
	mask := uint64(1) << (uint32(id-1) % wordBits)
	return a.shards[shard].Load()&mask != 0
}

// InUse counts the currently allocated identifiers.
func (a *Allocator) InUse() int {
	var n int
	for i := range a.shards {
		n += bits.OnesCount64(a.shards[i].Load())
	}
	return n
}
