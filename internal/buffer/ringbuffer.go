// Package buffer provides a bounded replay buffer for the aggregate-diff
// stream. New subscribers catch up from it before following live batches.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/highwater/internal/types"
)

// Ring is a thread-safe circular buffer of output diffs. When full, the
// oldest diffs are overwritten; replay is best-effort by design.
type Ring struct {
	mu       sync.RWMutex
	data     []types.OutputDiff
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount atomic.Int64
	dropCount atomic.Int64
}

// New creates a Ring with the given capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring{
		data:     make([]types.OutputDiff, capacity),
		capacity: int64(capacity),
	}
}

// Push appends a diff, overwriting the oldest when full.
func (rb *Ring) Push(d types.OutputDiff) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = d
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// PushAll appends a whole batch of diffs.
func (rb *Ring) PushAll(diffs []types.OutputDiff) {
	for _, d := range diffs {
		rb.Push(d)
	}
}

// Since returns all buffered diffs with logical time strictly greater than
// t, oldest first.
func (rb *Ring) Since(t int64) []types.OutputDiff {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []types.OutputDiff
	for i := int64(0); i < rb.count; i++ {
		idx := (rb.tail + i) % rb.capacity
		if rb.data[idx].LogicalTime > t {
			out = append(out, rb.data[idx])
		}
	}
	return out
}

// All returns the buffered diffs, oldest first.
func (rb *Ring) All() []types.OutputDiff {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]types.OutputDiff, 0, rb.count)
	for i := int64(0); i < rb.count; i++ {
		out = append(out, rb.data[(rb.tail+i)%rb.capacity])
	}
	return out
}

// Len returns the current number of buffered diffs.
func (rb *Ring) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *Ring) Cap() int {
	return int(rb.capacity)
}

// Dropped returns how many diffs were overwritten before being replayed.
func (rb *Ring) Dropped() int64 {
	return rb.dropCount.Load()
}

// Clear removes all buffered diffs.
func (rb *Ring) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := range rb.data {
		rb.data[i] = types.OutputDiff{}
	}
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}
