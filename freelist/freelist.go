// Package freelist implements the Advertiser's bounded, mutually-exclusive
// stack of reclaimable slot coordinates.
package freelist

import (
	"sync"

	"github.com/robolivable/pawrswarm/log"
	"github.com/robolivable/pawrswarm/wire"
)

// FreeList is a bounded LIFO stack of wire.SlotCoord, capacity Capacity.
// Append and Pop are mutually exclusive via a single mutex.
type FreeList struct {
	mu       sync.Mutex
	data     []wire.SlotCoord
	capacity int
}

// New returns an empty free list with the given capacity
// (config.Protocol.MaxFreeSlots).
func New(capacity int) *FreeList {
	return &FreeList{data: make([]wire.SlotCoord, 0, capacity), capacity: capacity}
}

// Append pushes coord onto the stack. If the list is already at capacity it
// returns ErrFull as a warning; the caller may drop the coordinate on the
// floor and let the reservation cursor eventually reach it — this is a
// flagged degradation, not a fatal error.
func (f *FreeList) Append(coord wire.SlotCoord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) >= f.capacity {
		log.Warn("freelist: full at capacity %d, dropping %s (will be recycled when the cursor reaches it)", f.capacity, coord)
		return ErrFull
	}
	f.data = append(f.data, coord)
	return nil
}

// Pop removes and returns the most recently appended coordinate (LIFO), or
// ErrEmpty if none are available.
func (f *FreeList) Pop() (wire.SlotCoord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) == 0 {
		return wire.SlotCoord{}, ErrEmpty
	}
	last := len(f.data) - 1
	coord := f.data[last]
	f.data = f.data[:last]
	return coord, nil
}

// Len reports the current occupancy, used by tests asserting slot
// population accounting.
func (f *FreeList) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}
