package broker

import (
	"slices"
	"sync"

	"github.com/roach88/graffiti/internal/ir"
)

// batch is one swapped-out accumulator: deduplicated, ascending seq ids.
type batch struct {
	inserts []int64
	deletes []int64
}

// accumulator coalesces change notifications between matching passes.
//
// The signal channel has set/clear semantics: a buffer of 1 means any
// number of notifications before the next pass wake the Run loop once.
type accumulator struct {
	mu      sync.Mutex
	inserts map[int64]struct{}
	deletes map[int64]struct{}
	closed  bool
	signal  chan struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		inserts: make(map[int64]struct{}),
		deletes: make(map[int64]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

// Add merges a change into the pending set. Returns false if closed.
func (a *accumulator) Add(c ir.Change) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	for _, id := range c.InsertIDs {
		a.inserts[id] = struct{}{}
	}
	for _, id := range c.DeleteIDs {
		a.deletes[id] = struct{}{}
	}

	select {
	case a.signal <- struct{}{}:
	default:
	}
	return true
}

// Swap takes the pending set, leaving the accumulator empty.
// Returns false when nothing is pending.
func (a *accumulator) Swap() (batch, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.inserts) == 0 && len(a.deletes) == 0 {
		return batch{}, false
	}
	b := batch{
		inserts: sortedIDs(a.inserts),
		deletes: sortedIDs(a.deletes),
	}
	a.inserts = make(map[int64]struct{})
	a.deletes = make(map[int64]struct{})
	return b, true
}

// Pending returns the number of distinct pending ids.
func (a *accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inserts) + len(a.deletes)
}

// Wait returns a channel that signals when a batch may be ready.
func (a *accumulator) Wait() <-chan struct{} {
	return a.signal
}

// Close stops accepting changes and wakes the Run loop.
func (a *accumulator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	close(a.signal)
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
