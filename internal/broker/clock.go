package broker

import "sync/atomic"

// Clock counts completed matching passes.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// Only the Run goroutine advances it; anyone may read it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current value without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
