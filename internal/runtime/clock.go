package runtime

import "sync/atomic"

// Clock is a monotonic sequence counter. Every scheduled event is stamped
// with a strictly increasing seq, which is the stable tie-break for events
// sharing a tick: no wall-clock, no races, replay-identical order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock { return &Clock{} }

// Next returns the next sequence number.
func (c *Clock) Next() int64 { return c.seq.Add(1) }

// Current returns the latest issued sequence number.
func (c *Clock) Current() int64 { return c.seq.Load() }
