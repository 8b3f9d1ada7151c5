// Package clock provides wall-clock and logical-clock sources.
//
// Wall time decides when an operation becomes eligible for another attempt.
// Ordering never uses wall time: queued operations are stamped with a
// strictly increasing Sequence value at enqueue.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the wall-clock source used for scheduling.
type Clock interface {
	Now() time.Time
}

// System reads the real clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Sequence is a monotonic logical clock for enqueue ordering.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0. The first Next returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence resuming after start.
// Used on startup to continue from the highest persisted seq.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
