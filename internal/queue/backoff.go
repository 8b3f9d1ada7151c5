package queue

import "time"

// Backoff is a fixed, ascending retry delay table indexed by Tries.
// Entry 0 applies to the first attempt.
type Backoff []time.Duration

// DefaultBackoff: immediate first attempt, then 2s, 5s, 10s, 30s and 60s
// for every later retry.
var DefaultBackoff = Backoff{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// Delay returns the wait before attempt number tries+1, clamped to the
// last entry. Negative tries count as zero.
func (b Backoff) Delay(tries int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	if tries < 0 {
		tries = 0
	}
	if tries >= len(b) {
		return b[len(b)-1]
	}
	return b[tries]
}

// Max returns the largest delay the table can produce.
func (b Backoff) Max() time.Duration {
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1]
}

// valid reports whether the table is non-decreasing and non-negative.
func (b Backoff) valid() bool {
	for i, d := range b {
		if d < 0 || (i > 0 && d < b[i-1]) {
			return false
		}
	}
	return true
}
