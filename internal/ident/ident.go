// Package ident generates identifiers for queued operations and pending
// changes.
package ident

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

// Generator produces operation ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
//
// UUIDv7 embeds a millisecond timestamp in the most significant bits and
// fills the rest with random data, so ids are unique, stable and roughly
// ordered by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewIdempotencyKey returns a random token the remote side can deduplicate on.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, to catch tests that enqueue more
// operations than they declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequentialGenerator returns prefix-1, prefix-2, ... without limit.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator with the given prefix.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "op"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// ChangeIDs issues int64 ids for pending changes.
type ChangeIDs interface {
	NextID() (int64, error)
}

// changeEpoch is the sonyflake start time; ids stay small and sortable.
var changeEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// FlakeIDs wraps sonyflake: 63-bit ids ordered by creation time.
type FlakeIDs struct {
	sf *sonyflake.Sonyflake
}

// NewFlakeIDs creates a sonyflake generator for the given machine id.
// The machine id is explicit so that hosts without a private IPv4 address
// still work.
func NewFlakeIDs(machineID uint16) (*FlakeIDs, error) {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: changeEpoch,
		MachineID: func() (uint16, error) { return machineID, nil },
	})
	if sf == nil {
		return nil, fmt.Errorf("sonyflake: invalid settings for machine %d", machineID)
	}
	return &FlakeIDs{sf: sf}, nil
}

// NextID returns the next id.
func (f *FlakeIDs) NextID() (int64, error) {
	id, err := f.sf.NextID()
	if err != nil {
		return 0, fmt.Errorf("next change id: %w", err)
	}
	return int64(id), nil
}

// CounterIDs issues 1, 2, 3, ... for tests.
type CounterIDs struct {
	mu sync.Mutex
	n  int64
}

// NextID returns the next id.
func (c *CounterIDs) NextID() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}
