package testutil

import (
	"sync"
	"time"
)

// SampleClock hands out device source timestamps in nanoseconds.
//
// Each call to Next advances by a fixed step, so fixtures built with the same
// start and step carry identical timestamps on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SampleClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	n     int64
}

// NewSampleClock creates a clock whose first Next() returns start.
func NewSampleClock(start time.Time, step time.Duration) *SampleClock {
	return &SampleClock{start: start.UnixNano(), step: int64(step)}
}

// Next returns the next timestamp.
func (c *SampleClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.start + c.n*c.step
	c.n++
	return ts
}

// Issued returns how many timestamps have been handed out.
func (c *SampleClock) Issued() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock so the next call returns start again.
func (c *SampleClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}

// FixedIDGenerator returns the same session ID every time.
//
// This enables deterministic session directories and golden output.
// If id is empty, Generate() returns "test-session-default".
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed session ID generator.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
