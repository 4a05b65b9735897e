package testutil

import (
	"sync"
	"time"
)

// FakeClock is a deterministic wall clock for tests.
//
// Every call to Now returns the current instant and then advances it by
// the configured step, so elapsed times between two calls are predictable.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	start time.Time
}

// NewFakeClock creates a clock at start that advances by step per call.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start, step: step, start: start}
}

// Now returns the current instant and advances the clock by one step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset moves the clock back to its start instant.
func (c *FakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
