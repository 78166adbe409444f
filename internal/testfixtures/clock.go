package testfixtures

import (
	"sync"
	"time"
)

// Clock is a controllable time source for executors under test. A clock with
// a step moves forward by that step every time Now is read, so the first two
// reads of a migration step are exactly one step apart.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewClock returns a frozen clock at start, or at ReferenceTime when start is
// zero.
func NewClock(start time.Time) *Clock {
	return NewSteppingClock(start, 0)
}

// NewSteppingClock returns a clock that advances by step after each read.
func NewSteppingClock(start time.Time, step time.Duration) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, step: step}
}

// Now returns the clock time, then advances it by the step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// NowFunc adapts the clock to executor.Options.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// Current returns the clock time without advancing it.
func (c *Clock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
