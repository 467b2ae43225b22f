package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for sweep and expiry tests.
// Safe to Advance from a different goroutine than the one reading.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Expiry boundaries compare strictly,
// so advancing exactly onto an expires_at does not expire that grant.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
