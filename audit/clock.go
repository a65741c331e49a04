package audit

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing epoch-millisecond timestamps. When the wall clock
// stalls or steps back, it advances by one millisecond from the last value.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWith is for tests that need a controlled time source.
func NewClockWith(now func() time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}

// Observe raises the floor to ms, used when a store resumes over existing data.
func (c *Clock) Observe(ms int64) {
	c.mu.Lock()
	if ms > c.last {
		c.last = ms
	}
	c.mu.Unlock()
}
