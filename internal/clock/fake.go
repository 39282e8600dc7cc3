package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time stands still until
// Advance is called. AfterFunc callbacks run synchronously inside Advance,
// in deadline order, with Now reporting each callback's own deadline while
// it runs. Callbacks that share a deadline run in registration order.
//
// AfterFunc never calls f synchronously, even for d <= 0; such callbacks
// fire on the next Advance (Advance(0) included). This lets callers arm
// timers while holding their own locks.
//
// Do not call Advance from within a callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*fakeWaiter
	done    chan struct{}
}

type fakeWaiter struct {
	deadline time.Time
	seq      uint64
	callback func()
}

// NewFakeClock creates a FakeClock initialized to start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{
		current: start,
		done:    make(chan struct{}),
	}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the fake duration elapsed since t.
func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc registers f to run once the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		seq:      c.seq,
		callback: f,
	}
	c.waiters = append(c.waiters, waiter)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, w := range c.waiters {
				if w == waiter {
					c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
					return true
				}
			}
			return false
		},
	}
}

// Advance moves the clock forward by d, firing every callback whose
// deadline falls within the new time, including callbacks registered by
// callbacks fired during this Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		waiter := c.popExpired(target)
		if waiter == nil {
			break
		}
		waiter.callback()
	}

	c.mu.Lock()
	if target.After(c.current) {
		c.current = target
	}
	c.mu.Unlock()
}

// popExpired removes and returns the earliest waiter due at or before
// target, moving the clock to its deadline. Returns nil when none is due
// or the clock is stopped.
func (c *FakeClock) popExpired(target time.Time) *fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
	}

	next := -1
	for i, w := range c.waiters {
		if w.deadline.After(target) {
			continue
		}
		if next < 0 || w.deadline.Before(c.waiters[next].deadline) ||
			(w.deadline.Equal(c.waiters[next].deadline) && w.seq < c.waiters[next].seq) {
			next = i
		}
	}
	if next < 0 {
		return nil
	}

	waiter := c.waiters[next]
	c.waiters = append(c.waiters[:next], c.waiters[next+1:]...)
	if waiter.deadline.After(c.current) {
		c.current = waiter.deadline
	}
	return waiter
}

// PendingCount returns the number of callbacks that have not fired or
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Done returns a channel that is closed when the clock is stopped.
func (c *FakeClock) Done() <-chan struct{} {
	return c.done
}

// Stop stops the clock; pending callbacks never fire.
func (c *FakeClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
		c.waiters = nil
	}
}

// TimeScale returns 1.
func (c *FakeClock) TimeScale() int {
	return 1
}

// IsSimulated returns true: fake time never follows the wall clock.
func (c *FakeClock) IsSimulated() bool {
	return true
}
