package clock

import "time"

// RealClock implements Clock using actual system time.
type RealClock struct {
	done chan struct{}
}

// NewRealClock creates a new RealClock.
func NewRealClock() *RealClock {
	return &RealClock{
		done: make(chan struct{}),
	}
}

// Now returns the current system time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the duration elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// AfterFunc calls f in its own goroutine after d.
func (c *RealClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, guard(c.done, f))
	return &Timer{stopFunc: t.Stop}
}

// Done returns a channel that is closed when the clock is stopped.
func (c *RealClock) Done() <-chan struct{} {
	return c.done
}

// Stop stops the clock.
func (c *RealClock) Stop() {
	select {
	case <-c.done:
		// Already stopped
	default:
		close(c.done)
	}
}

// TimeScale returns 1 for real clock.
func (c *RealClock) TimeScale() int {
	return 1
}

// IsSimulated returns false for real clock.
func (c *RealClock) IsSimulated() bool {
	return false
}
