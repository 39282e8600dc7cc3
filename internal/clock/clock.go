package clock

import "time"

// Clock provides the reference time and the fire-once timer primitive
// that timelines are built on. It can be real, accelerated or fake.
type Clock interface {
	// Now returns the current time according to this clock.
	Now() time.Time

	// Since returns the duration elapsed since t according to this clock.
	Since(t time.Time) time.Duration

	// AfterFunc calls f once, after duration d has elapsed on this clock.
	// A non-positive d fires as soon as possible. For simulated clocks the
	// real wait is d/timeScale.
	AfterFunc(d time.Duration, f func()) *Timer

	// Done returns a channel that is closed when the clock is stopped.
	Done() <-chan struct{}

	// Stop stops the clock. Callbacks that have not fired yet never fire.
	Stop()

	// TimeScale returns the time scale factor (1 for real clock).
	TimeScale() int

	// IsSimulated returns true if this is a simulated clock.
	IsSimulated() bool
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// New creates a new Clock based on the mode and parameters.
func New(simulated bool, startTime time.Time, timeScale int) Clock {
	if simulated {
		return NewSimulatedClock(startTime, timeScale)
	}
	return NewRealClock()
}

// guard wraps f so that it becomes a no-op once done is closed.
func guard(done <-chan struct{}, f func()) func() {
	return func() {
		select {
		case <-done:
			return
		default:
		}
		f()
	}
}
