package clock

import (
	"sync"
	"time"
)

// SimulatedClock implements Clock with time acceleration.
// For timeScale > 1, time passes faster: 1 real second = timeScale simulated seconds.
type SimulatedClock struct {
	startRealTime time.Time
	startSimTime  time.Time
	timeScale     int
	done          chan struct{}
	mu            sync.Mutex
}

// NewSimulatedClock creates a new SimulatedClock.
// startTime is the initial simulated time.
// timeScale determines how fast time passes (1 = real-time, 24 = 24x faster).
func NewSimulatedClock(startTime time.Time, timeScale int) *SimulatedClock {
	if timeScale < 1 {
		timeScale = 1
	}
	return &SimulatedClock{
		startRealTime: time.Now(),
		startSimTime:  startTime,
		timeScale:     timeScale,
		done:          make(chan struct{}),
	}
}

// Now returns the current simulated time.
// Simulated time = startSimTime + (elapsed real time * timeScale)
func (c *SimulatedClock) Now() time.Time {
	elapsed := time.Since(c.startRealTime)
	return c.startSimTime.Add(c.SimulatedDuration(elapsed))
}

// Since returns the simulated duration elapsed since t.
func (c *SimulatedClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc calls f after the simulated duration d.
// Actual wait time = d / timeScale
func (c *SimulatedClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(c.RealDuration(d), guard(c.done, f))
	return &Timer{stopFunc: t.Stop}
}

// Done returns a channel that is closed when the clock is stopped.
func (c *SimulatedClock) Done() <-chan struct{} {
	return c.done
}

// Stop stops the clock and drops every pending callback.
func (c *SimulatedClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		// Already stopped
	default:
		close(c.done)
	}
}

// TimeScale returns the time scale factor.
func (c *SimulatedClock) TimeScale() int {
	return c.timeScale
}

// IsSimulated returns true for simulated clock.
func (c *SimulatedClock) IsSimulated() bool {
	return true
}

// SimulatedDuration converts a real duration to simulated duration.
func (c *SimulatedClock) SimulatedDuration(realDuration time.Duration) time.Duration {
	return time.Duration(int64(realDuration) * int64(c.timeScale))
}

// RealDuration converts a simulated duration to real duration.
func (c *SimulatedClock) RealDuration(simDuration time.Duration) time.Duration {
	return time.Duration(int64(simDuration) / int64(c.timeScale))
}
