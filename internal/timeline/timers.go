package timeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/spritejs/sprite-timeline/internal/clock"
)

// TimerID identifies a timer within one timeline. IDs start at 1 and are
// never reused.
type TimerID uint64

// TimerState reports how a pending timer is waiting.
type TimerState int

const (
	// TimerArmed has a real-time wait in flight.
	TimerArmed TimerState = iota + 1
	// TimerSuspended waits for the rate to leave zero.
	TimerSuspended
)

func (s TimerState) String() string {
	switch s {
	case TimerArmed:
		return "armed"
	case TimerSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// handle is the in-flight wait behind a timer. Each arming creates a new
// handle; a firing whose handle is no longer the entry's is stale.
type handle interface {
	cancel()
}

type clockHandle struct {
	timer *clock.Timer
}

func (h *clockHandle) cancel() { h.timer.Stop() }

// parentHandle is a fork's timer delegated to its parent as an entropy
// delay.
type parentHandle struct {
	parent *Timeline
	id     TimerID
}

func (h *parentHandle) cancel() { h.parent.ClearTimeout(h.id) }

type timer struct {
	handler  func()
	delay    Delay
	interval bool

	// Local time and entropy when the timer was scheduled. Re-arming
	// measures progress from these.
	startTime    float64
	startEntropy float64

	handle handle // nil while suspended
}

// minIntervalWait is the shortest real wait, in ms, between two firings of
// an interval.
const minIntervalWait = 1

// SetTimeout runs handler once after delay has elapsed on this timeline.
// A local delay follows the sign of the rate: a negative delay fires while
// time runs backwards. An entropy delay elapses at |rate|.
func (t *Timeline) SetTimeout(handler func(), delay Delay) (TimerID, error) {
	return t.schedule(handler, delay, false)
}

// SetInterval runs handler every delay. Each firing re-arms before the
// handler runs, anchored at the firing moment.
func (t *Timeline) SetInterval(handler func(), delay Delay) (TimerID, error) {
	return t.schedule(handler, delay, true)
}

func (t *Timeline) schedule(handler func(), delay Delay, interval bool) (TimerID, error) {
	if handler == nil {
		return 0, ErrNilHandler
	}
	if err := delay.validate(); err != nil {
		return 0, err
	}
	if interval && delay.Value == 0 {
		return 0, fmt.Errorf("%w: interval of zero", ErrInvalidDelay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID

	now := t.sample()
	tm := &timer{
		handler:      handler,
		delay:        delay,
		interval:     interval,
		startTime:    t.localAt(now),
		startEntropy: t.entropyAt(now),
	}
	t.timers[id] = tm
	t.armLocked(id, tm, now, true)

	t.logger.Debug("timer scheduled",
		"id", id,
		"delay", delay.String(),
		"interval", interval)
	return id, nil
}

// ClearTimeout cancels a timer. Unknown IDs are ignored.
func (t *Timeline) ClearTimeout(id TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.timers[id]
	if !ok {
		return
	}
	if tm.handle != nil {
		tm.handle.cancel()
	}
	delete(t.timers, id)
}

// ClearInterval is ClearTimeout. Calling it from the interval's own
// handler stops further firings.
func (t *Timeline) ClearInterval(id TimerID) {
	t.ClearTimeout(id)
}

// ClearAll cancels every timer of this timeline. On a fork this also
// cancels the parent timers it delegated, and nothing else of the parent.
func (t *Timeline) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tm := range t.timers {
		if tm.handle != nil {
			tm.handle.cancel()
		}
	}
	if len(t.timers) > 0 {
		t.logger.Debug("timers cleared", "count", len(t.timers))
	}
	t.timers = make(map[TimerID]*timer)
}

// UpdateTimers re-derives every pending timer from its anchors. Rate and
// time writes do this already; call it after a parent changed under a
// fork.
func (t *Timeline) UpdateTimers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rescheduleLocked(t.sample())
}

// ActiveTimers returns the number of pending timers.
func (t *Timeline) ActiveTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// TimerState reports whether timer id is pending and how.
func (t *Timeline) TimerState(id TimerID) (TimerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.timers[id]
	if !ok {
		return 0, false
	}
	if tm.handle == nil {
		return TimerSuspended, true
	}
	return TimerArmed, true
}

func (t *Timeline) rescheduleLocked(now instant) {
	if len(t.timers) == 0 {
		return
	}
	ids := make([]TimerID, 0, len(t.timers))
	for id := range t.timers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t.armLocked(id, t.timers[id], now, false)
	}
}

// armLocked replaces the timer's wait. A fresh timer waits its full
// delay; a re-armed one waits what remains since its anchors under the
// current rate.
func (t *Timeline) armLocked(id TimerID, tm *timer, now instant, fresh bool) {
	if tm.handle != nil {
		tm.handle.cancel()
		tm.handle = nil
	}

	rate := t.rate
	if rate == 0 {
		t.logger.Debug("timer suspended", "id", id)
		return
	}

	var wait float64
	switch {
	case tm.delay.Entropy:
		elapsed := 0.0
		if !fresh {
			elapsed = t.entropyAt(now) - tm.startEntropy
		}
		wait = (tm.delay.Value - elapsed) / math.Abs(rate)
	case fresh:
		wait = tm.delay.Value / rate
	case rate > 0:
		wait = (tm.delay.Value - (t.localAt(now) - tm.startTime)) / rate
	default:
		wait = (tm.startTime - t.localAt(now)) / rate
	}
	wait = math.Ceil(wait)
	if !finite(wait) {
		t.logger.Warn("timer wait out of range, suspended", "id", id, "rate", rate)
		return
	}
	// An interval running against the rate never reaches its target;
	// without a floor it would re-fire with a zero wait forever.
	if tm.interval && wait < minIntervalWait {
		wait = minIntervalWait
	}

	tm.handle = t.dispatchLocked(id, wait)
}

// dispatchLocked starts the real wait: on the clock for a root, as an
// entropy timer on the parent for a fork.
func (t *Timeline) dispatchLocked(id TimerID, wait float64) handle {
	if t.parent == nil {
		h := &clockHandle{}
		h.timer = t.clock.AfterFunc(msToDuration(wait), func() { t.fire(id, h) })
		return h
	}

	h := &parentHandle{parent: t.parent}
	pid, err := t.parent.SetTimeout(func() { t.fire(id, h) }, EntropyDelay(math.Max(wait, 0)))
	if err != nil {
		t.logger.Error("delegating timer to parent failed", "id", id, "error", err)
		return nil
	}
	h.id = pid
	return h
}

// fire runs when a wait completes. Fires from a superseded arming are
// dropped.
func (t *Timeline) fire(id TimerID, h handle) {
	t.mu.Lock()

	tm, ok := t.timers[id]
	if !ok || tm.handle != h {
		t.mu.Unlock()
		return
	}
	tm.handle = nil
	delete(t.timers, id)

	if tm.interval {
		now := t.sample()
		next := &timer{
			handler:      tm.handler,
			delay:        tm.delay,
			interval:     true,
			startTime:    t.localAt(now),
			startEntropy: t.entropyAt(now),
		}
		t.timers[id] = next
		t.armLocked(id, next, now, true)
	}
	handler := tm.handler
	t.mu.Unlock()

	handler()
}
