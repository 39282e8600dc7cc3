// Package timeline implements virtual clocks: local time that runs at any
// rate (including zero and negative) against a reference time, keeps a
// queryable history of its rate and offset changes, and fires timers
// scheduled in local time or entropy at the right real-world moment.
//
// A root Timeline measures its reference ("global") time on a
// clock.Clock. A forked Timeline uses its parent's local time as its
// global time, so rates compound through nested forks.
//
// Entropy measures how much reference time has been processed, scaled by
// |rate|. It never decreases on its own, whatever the sign of the rate,
// and is the key the mark history is sorted and searched by.
package timeline

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/spritejs/sprite-timeline/internal/clock"
)

// Timeline is a virtual clock. It is safe for concurrent use; timer
// handlers run without any Timeline lock held.
type Timeline struct {
	mu sync.Mutex

	// Root timelines only.
	clock  clock.Clock
	origin time.Time

	// Forked timelines only. The parent never references its children.
	parent *Timeline

	logger     *slog.Logger
	originTime float64
	rate       float64
	history    history
	timers     map[TimerID]*timer
	nextID     TimerID
}

type settings struct {
	originTime   float64
	playbackRate float64
	clock        clock.Clock
	logger       *slog.Logger
}

// Option configures a Timeline.
type Option func(*settings)

// WithOriginTime sets the origin: local time and entropy start at -ms.
func WithOriginTime(ms float64) Option {
	return func(s *settings) { s.originTime = ms }
}

// WithPlaybackRate sets the initial rate (default 1).
func WithPlaybackRate(rate float64) Option {
	return func(s *settings) { s.playbackRate = rate }
}

// WithClock sets the reference clock of a root timeline (default: a real
// clock). Ignored by Fork.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger. Forks inherit their parent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New creates a root timeline driven by a clock.
func New(opts ...Option) (*Timeline, error) {
	return newTimeline(nil, opts)
}

// Fork creates a child timeline whose global time is t's local time.
func (t *Timeline) Fork(opts ...Option) (*Timeline, error) {
	return newTimeline(t, opts)
}

func newTimeline(parent *Timeline, opts []Option) (*Timeline, error) {
	s := settings{playbackRate: 1}
	for _, opt := range opts {
		opt(&s)
	}

	if !finite(s.originTime) {
		return nil, fmt.Errorf("%w: origin time %v", ErrInvalidArgument, s.originTime)
	}
	if !finite(s.playbackRate) {
		return nil, fmt.Errorf("%w: playback rate %v", ErrInvalidArgument, s.playbackRate)
	}

	t := &Timeline{
		parent:     parent,
		logger:     s.logger,
		originTime: s.originTime,
		rate:       s.playbackRate,
		timers:     make(map[TimerID]*timer),
	}

	if parent == nil {
		t.clock = s.clock
		if t.clock == nil {
			t.clock = clock.NewRealClock()
		}
		t.origin = t.clock.Now()
	} else if t.logger == nil {
		t.logger = parent.logger
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	now := t.sample()
	t.history = newHistory(TimeMark{
		GlobalTime:    now.global,
		LocalTime:     -s.originTime,
		Entropy:       -s.originTime,
		PlaybackRate:  s.playbackRate,
		ParentEntropy: now.parentEntropy,
	})

	return t, nil
}

// instant is one reading of the reference: global time plus, for forks,
// the parent's entropy taken at the same moment.
type instant struct {
	global        float64
	parentEntropy float64
}

// sample reads the reference. It takes the parent's lock, never t's.
func (t *Timeline) sample() instant {
	if t.parent != nil {
		local, entropy := t.parent.reading()
		return instant{global: local, parentEntropy: entropy}
	}
	return instant{global: durationToMs(t.clock.Since(t.origin))}
}

// reading returns local time and entropy from a single sample.
func (t *Timeline) reading() (local, entropy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.sample()
	return t.localAt(now), t.entropyAt(now)
}

func (t *Timeline) localAt(now instant) float64 {
	m := t.history.last()
	return m.LocalTime + (now.global-m.GlobalTime)*t.rate
}

func (t *Timeline) entropyAt(now instant) float64 {
	m := t.history.last()
	if t.parent != nil {
		return m.Entropy + math.Abs((now.parentEntropy-m.ParentEntropy)*t.rate)
	}
	return m.Entropy + math.Abs((now.global-m.GlobalTime)*t.rate)
}

func (t *Timeline) markAt(now instant, local, entropy, rate float64) TimeMark {
	return TimeMark{
		GlobalTime:    now.global,
		LocalTime:     local,
		Entropy:       entropy,
		PlaybackRate:  rate,
		ParentEntropy: now.parentEntropy,
	}
}

// GlobalTime returns the reference time: the parent's local time for a
// fork, otherwise milliseconds elapsed on the clock since creation.
func (t *Timeline) GlobalTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sample().global
}

// CurrentTime returns the local time.
func (t *Timeline) CurrentTime() float64 {
	local, _ := t.reading()
	return local
}

// SetCurrentTime jumps local time to v. Entropy is unchanged. Pending
// timers are re-derived against the new local time.
func (t *Timeline) SetCurrentTime(v float64) error {
	if !finite(v) {
		return fmt.Errorf("%w: current time %v", ErrInvalidArgument, v)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.sample()
	t.history.append(t.markAt(now, v, t.entropyAt(now), t.rate))
	t.rescheduleLocked(now)
	return nil
}

// Entropy returns the amount of reference time processed so far, scaled
// by |rate|.
func (t *Timeline) Entropy() float64 {
	_, entropy := t.reading()
	return entropy
}

// SetEntropy moves entropy to e without changing local time. Every mark
// whose entropy exceeds e is dropped for good, so later seeks can no
// longer reach that part of the history.
func (t *Timeline) SetEntropy(e float64) error {
	if !finite(e) {
		return fmt.Errorf("%w: entropy %v", ErrInvalidArgument, e)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.sample()
	before := t.history.len()
	t.history.truncateAndAppend(e, t.markAt(now, t.localAt(now), e, t.rate))
	t.logger.Debug("entropy set",
		"entropy", e,
		"dropped_marks", before+1-t.history.len())
	t.rescheduleLocked(now)
	return nil
}

// PlaybackRate returns the current rate.
func (t *Timeline) PlaybackRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// SetPlaybackRate changes the rate. Local time is pinned at its current
// value by a new mark and every pending timer is re-armed under the new
// rate before SetPlaybackRate returns. A zero rate suspends timers.
func (t *Timeline) SetPlaybackRate(rate float64) error {
	if !finite(rate) {
		return fmt.Errorf("%w: playback rate %v", ErrInvalidArgument, rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rate == t.rate {
		return nil
	}

	now := t.sample()
	local := t.localAt(now)
	t.history.append(t.markAt(now, local, t.entropyAt(now), t.rate))
	t.history.last().PlaybackRate = rate
	previous := t.rate
	t.rate = rate

	t.logger.Debug("playback rate changed",
		"from", previous,
		"to", rate,
		"local_time", local,
		"timers", len(t.timers))
	t.rescheduleLocked(now)
	return nil
}

// Paused reports whether the rate is zero.
func (t *Timeline) Paused() bool {
	return t.PlaybackRate() == 0
}

// MarkOptions selects the fields MarkTime writes. Nil fields keep their
// current value.
type MarkOptions struct {
	Time         *float64
	Entropy      *float64
	PlaybackRate *float64
}

// MarkTime applies several writes as one mark: entropy (with the same
// truncation as SetEntropy), then local time, then rate. Timers are
// re-derived once. With no fields set it pins the current state.
func (t *Timeline) MarkTime(opts MarkOptions) error {
	fields := []struct {
		name  string
		value *float64
	}{
		{"entropy", opts.Entropy},
		{"time", opts.Time},
		{"playback rate", opts.PlaybackRate},
	}
	for _, f := range fields {
		if f.value != nil && !finite(*f.value) {
			return fmt.Errorf("%w: %s %v", ErrInvalidArgument, f.name, *f.value)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.sample()
	mark := t.markAt(now, t.localAt(now), t.entropyAt(now), t.rate)
	if opts.Time != nil {
		mark.LocalTime = *opts.Time
	}
	if opts.PlaybackRate != nil {
		mark.PlaybackRate = *opts.PlaybackRate
	}

	if opts.Entropy != nil {
		mark.Entropy = *opts.Entropy
		t.history.truncateAndAppend(mark.Entropy, mark)
	} else {
		t.history.append(mark)
	}
	t.rate = mark.PlaybackRate

	t.rescheduleLocked(now)
	return nil
}

// Parent returns the timeline this one was forked from, or nil.
func (t *Timeline) Parent() *Timeline {
	return t.parent
}

// OriginTime returns the origin the timeline was created with.
func (t *Timeline) OriginTime() float64 {
	return t.originTime
}

// LastTimeMark returns the active mark.
func (t *Timeline) LastTimeMark() TimeMark {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.history.last()
}

// TimeMarks returns a copy of the mark history, oldest first.
func (t *Timeline) TimeMarks() []TimeMark {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.snapshot()
}

// SeekTimeMark returns the index of the mark governing entropy e.
func (t *Timeline) SeekTimeMark(e float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.seek(e)
}

// SeekLocalTime returns the local time the timeline had, or will have
// under the active mark, when its entropy was e.
func (t *Timeline) SeekLocalTime(e float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.history.at(t.history.seek(e))
	if m.PlaybackRate > 0 {
		return m.LocalTime + (e - m.Entropy)
	}
	return m.LocalTime - (e - m.Entropy)
}

// SeekGlobalTime returns the global time at which entropy was (or will be)
// e. Entropy does not move under a zero rate, so an entropy beyond a frozen
// mark maps to +Inf.
func (t *Timeline) SeekGlobalTime(e float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.history.at(t.history.seek(e))
	delta := e - m.Entropy
	if m.PlaybackRate == 0 {
		if delta == 0 {
			return m.GlobalTime
		}
		return math.Inf(1)
	}
	return m.GlobalTime + delta/math.Abs(m.PlaybackRate)
}

func durationToMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// msToDuration converts a real delay to a Duration, clamping negative
// values to zero and huge values to the largest Duration.
func msToDuration(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	ns := ms * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
