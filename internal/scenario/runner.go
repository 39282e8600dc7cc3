package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spritejs/sprite-timeline/internal/clock"
	"github.com/spritejs/sprite-timeline/internal/metrics"
	"github.com/spritejs/sprite-timeline/internal/timeline"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("runner already started")

// EventKind classifies recorded events.
type EventKind string

const (
	EventStep   EventKind = "step"
	EventFire   EventKind = "fire"
	EventSample EventKind = "sample"
)

// Event is one thing that happened during a run.
type Event struct {
	// Offset is the clock time since Start.
	Offset       time.Duration `json:"offset"`
	Kind         EventKind     `json:"kind"`
	Timeline     string        `json:"timeline"`
	Action       Action        `json:"action,omitempty"`
	TimerID      string        `json:"timer_id,omitempty"`
	LocalTime    float64       `json:"local_time"`
	Entropy      float64       `json:"entropy"`
	PlaybackRate float64       `json:"playback_rate"`
	// Expected and Drift are set on firings: the local time (local
	// delays) or entropy (entropy delays) the timer aimed at, and how far
	// past it the firing landed.
	Expected *float64 `json:"expected,omitempty"`
	Drift    *float64 `json:"drift,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// TimelineState is a timeline's state at the end of a run.
type TimelineState struct {
	Name         string  `json:"name"`
	Parent       string  `json:"parent,omitempty"`
	LocalTime    float64 `json:"local_time"`
	Entropy      float64 `json:"entropy"`
	PlaybackRate float64 `json:"playback_rate"`
	Marks        int     `json:"marks"`
	// PendingTimers counts timers still scheduled when the run ended.
	PendingTimers int `json:"pending_timers"`
}

// Result is everything a run recorded.
type Result struct {
	Scenario  string                         `json:"scenario"`
	StartTime time.Time                      `json:"start_time"`
	Elapsed   time.Duration                  `json:"elapsed"`
	Events    []Event                        `json:"events"`
	Final     []TimelineState                `json:"timelines"`
	Marks     map[string][]timeline.TimeMark `json:"marks"`
	Metrics   *metrics.Snapshot              `json:"metrics"`
}

// Firings returns the timer firing events.
func (r *Result) Firings() []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == EventFire {
			out = append(out, e)
		}
	}
	return out
}

type timerRecord struct {
	timeline  string
	label     string
	id        timeline.TimerID
	delay     timeline.Delay
	action    Action
	expected  float64
	suspended bool
}

func (t *timerRecord) kind() string {
	if t.delay.Entropy {
		return string(t.action) + "/entropy"
	}
	return string(t.action) + "/local"
}

// Runner executes a scenario on a clock.
type Runner struct {
	scn     *Scenario
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	timelines map[string]*timeline.Timeline
	timers    map[string]*timerRecord
	handles   []*clock.Timer
	events    []Event
	start     time.Time
	started   bool
	finished  bool
	done      chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger of the runner and its timelines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records drift into c instead of a private collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = c }
}

// NewRunner validates scn and builds its timelines on clk.
func NewRunner(scn *Scenario, clk clock.Clock, opts ...Option) (*Runner, error) {
	if err := scn.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		scn:       scn,
		clock:     clk,
		timelines: make(map[string]*timeline.Timeline, len(scn.Timelines)),
		timers:    make(map[string]*timerRecord),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCollector(clk)
	}

	for _, spec := range scn.Timelines {
		tlOpts := []timeline.Option{
			timeline.WithOriginTime(spec.OriginTime),
			timeline.WithPlaybackRate(spec.PlaybackRate),
			timeline.WithLogger(r.logger.With("timeline", spec.Name)),
		}

		var (
			tl  *timeline.Timeline
			err error
		)
		if spec.Parent == "" {
			tl, err = timeline.New(append(tlOpts, timeline.WithClock(clk))...)
		} else {
			tl, err = r.timelines[spec.Parent].Fork(tlOpts...)
		}
		if err != nil {
			return nil, fmt.Errorf("creating timeline %q: %w", spec.Name, err)
		}
		r.timelines[spec.Name] = tl
	}

	return r, nil
}

// Timeline returns the named timeline of the run.
func (r *Runner) Timeline(name string) *timeline.Timeline {
	return r.timelines[name]
}

// Start arms every step on the clock and returns immediately.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.start = r.clock.Now()

	r.logger.Info("scenario started",
		"scenario", r.scn.Name,
		"timelines", len(r.scn.Timelines),
		"steps", len(r.scn.Steps),
		"duration", r.scn.Duration)

	for _, group := range groupSteps(r.scn.Steps) {
		group := group
		r.handles = append(r.handles, r.clock.AfterFunc(group[0].At, func() { r.applySteps(group) }))
	}
	if r.scn.SampleInterval > 0 {
		r.armSampleLocked()
	}
	r.handles = append(r.handles, r.clock.AfterFunc(r.scn.Duration, r.finish))

	return nil
}

// groupSteps buckets steps by offset, keeping file order within a bucket.
func groupSteps(steps []Step) [][]Step {
	byAt := make(map[time.Duration][]Step)
	var offsets []time.Duration
	for _, s := range steps {
		if _, ok := byAt[s.At]; !ok {
			offsets = append(offsets, s.At)
		}
		byAt[s.At] = append(byAt[s.At], s)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	groups := make([][]Step, 0, len(offsets))
	for _, at := range offsets {
		groups = append(groups, byAt[at])
	}
	return groups
}

// Wait blocks until the run ends or ctx is done, and returns what was
// recorded. A cancelled run still returns its partial result.
func (r *Runner) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result(), nil
	case <-ctx.Done():
		r.finish()
		return r.result(), ctx.Err()
	}
}

// Run is Start followed by Wait.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.Start(); err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}

// Done is closed when the run has ended.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) applySteps(steps []Step) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	for _, step := range steps {
		r.applyLocked(step)
	}
	r.trackSuspendedLocked()
}

func (r *Runner) applyLocked(step Step) {
	tl := r.timelines[step.Timeline]

	var err error
	switch step.Action {
	case ActionSetRate:
		err = tl.SetPlaybackRate(step.Value)
	case ActionSetTime:
		err = tl.SetCurrentTime(step.Value)
	case ActionSetEntropy:
		err = tl.SetEntropy(step.Value)
	case ActionTimeout, ActionInterval:
		err = r.scheduleLocked(tl, step)
	case ActionClear:
		key := step.Timeline + "/" + step.ID
		if rec, ok := r.timers[key]; ok {
			tl.ClearTimeout(rec.id)
			delete(r.timers, key)
		}
	case ActionClearAll:
		tl.ClearAll()
		for key, rec := range r.timers {
			if rec.timeline == step.Timeline {
				delete(r.timers, key)
			}
		}
	}

	ev := r.eventLocked(EventStep, step.Timeline, tl)
	ev.Action = step.Action
	ev.TimerID = step.ID
	if err != nil {
		ev.Error = err.Error()
		r.logger.Warn("step failed",
			"timeline", step.Timeline,
			"action", step.Action,
			"error", err)
	}
	r.events = append(r.events, ev)
	r.metrics.IncrementCount("step/" + string(step.Action))
}

func (r *Runner) scheduleLocked(tl *timeline.Timeline, step Step) error {
	rec := &timerRecord{
		timeline: step.Timeline,
		label:    step.ID,
		delay:    step.Delay,
		action:   step.Action,
	}
	rec.expected = target(tl, rec.delay)

	fire := func() { r.fired(rec) }

	var err error
	if step.Action == ActionInterval {
		rec.id, err = tl.SetInterval(fire, step.Delay)
	} else {
		rec.id, err = tl.SetTimeout(fire, step.Delay)
	}
	if err != nil {
		return err
	}

	r.timers[step.Timeline+"/"+step.ID] = rec
	return nil
}

// target is the local time or entropy a delay started now aims at.
func target(tl *timeline.Timeline, d timeline.Delay) float64 {
	if d.Entropy {
		return tl.Entropy() + d.Value
	}
	return tl.CurrentTime() + d.Value
}

func (r *Runner) fired(rec *timerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.timeline + "/" + rec.label
	if r.finished || r.timers[key] != rec {
		return
	}

	tl := r.timelines[rec.timeline]
	ev := r.eventLocked(EventFire, rec.timeline, tl)
	ev.Action = rec.action
	ev.TimerID = rec.label

	observed := ev.LocalTime
	if rec.delay.Entropy {
		observed = ev.Entropy
	}
	expected, drift := rec.expected, observed-rec.expected
	ev.Expected, ev.Drift = &expected, &drift
	r.events = append(r.events, ev)
	r.metrics.RecordDrift(rec.kind(), drift)

	r.logger.Debug("timer fired",
		"timeline", rec.timeline,
		"timer", rec.label,
		"drift", drift)

	if rec.action == ActionInterval {
		rec.expected = observed + rec.delay.Value
	} else {
		delete(r.timers, key)
	}
}

// trackSuspendedLocked counts timers that entered the suspended state.
func (r *Runner) trackSuspendedLocked() {
	for _, rec := range r.timers {
		state, ok := r.timelines[rec.timeline].TimerState(rec.id)
		suspended := ok && state == timeline.TimerSuspended
		if suspended && !rec.suspended {
			r.metrics.IncrementSuspended(rec.kind())
		}
		rec.suspended = suspended
	}
}

func (r *Runner) armSampleLocked() {
	r.handles = append(r.handles, r.clock.AfterFunc(r.scn.SampleInterval, r.sample))
}

func (r *Runner) sample() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	for _, spec := range r.scn.Timelines {
		r.events = append(r.events, r.eventLocked(EventSample, spec.Name, r.timelines[spec.Name]))
	}
	r.armSampleLocked()
}

func (r *Runner) eventLocked(kind EventKind, name string, tl *timeline.Timeline) Event {
	return Event{
		Offset:       r.clock.Since(r.start),
		Kind:         kind,
		Timeline:     name,
		LocalTime:    tl.CurrentTime(),
		Entropy:      tl.Entropy(),
		PlaybackRate: tl.PlaybackRate(),
	}
}

// finish ends the run: pending timers are cleared, children first.
func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	r.finished = true

	for _, h := range r.handles {
		h.Stop()
	}
	r.handles = nil

	for i := len(r.scn.Timelines) - 1; i >= 0; i-- {
		name := r.scn.Timelines[i].Name
		r.timelines[name].ClearAll()
	}

	r.logger.Info("scenario finished",
		"scenario", r.scn.Name,
		"elapsed", r.clock.Since(r.start),
		"events", len(r.events),
		"pending_timers", len(r.timers))

	close(r.done)
}

func (r *Runner) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &Result{
		Scenario:  r.scn.Name,
		StartTime: r.start,
		Elapsed:   r.clock.Since(r.start),
		Events:    append([]Event(nil), r.events...),
		Marks:     make(map[string][]timeline.TimeMark, len(r.timelines)),
		Metrics:   r.metrics.GetSnapshot(),
	}

	pending := make(map[string]int)
	for _, rec := range r.timers {
		pending[rec.timeline]++
	}

	for _, spec := range r.scn.Timelines {
		tl := r.timelines[spec.Name]
		marks := tl.TimeMarks()
		res.Marks[spec.Name] = marks
		res.Final = append(res.Final, TimelineState{
			Name:          spec.Name,
			Parent:        spec.Parent,
			LocalTime:     tl.CurrentTime(),
			Entropy:       tl.Entropy(),
			PlaybackRate:  tl.PlaybackRate(),
			Marks:         len(marks),
			PendingTimers: pending[spec.Name],
		})
	}

	return res
}
