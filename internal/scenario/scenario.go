// Package scenario scripts timeline runs: a YAML document declares a tree
// of timelines and a list of steps (rate changes, seeks, timers) applied at
// real offsets, and a Runner executes it on a clock while recording what
// each timeline did.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spritejs/sprite-timeline/internal/timeline"
)

// ErrInvalidScenario is wrapped by every validation error.
var ErrInvalidScenario = errors.New("invalid scenario")

// Action is what a step does to its timeline.
type Action string

const (
	ActionSetRate    Action = "set_rate"
	ActionSetTime    Action = "set_time"
	ActionSetEntropy Action = "set_entropy"
	ActionTimeout    Action = "timeout"
	ActionInterval   Action = "interval"
	ActionClear      Action = "clear"
	ActionClearAll   Action = "clear_all"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSetRate, ActionSetTime, ActionSetEntropy,
		ActionTimeout, ActionInterval, ActionClear, ActionClearAll:
		return true
	}
	return false
}

func (a Action) needsValue() bool {
	return a == ActionSetRate || a == ActionSetTime || a == ActionSetEntropy
}

func (a Action) schedules() bool {
	return a == ActionTimeout || a == ActionInterval
}

// Scenario is a validated run script.
type Scenario struct {
	Name        string
	Description string
	// Duration is how long the run lasts on the clock.
	Duration time.Duration
	// SampleInterval, when positive, records every timeline's state
	// periodically.
	SampleInterval time.Duration
	Timelines      []TimelineSpec
	Steps          []Step
}

// TimelineSpec declares one timeline. Parent names an earlier timeline;
// empty means a root on the run's clock.
type TimelineSpec struct {
	Name         string
	Parent       string
	OriginTime   float64
	PlaybackRate float64
}

// Step is one action applied at a real offset from the start of the run.
type Step struct {
	At       time.Duration
	Timeline string
	Action   Action
	// Value is the argument of set_rate, set_time and set_entropy.
	Value float64
	// Delay is the argument of timeout and interval.
	Delay timeline.Delay
	// ID labels a timer for later clear steps and in recorded events.
	ID string
}

type scenarioYAML struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description,omitempty"`
	Duration       string         `yaml:"duration"`
	SampleInterval string         `yaml:"sample_interval,omitempty"`
	Timelines      []timelineYAML `yaml:"timelines"`
	Steps          []stepYAML     `yaml:"steps"`
}

type timelineYAML struct {
	Name         string   `yaml:"name"`
	Parent       string   `yaml:"parent,omitempty"`
	OriginTime   float64  `yaml:"origin_time,omitempty"`
	PlaybackRate *float64 `yaml:"playback_rate,omitempty"`
}

type stepYAML struct {
	At       string   `yaml:"at"`
	Timeline string   `yaml:"timeline,omitempty"`
	Action   string   `yaml:"action"`
	Value    *float64 `yaml:"value,omitempty"`
	Delay    any      `yaml:"delay,omitempty"`
	ID       string   `yaml:"id,omitempty"`
}

// Parse parses and validates a scenario from YAML data.
func Parse(data []byte) (*Scenario, error) {
	var doc scenarioYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scn := &Scenario{
		Name:        doc.Name,
		Description: doc.Description,
	}

	var err error
	if scn.Duration, err = parseDuration(doc.Duration); err != nil {
		return nil, fmt.Errorf("%w: duration: %v", ErrInvalidScenario, err)
	}
	if doc.SampleInterval != "" {
		if scn.SampleInterval, err = parseDuration(doc.SampleInterval); err != nil {
			return nil, fmt.Errorf("%w: sample_interval: %v", ErrInvalidScenario, err)
		}
	}

	for _, ty := range doc.Timelines {
		spec := TimelineSpec{
			Name:         ty.Name,
			Parent:       ty.Parent,
			OriginTime:   ty.OriginTime,
			PlaybackRate: 1,
		}
		if ty.PlaybackRate != nil {
			spec.PlaybackRate = *ty.PlaybackRate
		}
		scn.Timelines = append(scn.Timelines, spec)
	}

	for i, sy := range doc.Steps {
		step, err := stepYAMLToStep(&sy)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrInvalidScenario, i, err)
		}
		scn.Steps = append(scn.Steps, step)
	}

	if err := scn.Validate(); err != nil {
		return nil, err
	}
	return scn, nil
}

// ParseFile parses and validates a scenario from a YAML file.
func ParseFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return Parse(data)
}

func stepYAMLToStep(sy *stepYAML) (Step, error) {
	at, err := parseDuration(sy.At)
	if err != nil {
		return Step{}, fmt.Errorf("at: %v", err)
	}

	step := Step{
		At:       at,
		Timeline: sy.Timeline,
		Action:   Action(sy.Action),
		ID:       sy.ID,
	}

	if !step.Action.Valid() {
		return Step{}, fmt.Errorf("unknown action %q", sy.Action)
	}

	if step.Action.needsValue() {
		if sy.Value == nil {
			return Step{}, fmt.Errorf("%s requires value", step.Action)
		}
		step.Value = *sy.Value
	}

	if step.Action.schedules() {
		if sy.Delay == nil {
			return Step{}, fmt.Errorf("%s requires delay", step.Action)
		}
		if step.Delay, err = timeline.ParseDelay(sy.Delay); err != nil {
			return Step{}, fmt.Errorf("delay: %w", err)
		}
	}

	return step, nil
}

// parseDuration parses a Go duration; "0" is accepted without a unit.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if s == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}
	return d, nil
}

// Validate checks the scenario and fills in defaults: a step without a
// timeline targets the first one, and an unlabelled timer gets the label
// "step-<index>".
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidScenario)
	}
	if s.SampleInterval < 0 {
		return fmt.Errorf("%w: sample_interval must not be negative", ErrInvalidScenario)
	}
	if len(s.Timelines) == 0 {
		return fmt.Errorf("%w: at least one timeline is required", ErrInvalidScenario)
	}

	seen := make(map[string]bool, len(s.Timelines))
	for i, tl := range s.Timelines {
		if tl.Name == "" {
			return fmt.Errorf("%w: timeline %d: name is required", ErrInvalidScenario, i)
		}
		if seen[tl.Name] {
			return fmt.Errorf("%w: timeline %q declared twice", ErrInvalidScenario, tl.Name)
		}
		if tl.Parent != "" && !seen[tl.Parent] {
			return fmt.Errorf("%w: timeline %q: parent %q must be declared before it", ErrInvalidScenario, tl.Name, tl.Parent)
		}
		if !finite(tl.OriginTime) || !finite(tl.PlaybackRate) {
			return fmt.Errorf("%w: timeline %q: origin_time and playback_rate must be finite", ErrInvalidScenario, tl.Name)
		}
		seen[tl.Name] = true
	}

	timers := make(map[string]bool)
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := s.validateStep(i, step, seen, timers); err != nil {
			return fmt.Errorf("%w: step %d: %v", ErrInvalidScenario, i, err)
		}
	}

	return s.validateClears()
}

// validateClears checks that every clear runs after its timer is
// scheduled, walking steps in the order the runner applies them: by offset,
// then file order.
func (s *Scenario) validateClears() error {
	order := make([]int, len(s.Steps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.Steps[order[a]].At < s.Steps[order[b]].At
	})

	scheduled := make(map[string]bool)
	for _, i := range order {
		step := s.Steps[i]
		key := step.Timeline + "/" + step.ID
		switch step.Action {
		case ActionTimeout, ActionInterval:
			scheduled[key] = true
		case ActionClear:
			if !scheduled[key] {
				return fmt.Errorf("%w: step %d: clear of timer %q on timeline %q before it is scheduled",
					ErrInvalidScenario, i, step.ID, step.Timeline)
			}
		}
	}
	return nil
}

func (s *Scenario) validateStep(i int, step *Step, timelines, timers map[string]bool) error {
	if step.Timeline == "" {
		step.Timeline = s.Timelines[0].Name
	}
	if !timelines[step.Timeline] {
		return fmt.Errorf("unknown timeline %q", step.Timeline)
	}
	if step.At < 0 || step.At > s.Duration {
		return fmt.Errorf("at %v is outside the run duration %v", step.At, s.Duration)
	}
	if !step.Action.Valid() {
		return fmt.Errorf("unknown action %q", step.Action)
	}
	if step.Action.needsValue() && !finite(step.Value) {
		return fmt.Errorf("value must be finite")
	}

	key := step.Timeline + "/" + step.ID
	switch step.Action {
	case ActionTimeout, ActionInterval:
		if !finite(step.Delay.Value) {
			return fmt.Errorf("delay must be finite")
		}
		if step.Action == ActionInterval && step.Delay.Value == 0 {
			return fmt.Errorf("interval delay must not be zero")
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i)
			key = step.Timeline + "/" + step.ID
		}
		if timers[key] {
			return fmt.Errorf("timer id %q reused on timeline %q", step.ID, step.Timeline)
		}
		timers[key] = true
	case ActionClear:
		if step.ID == "" {
			return fmt.Errorf("clear requires id")
		}
	}

	return nil
}

// Timeline returns the declaration of the named timeline.
func (s *Scenario) Timeline(name string) (TimelineSpec, bool) {
	for _, tl := range s.Timelines {
		if tl.Name == name {
			return tl, true
		}
	}
	return TimelineSpec{}, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
