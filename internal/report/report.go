// Package report turns a scenario run into a summary for the console or a
// JSON file.
package report

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/spritejs/sprite-timeline/internal/scenario"
)

// Report contains the complete outcome of a scenario run.
type Report struct {
	Version   string                  `json:"version"`
	RunInfo   RunInfo                 `json:"run_info"`
	Summary   Summary                 `json:"summary"`
	Timelines []*TimelineReport       `json:"timelines"`
	Drift     map[string]*DriftReport `json:"drift"`
	Errors    []*StepError            `json:"errors,omitempty"`
	System    *SystemInfo             `json:"system,omitempty"`
}

// RunInfo contains execution metadata.
type RunInfo struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// Duration is the clock time the run covered; under a simulated
	// clock it exceeds the wall time by the time scale.
	Duration    time.Duration `json:"duration"`
	Scenario    string        `json:"scenario"`
	Description string        `json:"description,omitempty"`
	ClockMode   string        `json:"clock_mode"`
	TimeScale   int           `json:"time_scale"`
	Cancelled   bool          `json:"cancelled,omitempty"`
}

// Summary contains aggregated counts.
type Summary struct {
	Steps       int64   `json:"steps"`
	FailedSteps int64   `json:"failed_steps"`
	Firings     int64   `json:"firings"`
	Samples     int64   `json:"samples"`
	Suspended   int64   `json:"suspended"`
	OnTimeRate  float64 `json:"on_time_pct"`
	MaxDriftMs  float64 `json:"max_drift_ms"`
	// PendingTimers counts timers still scheduled when the run ended.
	PendingTimers int `json:"pending_timers"`
}

// TimelineReport is a timeline's state at the end of the run.
type TimelineReport struct {
	Name          string  `json:"name"`
	Parent        string  `json:"parent,omitempty"`
	LocalTime     float64 `json:"local_time"`
	Entropy       float64 `json:"entropy"`
	PlaybackRate  float64 `json:"playback_rate"`
	Marks         int     `json:"marks"`
	PendingTimers int     `json:"pending_timers"`
}

// DriftReport contains drift statistics for one timer kind, in virtual
// milliseconds.
type DriftReport struct {
	Kind      string  `json:"kind"`
	Count     int64   `json:"count"`
	Early     int64   `json:"early"`
	Late      int64   `json:"late"`
	Suspended int64   `json:"suspended"`
	MinMs     float64 `json:"min_ms"`
	MaxMs     float64 `json:"max_ms"`
	MeanMs    float64 `json:"mean_ms"`
	P50Ms     float64 `json:"p50_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// StepError is a step that could not be applied.
type StepError struct {
	Offset   time.Duration   `json:"offset"`
	Timeline string          `json:"timeline"`
	Action   scenario.Action `json:"action"`
	Error    string          `json:"error"`
}

// SystemInfo describes where the run was stored, when it was.
type SystemInfo struct {
	DatabaseTarget string `json:"database_target,omitempty"`
	RunID          int64  `json:"run_id,omitempty"`
}

// GenerateReport creates a Report from run info and a run result.
func GenerateReport(runInfo RunInfo, res *scenario.Result) *Report {
	report := &Report{
		Version: "1.0",
		RunInfo: runInfo,
		Drift:   make(map[string]*DriftReport),
	}
	if report.RunInfo.Scenario == "" {
		report.RunInfo.Scenario = res.Scenario
	}
	if report.RunInfo.StartTime.IsZero() {
		report.RunInfo.StartTime = res.StartTime
	}
	if report.RunInfo.Duration == 0 {
		report.RunInfo.Duration = res.Elapsed
	}

	report.Summary = buildSummary(res)

	for _, s := range res.Final {
		report.Timelines = append(report.Timelines, &TimelineReport{
			Name:          s.Name,
			Parent:        s.Parent,
			LocalTime:     s.LocalTime,
			Entropy:       s.Entropy,
			PlaybackRate:  s.PlaybackRate,
			Marks:         s.Marks,
			PendingTimers: s.PendingTimers,
		})
	}

	for _, e := range res.Events {
		if e.Error == "" {
			continue
		}
		report.Errors = append(report.Errors, &StepError{
			Offset:   e.Offset,
			Timeline: e.Timeline,
			Action:   e.Action,
			Error:    e.Error,
		})
	}

	if res.Metrics == nil {
		return report
	}
	for name, k := range res.Metrics.Kinds {
		if !isTimerKind(name) {
			continue
		}
		report.Drift[name] = &DriftReport{
			Kind:      name,
			Count:     k.Measured,
			Early:     k.Early,
			Late:      k.Late,
			Suspended: k.Suspended,
			MinMs:     k.Drift.Min,
			MaxMs:     k.Drift.Max,
			MeanMs:    k.Drift.Mean,
			P50Ms:     k.Drift.P50,
			P99Ms:     k.Drift.P99,
		}
	}

	return report
}

func buildSummary(res *scenario.Result) Summary {
	summary := Summary{OnTimeRate: 100}

	for _, e := range res.Events {
		switch e.Kind {
		case scenario.EventStep:
			summary.Steps++
			if e.Error != "" {
				summary.FailedSteps++
			}
		case scenario.EventFire:
			summary.Firings++
			if e.Drift != nil {
				summary.MaxDriftMs = math.Max(summary.MaxDriftMs, math.Abs(*e.Drift))
			}
		case scenario.EventSample:
			summary.Samples++
		}
	}

	for _, s := range res.Final {
		summary.PendingTimers += s.PendingTimers
	}

	if res.Metrics != nil {
		summary.Suspended = res.Metrics.TotalSuspended
		summary.OnTimeRate = res.Metrics.OnTimeRate()
	}

	return summary
}

// isTimerKind reports whether a metrics kind names timer firings rather
// than applied steps.
func isTimerKind(kind string) bool {
	return strings.HasSuffix(kind, "/local") || strings.HasSuffix(kind, "/entropy")
}

// DriftKinds returns the drift kinds in sorted order.
func (r *Report) DriftKinds() []string {
	kinds := make([]string, 0, len(r.Drift))
	for k := range r.Drift {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// WithSystemInfo adds storage information to the report.
func (r *Report) WithSystemInfo(info *SystemInfo) *Report {
	r.System = info
	return r
}
