package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// jsonReport is the JSON-serializable version of Report.
type jsonReport struct {
	Version   string                  `json:"version"`
	RunInfo   jsonRunInfo             `json:"run_info"`
	Summary   Summary                 `json:"summary"`
	Timelines []*TimelineReport       `json:"timelines"`
	Drift     map[string]*DriftReport `json:"drift"`
	Errors    []*jsonStepError        `json:"errors,omitempty"`
	System    *SystemInfo             `json:"system,omitempty"`
}

type jsonRunInfo struct {
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	Duration    string  `json:"duration"`
	DurationSec float64 `json:"duration_sec"`
	Scenario    string  `json:"scenario"`
	Description string  `json:"description,omitempty"`
	ClockMode   string  `json:"clock_mode"`
	TimeScale   int     `json:"time_scale"`
	Cancelled   bool    `json:"cancelled,omitempty"`
}

type jsonStepError struct {
	OffsetMs float64 `json:"offset_ms"`
	Timeline string  `json:"timeline"`
	Action   string  `json:"action"`
	Error    string  `json:"error"`
}

// ToJSON serializes the report to JSON.
func (r *Report) ToJSON() ([]byte, error) {
	jr := r.toJSONReport()
	return json.MarshalIndent(jr, "", "  ")
}

// ToJSONCompact serializes the report to compact JSON.
func (r *Report) ToJSONCompact() ([]byte, error) {
	jr := r.toJSONReport()
	return json.Marshal(jr)
}

// WriteToFile writes the report to a file.
func (r *Report) WriteToFile(path string) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

func (r *Report) toJSONReport() jsonReport {
	jr := jsonReport{
		Version: r.Version,
		RunInfo: jsonRunInfo{
			StartTime:   r.RunInfo.StartTime.Format(time.RFC3339),
			EndTime:     r.RunInfo.EndTime.Format(time.RFC3339),
			Duration:    r.RunInfo.Duration.String(),
			DurationSec: r.RunInfo.Duration.Seconds(),
			Scenario:    r.RunInfo.Scenario,
			Description: r.RunInfo.Description,
			ClockMode:   r.RunInfo.ClockMode,
			TimeScale:   r.RunInfo.TimeScale,
			Cancelled:   r.RunInfo.Cancelled,
		},
		Summary:   r.Summary,
		Timelines: r.Timelines,
		Drift:     r.Drift,
		System:    r.System,
	}

	for _, e := range r.Errors {
		jr.Errors = append(jr.Errors, &jsonStepError{
			OffsetMs: float64(e.Offset.Microseconds()) / 1000.0,
			Timeline: e.Timeline,
			Action:   string(e.Action),
			Error:    e.Error,
		})
	}

	return jr
}

// String returns a human-readable summary of the report.
func (r *Report) String() string {
	return fmt.Sprintf(
		"Report: %s, %d steps, %d firings (%.2f%% on time), max drift %gms, duration: %s",
		r.RunInfo.Scenario,
		r.Summary.Steps,
		r.Summary.Firings,
		r.Summary.OnTimeRate,
		r.Summary.MaxDriftMs,
		r.RunInfo.Duration,
	)
}
