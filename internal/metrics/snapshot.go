package metrics

import (
	"encoding/json"
	"sort"
	"time"
)

// Snapshot represents a point-in-time view of collected metrics.
type Snapshot struct {
	StartTime       time.Time             `json:"start_time"`
	Duration        time.Duration         `json:"duration"`
	TotalEvents     int64                 `json:"total_events"`
	TotalSuspended  int64                 `json:"total_suspended"`
	EventsPerSecond float64               `json:"events_per_second"`
	Kinds           map[string]*KindStats `json:"kinds"`
}

// KindStats holds metrics for a single event kind.
type KindStats struct {
	Count int64 `json:"count"`
	// Measured counts the events that recorded drift.
	Measured        int64      `json:"measured"`
	Suspended       int64      `json:"suspended"`
	Early           int64      `json:"early"`
	Late            int64      `json:"late"`
	EventsPerSecond float64    `json:"events_per_second"`
	Drift           DriftStats `json:"drift_ms"`
}

// DriftStats holds the distribution of absolute drift, in virtual
// milliseconds.
type DriftStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	P999   float64 `json:"p999"`
}

// ToJSON serializes the snapshot to JSON.
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the snapshot to indented JSON.
func (s *Snapshot) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// KindNames returns the recorded kinds in sorted order.
func (s *Snapshot) KindNames() []string {
	names := make([]string, 0, len(s.Kinds))
	for name := range s.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalMeasured returns the number of drift-recorded events.
func (s *Snapshot) TotalMeasured() int64 {
	var n int64
	for _, k := range s.Kinds {
		n += k.Measured
	}
	return n
}

// OnTimeRate returns the percentage of drift-recorded events that landed
// exactly on target.
func (s *Snapshot) OnTimeRate() float64 {
	var measured, off int64
	for _, k := range s.Kinds {
		measured += k.Measured
		off += k.Early + k.Late
	}
	if measured == 0 {
		return 100
	}
	return float64(measured-off) / float64(measured) * 100
}

// MarshalJSON customizes JSON output for Snapshot.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type snapshotJSON struct {
		StartTime       string                `json:"start_time"`
		Duration        string                `json:"duration"`
		TotalEvents     int64                 `json:"total_events"`
		TotalMeasured   int64                 `json:"total_measured"`
		TotalSuspended  int64                 `json:"total_suspended"`
		EventsPerSecond float64               `json:"events_per_second"`
		OnTimeRate      float64               `json:"on_time_pct"`
		Kinds           map[string]*KindStats `json:"kinds"`
	}

	return json.Marshal(snapshotJSON{
		StartTime:       s.StartTime.Format(time.RFC3339),
		Duration:        s.Duration.String(),
		TotalEvents:     s.TotalEvents,
		TotalMeasured:   s.TotalMeasured(),
		TotalSuspended:  s.TotalSuspended,
		EventsPerSecond: s.EventsPerSecond,
		OnTimeRate:      s.OnTimeRate(),
		Kinds:           s.Kinds,
	})
}
