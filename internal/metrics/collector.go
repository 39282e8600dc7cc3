// Package metrics counts run events per kind and aggregates timer firing
// drift: how far from its target each timer actually fired.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/spritejs/sprite-timeline/internal/clock"
)

const (
	// Histogram range: 1 microsecond to 1 hour of absolute drift
	minDriftUs = 1
	maxDriftUs = 3_600_000_000
	sigFigs    = 3

	// OnTimeToleranceMs is the largest absolute drift still counted as on
	// time. Real clocks round waits up to whole milliseconds.
	OnTimeToleranceMs = 1.0
)

// kindMetrics holds metrics for a single event kind.
type kindMetrics struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	count     atomic.Int64
	suspended atomic.Int64
	early     atomic.Int64
	late      atomic.Int64
}

func newKindMetrics() *kindMetrics {
	return &kindMetrics{
		histogram: hdrhistogram.New(minDriftUs, maxDriftUs, sigFigs),
	}
}

// Collector aggregates metrics for multiple event kinds.
type Collector struct {
	mu        sync.RWMutex
	kinds     map[string]*kindMetrics
	clock     clock.Clock
	startTime time.Time
}

// NewCollector creates a new Collector timed on clk.
func NewCollector(clk clock.Clock) *Collector {
	return &Collector{
		kinds:     make(map[string]*kindMetrics),
		clock:     clk,
		startTime: clk.Now(),
	}
}

// getOrCreateKind returns metrics for a timer kind, creating if needed.
func (c *Collector) getOrCreateKind(kind string) *kindMetrics {
	c.mu.RLock()
	km, exists := c.kinds[kind]
	c.mu.RUnlock()

	if exists {
		return km
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if km, exists = c.kinds[kind]; exists {
		return km
	}

	km = newKindMetrics()
	c.kinds[kind] = km
	return km
}

// RecordDrift records one firing that landed driftMs after its target in
// virtual milliseconds. Negative drift means the timer fired early.
func (c *Collector) RecordDrift(kind string, driftMs float64) {
	km := c.getOrCreateKind(kind)

	switch {
	case driftMs < -OnTimeToleranceMs:
		km.early.Add(1)
	case driftMs > OnTimeToleranceMs:
		km.late.Add(1)
	}

	driftUs := int64(math.Round(math.Abs(driftMs) * 1000))
	if driftUs > maxDriftUs {
		driftUs = maxDriftUs
	}

	km.mu.Lock()
	km.histogram.RecordValue(driftUs)
	km.mu.Unlock()

	km.count.Add(1)
}

// IncrementCount counts an event without recording drift.
func (c *Collector) IncrementCount(kind string) {
	km := c.getOrCreateKind(kind)
	km.count.Add(1)
}

// IncrementSuspended counts a timer found suspended by a zero rate.
func (c *Collector) IncrementSuspended(kind string) {
	km := c.getOrCreateKind(kind)
	km.suspended.Add(1)
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	duration := c.clock.Since(c.startTime)
	snap := &Snapshot{
		StartTime: c.startTime,
		Duration:  duration,
		Kinds:     make(map[string]*KindStats),
	}

	for kind, km := range c.kinds {
		count := km.count.Load()
		suspended := km.suspended.Load()

		snap.TotalEvents += count
		snap.TotalSuspended += suspended

		km.mu.Lock()
		hist := km.histogram.Export()
		km.mu.Unlock()

		imported := hdrhistogram.Import(hist)

		stats := &KindStats{
			Count:     count,
			Measured:  imported.TotalCount(),
			Suspended: suspended,
			Early:     km.early.Load(),
			Late:      km.late.Load(),
			Drift: DriftStats{
				Min:    usToMs(float64(imported.Min())),
				Max:    usToMs(float64(imported.Max())),
				Mean:   usToMs(imported.Mean()),
				StdDev: usToMs(imported.StdDev()),
				P50:    usToMs(float64(imported.ValueAtQuantile(50))),
				P90:    usToMs(float64(imported.ValueAtQuantile(90))),
				P95:    usToMs(float64(imported.ValueAtQuantile(95))),
				P99:    usToMs(float64(imported.ValueAtQuantile(99))),
				P999:   usToMs(float64(imported.ValueAtQuantile(99.9))),
			},
		}

		if duration.Seconds() > 0 {
			stats.EventsPerSecond = float64(count) / duration.Seconds()
		}

		snap.Kinds[kind] = stats
	}

	if duration.Seconds() > 0 {
		snap.EventsPerSecond = float64(snap.TotalEvents) / duration.Seconds()
	}

	return snap
}

// Reset clears all collected metrics and resets the start time.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kinds = make(map[string]*kindMetrics)
	c.startTime = c.clock.Now()
}

func usToMs(us float64) float64 {
	return us / 1000
}
