package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spritejs/sprite-timeline/internal/clock"
	"github.com/spritejs/sprite-timeline/internal/scenario"
)

// runTestScenario runs a built-in scenario to completion on a fake clock.
func runTestScenario(t *testing.T, name string) *scenario.Result {
	t.Helper()

	scn, err := scenario.Load(name)
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", name, err)
	}

	fc := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	r, err := scenario.NewRunner(scn, fc)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	fc.Advance(scn.Duration)

	res, err := r.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return res
}

func testRunInfo() RunInfo {
	return RunInfo{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		ClockMode: "simulated",
		TimeScale: 1,
	}
}

func TestGenerateReport(t *testing.T) {
	res := runTestScenario(t, "entropy-interval")

	report := GenerateReport(testRunInfo(), res)

	if report.Version != "1.0" {
		t.Errorf("expected version 1.0, got %s", report.Version)
	}

	// Filled from the result when not given
	if report.RunInfo.Scenario != "entropy-interval" {
		t.Errorf("expected scenario entropy-interval, got %s", report.RunInfo.Scenario)
	}
	if report.RunInfo.Duration != time.Second {
		t.Errorf("expected duration 1s, got %v", report.RunInfo.Duration)
	}

	// interval, three set_rate and clear
	if report.Summary.Steps != 5 {
		t.Errorf("expected 5 steps, got %d", report.Summary.Steps)
	}
	if report.Summary.Firings != 9 {
		t.Errorf("expected 9 firings, got %d", report.Summary.Firings)
	}
	if report.Summary.Suspended != 1 {
		t.Errorf("expected 1 suspension, got %d", report.Summary.Suspended)
	}
	if report.Summary.OnTimeRate != 100 {
		t.Errorf("expected 100%% on time, got %v", report.Summary.OnTimeRate)
	}
	if report.Summary.MaxDriftMs != 0 {
		t.Errorf("expected no drift, got %v", report.Summary.MaxDriftMs)
	}

	if len(report.Timelines) != 1 || report.Timelines[0].Name != "main" {
		t.Fatalf("expected one 'main' timeline, got %+v", report.Timelines)
	}

	// Step kinds are not drift kinds
	if len(report.Drift) != 1 {
		t.Errorf("expected 1 drift kind, got %v", report.DriftKinds())
	}
	d, ok := report.Drift["interval/entropy"]
	if !ok {
		t.Fatal("interval/entropy not found in drift")
	}
	if d.Count != 9 {
		t.Errorf("expected 9 measured firings, got %d", d.Count)
	}

	if report.Errors != nil {
		t.Errorf("expected no errors, got %v", report.Errors)
	}
}

func TestGenerateReportFailedSteps(t *testing.T) {
	res := &scenario.Result{
		Scenario: "manual",
		Elapsed:  time.Second,
		Events: []scenario.Event{
			{Offset: 10 * time.Millisecond, Kind: scenario.EventStep, Timeline: "main", Action: scenario.ActionSetRate},
			{Offset: 20 * time.Millisecond, Kind: scenario.EventStep, Timeline: "main", Action: scenario.ActionSetTime, Error: "invalid argument: current time NaN"},
		},
		Final: []scenario.TimelineState{
			{Name: "main", PendingTimers: 2},
		},
	}

	report := GenerateReport(RunInfo{}, res)

	if report.Summary.Steps != 2 || report.Summary.FailedSteps != 1 {
		t.Errorf("expected 2 steps with 1 failed, got %d and %d", report.Summary.Steps, report.Summary.FailedSteps)
	}
	if report.Summary.PendingTimers != 2 {
		t.Errorf("expected 2 pending timers, got %d", report.Summary.PendingTimers)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(report.Errors))
	}
	if report.Errors[0].Action != scenario.ActionSetTime {
		t.Errorf("expected set_time error, got %s", report.Errors[0].Action)
	}
	// No metrics: nothing was measured, so nothing was late.
	if report.Summary.OnTimeRate != 100 {
		t.Errorf("expected 100%% on time without metrics, got %v", report.Summary.OnTimeRate)
	}
}

func TestReportToJSON(t *testing.T) {
	report := GenerateReport(testRunInfo(), runTestScenario(t, "reverse-timeout"))

	data, err := report.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	runInfo, ok := parsed["run_info"].(map[string]interface{})
	if !ok {
		t.Fatal("run_info missing")
	}
	if runInfo["scenario"] != "reverse-timeout" {
		t.Errorf("expected scenario reverse-timeout, got %v", runInfo["scenario"])
	}
	if runInfo["duration"] != "120ms" {
		t.Errorf("expected duration 120ms, got %v", runInfo["duration"])
	}
	if runInfo["start_time"] != "2024-01-01T00:00:00Z" {
		t.Errorf("unexpected start_time %v", runInfo["start_time"])
	}

	summary := parsed["summary"].(map[string]interface{})
	if summary["firings"].(float64) != 1 {
		t.Errorf("expected 1 firing in JSON, got %v", summary["firings"])
	}

	drift := parsed["drift"].(map[string]interface{})
	if _, ok := drift["timeout/local"]; !ok {
		t.Error("expected timeout/local drift in JSON")
	}

	// Indented
	if !strings.Contains(string(data), "\n  ") {
		t.Error("expected indented JSON")
	}

	compact, err := report.ToJSONCompact()
	if err != nil {
		t.Fatalf("ToJSONCompact failed: %v", err)
	}
	if strings.Contains(string(compact), "\n") {
		t.Error("expected compact JSON on one line")
	}
}

func TestReportErrorsJSON(t *testing.T) {
	report := &Report{
		Version: "1.0",
		Errors: []*StepError{
			{Offset: 1500 * time.Microsecond, Timeline: "main", Action: scenario.ActionSetEntropy, Error: "boom"},
		},
	}

	data, err := report.ToJSONCompact()
	if err != nil {
		t.Fatalf("ToJSONCompact failed: %v", err)
	}
	if !strings.Contains(string(data), `"offset_ms":1.5`) {
		t.Errorf("expected offset in milliseconds, got %s", data)
	}
	if !strings.Contains(string(data), `"action":"set_entropy"`) {
		t.Errorf("expected action in errors, got %s", data)
	}
}

func TestReportWriteToFile(t *testing.T) {
	report := GenerateReport(testRunInfo(), runTestScenario(t, "rewind"))

	path := filepath.Join(t.TempDir(), "report.json")
	if err := report.WriteToFile(path); err != nil {
		t.Fatalf("WriteToFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}

	var parsed jsonReport
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON in file: %v", err)
	}
	if parsed.RunInfo.Scenario != "rewind" {
		t.Errorf("expected scenario rewind, got %s", parsed.RunInfo.Scenario)
	}
	if len(parsed.Timelines) != 1 || parsed.Timelines[0].LocalTime != 50 {
		t.Errorf("expected final local time 50 in file, got %+v", parsed.Timelines)
	}

	if err := report.WriteToFile(filepath.Join(t.TempDir(), "missing", "report.json")); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}

func TestReportString(t *testing.T) {
	report := GenerateReport(testRunInfo(), runTestScenario(t, "reverse-timeout"))

	s := report.String()
	if !strings.Contains(s, "reverse-timeout") || !strings.Contains(s, "1 firings") {
		t.Errorf("unexpected summary string: %s", s)
	}
}

func TestWithSystemInfo(t *testing.T) {
	report := (&Report{}).WithSystemInfo(&SystemInfo{DatabaseTarget: "localhost:5432/timeline", RunID: 7})
	if report.System == nil || report.System.RunID != 7 {
		t.Errorf("expected system info to be set, got %+v", report.System)
	}
}
