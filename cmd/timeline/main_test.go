package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spritejs/sprite-timeline/internal/clock"

	"github.com/spritejs/sprite-timeline/internal/timeline"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	runCfg = RunConfig{}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestMarksPath(t *testing.T) {
	tests := []struct {
		base  string
		name  string
		multi bool
		want  string
	}{
		{"marks.csv", "main", false, "marks.csv"},
		{"marks.csv", "child", true, "marks-child.csv"},
		{"out/marks", "root", true, "out/marks-root"},
	}

	for _, tt := range tests {
		if got := marksPath(tt.base, tt.name, tt.multi); got != tt.want {
			t.Errorf("marksPath(%q, %q, %v): expected %q, got %q", tt.base, tt.name, tt.multi, tt.want, got)
		}
	}
}

func TestClockMode(t *testing.T) {
	rc := clock.NewRealClock()
	defer rc.Stop()
	if got := clockMode(rc); got != "real" {
		t.Errorf("expected real, got %s", got)
	}

	sc := clock.NewSimulatedClock(time.Now(), 10)
	defer sc.Stop()
	if got := clockMode(sc); got != "simulated" {
		t.Errorf("expected simulated, got %s", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("expected version %s in output, got %q", Version, out)
	}
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	if err != nil {
		t.Fatalf("presets failed: %v", err)
	}
	for _, name := range []string{"entropy-interval", "fork", "reverse-timeout", "rewind"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected preset %s in output, got %q", name, out)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "rewind", "fork")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if strings.Count(out, "OK") != 2 {
		t.Errorf("expected 2 OK lines, got %q", out)
	}

	out, err = execute(t, "validate", "rewind", "no-such-scenario")
	if err == nil {
		t.Fatal("expected error for unknown scenario")
	}
	if !strings.Contains(out, "FAIL  no-such-scenario") {
		t.Errorf("expected FAIL line, got %q", out)
	}
}

func TestRunCommandJSON(t *testing.T) {
	marks := filepath.Join(t.TempDir(), "marks.csv")

	out, err := execute(t, "run", "rewind",
		"--clock", "simulated",
		"--time-scale", "20",
		"--format", "json",
		"--marks", marks,
		"--quiet",
		"--log-level", "error")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("expected JSON on stdout: %v\n%s", err, out)
	}
	runInfo := parsed["run_info"].(map[string]interface{})
	if runInfo["scenario"] != "rewind" {
		t.Errorf("expected scenario rewind, got %v", runInfo["scenario"])
	}
	if runInfo["clock_mode"] != "simulated" {
		t.Errorf("expected simulated clock, got %v", runInfo["clock_mode"])
	}

	// One timeline: the base path is used as is
	got, err := timeline.ReadCSV(marks)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 marks, got %d", len(got))
	}
}

func TestRunCommandRejectsBadFlags(t *testing.T) {
	if _, err := execute(t, "run", "rewind", "--clock", "sideways", "--quiet"); err == nil {
		t.Error("expected error for unknown clock mode")
	}
	if _, err := execute(t, "run"); err == nil {
		t.Error("expected error without a scenario argument")
	}
}
