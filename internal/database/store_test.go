package database

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spritejs/sprite-timeline/internal/timeline"
)

func testMarks() map[string][]timeline.TimeMark {
	return map[string][]timeline.TimeMark{
		"child": {
			{GlobalTime: 0, LocalTime: 0, Entropy: 0, PlaybackRate: 3},
		},
		"main": {
			{GlobalTime: 0, LocalTime: 0, Entropy: 0, PlaybackRate: 1},
			{GlobalTime: 100, LocalTime: 100, Entropy: 100, PlaybackRate: -0.5, ParentEntropy: 0},
		},
	}
}

func TestWriteMarksCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMarksCSV(&buf, 7, testMarks()); err != nil {
		t.Fatalf("writeMarksCSV failed: %v", err)
	}

	want := strings.Join([]string{
		"7,child,0,0,0,0,3,0",
		"7,main,0,0,0,0,1,0",
		"7,main,1,100,100,100,-0.5,0",
	}, "\n") + "\n"
	if buf.String() != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, buf.String())
	}
}

func TestWriteMarksCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMarksCSV(&buf, 1, nil); err != nil {
		t.Fatalf("writeMarksCSV failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	skipIfNoPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	pool, err := NewPool(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(pool.Close)

	store := NewStore(pool)
	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	return store, ctx
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, ctx := newTestStore(t)

	run := RunRecord{
		Scenario:  "store-test",
		ClockMode: "simulated",
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
		Duration:  1500 * time.Millisecond,
		Firings:   12,
		Suspended: 2,
		Report:    []byte(`{"ok":true}`),
		Marks:     testMarks(),
	}

	id, err := store.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	marks, err := store.LoadMarks(ctx, id, "main")
	if err != nil {
		t.Fatalf("LoadMarks failed: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}
	if marks[1] != run.Marks["main"][1] {
		t.Errorf("expected %+v, got %+v", run.Marks["main"][1], marks[1])
	}

	names, err := store.Timelines(ctx, id)
	if err != nil {
		t.Fatalf("Timelines failed: %v", err)
	}
	if len(names) != 2 || names[0] != "child" || names[1] != "main" {
		t.Errorf("expected [child main], got %v", names)
	}

	got, err := store.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Scenario != "store-test" || got.Firings != 12 || got.Marks != 3 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Duration != run.Duration {
		t.Errorf("expected duration %v, got %v", run.Duration, got.Duration)
	}

	runs, err := store.ListRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) == 0 {
		t.Error("expected at least one run")
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	store, ctx := newTestStore(t)

	_, err := store.GetRun(ctx, -1)
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
