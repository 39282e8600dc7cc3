package timeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCSVWriter_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.csv")

	tl, _ := buildHistory(t)
	marks := tl.TimeMarks()

	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := w.WriteAll(marks); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if w.Written() != int64(len(marks)) {
		t.Errorf("expected %d written, got %d", len(marks), w.Written())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(got) != len(marks) {
		t.Fatalf("expected %d marks, got %d", len(marks), len(got))
	}
	for i := range marks {
		if got[i] != marks[i] {
			t.Errorf("mark %d: expected %+v, got %+v", i, marks[i], got[i])
		}
	}
}

func TestCSVWriter_WriteMarkFractional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.csv")

	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}
	m := TimeMark{GlobalTime: 0.125, LocalTime: -33.3, Entropy: 1e-3, PlaybackRate: -0.5, ParentEntropy: 12}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := w.WriteMark(0, m); err != nil {
		t.Fatalf("WriteMark failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(got) != 1 || got[0] != m {
		t.Errorf("expected %+v, got %+v", m, got)
	}
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.csv")

	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter failed: %v", err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	w.Close()

	marks, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("expected no marks, got %d", len(marks))
	}
}

func TestReadCSV_BadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marks.csv")
	data := "index,global_time,local_time,entropy,playback_rate,parent_entropy\n0,1,2,x,1,0\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := ReadCSV(path); err == nil {
		t.Error("expected error for malformed entropy")
	}
}
