package timeline

import "testing"

func marksAt(entropies ...float64) history {
	h := newHistory(TimeMark{Entropy: entropies[0], PlaybackRate: 1})
	for _, e := range entropies[1:] {
		h.append(TimeMark{Entropy: e, PlaybackRate: 1})
	}
	return h
}

func TestHistory_Seek(t *testing.T) {
	h := marksAt(0, 10, 20, 30, 40)

	tests := []struct {
		entropy float64
		want    int
	}{
		{-5, 0},
		{0, 0},
		{5, 0},
		{10, 1},
		{15, 1},
		{20, 2},
		{29, 2},
		{35, 3},
		{40, 4},
		{100, 4},
	}

	for _, tt := range tests {
		if got := h.seek(tt.entropy); got != tt.want {
			t.Errorf("seek(%v): expected %d, got %d", tt.entropy, tt.want, got)
		}
	}
}

func TestHistory_SeekSingleMark(t *testing.T) {
	h := marksAt(7)

	for _, e := range []float64{-1, 7, 100} {
		if got := h.seek(e); got != 0 {
			t.Errorf("seek(%v): expected 0, got %d", e, got)
		}
	}
}

func TestHistory_TruncateAndAppend(t *testing.T) {
	h := marksAt(0, 10, 20, 30)

	h.truncateAndAppend(15, TimeMark{Entropy: 15})

	if h.len() != 3 {
		t.Fatalf("expected 3 marks, got %d", h.len())
	}
	if h.at(1).Entropy != 10 || h.last().Entropy != 15 {
		t.Errorf("unexpected history %+v", h.snapshot())
	}
}

func TestHistory_TruncateAtExactMark(t *testing.T) {
	h := marksAt(0, 10, 20)

	h.truncateAndAppend(10, TimeMark{Entropy: 10})

	if h.len() != 3 {
		t.Fatalf("expected 3 marks, got %d", h.len())
	}
	if got := h.seek(10); got != 1 && got != 2 {
		t.Errorf("expected seek to land on an entropy-10 mark, got %d", got)
	}
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := marksAt(0, 10)

	snap := h.snapshot()
	snap[0].Entropy = 99

	if h.at(0).Entropy != 0 {
		t.Error("expected snapshot to be independent of the history")
	}
}
