package timeline

// TimeMark is a snapshot of the global/local/entropy mapping recorded
// whenever the rate, local time or entropy of a timeline is written.
type TimeMark struct {
	GlobalTime   float64 `json:"global_time"`
	LocalTime    float64 `json:"local_time"`
	Entropy      float64 `json:"entropy"`
	PlaybackRate float64 `json:"playback_rate"`
	// ParentEntropy is the parent's entropy when the mark was taken.
	// Always zero on a root timeline.
	ParentEntropy float64 `json:"parent_entropy"`
}

// history is the ordered log of marks, sorted by non-decreasing entropy.
// It is never empty once seeded.
type history struct {
	marks []TimeMark
}

func newHistory(seed TimeMark) history {
	return history{marks: []TimeMark{seed}}
}

func (h *history) len() int {
	return len(h.marks)
}

func (h *history) at(i int) TimeMark {
	return h.marks[i]
}

// last returns a pointer to the active mark so that a rate change can
// rewrite it in place.
func (h *history) last() *TimeMark {
	return &h.marks[len(h.marks)-1]
}

// append pushes a mark. Callers guarantee m.Entropy >= last().Entropy.
func (h *history) append(m TimeMark) {
	h.marks = append(h.marks, m)
}

// seek returns the index of the mark governing entropy: the last mark
// whose entropy does not exceed it, an exact match, or the nearest end.
func (h *history) seek(entropy float64) int {
	l, r := 0, len(h.marks)-1

	if entropy <= h.marks[l].Entropy {
		return l
	}
	if entropy >= h.marks[r].Entropy {
		return r
	}

	m := (l + r) / 2
	for m > l && m < r {
		switch {
		case entropy == h.marks[m].Entropy:
			return m
		case entropy < h.marks[m].Entropy:
			r = m
		default:
			l = m
		}
		m = (l + r) / 2
	}
	return l
}

// truncateAndAppend discards every mark after the one bounding cut and
// appends m. A bounding mark that itself lies beyond cut (cut precedes the
// whole history) is discarded too. This is the only way history shrinks.
func (h *history) truncateAndAppend(cut float64, m TimeMark) {
	idx := h.seek(cut)
	keep := idx + 1
	if h.marks[idx].Entropy > cut {
		keep = idx
	}
	h.marks = append(h.marks[:keep], m)
}

// snapshot returns a copy of the marks.
func (h *history) snapshot() []TimeMark {
	out := make([]TimeMark, len(h.marks))
	copy(out, h.marks)
	return out
}
