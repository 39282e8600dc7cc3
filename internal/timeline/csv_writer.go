package timeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// CSVWriter writes mark histories to a CSV file.
type CSVWriter struct {
	file    *os.File
	writer  *csv.Writer
	written int64
	mu      sync.Mutex
}

// CSV headers for mark export.
var markHeaders = []string{
	"index",
	"global_time",
	"local_time",
	"entropy",
	"playback_rate",
	"parent_entropy",
}

// NewCSVWriter creates a new CSV writer for the specified path.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: csv.NewWriter(f),
	}, nil
}

// WriteHeader writes the CSV header row.
func (w *CSVWriter) WriteHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(markHeaders); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	w.writer.Flush()
	return w.writer.Error()
}

// WriteMark writes a single mark as a CSV row.
func (w *CSVWriter) WriteMark(index int, m TimeMark) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(markToRow(index, m)); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	w.written++
	return nil
}

// WriteAll writes a whole history, indexed from 0.
func (w *CSVWriter) WriteAll(marks []TimeMark) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, m := range marks {
		if err := w.writer.Write(markToRow(i, m)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		w.written++
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Flush flushes the CSV writer buffer to disk.
func (w *CSVWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the CSV file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Written returns the number of marks written.
func (w *CSVWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func markToRow(index int, m TimeMark) []string {
	return []string{
		strconv.Itoa(index),
		formatMs(m.GlobalTime),
		formatMs(m.LocalTime),
		formatMs(m.Entropy),
		formatMs(m.PlaybackRate),
		formatMs(m.ParentEntropy),
	}
}

func rowToMark(row []string) (TimeMark, error) {
	if len(row) < len(markHeaders) {
		return TimeMark{}, fmt.Errorf("row has %d columns, need %d", len(row), len(markHeaders))
	}

	var (
		m      TimeMark
		fields = []*float64{&m.GlobalTime, &m.LocalTime, &m.Entropy, &m.PlaybackRate, &m.ParentEntropy}
	)
	for i, dst := range fields {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return m, fmt.Errorf("invalid %s: %w", markHeaders[i+1], err)
		}
		*dst = v
	}
	return m, nil
}

// ReadCSV reads a mark history written by CSVWriter.
func ReadCSV(path string) ([]TimeMark, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(records) < 2 {
		return nil, nil // Empty file or header only
	}
	records = records[1:]

	marks := make([]TimeMark, 0, len(records))
	for i, row := range records {
		m, err := rowToMark(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		marks = append(marks, m)
	}

	return marks, nil
}
