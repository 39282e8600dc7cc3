package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spritejs/sprite-timeline/internal/timeline"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one finished scenario run.
type RunRecord struct {
	Scenario  string
	ClockMode string
	StartedAt time.Time
	Duration  time.Duration
	Firings   int64
	Suspended int64
	// Report is the JSON run report, stored as-is.
	Report []byte
	// Marks holds each timeline's history, keyed by timeline name.
	Marks map[string][]timeline.TimeMark
}

// RunSummary is a stored run without its marks.
type RunSummary struct {
	ID        int64
	Scenario  string
	ClockMode string
	StartedAt time.Time
	Duration  time.Duration
	Firings   int64
	Suspended int64
	Marks     int64
}

// Store reads and writes runs.
type Store struct {
	pool *Pool
}

// NewStore creates a Store on pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// CreateSchema creates the run tables.
func (s *Store) CreateSchema(ctx context.Context) error {
	ddl := `
		-- One row per scenario run
		CREATE TABLE IF NOT EXISTS timeline_runs (
			id BIGSERIAL PRIMARY KEY,
			scenario VARCHAR(200) NOT NULL,
			clock_mode VARCHAR(20) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms DOUBLE PRECISION NOT NULL,
			firings BIGINT NOT NULL DEFAULT 0,
			suspended BIGINT NOT NULL DEFAULT 0,
			report JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		-- Mark history of every timeline in a run
		CREATE TABLE IF NOT EXISTS timeline_marks (
			run_id BIGINT NOT NULL REFERENCES timeline_runs(id) ON DELETE CASCADE,
			timeline VARCHAR(100) NOT NULL,
			idx INTEGER NOT NULL,
			global_time DOUBLE PRECISION NOT NULL,
			local_time DOUBLE PRECISION NOT NULL,
			entropy DOUBLE PRECISION NOT NULL,
			playback_rate DOUBLE PRECISION NOT NULL,
			parent_entropy DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, timeline, idx)
		);

		CREATE INDEX IF NOT EXISTS idx_timeline_runs_started ON timeline_runs(started_at DESC);
	`

	if err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating run schema: %w", err)
	}
	return nil
}

// DropSchema drops the run tables.
func (s *Store) DropSchema(ctx context.Context) error {
	ddl := `
		DROP TABLE IF EXISTS timeline_marks CASCADE;
		DROP TABLE IF EXISTS timeline_runs CASCADE;
	`

	if err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("dropping run schema: %w", err)
	}
	return nil
}

// SaveRun stores a run and loads its marks with COPY in one transaction.
// It returns the new run id.
func (s *Store) SaveRun(ctx context.Context, run RunRecord) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var report any
	if len(run.Report) > 0 {
		report = string(run.Report)
	}

	var runID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO timeline_runs (scenario, clock_mode, started_at, duration_ms, firings, suspended, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		run.Scenario, run.ClockMode, run.StartedAt,
		float64(run.Duration)/float64(time.Millisecond),
		run.Firings, run.Suspended, report,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	pr, pw := io.Pipe()

	errCh := make(chan error, 1)
	go func() {
		err := writeMarksCSV(pw, runID, run.Marks)
		pw.CloseWithError(err)
		errCh <- err
	}()

	copySQL := `COPY timeline_marks (run_id, timeline, idx, global_time, local_time, entropy, playback_rate, parent_entropy) FROM STDIN WITH (FORMAT csv)`

	_, err = conn.Conn().PgConn().CopyFrom(ctx, pr, copySQL)
	if err != nil {
		pr.CloseWithError(err)
		<-errCh
		return 0, fmt.Errorf("COPY timeline_marks: %w", err)
	}

	if genErr := <-errCh; genErr != nil {
		return 0, fmt.Errorf("generating marks data: %w", genErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing run: %w", err)
	}

	return runID, nil
}

// writeMarksCSV writes COPY rows for every timeline, in name order.
func writeMarksCSV(w io.Writer, runID int64, marks map[string][]timeline.TimeMark) error {
	names := make([]string, 0, len(marks))
	for name := range marks {
		names = append(names, name)
	}
	sort.Strings(names)

	cw := csv.NewWriter(w)
	id := strconv.FormatInt(runID, 10)
	for _, name := range names {
		for i, m := range marks[name] {
			row := []string{
				id,
				name,
				strconv.Itoa(i),
				formatFloat(m.GlobalTime),
				formatFloat(m.LocalTime),
				formatFloat(m.Entropy),
				formatFloat(m.PlaybackRate),
				formatFloat(m.ParentEntropy),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// LoadMarks returns the stored history of one timeline of a run.
func (s *Store) LoadMarks(ctx context.Context, runID int64, name string) ([]timeline.TimeMark, error) {
	rows, err := s.pool.pool.Query(ctx, `
		SELECT global_time, local_time, entropy, playback_rate, parent_entropy
		FROM timeline_marks
		WHERE run_id = $1 AND timeline = $2
		ORDER BY idx`, runID, name)
	if err != nil {
		return nil, fmt.Errorf("querying marks: %w", err)
	}

	marks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (timeline.TimeMark, error) {
		var m timeline.TimeMark
		err := row.Scan(&m.GlobalTime, &m.LocalTime, &m.Entropy, &m.PlaybackRate, &m.ParentEntropy)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning marks: %w", err)
	}
	return marks, nil
}

// Timelines returns the timeline names stored for a run.
func (s *Store) Timelines(ctx context.Context, runID int64) ([]string, error) {
	rows, err := s.pool.pool.Query(ctx, `
		SELECT DISTINCT timeline FROM timeline_marks
		WHERE run_id = $1
		ORDER BY timeline`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying timelines: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning timelines: %w", err)
	}
	return names, nil
}

const runSummarySQL = `
	SELECT r.id, r.scenario, r.clock_mode, r.started_at, r.duration_ms, r.firings, r.suspended,
		(SELECT COUNT(*) FROM timeline_marks m WHERE m.run_id = r.id)
	FROM timeline_runs r`

func scanRunSummary(row pgx.CollectableRow) (RunSummary, error) {
	var (
		r          RunSummary
		durationMs float64
	)
	err := row.Scan(&r.ID, &r.Scenario, &r.ClockMode, &r.StartedAt, &durationMs, &r.Firings, &r.Suspended, &r.Marks)
	r.Duration = time.Duration(durationMs * float64(time.Millisecond))
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.pool.Query(ctx, runSummarySQL+`
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRunSummary)
	if err != nil {
		return nil, fmt.Errorf("scanning runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*RunSummary, error) {
	rows, err := s.pool.pool.Query(ctx, runSummarySQL+`
		WHERE r.id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run, err := pgx.CollectOneRow(rows, scanRunSummary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return &run, nil
}
