package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/spritejs/sprite-timeline/internal/clock"
	"github.com/spritejs/sprite-timeline/internal/database"
	"github.com/spritejs/sprite-timeline/internal/metrics"
	"github.com/spritejs/sprite-timeline/internal/report"
	"github.com/spritejs/sprite-timeline/internal/scenario"
)

// RunConfig holds the run command flags. Flags left unset fall back to the
// configuration file.
type RunConfig struct {
	Clock     string
	TimeScale int
	Output    string
	Format    string
	Marks     string
	Events    bool
	Save      bool
	Quiet     bool
	Progress  time.Duration
}

var runCfg RunConfig

var runCmd = &cobra.Command{
	Use:   "run <scenario>",
	Short: "Run a scenario",
	Long: `Run a scenario file or built-in preset and report how every timer fired.

The scenario argument is a YAML file path or a preset name; presets are
looked up in ./scenarios and ../scenarios before the built-in ones.

Clocks:
  real       - steps and timers follow the wall clock (default)
  simulated  - the clock runs --time-scale times faster than the wall clock

Examples:
  # Run a preset
  timeline run rewind

  # Run a file on a 100x clock, print every event
  timeline run ./scenarios/soak.yaml --clock simulated --time-scale 100 --events

  # Write the JSON report and each timeline's marks
  timeline run fork --output fork.json --marks fork-marks.csv

  # Store the run in PostgreSQL
  timeline run fork --save
`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateRunFlags,
	RunE:    runScenario,
}

func init() {
	runCmd.Flags().StringVar(&runCfg.Clock, "clock", "", "clock mode: 'real' or 'simulated' (overrides config)")
	runCmd.Flags().IntVar(&runCfg.TimeScale, "time-scale", 1, "simulated clock speed-up factor")
	runCmd.Flags().StringVarP(&runCfg.Output, "output", "o", "", "JSON report file")
	runCmd.Flags().StringVar(&runCfg.Format, "format", "", "stdout format: 'text' or 'json' (overrides config)")
	runCmd.Flags().StringVar(&runCfg.Marks, "marks", "", "CSV file for mark histories, one file per timeline")
	runCmd.Flags().BoolVar(&runCfg.Events, "events", false, "print every recorded event")
	runCmd.Flags().BoolVar(&runCfg.Save, "save", false, "store the run in PostgreSQL")
	runCmd.Flags().BoolVarP(&runCfg.Quiet, "quiet", "q", false, "suppress progress output")
	runCmd.Flags().DurationVar(&runCfg.Progress, "progress", 5*time.Second, "progress report interval (0 disables)")
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	applyFlagsToConfig(cmd)

	if err := appCfg.Validate(); err != nil {
		return err
	}

	if !appCfg.Clock.Simulated() && cmd.Flags().Changed("time-scale") {
		logProgress("Warning: --time-scale is ignored with the real clock")
	}
	if runCfg.Progress < 0 {
		return fmt.Errorf("--progress must not be negative")
	}

	return nil
}

func applyFlagsToConfig(cmd *cobra.Command) {
	if runCfg.Clock != "" {
		appCfg.Clock.Mode = runCfg.Clock
	}
	if cmd.Flags().Changed("time-scale") {
		appCfg.Clock.TimeScale = runCfg.TimeScale
	}
	if runCfg.Output != "" {
		appCfg.Output.File = runCfg.Output
	}
	if runCfg.Format != "" {
		appCfg.Output.Format = runCfg.Format
	}
	if runCfg.Marks != "" {
		appCfg.Output.MarksFile = runCfg.Marks
	}
}

func runScenario(cmd *cobra.Command, args []string) error {
	scn, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New(appCfg.Clock.Simulated(), time.Now(), appCfg.Clock.TimeScale)
	defer clk.Stop()

	collector := metrics.NewCollector(clk)
	runner, err := scenario.NewRunner(scn, clk,
		scenario.WithLogger(logger),
		scenario.WithMetrics(collector))
	if err != nil {
		return err
	}

	logProgress("timeline %s - Scenario Runner", Version)
	logProgress("================================")
	logProgress("Scenario: %s (%d timelines, %d steps)", scn.Name, len(scn.Timelines), len(scn.Steps))
	logProgress("Duration: %s on the %s clock (%dx)", scn.Duration, clockMode(clk), clk.TimeScale())

	progressCtx, stopProgress := context.WithCancel(ctx)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		reportProgress(progressCtx, clk, collector, scn.Duration)
	}()

	res, err := runner.Run(ctx)
	stopProgress()
	<-progressDone

	cancelled := errors.Is(err, context.Canceled)
	if err != nil && !cancelled {
		return fmt.Errorf("running scenario: %w", err)
	}
	if cancelled {
		logProgress("Run cancelled after %s", res.Elapsed.Round(time.Millisecond))
	}

	rpt := report.GenerateReport(report.RunInfo{
		StartTime:   res.StartTime,
		EndTime:     clk.Now(),
		Duration:    res.Elapsed,
		Scenario:    scn.Name,
		Description: scn.Description,
		ClockMode:   clockMode(clk),
		TimeScale:   clk.TimeScale(),
		Cancelled:   cancelled,
	}, res)

	if appCfg.Output.MarksFile != "" {
		paths, err := writeMarks(appCfg.Output.MarksFile, res)
		if err != nil {
			return err
		}
		for _, p := range paths {
			logProgress("Marks written to %s", p)
		}
	}

	if runCfg.Save {
		info, err := saveRun(rpt, res)
		if err != nil {
			return err
		}
		rpt.WithSystemInfo(info)
		logProgress("Run stored as #%d in %s", info.RunID, info.DatabaseTarget)
	}

	if appCfg.Output.File != "" {
		if err := rpt.WriteToFile(appCfg.Output.File); err != nil {
			return err
		}
	}

	return printReport(cmd, rpt, res)
}

func printReport(cmd *cobra.Command, rpt *report.Report, res *scenario.Result) error {
	if appCfg.Output.Format == "json" {
		data, err := rpt.ToJSON()
		if err != nil {
			return fmt.Errorf("serializing report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	formatter := report.NewConsoleFormatter().
		WithWriter(out).
		WithReportPath(appCfg.Output.File)
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		formatter.WithNoColor(true)
	}
	if runCfg.Events {
		formatter.PrintEvents(res.Events)
		fmt.Fprintln(out)
	}
	formatter.PrintSummary(rpt)
	return nil
}

// clockMode names the kind of clock a run used.
func clockMode(clk clock.Clock) string {
	if clk.IsSimulated() {
		return "simulated"
	}
	return "real"
}

// marksPath returns the CSV path for one timeline. With several timelines
// the timeline name is appended to the base name.
func marksPath(base, name string, multi bool) string {
	if !multi {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + name + ext
}

func writeMarks(base string, res *scenario.Result) ([]string, error) {
	multi := len(res.Final) > 1
	paths := make([]string, 0, len(res.Final))

	for _, state := range res.Final {
		path := marksPath(base, state.Name, multi)
		if err := writeMarksFile(path, res.Marks[state.Name]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func saveRun(rpt *report.Report, res *scenario.Result) (*report.SystemInfo, error) {
	// The run context may already be cancelled by a signal.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	if err := store.CreateSchema(ctx); err != nil {
		return nil, err
	}

	data, err := rpt.ToJSONCompact()
	if err != nil {
		return nil, fmt.Errorf("serializing report: %w", err)
	}

	id, err := store.SaveRun(ctx, database.RunRecord{
		Scenario:  rpt.RunInfo.Scenario,
		ClockMode: rpt.RunInfo.ClockMode,
		StartedAt: rpt.RunInfo.StartTime,
		Duration:  rpt.RunInfo.Duration,
		Firings:   rpt.Summary.Firings,
		Suspended: rpt.Summary.Suspended,
		Report:    data,
		Marks:     res.Marks,
	})
	if err != nil {
		return nil, err
	}

	return &report.SystemInfo{DatabaseTarget: pool.Target(), RunID: id}, nil
}

// reportProgress logs elapsed clock time and drift counters every
// runCfg.Progress of wall time until ctx is done.
func reportProgress(ctx context.Context, clk clock.Clock, collector *metrics.Collector, total time.Duration) {
	if runCfg.Progress <= 0 || runCfg.Quiet {
		return
	}

	start := clk.Now()
	ticker := time.NewTicker(runCfg.Progress)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.Done():
			return
		case <-ticker.C:
			snap := collector.GetSnapshot()
			elapsed := clk.Since(start)
			pct := float64(elapsed) / float64(total) * 100
			if pct > 100 {
				pct = 100
			}
			logProgress("[%5.1f%%] %s elapsed, %d firings measured, %.2f%% on time",
				pct,
				elapsed.Round(time.Millisecond),
				snap.TotalMeasured(),
				snap.OnTimeRate())
		}
	}
}

func logProgress(format string, args ...interface{}) {
	if runCfg.Quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
