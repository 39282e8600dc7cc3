package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritejs/sprite-timeline/internal/database"
	"github.com/spritejs/sprite-timeline/internal/timeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect stored runs",
	Long:  "List and show scenario runs stored with 'timeline run --save'.",
}

var historyCfg struct {
	Limit    int
	Timeline string
	CSV      string
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run and its mark histories",
	Long: `Show a stored run and the mark history of each of its timelines.

Examples:
  timeline history show 12
  timeline history show 12 --timeline child
  timeline history show 12 --timeline child --csv child-marks.csv
`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryShow,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyListCmd.Flags().IntVarP(&historyCfg.Limit, "limit", "n", 20, "maximum number of runs")
	historyShowCmd.Flags().StringVar(&historyCfg.Timeline, "timeline", "", "only show this timeline")
	historyShowCmd.Flags().StringVar(&historyCfg.CSV, "csv", "", "write the timeline's marks to a CSV file (requires --timeline)")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	runs, err := store.ListRuns(ctx, historyCfg.Limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No stored runs. Use 'timeline run <scenario> --save' to store one.")
		return nil
	}

	printRunHeader(out)
	for _, r := range runs {
		printRunRow(out, r)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	runID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}
	if historyCfg.CSV != "" && historyCfg.Timeline == "" {
		return fmt.Errorf("--csv requires --timeline")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printRunHeader(out)
	printRunRow(out, *run)
	fmt.Fprintln(out)

	names := []string{historyCfg.Timeline}
	if historyCfg.Timeline == "" {
		if names, err = store.Timelines(ctx, runID); err != nil {
			return err
		}
	}

	for _, name := range names {
		marks, err := store.LoadMarks(ctx, runID, name)
		if err != nil {
			return err
		}
		printMarks(out, name, marks)
	}

	if historyCfg.CSV != "" {
		marks, err := store.LoadMarks(ctx, runID, historyCfg.Timeline)
		if err != nil {
			return err
		}
		if err := writeMarksFile(historyCfg.CSV, marks); err != nil {
			return err
		}
		fmt.Fprintf(out, "Marks written to %s\n", historyCfg.CSV)
	}

	return nil
}

func printRunHeader(w io.Writer) {
	fmt.Fprintf(w, "%6s  %-20s  %-9s  %-19s  %10s  %7s  %9s  %6s\n",
		"ID", "SCENARIO", "CLOCK", "STARTED", "DURATION", "FIRINGS", "SUSPENDED", "MARKS")
}

func printRunRow(w io.Writer, r database.RunSummary) {
	name := r.Scenario
	if len(name) > 20 {
		name = name[:17] + "..."
	}
	fmt.Fprintf(w, "%6d  %-20s  %-9s  %-19s  %10s  %7d  %9d  %6d\n",
		r.ID,
		name,
		r.ClockMode,
		r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Firings,
		r.Suspended,
		r.Marks)
}

func printMarks(w io.Writer, name string, marks []timeline.TimeMark) {
	fmt.Fprintf(w, "Timeline %s (%d marks)\n", name, len(marks))
	fmt.Fprintf(w, "  %4s  %14s  %14s  %14s  %14s  %8s\n",
		"#", "GLOBAL", "LOCAL", "ENTROPY", "PARENT_ENTROPY", "RATE")
	for i, m := range marks {
		fmt.Fprintf(w, "  %4d  %14g  %14g  %14g  %14g  %8g\n",
			i, m.GlobalTime, m.LocalTime, m.Entropy, m.ParentEntropy, m.PlaybackRate)
	}
	fmt.Fprintln(w)
}

func writeMarksFile(path string, marks []timeline.TimeMark) error {
	w, err := timeline.NewCSVWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(); err != nil {
		w.Close()
		return err
	}
	if err := w.WriteAll(marks); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
