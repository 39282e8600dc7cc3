package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spritejs/sprite-timeline/internal/scenario"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Box-drawing Unicode characters
const (
	boxHorizontal    = "─"
	boxVertical      = "│"
	boxTopLeft       = "┌"
	boxTopRight      = "┐"
	boxBottomLeft    = "└"
	boxBottomRight   = "┘"
	boxVerticalRight = "├"
	boxVerticalLeft  = "┤"
)

// ConsoleFormatter formats reports for console output.
type ConsoleFormatter struct {
	writer     io.Writer
	noColor    bool
	reportPath string
}

// NewConsoleFormatter creates a new console formatter.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// WithWriter sets a custom writer (useful for testing).
func (cf *ConsoleFormatter) WithWriter(w io.Writer) *ConsoleFormatter {
	cf.writer = w
	return cf
}

// WithReportPath sets the path to the JSON report file.
func (cf *ConsoleFormatter) WithReportPath(path string) *ConsoleFormatter {
	cf.reportPath = path
	return cf
}

// WithNoColor disables color output.
func (cf *ConsoleFormatter) WithNoColor(noColor bool) *ConsoleFormatter {
	cf.noColor = noColor
	return cf
}

// PrintSummary prints a formatted summary of the report.
func (cf *ConsoleFormatter) PrintSummary(report *Report) {
	if report == nil {
		return
	}

	cf.printHeader(report)
	cf.printSummarySection(report)
	cf.printTimelineTable(report)
	cf.printDriftTable(report)
	cf.printErrors(report)
	cf.printFooter()
}

// PrintEvents prints one line per recorded event.
func (cf *ConsoleFormatter) PrintEvents(events []scenario.Event) {
	header := fmt.Sprintf("%10s  %-6s %-12s %-12s %-10s %12s %12s %6s %8s",
		"Offset", "Kind", "Timeline", "Action", "Timer", "Local", "Entropy", "Rate", "Drift")
	cf.println(cf.dim(header))

	for _, e := range events {
		drift := ""
		if e.Drift != nil {
			drift = cf.colorizeOnTime(fmt.Sprintf("%+g", *e.Drift), onTimePct(*e.Drift))
		}
		line := fmt.Sprintf("%10s  %-6s %-12s %-12s %-10s %12s %12s %6s %8s",
			formatOffset(e.Offset),
			e.Kind,
			truncateString(e.Timeline, 12),
			truncateString(string(e.Action), 12),
			truncateString(e.TimerID, 10),
			formatMs(e.LocalTime),
			formatMs(e.Entropy),
			formatMs(e.PlaybackRate),
			drift)
		if e.Error != "" {
			line += "  " + cf.red(e.Error)
		}
		cf.println(line)
	}
}

func (cf *ConsoleFormatter) printHeader(report *Report) {
	width := 70

	// Top border
	cf.println(cf.boxLine(boxTopLeft, boxHorizontal, boxTopRight, width))

	// Title
	title := " sprite-timeline - Run Results "
	cf.println(cf.boxRow(cf.bold(cf.cyan(title)), width))

	// Separator
	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	cf.println(cf.boxRow(fmt.Sprintf("  Scenario: %s", cf.bold(report.RunInfo.Scenario)), width))
	if report.RunInfo.Description != "" {
		cf.println(cf.boxRow("  "+cf.dim(truncateString(report.RunInfo.Description, width-4)), width))
	}

	cf.println(cf.boxRow(fmt.Sprintf("  Duration: %s    Clock: %s    Time Scale: %dx",
		cf.bold(formatDuration(report.RunInfo.Duration)),
		report.RunInfo.ClockMode,
		report.RunInfo.TimeScale), width))

	if report.RunInfo.Cancelled {
		cf.println(cf.boxRow("  "+cf.yellow("Run cancelled before its end"), width))
	}
}

func (cf *ConsoleFormatter) printSummarySection(report *Report) {
	width := 70

	// Separator
	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	// Section title
	cf.println(cf.boxRow(cf.bold("  Summary"), width))
	cf.println(cf.boxRow("", width))

	steps := formatNumber(report.Summary.Steps)
	if report.Summary.FailedSteps > 0 {
		steps += " (" + cf.red(formatNumber(report.Summary.FailedSteps)+" failed") + ")"
	}
	cf.println(cf.boxRow(fmt.Sprintf("  Steps:          %s", steps), width))

	cf.println(cf.boxRow(fmt.Sprintf("  Firings:        %s",
		cf.bold(formatNumber(report.Summary.Firings))), width))

	onTime := fmt.Sprintf("%.2f%%", report.Summary.OnTimeRate)
	cf.println(cf.boxRow(fmt.Sprintf("  On Time:        %s",
		cf.colorizeOnTime(onTime, report.Summary.OnTimeRate)), width))

	cf.println(cf.boxRow(fmt.Sprintf("  Max Drift:      %sms",
		formatMs(report.Summary.MaxDriftMs)), width))

	if report.Summary.Suspended > 0 {
		cf.println(cf.boxRow(fmt.Sprintf("  Suspensions:    %s",
			formatNumber(report.Summary.Suspended)), width))
	}
	if report.Summary.PendingTimers > 0 {
		cf.println(cf.boxRow(fmt.Sprintf("  Pending Timers: %s",
			formatNumber(report.Summary.PendingTimers)), width))
	}
	if report.Summary.Samples > 0 {
		cf.println(cf.boxRow(fmt.Sprintf("  Samples:        %s",
			formatNumber(report.Summary.Samples)), width))
	}
}

func (cf *ConsoleFormatter) printTimelineTable(report *Report) {
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))
	cf.println(cf.boxRow(cf.bold("  Timelines"), width))
	cf.println(cf.boxRow("", width))

	header := fmt.Sprintf("  %-14s %-10s %10s %10s %6s %5s %5s",
		"Name", "Parent", "Local", "Entropy", "Rate", "Marks", "Tmrs")
	cf.println(cf.boxRow(cf.dim(header), width))
	cf.println(cf.boxRow("  "+strings.Repeat("─", 66), width))

	for _, tl := range report.Timelines {
		row := fmt.Sprintf("  %-14s %-10s %10s %10s %6s %5d %5d",
			truncateString(tl.Name, 14),
			truncateString(tl.Parent, 10),
			formatMs(tl.LocalTime),
			formatMs(tl.Entropy),
			formatMs(tl.PlaybackRate),
			tl.Marks,
			tl.PendingTimers)
		cf.println(cf.boxRow(row, width))
	}
}

func (cf *ConsoleFormatter) printDriftTable(report *Report) {
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))
	cf.println(cf.boxRow(cf.bold("  Drift (virtual ms)"), width))
	cf.println(cf.boxRow("", width))

	if len(report.Drift) == 0 {
		cf.println(cf.boxRow("  No timer firings recorded", width))
		return
	}

	header := fmt.Sprintf("  %-18s %7s %8s %8s %8s %8s",
		"Kind", "Count", "Avg", "p50", "p99", "Max")
	cf.println(cf.boxRow(cf.dim(header), width))
	cf.println(cf.boxRow("  "+strings.Repeat("─", 62), width))

	for _, kind := range report.DriftKinds() {
		d := report.Drift[kind]
		row := fmt.Sprintf("  %-18s %7s %8s %8s %8s %8s",
			truncateString(kind, 18),
			formatNumber(d.Count),
			formatMs(d.MeanMs),
			formatMs(d.P50Ms),
			formatMs(d.P99Ms),
			formatMs(d.MaxMs))
		cf.println(cf.boxRow(row, width))
	}
}

func (cf *ConsoleFormatter) printErrors(report *Report) {
	if len(report.Errors) == 0 {
		return
	}
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))
	cf.println(cf.boxRow(cf.bold(cf.red("  Failed Steps")), width))
	cf.println(cf.boxRow("", width))

	for _, e := range report.Errors {
		line := fmt.Sprintf("  %s %s %s: %s",
			formatOffset(e.Offset), e.Timeline, e.Action, e.Error)
		cf.println(cf.boxRow(truncateString(line, width-2), width))
	}
}

func (cf *ConsoleFormatter) printFooter() {
	width := 70

	// Separator
	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	// Report path
	if cf.reportPath != "" {
		cf.println(cf.boxRow(fmt.Sprintf("  Full report: %s", cf.dim(cf.reportPath)), width))
	}

	// Timestamp
	cf.println(cf.boxRow(fmt.Sprintf("  Generated: %s",
		cf.dim(time.Now().Format("2006-01-02 15:04:05"))), width))

	// Bottom border
	cf.println(cf.boxLine(boxBottomLeft, boxHorizontal, boxBottomRight, width))
}

// Helper methods for box drawing

func (cf *ConsoleFormatter) boxLine(left, fill, right string, width int) string {
	return left + strings.Repeat(fill, width-2) + right
}

func (cf *ConsoleFormatter) boxRow(content string, width int) string {
	// Calculate visible length (excluding ANSI codes)
	visibleLen := cf.visibleLength(content)
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}
	return boxVertical + content + strings.Repeat(" ", padding) + boxVertical
}

func (cf *ConsoleFormatter) visibleLength(s string) int {
	// Remove ANSI escape sequences to calculate visible length
	inEscape := false
	length := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		length++
	}
	return length
}

// Color helper methods

func (cf *ConsoleFormatter) colorize(s string, color string) string {
	if cf.noColor {
		return s
	}
	return color + s + colorReset
}

func (cf *ConsoleFormatter) bold(s string) string {
	return cf.colorize(s, colorBold)
}

func (cf *ConsoleFormatter) dim(s string) string {
	return cf.colorize(s, colorDim)
}

func (cf *ConsoleFormatter) green(s string) string {
	return cf.colorize(s, colorGreen)
}

func (cf *ConsoleFormatter) yellow(s string) string {
	return cf.colorize(s, colorYellow)
}

func (cf *ConsoleFormatter) red(s string) string {
	return cf.colorize(s, colorRed)
}

func (cf *ConsoleFormatter) cyan(s string) string {
	return cf.colorize(s, colorCyan)
}

// colorizeOnTime colors an on-time percentage: green when every measured
// firing landed on target, yellow above 99%, red below.
func (cf *ConsoleFormatter) colorizeOnTime(s string, pct float64) string {
	if pct >= 100 {
		return cf.green(s)
	} else if pct >= 99 {
		return cf.yellow(s)
	}
	return cf.red(s)
}

func (cf *ConsoleFormatter) println(s string) {
	fmt.Fprintln(cf.writer, s)
}

// Formatting helper functions

// formatNumber formats an integer with thousands separators.
// Example: 45230 -> "45,230"
func formatNumber[T int | int64](n T) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}

	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}

	return result.String()
}

// formatDuration formats a duration in a human-readable way.
// Example: 5m0s, 1h30m, 2h0m0s -> "2h"
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}

	d = d.Round(time.Second)

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes == 0 && seconds == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		if seconds == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// truncateString truncates a string to maxLen, adding ellipsis if needed.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatMs formats a virtual millisecond value without trailing zeros,
// rounded to three decimals.
func formatMs(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

// formatOffset formats a run offset in milliseconds.
func formatOffset(d time.Duration) string {
	return formatMs(float64(d.Microseconds())/1000) + "ms"
}

// onTimePct maps a single drift to the percentage colorizeOnTime expects.
func onTimePct(drift float64) float64 {
	if drift == 0 {
		return 100
	}
	return 0
}
