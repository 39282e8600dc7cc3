package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spritejs/sprite-timeline/internal/scenario"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario>...",
	Short: "Validate scenario files",
	Long: `Parse and validate scenario files or presets without running them.

Examples:
  timeline validate ./scenarios/*.yaml
  timeline validate fork rewind
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List built-in scenarios",
	Args:  cobra.NoArgs,
	RunE:  runPresets,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, name := range args {
		scn, err := scenario.Load(name)
		if err != nil {
			fmt.Fprintf(out, "FAIL  %s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "OK    %s (%d timelines, %d steps, %s)\n",
			name, len(scn.Timelines), len(scn.Steps), scn.Duration)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios invalid", failed, len(args))
	}
	return nil
}

func runPresets(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range scenario.Presets() {
		scn, err := scenario.Load(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-20s %s\n", name, scn.Description)
	}
	return nil
}
