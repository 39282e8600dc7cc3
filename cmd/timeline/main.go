package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spritejs/sprite-timeline/internal/config"
)

// Global flags and state shared by every command.
var (
	configFile string
	logLevel   string

	appCfg *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Virtual clock scenario runner",
	Long: `timeline runs scripted scenarios against virtual clocks: timelines whose
local time can run forward, backward, scaled or frozen, with timers that
fire when local time or entropy reaches their target.

Commands:
  Scenario Execution:
    run         Run a scenario file or built-in preset
    validate    Validate scenario files
    presets     List built-in scenarios

  Run History (PostgreSQL):
    schema create   Create the run history tables
    schema drop     Drop the run history tables
    history list    List stored runs
    history show    Show a stored run and its mark histories

Examples:
  # Run a preset with the real clock
  timeline run rewind

  # Run a scenario file 60x faster and keep the mark histories
  timeline run my-scenario.yaml --clock simulated --time-scale 60 --marks marks.csv

  # Store the run in PostgreSQL
  timeline schema create
  timeline run fork --save
  timeline history list`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	// Scenario commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(presetsCmd)

	// History commands
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(historyCmd)

	// Info commands
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and builds the logger before any command
// runs.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}

	appCfg = cfg
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.LoadConfigWithDefaults(), nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
