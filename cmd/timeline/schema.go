package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spritejs/sprite-timeline/internal/database"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Run history schema commands",
	Long:  "Create or drop the PostgreSQL tables that 'run --save' writes to.",
}

var schemaCfg struct {
	Force bool
	Quiet bool
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the run history tables",
	Long: `Create the timeline_runs and timeline_marks tables.

Existing tables are kept. Use --force to drop and recreate them.

Examples:
  timeline schema create
  timeline schema create --force
`,
	RunE: runSchemaCreate,
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the run history tables",
	Long: `Drop the run history tables and every stored run.

Examples:
  timeline schema drop
  timeline schema drop --force  # Skip confirmation
`,
	RunE: runSchemaDrop,
}

func init() {
	schemaCmd.AddCommand(schemaCreateCmd)
	schemaCmd.AddCommand(schemaDropCmd)

	schemaCmd.PersistentFlags().BoolVarP(&schemaCfg.Quiet, "quiet", "q", false, "suppress output")

	schemaCreateCmd.Flags().BoolVarP(&schemaCfg.Force, "force", "f", false, "drop existing tables before creating")
	schemaDropCmd.Flags().BoolVarP(&schemaCfg.Force, "force", "f", false, "skip confirmation prompt")
}

// openStore connects to the configured database. The caller closes the
// returned pool.
func openStore(ctx context.Context) (*database.Pool, *database.Store, error) {
	pool, err := database.NewPool(ctx, &appCfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("database health check failed: %w", err)
	}

	return pool, database.NewStore(pool), nil
}

func schemaLog(format string, args ...interface{}) {
	if schemaCfg.Quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// confirm asks on stderr and reads the answer from stdin.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s Continue? [y/N]: ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "Y"
}

func runSchemaCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	schemaLog("Connected to %s", pool.Target())

	if schemaCfg.Force {
		schemaLog("Dropping existing tables...")
		if err := store.DropSchema(ctx); err != nil {
			schemaLog("Warning: error dropping tables: %v", err)
		}
	}

	schemaLog("Creating run history schema...")
	if err := store.CreateSchema(ctx); err != nil {
		return err
	}

	schemaLog("Schema created successfully")
	return nil
}

func runSchemaDrop(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if !schemaCfg.Force && !confirm("This will permanently delete every stored run.") {
		schemaLog("Aborted")
		return nil
	}

	pool, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	schemaLog("Dropping run history schema...")
	if err := store.DropSchema(ctx); err != nil {
		return err
	}

	schemaLog("Schema dropped successfully")
	return nil
}
