package cmd

import (
	"fmt"
	"os"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/iocache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dbCmd focused on run store management.
//
// Note: db subcommands use storeSetup instead of the full sharedSetup.
// This avoids building git sources and the completer for simple store operations.
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the run store (runs, units, reviews, reports, diff cache)",
	Long: `Manage the database holding runs and everything derived from them.

Supported backends: SQLite (default), MySQL, PostgreSQL

Subcommands:
  status  - Show row counts and connection info
  migrate - Run database schema migrations

Examples:
  # Check store status
  devyear db status

  # Migrate a PostgreSQL store (set connection string via env variable)
  DEVYEAR_DB_BACKEND=postgresql DEVYEAR_DB_CONNECT="postgres://..." devyear db migrate`,
}

// dbStatusCmd shows store status.
var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display store statistics and connection details",
	Long: `Show the backend, connection status and row counts of the run store,
including runs per status and cached diffs.`,
	PreRunE: storeSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		status, err := store.Status(rootCtx)
		if err != nil {
			return fmt.Errorf("failed to get store status: %w", err)
		}
		iocache.PrintStoreStatus(os.Stdout, status)
		return nil
	},
}

// dbMigrateCmd runs database migrations for the run store.
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions for the run store.

Every command migrates to the latest version on startup, so this is only
needed to roll back or to prepare a server database ahead of a deploy.

Examples:
  # Migrate to latest version
  devyear db migrate

  # Roll back everything
  devyear db migrate --target-version 0`,
	// Migrations must run on a fresh or dirty database, so the store is not opened.
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		connStr := cfg.DBConnect
		if connStr == "" {
			connStr = contract.GetDBFilePath()
		}
		result, err := iocache.Migrate(cfg.Backend, connStr, viper.GetInt("target-version"))
		if err != nil {
			return err
		}
		if !result.Changed {
			fmt.Printf("Database already at version %d. No changes applied.\n", result.To)
			return nil
		}
		fmt.Printf("Migrated %s store from version %d to %d.\n", cfg.Backend, result.From, result.To)
		return nil
	},
}

// exportCmd exports runs and work units to Parquet files.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export runs and work units to Parquet for BI tools and analytics",
	Long: `Export stored runs and their work units to Parquet files.

Writes two files next to --output-file:
  <output-file>.runs.parquet       - one row per run
  <output-file>.work_units.parquet - one row per work unit

Examples:
  devyear export --output-file reviews --year 2024
  duckdb -c "SELECT repo, avg(impact_score) FROM 'reviews.work_units.parquet' GROUP BY 1"`,
	PreRunE: storeSetup,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter, err := runFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		return iocache.ExecuteExport(rootCtx, store, filter, cfg.OutputFile, os.Stderr)
	},
}
