// Package cmd defines the command-line interface for devyear.
package cmd

import (
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(unitsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)

	// Add the run subcommands to the parent run command
	runCmd.AddCommand(runCreateCmd)
	runCmd.AddCommand(runStartCmd)
	runCmd.AddCommand(runPauseCmd)
	runCmd.AddCommand(runCancelCmd)
	runCmd.AddCommand(runRetryCmd)
	runCmd.AddCommand(runDeleteCmd)
	runCmd.AddCommand(runStatusCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runRecoverCmd)

	// Add the report subcommands to the parent report command
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportNoteCmd)
	reportCmd.AddCommand(reportFinalizeCmd)

	// Add the db subcommands to the parent db command
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	// Bind all persistent flags of rootCmd to Viper
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("db-backend", string(schema.SQLiteBackend), "Run store backend: sqlite or mysql or postgresql")
	rootCmd.PersistentFlags().String("db-connect", "", "Database connection string (SQLite path, or e.g. user:pass@tcp(host:port)/dbname)")
	rootCmd.PersistentFlags().String("repos-root", ".", "Directory holding one folder per organization with its repository clones")
	rootCmd.PersistentFlags().String("org-settings", "", "Path to the YAML file with per-organization settings")
	rootCmd.PersistentFlags().Int("workers", contract.DefaultWorkers, "Number of repositories processed concurrently")
	rootCmd.PersistentFlags().Int("ai-workers", contract.DefaultAIWorkers, "Number of concurrent AI review calls")
	rootCmd.PersistentFlags().Int("ai-attempts", contract.DefaultAIAttempts, "Attempts per AI call before a unit or stage fails")
	rootCmd.PersistentFlags().Int("diff-attempts", contract.DefaultDiffAttempts, "Attempts per diff fetch before it is marked partial")
	rootCmd.PersistentFlags().String("model", contract.DefaultModel, "Review model when the organization sets none")
	rootCmd.PersistentFlags().String("openai-base-url", "", "Base URL of an OpenAI-compatible API")
	rootCmd.PersistentFlags().Bool("offline", false, "Use the deterministic offline reviewer instead of an LLM")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug or info or warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("output", string(schema.TextOut), "Output format: text or csv or json")
	rootCmd.PersistentFlags().String("output-file", "", "Optional path to write output to")
	rootCmd.PersistentFlags().Int("precision", contract.DefaultPrecision, "Decimal precision for numeric columns")
	rootCmd.PersistentFlags().Int("width", 0, "Terminal width override (0 = auto-detect)")
	rootCmd.PersistentFlags().String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	rootCmd.PersistentFlags().String("profile", "", "Enable profiling and write profiles to files with this prefix")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of runCreateCmd to Viper
	runCreateCmd.Flags().Bool("start", false, "Start the run and execute it in the foreground")
	if err := viper.BindPFlags(runCreateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding run create flags", err)
	}

	// Bind all flags of runRetryCmd to Viper
	runRetryCmd.Flags().String("mode", string(schema.RetryResume), "Recovery mode: RESUME or RETRY or FULL_RESTART")
	runRetryCmd.Flags().Bool("detach", false, "Only reset the run; do not execute it here")
	if err := viper.BindPFlags(runRetryCmd.Flags()); err != nil {
		contract.LogFatal("Error binding run retry flags", err)
	}

	// Bind all flags of unitsCmd to Viper
	unitsCmd.Flags().Bool("sampled", false, "Only list units selected for AI review")
	unitsCmd.Flags().IntP("limit", "l", 0, "Number of units to display (0 = all)")
	if err := viper.BindPFlags(unitsCmd.Flags()); err != nil {
		contract.LogFatal("Error binding units flags", err)
	}

	// Bind all flags of dbMigrateCmd to Viper
	dbMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(dbMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding db migrate flags", err)
	}

	// Listing filters are read from each command directly
	addRunFilterFlags(runListCmd)
	addRunFilterFlags(exportCmd)

	// Bind all flags of serveCmd to Viper
	serveCmd.Flags().String("listen", contract.DefaultListen, "Address the API listens on")
	if err := viper.BindPFlags(serveCmd.Flags()); err != nil {
		contract.LogFatal("Error binding serve flags", err)
	}
}
