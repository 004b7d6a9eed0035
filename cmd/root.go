package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/fatih/color"
	"github.com/huangsam/devyear/core"
	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/internal/iocache"
	"github.com/huangsam/devyear/internal/llm"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/huangsam/devyear/internal/outwriter"
	"github.com/huangsam/devyear/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// All linker flags will be set by goreleaser infra at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCtx is the root context for all operations.
var rootCtx = context.Background()

// cfg will hold the validated, final configuration.
var cfg = &contract.Config{}

// input holds the raw, unvalidated configuration from all sources (file, env, flags).
// Viper will unmarshal into this struct.
var input = &contract.ConfigRawInput{}

// profile holds profiling configuration.
var profile = &contract.ProfileConfig{}

// Runtime collaborators built by the setup functions.
var (
	logger    *slog.Logger
	store     *iocache.Store
	orch      *core.Orchestrator
	outWriter = outwriter.NewOutWriter()

	// pipelineMetrics is replaced by the Prometheus-backed instruments in serve.
	pipelineMetrics *observability.PipelineMetrics
)

// startProfiling starts CPU and memory profiling if enabled.
func startProfiling() error {
	if !profile.Enabled {
		return nil
	}

	cpuFile, err := os.Create(profile.Prefix + ".cpu.prof")
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		return fmt.Errorf("could not start CPU profiling: %w", err)
	}

	// Memory profiling will be captured at the end
	_, err = fmt.Fprintf(os.Stderr, "Profiling enabled. CPU profile: %s.cpu.prof, Memory profile: %s.mem.prof\n", profile.Prefix, profile.Prefix)
	return err
}

// stopProfiling stops profiling and writes memory profile.
func stopProfiling() error {
	if !profile.Enabled {
		return nil
	}

	pprof.StopCPUProfile()

	memFile, err := os.Create(profile.Prefix + ".mem.prof")
	if err != nil {
		return fmt.Errorf("could not create memory profile: %w", err)
	}
	defer func() { _ = memFile.Close() }()

	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("could not write memory profile: %w", err)
	}

	_, err = fmt.Fprintf(os.Stderr, "Profiling complete. Use 'go tool pprof %s.cpu.prof' to analyze.\n", profile.Prefix)
	return err
}

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:   "devyear",
	Short: "Build AI-assisted yearly reviews from a developer's commit history.",
	Long: `Devyear turns a year of commits into a yearly review.

It measures activity, clusters commits into work units, scores their impact,
samples the units worth reading, fetches their diffs and runs a staged AI
review that ends in a report a manager can annotate and finalize.

Runs are checkpointed after every repo, unit and stage, so they can be
paused, cancelled, resumed or retried without redoing finished work.`,
	Version:            version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	DisableSuggestions: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".devyear") // Name of config file (without extension)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	viper.SetEnvPrefix("DEVYEAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db-backend", schema.SQLiteBackend)
	viper.SetDefault("db-connect", "")
	viper.SetDefault("repos-root", ".")
	viper.SetDefault("workers", contract.DefaultWorkers)
	viper.SetDefault("ai-workers", contract.DefaultAIWorkers)
	viper.SetDefault("ai-attempts", contract.DefaultAIAttempts)
	viper.SetDefault("diff-attempts", contract.DefaultDiffAttempts)
	viper.SetDefault("model", contract.DefaultModel)
	viper.SetDefault("precision", contract.DefaultPrecision)
	viper.SetDefault("output", schema.TextOut)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", observability.LogFormatText)
	viper.SetDefault("color", "yes")
	viper.SetDefault("listen", contract.DefaultListen)

	// The API key has no flag on purpose; it only comes from the environment or file.
	_ = viper.BindEnv("openai-api-key", "DEVYEAR_OPENAI_API_KEY", "OPENAI_API_KEY")
}

// loadConfig resolves defaults, file, env and flags into the validated cfg.
func loadConfig() error {
	profilePrefix := viper.GetString("profile")
	if err := contract.ProcessProfilingConfig(profile, profilePrefix); err != nil {
		return fmt.Errorf("failed to process profiling config: %w", err)
	}
	if profile.Enabled {
		if err := startProfiling(); err != nil {
			return fmt.Errorf("failed to start profiling: %w", err)
		}
	}

	// 1. Read config file. This merges defaults, file, env, and flags.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 2. Unmarshal all resolved values from Viper into our raw input struct.
	if err := viper.Unmarshal(input); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	// 3. Run all validation and complex parsing.
	if err := contract.ProcessAndValidate(cfg, input); err != nil {
		return err
	}

	color.NoColor = !cfg.UseColors
	logger = observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if pipelineMetrics == nil {
		pipelineMetrics = observability.NoopPipelineMetrics()
	}
	return nil
}

// storeSetup loads configuration and opens the run store.
// It is used by commands that only read or manage stored runs.
func storeSetup(_ *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	s, err := iocache.Open(rootCtx, cfg.Backend, cfg.DBConnect)
	if err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	store = s
	return nil
}

// sharedSetup builds the full pipeline: store, sources, completer and orchestrator.
func sharedSetup(cmd *cobra.Command, args []string) error {
	if err := storeSetup(cmd, args); err != nil {
		return err
	}
	settings, err := contract.NewFileSettingsSource(cfg.OrgSettingsPath)
	if err != nil {
		return err
	}
	git := contract.NewLocalGitClient(cfg.ReposRoot)
	completer := llm.New(cfg)
	logger.Debug("pipeline configured", "repos_root", cfg.ReposRoot, "backend", cfg.Backend, "completer", completer.Name())

	orch = core.NewOrchestrator(core.Deps{
		Store:     store,
		Commits:   git,
		Diffs:     git,
		Settings:  settings,
		Completer: completer,
	}, core.OptionsFromConfig(cfg, logger, pipelineMetrics))
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// StopProfiling stops profiling if enabled.
func StopProfiling() error {
	return stopProfiling()
}
