package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/huangsam/devyear/internal/contract"
	"github.com/huangsam/devyear/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd groups the lifecycle commands of an analysis run.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create, execute and control yearly review runs",
	Long: `Manage yearly review runs.

A run is identified by an id and reviews one developer's commits in one
organization for one calendar year. Its status moves through
QUEUED, IN_PROGRESS, PAUSED, DONE and FAILED.

Commands that execute a run do so in the foreground. Press Ctrl-C to pause
the run after its in-flight work; resume it later with 'run retry --mode RESUME'.

Examples:
  # Create and execute a run
  devyear run create acme alice 2024 --start

  # Poll a run started elsewhere
  devyear run status 4f7c...

  # Retry only the failed units of a finished run
  devyear run retry 4f7c... --mode RETRY`,
}

// runCreateCmd creates a QUEUED run.
var runCreateCmd = &cobra.Command{
	Use:     "create <org> <user> <year>",
	Short:   "Create a run for one developer and year",
	Args:    cobra.ExactArgs(3),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		year, err := strconv.Atoi(args[2])
		if err != nil {
			return contract.NewValidationError("year", "must be a number (received %q)", args[2])
		}
		run, err := orch.Create(rootCtx, args[0], args[1], year)
		if err != nil {
			return err
		}
		if !viper.GetBool("start") {
			return outWriter.WriteStatus(run.View(), cfg)
		}
		if err := orch.Start(rootCtx, run.ID); err != nil {
			return err
		}
		return executeForeground(run.ID)
	},
}

// runStartCmd starts a QUEUED run in the foreground.
var runStartCmd = &cobra.Command{
	Use:     "start <run-id>",
	Short:   "Start a queued run and execute it until it stops",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.Start(rootCtx, args[0]); err != nil {
			return err
		}
		return executeForeground(args[0])
	},
}

// runPauseCmd pauses a run executing in another process.
var runPauseCmd = &cobra.Command{
	Use:     "pause <run-id>",
	Short:   "Pause an executing run after its in-flight work",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.Pause(rootCtx, args[0]); err != nil {
			return err
		}
		return writeRunStatus(args[0])
	},
}

// runCancelCmd cancels a queued, executing or paused run.
var runCancelCmd = &cobra.Command{
	Use:     "cancel <run-id>",
	Short:   "Cancel a run; it can still be resumed or restarted later",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.Cancel(rootCtx, args[0]); err != nil {
			return err
		}
		return writeRunStatus(args[0])
	},
}

// runRetryCmd recovers a stopped run and executes it in the foreground.
var runRetryCmd = &cobra.Command{
	Use:   "retry <run-id>",
	Short: "Resume, retry or restart a stopped run",
	Long: `Recover a stopped run and execute it until it stops again.

Modes:
  RESUME       - continue a PAUSED or FAILED run with its pending work only
  RETRY        - reset the failed items of the current phase and continue
  FULL_RESTART - discard all derived data and start from METRICS again

Add --detach to only reset the run and leave execution to 'devyear serve'.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		mode := schema.RetryMode(strings.ToUpper(viper.GetString("mode")))
		if err := orch.Retry(rootCtx, args[0], mode); err != nil {
			return err
		}
		if viper.GetBool("detach") {
			return writeRunStatus(args[0])
		}
		return executeForeground(args[0])
	},
}

// runDeleteCmd deletes a stopped run and everything derived from it.
var runDeleteCmd = &cobra.Command{
	Use:     "delete <run-id>",
	Short:   "Delete a run with its units, reviews and report",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		if err := orch.Delete(rootCtx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Run %s deleted.\n", args[0])
		return nil
	},
}

// runStatusCmd prints the polling view of a run.
var runStatusCmd = &cobra.Command{
	Use:     "status <run-id>",
	Short:   "Show the status, phase and per-repo progress of a run",
	Args:    cobra.ExactArgs(1),
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, args []string) error {
		return writeRunStatus(args[0])
	},
}

// runListCmd lists runs, newest first.
var runListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List runs, newest first",
	Args:    cobra.NoArgs,
	PreRunE: sharedSetup,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter, err := runFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		runs, err := orch.List(rootCtx, filter)
		if err != nil {
			return err
		}
		views := make([]schema.RunStatusView, 0, len(runs))
		for _, run := range runs {
			views = append(views, run.View())
		}
		return outWriter.WriteRuns(views, cfg)
	},
}

// runRecoverCmd pauses runs left IN_PROGRESS by a crashed process.
var runRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Pause runs abandoned IN_PROGRESS by a crashed process",
	Long: `Find runs whose executor died while they were IN_PROGRESS and pause them,
so they can be resumed with 'run retry --mode RESUME'.

Only run this when no other devyear process is executing runs against the
same store; 'devyear serve' does it automatically on startup.`,
	Args:    cobra.NoArgs,
	PreRunE: sharedSetup,
	RunE: func(_ *cobra.Command, _ []string) error {
		ids, err := orch.RecoverInterrupted(rootCtx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No interrupted runs found.")
			return nil
		}
		for _, id := range ids {
			fmt.Printf("Paused interrupted run %s\n", id)
		}
		return nil
	},
}

// executeForeground runs an IN_PROGRESS run until it stops. An interrupt
// pauses the run instead of abandoning it.
func executeForeground(id string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigs:
			logger.Info("interrupt received, pausing run", "run", id)
			if err := orch.Pause(context.WithoutCancel(rootCtx), id); err != nil {
				contract.LogWarn("Failed to pause run", err)
			}
		case <-done:
		}
	}()

	logger.Info("executing run", "run", id)
	run, err := orch.Run(rootCtx, id)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	return outWriter.WriteStatus(run.View(), cfg)
}

func writeRunStatus(id string) error {
	view, err := orch.Status(rootCtx, id)
	if err != nil {
		return err
	}
	return outWriter.WriteStatus(view, cfg)
}

// addRunFilterFlags registers the listing filter shared by list and export.
// They are read from the command, not Viper, because both commands define them.
func addRunFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("org", "", "Only runs of this organization")
	cmd.Flags().String("user", "", "Only runs of this developer")
	cmd.Flags().Int("year", 0, "Only runs of this calendar year")
	cmd.Flags().String("status", "", "Only runs in this status: QUEUED, IN_PROGRESS, PAUSED, DONE or FAILED")
}

func runFilterFromFlags(cmd *cobra.Command) (schema.RunFilter, error) {
	flags := cmd.Flags()
	org, _ := flags.GetString("org")
	user, _ := flags.GetString("user")
	year, _ := flags.GetInt("year")
	status, _ := flags.GetString("status")
	filter := schema.RunFilter{Org: org, User: user, Year: year, Status: schema.RunStatus(strings.ToUpper(status))}
	switch filter.Status {
	case "", schema.RunQueued, schema.RunInProgress, schema.RunPaused, schema.RunDone, schema.RunFailed:
		return filter, nil
	default:
		return filter, contract.NewValidationError("status", "must be QUEUED, IN_PROGRESS, PAUSED, DONE or FAILED (received %q)", filter.Status)
	}
}
