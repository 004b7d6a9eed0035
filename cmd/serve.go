package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huangsam/devyear/internal/api"
	"github.com/huangsam/devyear/internal/observability"
	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP API and executes started runs in the background.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API with health probes and Prometheus metrics",
	Long: `Start the HTTP API for creating, polling and controlling runs.

Endpoints:
  GET    /api/runs                      list runs (org, user, year, status)
  POST   /api/runs                      create a run, optionally starting it
  GET    /api/runs/{id}                 poll status and per-repo progress
  POST   /api/runs/{id}/start|pause|cancel|retry
  GET    /api/runs/{id}/units|reviews|report
  POST   /api/runs/{id}/report/notes|finalize
  DELETE /api/runs/{id}
  GET    /healthz, /readyz, /metrics

On startup, runs left IN_PROGRESS by a crashed process are paused. On
shutdown, runs this server is executing are paused after their in-flight work.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry, err := observability.NewPrometheusTelemetry()
		if err != nil {
			return err
		}
		pipelineMetrics = telemetry.Pipeline
		serveTelemetry = telemetry
		return sharedSetup(cmd, args)
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = serveTelemetry.Shutdown(shutdownCtx)
		}()

		ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		recovered, err := orch.RecoverInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted runs: %w", err)
		}
		if len(recovered) > 0 {
			logger.Warn("paused runs interrupted by a previous process", "runs", recovered)
		}

		srv := api.NewServer(api.Config{
			Service: orch,
			Listen:  cfg.Listen,
			Logger:  logger,
			Metrics: serveTelemetry.Handler,
			Ready: []observability.ReadyCheck{func(rctx context.Context) error {
				_, err := store.Status(rctx)
				return err
			}},
		})
		return srv.Serve(ctx)
	},
}

var serveTelemetry *observability.Telemetry
