package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neomorfeo/onboardiq/internal/adapter/otel"
	"github.com/neomorfeo/onboardiq/internal/config"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the process worker and sweep without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", "error", err)
		}
	}()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := st.workClient.Start(runCtx); err != nil {
		return fmt.Errorf("starting job queue: %w", err)
	}
	st.trigger.Start(runCtx)
	logger.Info("onboardiq worker running", "next_sweep", st.trigger.NextRun())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	sig := <-done
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	cancel()
	if err := st.workClient.Stop(shutdownCtx); err != nil {
		logger.Warn("job queue shutdown", "error", err)
	}

	logger.Info("stopped")
	return nil
}
