package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tipcsim/core/internal/config"
	tipcmetrics "github.com/tipcsim/core/internal/metrics"
	appversion "github.com/tipcsim/core/internal/version"
)

// shutdownTimeout bounds how long the metrics server is given to drain
// once the run loop finishes (or the process receives a signal).
const shutdownTimeout = 5 * time.Second

// newRunCmd builds the "run" subcommand: loads a scenario file (or
// defaults to an empty one), runs the simulation to completion, serving
// /metrics for the duration of the run.
func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log)
			logger.Info("tipcsim starting",
				slog.String("version", appversion.Version),
				slog.Int("nodes", len(cfg.Scenario.Nodes)),
				slog.Duration("duration", cfg.Scenario.Duration),
				slog.String("metrics_addr", cfg.Metrics.Addr),
			)

			reg := prometheus.NewRegistry()
			collector := tipcmetrics.NewCollector(reg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWithMetricsServer(ctx, cfg, collector, reg, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to scenario configuration file (YAML)")
	return cmd
}

// newValidateCmd builds the "validate" subcommand: loads and validates a
// scenario file without running it, reporting its node count and
// duration.
func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scenario configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "scenario valid: %d nodes, duration %s\n",
				len(cfg.Scenario.Nodes), cfg.Scenario.Duration)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to scenario configuration file (YAML)")
	return cmd
}

// runWithMetricsServer runs the metrics HTTP server and the simulation
// concurrently via an errgroup: the simulation's completion (or the
// signal-aware context's cancellation) triggers the metrics server's
// graceful shutdown.
func runWithMetricsServer(
	ctx context.Context,
	cfg *config.Config,
	collector *tipcmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		_, err := runScenario(gCtx, cfg, collector, logger)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}

	logger.Info("tipcsim stopped")
	return nil
}

// loadConfig loads configuration from path, or returns defaults when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger creates a structured logger per cfg's level and format.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
