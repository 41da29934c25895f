// Package main implements the bcistream command. It acquires biosignal
// frames from a headset adapter, cuts them into windows and publishes quality
// and latency metrics for every window.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360/bcistream/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "bcistream"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cli := &CLIConfig{}
	root := &cobra.Command{
		Use:   appName,
		Short: "BCI signal quality streaming",
		Long: `bcistream acquires EEG frames from a simulated headset, an EDF recording or a
websocket bridge, windows them per session and publishes signal quality and
latency metrics to logs, Prometheus, JSON-lines files and NATS.

Configuration files are layered in order over the built-in defaults;
BCISTREAM_* environment variables override the result.`,
		Example: `  # Run the simulated headset with defaults
  bcistream run

  # Layer a site file over a base file, text logs
  bcistream run -c base.yaml -c site.json --log-format=text

  # Check a configuration and print it with credentials masked
  bcistream validate -c base.yaml`,
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateFlags(cli)
		},
	}
	cli.bindFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the acquisition pipeline until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPipeline(cmd.Context(), cli)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the configuration and print it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cli.ConfigPaths)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Configuration is valid")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (build %s, %s %s/%s)\n",
					appName, Version, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cli *CLIConfig) error {
	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.ConfigPaths)
	if err != nil {
		return err
	}
	logger.Info("Starting bcistream",
		"version", Version,
		"configs", cli.ConfigPaths,
		"adapter", cfg.Adapter.Type,
		"channels", cfg.Session.ChannelCount,
		"sample_rate_hz", cfg.Session.SampleRateHz)
	logger.Debug("Effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runWithSignalHandling(ctx, cfg, cli, logger)
}

func runWithSignalHandling(ctx context.Context, cfg *config.Config, cli *CLIConfig, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		a.release(context.Background())
		return err
	}
	logger.Info("bcistream started", "session_id", a.service.Sampler().SessionID())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case runErr = <-a.serverErr:
		logger.Error("Metrics server failed", "error", runErr)
	}

	logger.Info("Shutting down", "timeout", cli.ShutdownTimeout)
	if err := a.shutdown(cli.ShutdownTimeout); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	stats := a.service.Stats()
	logger.Info("bcistream stopped",
		"samples", stats.Samples, "dropped", stats.Dropped, "windows", stats.Windows,
		"latency_violations", stats.LatencyViolations, "errors", stats.Errors)
	return runErr
}
