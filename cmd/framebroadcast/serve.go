package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/service"
)

const defaultConfigPath = "config/framebroadcast.yaml"

func serveCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broadcast server",
		Long: `Run the broadcast server until SIGINT or SIGTERM.

Examples:
  framebroadcast serve
  framebroadcast serve --config=/etc/framebroadcast.yaml --debug
  FRAMEBROADCAST_PORT=9000 framebroadcast serve --config=""`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file (empty = defaults)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Log, debug)
	slog.SetDefault(logger)

	slog.Info("starting frame-broadcast",
		"version", version,
		"config", configPath,
		"instance_id", cfg.InstanceID,
		"debug", debug,
	)

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		}
	}

	timeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	slog.Info("frame-broadcast stopped")
	return nil
}

// newLogger builds the process logger. --debug overrides log.level.
func newLogger(w io.Writer, cfg config.LogConfig, debug bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
