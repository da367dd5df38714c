package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/e7canasta/orion-tracker/internal/app"
	"github.com/e7canasta/orion-tracker/internal/config"
)

const defaultConfigPath = "config/trackd.yaml"

func init() {
	// glfw and the window's GL context live on the main OS thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	headless := flag.Bool("headless", false, "Force headless mode (soft GPU, no window)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting trackd",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *headless {
		cfg.Display.Enabled = false
		cfg.GPU.Backend = config.GPUSoft
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := app.New(cfg, logger)

	// Run stays on the main goroutine: with a display it owns the window.
	runErr := service.Run(ctx)
	if runErr != nil {
		slog.Error("service error", "error", runErr)
	} else if ctx.Err() != nil {
		slog.Info("received shutdown signal")
	}

	slog.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
	slog.Info("trackd stopped successfully")
}

// loadConfig falls back to defaults when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == defaultConfigPath && errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, err
}
