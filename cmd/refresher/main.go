// Package main provides the adlens background refresher.
//
// It periodically runs background refresh cycles for the configured stores so
// caches, snapshots and persisted composites stay warm between visits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/adlens-io/adlens/internal/app"
	"github.com/adlens-io/adlens/internal/config"
)

const (
	version = "1.0.0-dev"
	name    = "refresher"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("ADLENS_LOG_LEVEL", slog.LevelInfo),
	}))

	if err := run(logger); err != nil {
		logger.Error("Refresher failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appConfig, err := app.LoadConfig()
	if err != nil {
		return err
	}

	cfg, err := LoadConfig(slices.Sorted(maps.Keys(appConfig.AdsTokens)))
	if err != nil {
		return err
	}

	services, err := app.New(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = services.Close()
	}()

	logger.Info("Starting refresher",
		slog.String("version", version),
		slog.String("config", cfg.String()))

	runner := NewRunner(services.Refresh, cfg, nil, logger)

	if cfg.RunOnce {
		summary := runner.RunOnce(ctx)
		if summary.Failed > 0 {
			return fmt.Errorf("%d refresh cycles failed to start", summary.Failed)
		}

		return nil
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}

	logger.Info("Refresher stopped")

	return nil
}
