// Package main provides the adlens API server.
//
// It serves dashboard sections through the fetch cascade, runs refresh cycles
// on request and resolves UTM parameters to ad-platform IDs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/adlens-io/adlens/internal/api"
	"github.com/adlens-io/adlens/internal/api/middleware"
	"github.com/adlens-io/adlens/internal/app"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "adlens"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	serverConfig := api.LoadServerConfig()
	if serverConfig.Version == "dev" {
		serverConfig.Version = version
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting adlens service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	appConfig, err := app.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", slog.String("error", err.Error()))

		return err
	}

	services, err := app.New(context.Background(), appConfig, logger)
	if err != nil {
		logger.Error("Failed to initialize services", slog.String("error", err.Error()))

		return err
	}

	defer func() {
		_ = services.Close()
	}()

	middlewareConfig := middleware.LoadConfig()

	// closed by the server on shutdown
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("store_rps", middlewareConfig.StoreRPS),
		slog.Int("anonymous_rps", middlewareConfig.AnonymousRPS),
	)

	deps := api.Dependencies{
		Sections:    services.Dashboard,
		Refresh:     services.Refresh,
		Attribution: services.Attribution,
	}

	// typed nils must not reach the optional interfaces
	if services.Runs != nil {
		deps.Runs = services.Runs
	}

	if services.Connection != nil {
		deps.Health = services.Connection
	}

	server := api.NewServer(serverConfig, deps, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))

		return err
	}

	logger.Info("adlens service stopped")

	return nil
}
