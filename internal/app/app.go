package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adlens-io/adlens/internal/attribution"
	"github.com/adlens-io/adlens/internal/cache"
	"github.com/adlens-io/adlens/internal/dashboard"
	"github.com/adlens-io/adlens/internal/events"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/snapshot"
	"github.com/adlens-io/adlens/internal/storage"
	"github.com/adlens-io/adlens/internal/upstream"
)

// App holds the wired services. Runs and Connection are nil when no database
// is configured.
type App struct {
	Dashboard   *dashboard.Service
	Attribution *attribution.Resolver
	Refresh     *refresh.Registry
	Runs        *storage.PersistentRunStore
	Connection  *storage.Connection
	Snapshots   snapshot.Store

	logger  *slog.Logger
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New wires every component from cfg. Close releases what it opened, also
// when New fails part way.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{logger: logger}

	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStorage(ctx, cfg.Storage); err != nil {
		return nil, err
	}

	ephemeral, closeCache, err := cache.New(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	a.onClose("cache", closeCache)

	logger.Info("Ephemeral cache initialized", slog.String("backend", cfg.Cache.Backend))

	orch, err := fetch.NewOrchestrator(ephemeral, a.Snapshots,
		append(cfg.Policies.Options(), fetch.WithLogger(logger))...)
	if err != nil {
		return nil, err
	}

	ads, err := upstream.NewClient(cfg.Ads, upstream.NewStaticTokens(cfg.AdsTokens), upstream.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create ads client: %w", err)
	}

	var shop dashboard.ShopAPI

	if cfg.Shop != nil {
		client, err := upstream.NewClient(cfg.Shop, upstream.NewStaticTokens(cfg.ShopTokens),
			upstream.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create shop client: %w", err)
		}

		shop = client
	}

	if err := dashboard.RegisterEndpoints(orch, ads, shop, cfg.Policies, nil); err != nil {
		return nil, err
	}

	a.Dashboard = dashboard.NewService(orch)

	a.Attribution, err = attribution.NewResolver(ads,
		attribution.WithTTL(cfg.AttributionTTL), attribution.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	publisher, err := events.New(cfg.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	a.onClose("event publisher", publisher.Close)

	if cfg.Events.Enabled() {
		logger.Info("Refresh events publishing to Kafka",
			slog.Any("brokers", cfg.Events.Brokers),
			slog.String("topic", cfg.Events.Topic))
	}

	notifiers := []refresh.Notifier{events.NewRefreshNotifier(publisher)}
	if a.Runs != nil {
		notifiers = append(notifiers, events.NewRunRecorder(a.Runs))
	}

	var registryOpts []refresh.RegistryOption
	if cfg.MaxSchedulers > 0 {
		registryOpts = append(registryOpts, refresh.WithCapacity(cfg.MaxSchedulers))
	}

	a.Refresh, err = refresh.NewRegistry(a.schedulerFactory(refresh.Notifiers(notifiers...)), registryOpts...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openStorage connects to PostgreSQL when configured and falls back to the
// in-memory snapshot store otherwise.
func (a *App) openStorage(ctx context.Context, cfg *storage.Config) error {
	if !cfg.Enabled() {
		a.logger.Warn("DATABASE_URL not set - snapshots are kept in memory and refresh history is disabled")
		a.Snapshots = storage.NewInMemorySnapshotStore()

		return nil
	}

	conn, err := storage.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	a.Connection = conn
	a.onClose("database connection", conn.Close)

	snapshots, err := storage.NewPersistentSnapshotStore(conn,
		storage.WithRetention(cfg.SnapshotRetention, cfg.CleanupInterval),
		storage.WithStoreLogger(a.logger))
	if err != nil {
		return err
	}

	a.Snapshots = snapshots
	a.onClose("snapshot store", snapshots.Close)

	a.Runs, err = storage.NewPersistentRunStore(conn)
	if err != nil {
		return err
	}

	a.logger.Info("Snapshot store initialized",
		slog.String("database_url", cfg.MaskDatabaseURL()),
		slog.Duration("snapshot_retention", cfg.SnapshotRetention),
		slog.Int("database_max_open_conns", cfg.MaxOpenConns),
		slog.Int("database_max_idle_conns", cfg.MaxIdleConns),
	)

	return nil
}

// schedulerFactory builds schedulers whose sections query the window's dates
// across every linked account.
func (a *App) schedulerFactory(notifier refresh.Notifier) refresh.Factory {
	return func(storeID, window string) (*refresh.Scheduler, error) {
		q := dashboard.ParseWindow(window)

		return refresh.NewScheduler(storeID, window, a.Dashboard.Sections(storeID, q), a.Snapshots,
			refresh.WithLogger(a.logger),
			refresh.WithNotifier(notifier))
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error("Failed to close "+c.name, slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}
