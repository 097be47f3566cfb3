package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/snapshot"
)

const (
	shutdownTimeout     = 5 * time.Second
	cleanupQueryTimeout = 30 * time.Second
	cleanupBatchSize    = 5000
	batchSleepDuration  = 100 * time.Millisecond
)

var _ snapshot.Store = (*PersistentSnapshotStore)(nil)

type (
	// PersistentSnapshotStore implements snapshot.Store with a PostgreSQL backend.
	//
	// Records are replaced wholesale on upsert; the unique key is
	// (store_id, endpoint, scope_id, variant). Connection failures are reported as
	// snapshot.ErrUnavailable so callers can fall through to the next tier.
	// When retention is configured a background goroutine prunes records that have
	// not been rewritten within the retention window.
	PersistentSnapshotStore struct {
		conn            *Connection
		logger          *slog.Logger
		retention       time.Duration
		cleanupInterval time.Duration
		cleanupStop     chan struct{}
		cleanupDone     chan struct{}
		closeOnce       sync.Once
	}

	// PersistentSnapshotStoreOption configures optional PersistentSnapshotStore behavior.
	PersistentSnapshotStoreOption func(*PersistentSnapshotStore)
)

// WithRetention enables background pruning of records older than retention,
// checked every interval.
func WithRetention(retention, interval time.Duration) PersistentSnapshotStoreOption {
	return func(s *PersistentSnapshotStore) {
		s.retention = retention
		s.cleanupInterval = interval
	}
}

// WithStoreLogger sets the logger used by the store.
func WithStoreLogger(logger *slog.Logger) PersistentSnapshotStoreOption {
	return func(s *PersistentSnapshotStore) {
		s.logger = logger
	}
}

// NewPersistentSnapshotStore creates a PostgreSQL-backed snapshot store.
// Returns ErrNoDatabaseConnection if conn is nil.
//
// Example:
//
//	store, err := storage.NewPersistentSnapshotStore(conn,
//	    storage.WithRetention(cfg.SnapshotRetention, cfg.CleanupInterval))
func NewPersistentSnapshotStore(
	conn *Connection,
	opts ...PersistentSnapshotStoreOption,
) (*PersistentSnapshotStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	store := &PersistentSnapshotStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(store)
	}

	if store.retention <= 0 {
		close(store.cleanupDone)

		return store, nil
	}

	if store.cleanupInterval <= 0 {
		return nil, ErrInvalidCleanupInterval
	}

	go store.runCleanup()

	store.logger.Info("Started snapshot cleanup goroutine",
		slog.Duration("interval", store.cleanupInterval),
		slog.Duration("retention", store.retention))

	return store, nil
}

// Close stops the cleanup goroutine gracefully. Safe to call multiple times.
// The database connection is managed by the caller and is not closed.
func (s *PersistentSnapshotStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)

		select {
		case <-s.cleanupDone:
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Snapshot cleanup goroutine did not stop within timeout")
		}
	})

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *PersistentSnapshotStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Get returns the record stored under key.
func (s *PersistentSnapshotStore) Get(ctx context.Context, key snapshot.Key) (snapshot.Record, bool, error) {
	query := `
		SELECT payload, updated_at
		FROM snapshots
		WHERE store_id = $1 AND endpoint = $2 AND scope_id = $3 AND variant = $4
	`

	rec := snapshot.Record{Key: key}

	var payload []byte

	err := s.conn.QueryRowContext(ctx, query, key.StoreID, key.Endpoint, key.ScopeID, key.Variant).
		Scan(&payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Record{}, false, nil
	}

	if err != nil {
		return snapshot.Record{}, false, s.classify("get", err)
	}

	rec.Payload = payload

	return rec, true, nil
}

// GetLatest returns the most recently updated record for a scope across all variants.
func (s *PersistentSnapshotStore) GetLatest(
	ctx context.Context,
	storeID, endpoint, scopeID string,
) (snapshot.Record, bool, error) {
	// Served by idx_snapshots_scope_updated.
	query := `
		SELECT variant, payload, updated_at
		FROM snapshots
		WHERE store_id = $1 AND endpoint = $2 AND scope_id = $3
		ORDER BY updated_at DESC
		LIMIT 1
	`

	rec := snapshot.Record{Key: snapshot.Key{StoreID: storeID, Endpoint: endpoint, ScopeID: scopeID}}

	var payload []byte

	err := s.conn.QueryRowContext(ctx, query, storeID, endpoint, scopeID).
		Scan(&rec.Variant, &payload, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Record{}, false, nil
	}

	if err != nil {
		return snapshot.Record{}, false, s.classify("get latest", err)
	}

	rec.Payload = payload

	return rec, true, nil
}

// Upsert creates or replaces the record stored under key.
func (s *PersistentSnapshotStore) Upsert(ctx context.Context, key snapshot.Key, payload json.RawMessage) error {
	// clock_timestamp() rather than NOW() so writes within one transaction still order.
	query := `
		INSERT INTO snapshots (store_id, endpoint, scope_id, variant, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, clock_timestamp())
		ON CONFLICT (store_id, endpoint, scope_id, variant)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`

	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload for %s/%s is not valid JSON", ErrInvalidPayload, key.Endpoint, key.Variant)
	}

	_, err := s.conn.ExecContext(ctx, query, key.StoreID, key.Endpoint, key.ScopeID, key.Variant, []byte(payload))
	if err != nil {
		return s.classify("upsert", err)
	}

	return nil
}

func (s *PersistentSnapshotStore) classify(op string, err error) error {
	if isDatabaseConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", snapshot.ErrUnavailable, op, err)
	}

	return fmt.Errorf("snapshot %s failed: %w", op, err)
}

func (s *PersistentSnapshotStore) runCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.cleanupStop:
			cancel()
			s.logger.Info("Stopping snapshot cleanup goroutine")

			return
		case <-ticker.C:
			cleanupCtx, cleanupCancel := context.WithTimeout(ctx, cleanupQueryTimeout)
			s.pruneExpired(cleanupCtx)
			cleanupCancel()
		}
	}
}

// pruneExpired deletes records older than the retention window in batches to avoid
// long-running table locks.
func (s *PersistentSnapshotStore) pruneExpired(ctx context.Context) {
	query := `
		DELETE FROM snapshots
		WHERE ctid IN (
			SELECT ctid FROM snapshots
			WHERE updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		)
	`

	start := time.Now()
	cutoff := start.Add(-s.retention)
	total := int64(0)

	for ctx.Err() == nil {
		result, err := s.conn.ExecContext(ctx, query, cutoff, cleanupBatchSize)
		if err != nil {
			s.logger.Error("Snapshot cleanup failed",
				slog.String("error", err.Error()),
				slog.Int64("rows_deleted", total))

			return
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			s.logger.Warn("Snapshot cleanup row count unavailable", slog.String("error", err.Error()))

			return
		}

		total += deleted

		if deleted < cleanupBatchSize {
			break
		}

		time.Sleep(batchSleepDuration)
	}

	if total > 0 {
		s.logger.Info("Pruned expired snapshots",
			slog.Int64("rows_deleted", total),
			slog.Duration("duration", time.Since(start)))
	}
}
