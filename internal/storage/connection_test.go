package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDatabaseConnectionError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "connection failure class 08", err: &pq.Error{Code: "08006"}, want: true},
		{name: "wrapped class 08", err: fmt.Errorf("query: %w", &pq.Error{Code: "08001"}), want: true},
		{name: "unique violation", err: &pq.Error{Code: "23505"}, want: false},
		{name: "network error", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: true},
		{name: "connection done", err: sql.ErrConnDone, want: true},
		{name: "bad connection", err: driver.ErrBadConn, want: true},
		{name: "no rows", err: sql.ErrNoRows, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDatabaseConnectionError(tt.err))
		})
	}
}

func TestNewPersistentStores_RequireConnection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewPersistentSnapshotStore(nil)
	assert.ErrorIs(t, err, ErrNoDatabaseConnection)

	_, err = NewPersistentRunStore(nil)
	assert.ErrorIs(t, err, ErrNoDatabaseConnection)

	var conn *Connection
	assert.ErrorIs(t, conn.HealthCheck(t.Context()), ErrNoDatabaseConnection)
}

func TestNewPersistentSnapshotStore_NoPruningWithoutRetention(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("ADLENS_SNAPSHOT_RETENTION", "")

	cfg := LoadConfig()

	store, err := NewPersistentSnapshotStore(&Connection{},
		WithRetention(cfg.SnapshotRetention, cfg.CleanupInterval))
	require.NoError(t, err)

	select {
	case <-store.cleanupDone:
	default:
		t.Fatal("cleanup goroutine started with default retention")
	}

	assert.NoError(t, store.Close())
}
