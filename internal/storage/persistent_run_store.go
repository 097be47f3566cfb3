package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultRecentRuns = 20

// ErrInvalidRun is returned when a refresh run is missing its ID or store.
var ErrInvalidRun = errors.New("refresh run requires an ID and a store")

type (
	// RefreshRun is the audit record of one finished refresh cycle.
	RefreshRun struct {
		ID         uuid.UUID       `json:"id"`
		StoreID    string          `json:"storeId"`
		Window     string          `json:"window"`
		Mode       string          `json:"mode"`
		Generation int64           `json:"generation"`
		Sections   json.RawMessage `json:"sections"`
		Succeeded  int             `json:"succeeded"`
		Failed     int             `json:"failed"`
		StartedAt  time.Time       `json:"startedAt"`
		FinishedAt time.Time       `json:"finishedAt"`
	}

	// PersistentRunStore records refresh cycles in PostgreSQL.
	PersistentRunStore struct {
		conn *Connection
	}
)

// NewPersistentRunStore creates a run store over conn.
func NewPersistentRunStore(conn *Connection) (*PersistentRunStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentRunStore{conn: conn}, nil
}

// Record inserts a finished run. Recording the same run twice is a no-op.
func (s *PersistentRunStore) Record(ctx context.Context, run RefreshRun) error {
	if run.ID == uuid.Nil || run.StoreID == "" {
		return ErrInvalidRun
	}

	sections := run.Sections
	if len(sections) == 0 {
		sections = json.RawMessage(`[]`)
	}

	query := `
		INSERT INTO refresh_runs
			(id, store_id, date_window, mode, generation, sections, succeeded, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := s.conn.ExecContext(ctx, query,
		run.ID, run.StoreID, run.Window, run.Mode, run.Generation, []byte(sections),
		run.Succeeded, run.Failed, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record refresh run %s: %w", run.ID, err)
	}

	return nil
}

// Recent returns a store's latest runs, newest first. A non-positive limit uses 20.
func (s *PersistentRunStore) Recent(ctx context.Context, storeID string, limit int) ([]RefreshRun, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}

	query := `
		SELECT id, store_id, date_window, mode, generation, sections, succeeded, failed, started_at, finished_at
		FROM refresh_runs
		WHERE store_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	runs := make([]RefreshRun, 0, limit)

	for rows.Next() {
		var (
			run      RefreshRun
			sections []byte
		)

		if err := rows.Scan(&run.ID, &run.StoreID, &run.Window, &run.Mode, &run.Generation, &sections,
			&run.Succeeded, &run.Failed, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan refresh run: %w", err)
		}

		run.Sections = sections
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refresh runs: %w", err)
	}

	return runs, nil
}
