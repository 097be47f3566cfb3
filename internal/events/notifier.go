package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
)

// TypeRefreshCompleted identifies refresh completion envelopes.
const TypeRefreshCompleted = "refresh.completed"

type (
	// Envelope wraps every published event.
	Envelope struct {
		ID         uuid.UUID `json:"id"`
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurredAt"`
		Data       any       `json:"data"`
	}

	// RefreshNotifier publishes refresh completions, keyed by store.
	RefreshNotifier struct {
		publisher Publisher
	}

	// RunWriter persists finished refresh runs.
	RunWriter interface {
		Record(ctx context.Context, run storage.RefreshRun) error
	}

	// RunRecorder writes every finished refresh cycle to the run audit log.
	RunRecorder struct {
		writer RunWriter
	}
)

var (
	_ refresh.Notifier = (*RefreshNotifier)(nil)
	_ refresh.Notifier = (*RunRecorder)(nil)
	_ RunWriter        = (*storage.PersistentRunStore)(nil)
)

// NewRefreshNotifier creates a notifier publishing through p.
func NewRefreshNotifier(p Publisher) *RefreshNotifier {
	return &RefreshNotifier{publisher: p}
}

// RefreshCompleted publishes event inside an envelope.
func (n *RefreshNotifier) RefreshCompleted(ctx context.Context, event refresh.Event) error {
	payload, err := json.Marshal(Envelope{
		ID:         uuid.New(),
		Type:       TypeRefreshCompleted,
		OccurredAt: event.FinishedAt,
		Data:       event,
	})
	if err != nil {
		return fmt.Errorf("failed to encode refresh event: %w", err)
	}

	return n.publisher.Publish(ctx, event.StoreID, payload)
}

// NewRunRecorder creates a notifier writing runs to w.
func NewRunRecorder(w RunWriter) *RunRecorder {
	return &RunRecorder{writer: w}
}

// RefreshCompleted records event as a refresh run keyed by its cycle ID.
func (r *RunRecorder) RefreshCompleted(ctx context.Context, event refresh.Event) error {
	sections, err := json.Marshal(event.Sections)
	if err != nil {
		return fmt.Errorf("failed to encode refresh sections: %w", err)
	}

	return r.writer.Record(ctx, storage.RefreshRun{
		ID:         event.CycleID,
		StoreID:    event.StoreID,
		Window:     event.Window,
		Mode:       string(event.Mode),
		Generation: event.Generation,
		Sections:   sections,
		Succeeded:  event.Succeeded,
		Failed:     event.Failed,
		StartedAt:  event.StartedAt,
		FinishedAt: event.FinishedAt,
	})
}
