package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
)

type capturePublisher struct {
	key     string
	payload []byte
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.key = key
	p.payload = payload

	return p.err
}

func (p *capturePublisher) Close() error { return nil }

type captureWriter struct {
	runs []storage.RefreshRun
}

func (w *captureWriter) Record(_ context.Context, run storage.RefreshRun) error {
	w.runs = append(w.runs, run)

	return nil
}

func sampleEvent() refresh.Event {
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	return refresh.Event{
		CycleID:    uuid.New(),
		StoreID:    "store-1",
		Window:     "preset=last_7d",
		Mode:       refresh.ModeBackground,
		Generation: 3,
		Sections: []refresh.SectionState{
			{Key: "summary", Kind: refresh.KindCore, Status: refresh.StatusDone},
			{Key: "breakdowns", Kind: refresh.KindSlow, Status: refresh.StatusError, Error: "deadline exceeded"},
		},
		Succeeded:  1,
		Failed:     1,
		StartedAt:  started,
		FinishedAt: started.Add(12 * time.Second),
	}
}

func TestRefreshNotifier_PublishesEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	event := sampleEvent()

	require.NoError(t, NewRefreshNotifier(pub).RefreshCompleted(context.Background(), event))

	assert.Equal(t, "store-1", pub.key)

	var envelope struct {
		ID         uuid.UUID     `json:"id"`
		Type       string        `json:"type"`
		OccurredAt time.Time     `json:"occurredAt"`
		Data       refresh.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(pub.payload, &envelope))

	assert.NotEqual(t, uuid.Nil, envelope.ID)
	assert.Equal(t, TypeRefreshCompleted, envelope.Type)
	assert.True(t, event.FinishedAt.Equal(envelope.OccurredAt))
	assert.Equal(t, event.CycleID, envelope.Data.CycleID)
	assert.Len(t, envelope.Data.Sections, 2)
}

func TestRefreshNotifier_PropagatesPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker unreachable")}

	err := NewRefreshNotifier(pub).RefreshCompleted(context.Background(), sampleEvent())
	assert.Error(t, err)
}

func TestRunRecorder_RecordsRun(t *testing.T) {
	w := &captureWriter{}
	event := sampleEvent()

	require.NoError(t, NewRunRecorder(w).RefreshCompleted(context.Background(), event))
	require.Len(t, w.runs, 1)

	run := w.runs[0]
	assert.Equal(t, event.CycleID, run.ID)
	assert.Equal(t, "background", run.Mode)
	assert.Equal(t, "preset=last_7d", run.Window)
	assert.Equal(t, int64(3), run.Generation)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.Contains(t, string(run.Sections), `"deadline exceeded"`)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer

	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, p.Publish(context.Background(), "store-1", []byte(`{"a":1}`)))
	require.NoError(t, p.Close())
	assert.Contains(t, buf.String(), `"key":"store-1"`)
	assert.Contains(t, buf.String(), `"payload_bytes":7`)
}

func TestConfig(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("ADLENS_EVENTS_TOPIC", "")

	cfg := LoadConfig()
	assert.False(t, cfg.Enabled())
	assert.Equal(t, DefaultTopic, cfg.Topic)

	p, err := New(cfg, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	t.Setenv("KAFKA_BROKERS", "localhost:9092, localhost:9093")
	t.Setenv("ADLENS_EVENTS_TOPIC", "custom.topic")

	cfg = LoadConfig()
	assert.True(t, cfg.Enabled())
	assert.Equal(t, []string{"localhost:9092", "localhost:9093"}, cfg.Brokers)
	assert.Equal(t, "custom.topic", cfg.Topic)

	p, err = New(cfg, slog.Default())
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, p)
	require.NoError(t, p.Close())
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, DefaultTopic, time.Second)
	require.ErrorIs(t, err, ErrNoBrokers)

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "", time.Second)
	assert.ErrorIs(t, err, ErrNoTopic)
}
