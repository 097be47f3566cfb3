// Package events publishes refresh lifecycle events to downstream consumers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	// ErrNoBrokers is returned when creating a Kafka publisher without brokers.
	ErrNoBrokers = errors.New("kafka publisher requires at least one broker")

	// ErrNoTopic is returned when creating a Kafka publisher without a topic.
	ErrNoTopic = errors.New("kafka publisher requires a topic")
)

type (
	// Publisher delivers an encoded event. Key selects the partition.
	Publisher interface {
		Publish(ctx context.Context, key string, payload []byte) error
		Close() error
	}

	// KafkaPublisher writes events to one Kafka topic.
	KafkaPublisher struct {
		writer *kafka.Writer
	}

	// LogPublisher logs events instead of delivering them. Used when no broker is configured.
	LogPublisher struct {
		logger *slog.Logger
	}
)

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, writeTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if topic == "" {
		return nil, ErrNoTopic
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           writeTimeout,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish writes one message keyed by key.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}

	return nil
}

// Close flushes pending writes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event size and key.
func (p *LogPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	p.logger.InfoContext(ctx, "Event published",
		slog.String("key", key),
		slog.Int("payload_bytes", len(payload)))

	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
