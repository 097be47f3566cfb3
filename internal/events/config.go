package events

import (
	"log/slog"
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

const (
	// DefaultTopic receives refresh completion events.
	DefaultTopic = "adlens.refresh.completed"

	defaultWriteTimeout = 10 * time.Second
)

// Config holds event publishing settings.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig loads event settings from environment variables with fallback to defaults.
//
// Environment variables:
//   - KAFKA_BROKERS: comma-separated broker list; empty disables Kafka
//   - ADLENS_EVENTS_TOPIC: topic name (default: adlens.refresh.completed)
//   - ADLENS_EVENTS_WRITE_TIMEOUT: per-write timeout (default: 10s)
func LoadConfig() *Config {
	return &Config{
		Brokers:      config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("ADLENS_EVENTS_TOPIC", DefaultTopic),
		WriteTimeout: config.GetEnvDuration("ADLENS_EVENTS_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether a Kafka broker is configured.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// New returns a Kafka publisher when brokers are configured and a log publisher otherwise.
func New(cfg *Config, logger *slog.Logger) (Publisher, error) {
	if !cfg.Enabled() {
		return NewLogPublisher(logger), nil
	}

	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, cfg.WriteTimeout)
}
