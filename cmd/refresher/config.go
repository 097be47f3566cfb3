package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

const (
	defaultInterval    = 15 * time.Minute
	defaultCycleWait   = 5 * time.Minute
	defaultConcurrency = 4
)

var (
	errNoStores         = errors.New("no stores to refresh: set ADLENS_REFRESH_STORES or ADLENS_ADS_TOKENS")
	errNoPresets        = errors.New("ADLENS_REFRESH_PRESETS cannot be empty")
	errInvalidInterval  = errors.New("ADLENS_REFRESH_INTERVAL must be positive")
	errInvalidCycleWait = errors.New("ADLENS_REFRESH_CYCLE_WAIT must be positive")
)

// Config holds the refresher schedule.
type Config struct {
	Stores      []string
	Presets     []string
	Interval    time.Duration
	CycleWait   time.Duration // bound on waiting for one cycle to settle
	Concurrency int
	RunOnce     bool
}

// LoadConfig loads the schedule from environment variables. Without
// ADLENS_REFRESH_STORES every store with an ad-platform token is refreshed.
func LoadConfig(tokenStores []string) (*Config, error) {
	cfg := &Config{
		Stores:      config.ParseCommaSeparatedList(config.GetEnvStr("ADLENS_REFRESH_STORES", "")),
		Presets:     config.ParseCommaSeparatedList(config.GetEnvStr("ADLENS_REFRESH_PRESETS", "last_7d,last_30d")),
		Interval:    config.GetEnvDuration("ADLENS_REFRESH_INTERVAL", defaultInterval),
		CycleWait:   config.GetEnvDuration("ADLENS_REFRESH_CYCLE_WAIT", defaultCycleWait),
		Concurrency: config.GetEnvInt("ADLENS_REFRESH_CONCURRENCY", defaultConcurrency),
		RunOnce:     config.GetEnvBool("ADLENS_REFRESH_ONCE", false),
	}

	if len(cfg.Stores) == 0 {
		cfg.Stores = tokenStores
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the schedule is usable.
func (c *Config) Validate() error {
	if len(c.Stores) == 0 {
		return errNoStores
	}

	if len(c.Presets) == 0 {
		return errNoPresets
	}

	if c.Interval <= 0 {
		return errInvalidInterval
	}

	if c.CycleWait <= 0 {
		return errInvalidCycleWait
	}

	c.Concurrency = max(c.Concurrency, 1)

	return nil
}

// String returns a one-line summary for logs.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Stores: %d, Presets: %s, Interval: %s}",
		len(c.Stores), strings.Join(c.Presets, ","), c.Interval)
}
