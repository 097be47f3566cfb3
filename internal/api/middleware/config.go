package middleware

import (
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits are requests per second for three tiers:
//   - Global: every request
//   - Per-store: requests under /api/v1/stores/{storeID}/
//   - Anonymous: requests that name no store
//
// Burst fields left at 0 are computed as 2 × rate.
type Config struct {
	GlobalRPS    int
	StoreRPS     int
	AnonymousRPS int

	GlobalBurst    int
	StoreBurst     int
	AnonymousBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxStores       int
}

// LoadConfig loads rate limiter config from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:    config.GetEnvInt("ADLENS_GLOBAL_RPS", defaultGlobalRPS),
		StoreRPS:     config.GetEnvInt("ADLENS_STORE_RPS", defaultStoreRPS),
		AnonymousRPS: config.GetEnvInt("ADLENS_ANONYMOUS_RPS", defaultAnonymousRPS),

		GlobalBurst:    config.GetEnvInt("ADLENS_GLOBAL_BURST", 0),
		StoreBurst:     config.GetEnvInt("ADLENS_STORE_BURST", 0),
		AnonymousBurst: config.GetEnvInt("ADLENS_ANONYMOUS_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"ADLENS_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout: config.GetEnvDuration("ADLENS_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxStores:   config.GetEnvInt("ADLENS_RATE_LIMIT_MAX_STORES", defaultMaxStores),
	}
}
