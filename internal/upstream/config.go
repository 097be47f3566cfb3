package upstream

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

const (
	defaultAdsBaseURL      = "https://graph.facebook.com/v19.0"
	defaultShopBaseURL     = "https://shop.example.com/api/2024-01"
	defaultRequestDeadline = 15 * time.Second
	defaultRequestsPerSec  = 5
	defaultBurst           = 10
	defaultMaxPages        = 10
	defaultMaxBodyBytes    = 16 << 20
)

var (
	// ErrBaseURLInvalid is returned when the configured base URL is not an absolute http(s) URL.
	ErrBaseURLInvalid = errors.New("upstream base URL must be an absolute http(s) URL")

	// ErrInvalidDeadline is returned for a non-positive request deadline.
	ErrInvalidDeadline = errors.New("upstream request deadline must be positive")
)

// Config holds connection settings for one upstream API.
type Config struct {
	BaseURL         string
	RequestDeadline time.Duration // Default per-request deadline
	RequestsPerSec  float64       // Client-side pacing; 0 disables pacing
	Burst           int
	MaxPages        int // Default page bound for List
	MaxBodyBytes    int64
}

// LoadAdsConfig loads the ad-platform API configuration from environment variables.
func LoadAdsConfig() *Config {
	return loadConfig("ADLENS_ADS", defaultAdsBaseURL)
}

// LoadShopConfig loads the e-commerce order API configuration from environment variables.
func LoadShopConfig() *Config {
	return loadConfig("ADLENS_SHOP", defaultShopBaseURL)
}

func loadConfig(prefix, baseURL string) *Config {
	return &Config{
		BaseURL:         config.GetEnvStr(prefix+"_API_URL", baseURL),
		RequestDeadline: config.GetEnvDuration(prefix+"_REQUEST_DEADLINE", defaultRequestDeadline),
		RequestsPerSec:  config.GetEnvFloat(prefix+"_RPS", defaultRequestsPerSec),
		Burst:           config.GetEnvInt(prefix+"_BURST", defaultBurst),
		MaxPages:        config.GetEnvInt(prefix+"_MAX_PAGES", defaultMaxPages),
		MaxBodyBytes:    config.GetEnvInt64(prefix+"_MAX_BODY_BYTES", defaultMaxBodyBytes),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrBaseURLInvalid
	}

	if c.RequestDeadline <= 0 {
		return ErrInvalidDeadline
	}

	return nil
}
