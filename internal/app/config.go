// Package app assembles the adlens services from configuration. Both the API
// server and the background refresher are built from it.
package app

import (
	"errors"
	"time"

	"github.com/adlens-io/adlens/internal/attribution"
	"github.com/adlens-io/adlens/internal/cache"
	"github.com/adlens-io/adlens/internal/config"
	"github.com/adlens-io/adlens/internal/events"
	"github.com/adlens-io/adlens/internal/fetch"
	"github.com/adlens-io/adlens/internal/refresh"
	"github.com/adlens-io/adlens/internal/storage"
	"github.com/adlens-io/adlens/internal/upstream"
)

// ErrInvalidAttributionTTL is returned for a non-positive attribution TTL.
var ErrInvalidAttributionTTL = errors.New("attribution TTL must be positive")

// Config gathers the configuration of every component.
type Config struct {
	Storage  *storage.Config
	Cache    *cache.Config
	Ads      *upstream.Config
	Shop     *upstream.Config // nil disables the orders section
	Events   *events.Config
	Policies *fetch.Policies

	AdsTokens  map[string]string
	ShopTokens map[string]string

	AttributionTTL time.Duration
	MaxSchedulers  int // refresh schedulers kept across (store, window) pairs
}

// LoadConfig loads the configuration of every component from the environment.
//
// Environment variables read here:
//   - ADLENS_ADS_TOKENS: store=token pairs for the ad platform
//   - ADLENS_SHOP_ENABLED: enables the order API (default: false)
//   - ADLENS_SHOP_TOKENS: store=token pairs for the order API
//   - ADLENS_ATTRIBUTION_TTL: lookup table lifetime (default: 30m)
//   - ADLENS_REFRESH_MAX_SCHEDULERS: bound on kept refresh schedulers (default: 1000)
func LoadConfig() (*Config, error) {
	policies, err := fetch.LoadPoliciesFromEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Storage:        storage.LoadConfig(),
		Cache:          cache.LoadConfig(),
		Ads:            upstream.LoadAdsConfig(),
		Events:         events.LoadConfig(),
		Policies:       policies,
		AdsTokens:      config.ParseKeyValueList(config.GetEnvStr("ADLENS_ADS_TOKENS", "")),
		ShopTokens:     config.ParseKeyValueList(config.GetEnvStr("ADLENS_SHOP_TOKENS", "")),
		AttributionTTL: config.GetEnvDuration("ADLENS_ATTRIBUTION_TTL", attribution.DefaultTTL),
		MaxSchedulers:  config.GetEnvInt("ADLENS_REFRESH_MAX_SCHEDULERS", refresh.DefaultRegistryCapacity),
	}

	if config.GetEnvBool("ADLENS_SHOP_ENABLED", false) {
		cfg.Shop = upstream.LoadShopConfig()
	}

	return cfg, nil
}

// Validate checks every component configuration that New will use.
func (c *Config) Validate() error {
	if c.Storage.Enabled() {
		if err := c.Storage.Validate(); err != nil {
			return err
		}
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if err := c.Ads.Validate(); err != nil {
		return err
	}

	if c.Shop != nil {
		if err := c.Shop.Validate(); err != nil {
			return err
		}
	}

	if c.AttributionTTL <= 0 {
		return ErrInvalidAttributionTTL
	}

	if c.MaxSchedulers < 0 {
		return refresh.ErrInvalidCapacity
	}

	return nil
}
