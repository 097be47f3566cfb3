package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adlens-io/adlens/internal/config"
)

var (
	errDatabaseURLEmpty    = errors.New("DATABASE_URL cannot be empty")
	errMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationTable is the name of the table to track migrations
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errDatabaseURLEmpty
	}

	if strings.TrimSpace(c.MigrationTable) == "" {
		return errMigrationTableEmpty
	}

	return nil
}

// String returns a representation of the configuration that is safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL replaces the password in a URL's userinfo with asterisks.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return url
	}

	authority := url[schemeEnd+3:]
	if end := strings.IndexAny(authority, "/?#"); end != -1 {
		authority = authority[:end]
	}

	// Passwords may contain "@", so split on the last one.
	at := strings.LastIndex(authority, "@")
	if at == -1 {
		return url
	}

	user, password, found := strings.Cut(authority[:at], ":")
	if !found || password == "" {
		return url
	}

	return url[:schemeEnd+3] + user + ":***" + url[schemeEnd+3+at:]
}
