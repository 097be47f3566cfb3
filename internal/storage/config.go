package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/adlens-io/adlens/internal/config"
)

const (
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 5
	defaultConnMaxLifetime   = 30 * time.Minute
	defaultConnMaxIdleTime   = 10 * time.Minute
	defaultSnapshotRetention = 0 // snapshots are kept indefinitely unless an operator opts in
	defaultCleanupInterval   = time.Hour
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrInvalidPoolSize is returned when the idle pool exceeds the open pool.
	ErrInvalidPoolSize = errors.New("max idle connections cannot exceed max open connections")
)

// Config holds PostgreSQL connection and snapshot retention settings.
type Config struct {
	databaseURL       string
	MaxOpenConns      int           // Maximum number of open connections
	MaxIdleConns      int           // Maximum number of idle connections
	ConnMaxLifetime   time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime   time.Duration // Maximum idle time for connections
	SnapshotRetention time.Duration // Opt-in pruning of snapshots not written for this long; 0 keeps them forever
	CleanupInterval   time.Duration // How often the pruning goroutine runs
}

// LoadConfig loads PostgreSQL configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:       config.GetEnvStr("DATABASE_URL", ""),
		MaxOpenConns:      config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:      config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:   config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:   config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		SnapshotRetention: config.GetEnvDuration("ADLENS_SNAPSHOT_RETENTION", defaultSnapshotRetention),
		CleanupInterval:   config.GetEnvDuration("ADLENS_SNAPSHOT_CLEANUP_INTERVAL", defaultCleanupInterval),
	}
}

// Enabled reports whether a database URL is configured.
// Without one the service runs on the in-memory snapshot store.
func (c *Config) Enabled() bool {
	return strings.TrimSpace(c.databaseURL) != ""
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return ErrDatabaseURLEmpty
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return ErrInvalidPoolSize
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	// The last @ separates userinfo from host; passwords may contain @.
	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	username, password, found := strings.Cut(afterScheme[:lastAtIndex], ":")
	if !found || password == "" {
		return c.databaseURL
	}

	return c.databaseURL[:schemeEnd] + "://" + username + ":***" + afterScheme[lastAtIndex:]
}
