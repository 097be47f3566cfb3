package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("ADLENS_CACHE_BACKEND", "MEMORY")
	t.Setenv("ADLENS_CACHE_MAX_ENTRIES", "250")

	cfg := LoadConfig()

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 250, cfg.MaxEntries)
	assert.Equal(t, defaultRedisMaxAge, cfg.RedisMaxAge)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "memory", cfg: Config{Backend: BackendMemory, MaxEntries: 1}},
		{name: "memory without size", cfg: Config{Backend: BackendMemory}, wantErr: ErrInvalidSize},
		{name: "redis", cfg: Config{Backend: BackendRedis, RedisURL: "redis://localhost:6379"}},
		{name: "redis without url", cfg: Config{Backend: BackendRedis}, wantErr: ErrRedisURLEmpty},
		{name: "unknown", cfg: Config{Backend: "memcached"}, wantErr: ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_Memory(t *testing.T) {
	c, closeFn, err := New(context.Background(), &Config{Backend: BackendMemory, MaxEntries: 5}, nil)
	require.NoError(t, err)
	require.NotNil(t, closeFn)

	assert.IsType(t, &LRUCache{}, c)
	assert.NoError(t, closeFn())
}
