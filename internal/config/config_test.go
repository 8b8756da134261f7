package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.LinkPreview.Store)
	assert.Equal(t, 7*24*time.Hour, cfg.LinkPreview.CacheTTL)
	assert.False(t, cfg.LinkPreview.CircuitBreaker)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("LOBBY_PORT", "9000")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("LINK_PREVIEW_STORE", "postgres")
	t.Setenv("LINK_PREVIEW_FETCH_TIMEOUT_SECONDS", "3")
	t.Setenv("LINK_PREVIEW_TTL_DAYS", "2")
	t.Setenv("LINK_PREVIEW_CIRCUIT_BREAKER", "1")
	t.Setenv("LINK_PREVIEW_PREFETCH_CONCURRENCY", "8")

	cfg := ConfigFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, slog.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, StorePostgres, cfg.LinkPreview.Store)
	assert.Equal(t, 3*time.Second, cfg.LinkPreview.FetchTimeout)
	assert.Equal(t, 48*time.Hour, cfg.LinkPreview.CacheTTL)
	assert.True(t, cfg.LinkPreview.CircuitBreaker)
	assert.Equal(t, 8, cfg.LinkPreview.PrefetchConcurrency)
}

func TestConfigFromEnv_InvalidNumbersKeepDefaults(t *testing.T) {
	t.Setenv("LINK_PREVIEW_FETCH_TIMEOUT_SECONDS", "soon")
	t.Setenv("LINK_PREVIEW_MEMORY_ENTRIES", "-5")
	t.Setenv("LOG_LEVEL", "loud")

	cfg := ConfigFromEnv()
	def := DefaultConfig()

	assert.Equal(t, def.LinkPreview.FetchTimeout, cfg.LinkPreview.FetchTimeout)
	assert.Equal(t, def.LinkPreview.MemoryEntries, cfg.LinkPreview.MemoryEntries)
	assert.Equal(t, def.Logging.Level, cfg.Logging.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		wantErr error
		name    string
	}{
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.LinkPreview.Store = "redis" },
			wantErr: ErrInvalidStore,
		},
		{
			name:    "postgres without DSN",
			mutate:  func(c *Config) { c.LinkPreview.Store = StorePostgres },
			wantErr: ErrMissingDatabaseURL,
		},
		{
			name: "disk without path",
			mutate: func(c *Config) {
				c.LinkPreview.Store = StoreDisk
				c.LinkPreview.DiskPath = ""
			},
			wantErr: ErrMissingDiskPath,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.LinkPreview.FetchTimeout = 0 },
			wantErr: ErrInvalidFetchTimeout,
		},
		{
			name:    "bad endpoint",
			mutate:  func(c *Config) { c.LinkPreview.OEmbedEndpoint = "ftp://example.com" },
			wantErr: ErrInvalidOEmbedEndpoint,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: ErrInvalidLogFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
		})
	}
}
