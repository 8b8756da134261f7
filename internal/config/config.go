// Package config loads server settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends for the preview cache
const (
	StoreMemory   = "memory"
	StoreDisk     = "disk"
	StorePostgres = "postgres"
)

// Config validation errors
var (
	ErrInvalidStore          = errors.New("LinkPreview.Store must be memory, disk or postgres")
	ErrMissingDatabaseURL    = errors.New("DatabaseURL is required for the postgres store")
	ErrMissingDiskPath       = errors.New("LinkPreview.DiskPath is required for the disk store")
	ErrInvalidFetchTimeout   = errors.New("LinkPreview.FetchTimeout must be positive")
	ErrInvalidCacheTTL       = errors.New("LinkPreview.CacheTTL must be positive")
	ErrInvalidMemoryEntries  = errors.New("LinkPreview.MemoryEntries must be positive")
	ErrInvalidPrefetchLimit  = errors.New("LinkPreview.PrefetchConcurrency must be positive")
	ErrInvalidOEmbedEndpoint = errors.New("LinkPreview.OEmbedEndpoint must be an http(s) URL")
	ErrInvalidLogFormat      = errors.New("Logging.Format must be text or json")
	ErrInvalidRateLimit      = errors.New("RateLimitPerMinute must be positive")
)

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Format string
	Level  slog.Level
}

// LinkPreviewConfig controls the preview pipeline
type LinkPreviewConfig struct {
	// Store selects the cache backend: memory, disk or postgres.
	Store string

	// DiskPath is the directory for the disk store.
	DiskPath string

	// OEmbedEndpoint is the metadata endpoint for social post previews.
	OEmbedEndpoint string

	// MemoryEntries bounds the memory store.
	MemoryEntries int

	// FetchTimeout bounds one outbound preview request.
	FetchTimeout time.Duration

	// CacheTTL is how long a cached preview stays valid.
	CacheTTL time.Duration

	// PrefetchConcurrency limits concurrent fetches in batch prefetch.
	PrefetchConcurrency int

	// CircuitBreaker enables skipping the provider after repeated failures.
	CircuitBreaker bool

	// AllowPrivateIPs lets the fetcher reach private addresses (dev only).
	AllowPrivateIPs bool
}

// Config holds the server configuration
type Config struct {
	Logging            LoggingConfig
	DatabaseURL        string
	Port               string
	AdminToken         string
	CORSAllowedOrigins []string
	LinkPreview        LinkPreviewConfig
	RateLimitPerMinute int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Format: "text",
			Level:  slog.LevelInfo,
		},
		Port:               "8081",
		CORSAllowedOrigins: []string{"*"},
		RateLimitPerMinute: 100,
		LinkPreview: LinkPreviewConfig{
			Store:               StoreMemory,
			DiskPath:            "/var/cache/lobby/previews",
			OEmbedEndpoint:      "https://publish.twitter.com/oembed",
			MemoryEntries:       10000,
			FetchTimeout:        10 * time.Second,
			CacheTTL:            7 * 24 * time.Hour,
			PrefetchConcurrency: 4,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	lp := c.LinkPreview

	switch lp.Store {
	case StoreMemory:
		if lp.MemoryEntries <= 0 {
			return fmt.Errorf("%w: got %d", ErrInvalidMemoryEntries, lp.MemoryEntries)
		}
	case StoreDisk:
		if lp.DiskPath == "" {
			return ErrMissingDiskPath
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidStore, lp.Store)
	}

	if lp.FetchTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidFetchTimeout, lp.FetchTimeout)
	}
	if lp.CacheTTL <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidCacheTTL, lp.CacheTTL)
	}
	if lp.PrefetchConcurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidPrefetchLimit, lp.PrefetchConcurrency)
	}
	if !strings.HasPrefix(lp.OEmbedEndpoint, "https://") && !strings.HasPrefix(lp.OEmbedEndpoint, "http://") {
		return fmt.Errorf("%w: got %q", ErrInvalidOEmbedEndpoint, lp.OEmbedEndpoint)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: got %q", ErrInvalidLogFormat, c.Logging.Format)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRateLimit, c.RateLimitPerMinute)
	}

	return nil
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing or unparsable values.
//
// Environment variables:
//   - DATABASE_URL: postgres DSN (required for the postgres store)
//   - LOBBY_PORT: listen port (default: 8081)
//   - LOG_FORMAT: "text" or "json" (default: text)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - ADMIN_TOKEN: token required by the cache-clear endpoint (default: "" disables it)
//   - CORS_ALLOWED_ORIGINS: comma-separated origins (default: *)
//   - RATE_LIMIT_REQUESTS_PER_MINUTE: per-client request budget (default: 100)
//   - LINK_PREVIEW_STORE: memory, disk or postgres (default: memory)
//   - LINK_PREVIEW_DISK_PATH: disk store directory (default: /var/cache/lobby/previews)
//   - LINK_PREVIEW_MEMORY_ENTRIES: memory store size (default: 10000)
//   - LINK_PREVIEW_OEMBED_ENDPOINT: oEmbed endpoint (default: https://publish.twitter.com/oembed)
//   - LINK_PREVIEW_FETCH_TIMEOUT_SECONDS: outbound timeout (default: 10)
//   - LINK_PREVIEW_TTL_DAYS: cache validity in days (default: 7)
//   - LINK_PREVIEW_PREFETCH_CONCURRENCY: batch prefetch workers (default: 4)
//   - LINK_PREVIEW_CIRCUIT_BREAKER: "true"/"1" to enable (default: false)
//   - LINK_PREVIEW_ALLOW_PRIVATE_IPS: "true"/"1" to allow private targets (default: false)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LOBBY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err == nil {
			cfg.Logging.Level = level
		} else {
			slog.Warn("[CONFIG] invalid LOG_LEVEL value, using default",
				"value", v,
				"default", cfg.Logging.Level.String(),
				"error", err,
			)
		}
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}
	cfg.RateLimitPerMinute = intFromEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", cfg.RateLimitPerMinute)

	lp := &cfg.LinkPreview
	if v := os.Getenv("LINK_PREVIEW_STORE"); v != "" {
		lp.Store = strings.ToLower(v)
	}
	if v := os.Getenv("LINK_PREVIEW_DISK_PATH"); v != "" {
		lp.DiskPath = v
	}
	if v := os.Getenv("LINK_PREVIEW_OEMBED_ENDPOINT"); v != "" {
		lp.OEmbedEndpoint = v
	}
	lp.MemoryEntries = intFromEnv("LINK_PREVIEW_MEMORY_ENTRIES", lp.MemoryEntries)
	lp.FetchTimeout = time.Duration(intFromEnv("LINK_PREVIEW_FETCH_TIMEOUT_SECONDS", int(lp.FetchTimeout.Seconds()))) * time.Second
	lp.CacheTTL = time.Duration(intFromEnv("LINK_PREVIEW_TTL_DAYS", int(lp.CacheTTL.Hours()/24))) * 24 * time.Hour
	lp.PrefetchConcurrency = intFromEnv("LINK_PREVIEW_PREFETCH_CONCURRENCY", lp.PrefetchConcurrency)

	if v := os.Getenv("LINK_PREVIEW_CIRCUIT_BREAKER"); v != "" {
		lp.CircuitBreaker = v == "true" || v == "1"
	}
	if v := os.Getenv("LINK_PREVIEW_ALLOW_PRIVATE_IPS"); v != "" {
		lp.AllowPrivateIPs = v == "true" || v == "1"
	}

	return cfg
}

// intFromEnv parses a positive integer variable, keeping def on bad input
func intFromEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("[CONFIG] invalid value, using default",
			"variable", name,
			"value", v,
			"default", def,
			"error", err,
		)
		return def
	}
	return n
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
