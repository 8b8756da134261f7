package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	linkpreviewhandlers "Lobby/internal/api/handlers/linkpreview"
	"Lobby/internal/api/middleware"
	"Lobby/internal/api/routes"
	"Lobby/internal/config"
	"Lobby/internal/core/linkpreview"
	"Lobby/internal/httpclient"
	"Lobby/internal/logging"
	"Lobby/internal/metrics"
)

func main() {
	cfg := config.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		slog.Error("[CONFIG] invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		slog.Error("failed to init logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("[LINK-PREVIEW] failed to open preview store", "store", cfg.LinkPreview.Store, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	fetcher := linkpreview.NewOEmbedFetcher(
		linkpreview.WithEndpoint(cfg.LinkPreview.OEmbedEndpoint),
		linkpreview.WithHTTPClient(httpclient.NewSafeClient(cfg.LinkPreview.FetchTimeout, cfg.LinkPreview.AllowPrivateIPs)),
	)

	opts := []linkpreview.ServiceOption{
		linkpreview.WithCacheTTL(cfg.LinkPreview.CacheTTL),
		linkpreview.WithFetchTimeout(cfg.LinkPreview.FetchTimeout),
		linkpreview.WithPrefetchConcurrency(cfg.LinkPreview.PrefetchConcurrency),
		linkpreview.WithObserver(collector),
	}
	if cfg.LinkPreview.CircuitBreaker {
		opts = append(opts, linkpreview.WithCircuitBreaker())
	}

	previewService, err := linkpreview.NewService(store, fetcher, opts...)
	if err != nil {
		logger.Error("[LINK-PREVIEW] failed to create preview service", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(collector.InstrumentHandler)

	// Rate limiting: per-IP budget from config (default 100 requests per minute)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, 1*time.Minute)
	r.Use(rateLimiter.Middleware)

	routes.RegisterLinkPreviewRoutes(r, linkpreviewhandlers.NewHandler(previewService, cfg.AdminToken), cfg.CORSAllowedOrigins)

	r.Handle("/metrics", collector.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.LinkPreview.FetchTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Lobby media server starting",
			"port", cfg.Port,
			"store", cfg.LinkPreview.Store,
			"circuit_breaker", cfg.LinkPreview.CircuitBreaker,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForSignal(logger)

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// openStore builds the configured preview store. The returned close func is
// always safe to call.
func openStore(cfg config.Config) (linkpreview.Store, func(), error) {
	noop := func() {}

	switch cfg.LinkPreview.Store {
	case config.StoreDisk:
		store, err := linkpreview.NewDiskStore(cfg.LinkPreview.DiskPath)
		return store, noop, err

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to database: %w", err)
		}
		closeDB := func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("failed to close database", "error", closeErr)
			}
		}

		if err := db.Ping(); err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("failed to ping database: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("failed to set goose dialect: %w", err)
		}
		if err := goose.Up(db, "internal/db/migrations"); err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("Migrations completed successfully")

		store, err := linkpreview.NewPostgresStore(db)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		return store, closeDB, nil

	default:
		store, err := linkpreview.NewMemoryStore(cfg.LinkPreview.MemoryEntries)
		return store, noop, err
	}
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
}
