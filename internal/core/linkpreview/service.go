// Package linkpreview detects media links in chat text and resolves previews
// for them.
//
// The package is split the same way the data flows:
//   - Classify: finds the first URL in text and tags its platform
//   - ExtractID: pulls the canonical resource id out of a classified URL
//   - BuildThumbnailURL / BuildEmbedURL: pure URL templating per platform
//   - Fetcher: loads a preview for social posts from an oEmbed endpoint
//   - PreviewService: caches previews in a Store and collapses concurrent
//     fetches for the same post into one request
//
// Everything up to the builders is pure and deterministic. Only previews do I/O.
package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// previewProvider names the oEmbed provider for circuit breaking and metrics
const previewProvider = "x-oembed"

// Service is the preview pipeline as consumed by the HTTP layer
type Service interface {
	// Resolve classifies text and returns the media descriptor for its first
	// supported link, or nil.
	Resolve(text string, ec EmbedContext) *Media

	// Get returns a valid cached preview for postURL, or nil.
	Get(ctx context.Context, postURL string) *PreviewRecord

	// GetOrFetch returns the cached preview or fetches it, sharing one fetch
	// among concurrent callers. The error is only ever ctx.Err().
	GetOrFetch(ctx context.Context, postURL string) (*PreviewRecord, error)

	// PrefetchPreviews resolves previews for several URLs concurrently.
	PrefetchPreviews(ctx context.Context, postURLs []string) (map[string]*PreviewRecord, error)

	// Clear removes every preview entry from the store.
	Clear(ctx context.Context) (int, error)
}

// Observer receives pipeline events for metrics
type Observer interface {
	// ObserveLookup is called for every cache read with "hit", "miss" or "invalid"
	ObserveLookup(outcome string)
	// ObserveFetch is called once per outbound fetch with "success", "failure" or "circuit_open"
	ObserveFetch(outcome string, duration time.Duration)
	// ObserveSharedFetch is called when a caller joins a fetch already in flight
	ObserveSharedFetch()
}

type noopObserver struct{}

func (noopObserver) ObserveLookup(string)               {}
func (noopObserver) ObserveFetch(string, time.Duration) {}
func (noopObserver) ObserveSharedFetch()                {}

// flight is one outstanding fetch; done is closed once record is final.
// waiters counts callers still waiting on done.
type flight struct {
	done    chan struct{}
	record  *PreviewRecord
	waiters int
}

// PreviewService implements Service
type PreviewService struct {
	store               Store
	fetcher             Fetcher
	observer            Observer
	circuitBreaker      *circuitBreaker
	now                 func() time.Time
	inflight            map[string]*flight
	cacheTTL            time.Duration
	fetchTimeout        time.Duration
	prefetchConcurrency int
	mu                  sync.Mutex
}

// ServiceOption configures the service
type ServiceOption func(*PreviewService)

// WithCacheTTL sets how long a cached preview stays valid
func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *PreviewService) {
		s.cacheTTL = ttl
	}
}

// WithFetchTimeout bounds a single shared fetch
func WithFetchTimeout(timeout time.Duration) ServiceOption {
	return func(s *PreviewService) {
		s.fetchTimeout = timeout
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) ServiceOption {
	return func(s *PreviewService) {
		s.now = now
	}
}

// WithObserver sets the metrics observer
func WithObserver(o Observer) ServiceOption {
	return func(s *PreviewService) {
		s.observer = o
	}
}

// WithCircuitBreaker enables the per-provider circuit breaker.
// While open, fetches are skipped and GetOrFetch returns no preview.
func WithCircuitBreaker() ServiceOption {
	return func(s *PreviewService) {
		s.circuitBreaker = newCircuitBreaker(nil)
	}
}

// WithPrefetchConcurrency limits concurrent fetches in PrefetchPreviews
func WithPrefetchConcurrency(n int) ServiceOption {
	return func(s *PreviewService) {
		s.prefetchConcurrency = n
	}
}

// NewService creates a PreviewService. Returns an error if a dependency is nil.
func NewService(store Store, fetcher Fetcher, opts ...ServiceOption) (*PreviewService, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrNilDependency)
	}

	s := &PreviewService{
		store:               store,
		fetcher:             fetcher,
		observer:            noopObserver{},
		now:                 time.Now,
		inflight:            make(map[string]*flight),
		cacheTTL:            DefaultCacheTTL,
		fetchTimeout:        15 * time.Second,
		prefetchConcurrency: 4,
	}

	for _, opt := range opts {
		opt(s)
	}

	// The breaker shares the service clock so tests can move time
	if s.circuitBreaker != nil {
		s.circuitBreaker.now = s.now
	}
	if s.prefetchConcurrency <= 0 {
		s.prefetchConcurrency = 1
	}

	return s, nil
}

// Resolve classifies text and builds its media descriptor
func (s *PreviewService) Resolve(text string, ec EmbedContext) *Media {
	return Resolve(text, ec)
}

// Get reads and validates the cached preview for postURL.
// Invalid, outdated and expired entries are deleted and reported as a miss.
func (s *PreviewService) Get(ctx context.Context, postURL string) *PreviewRecord {
	key := CacheKey(postURL)

	data, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("[LINK-PREVIEW] cache read error, treating as miss",
				"key", key,
				"error", err,
			)
		}
		s.observer.ObserveLookup("miss")
		return nil
	}

	record, err := decodeEntry(data, s.now(), s.cacheTTL)
	if err != nil {
		slog.Debug("[LINK-PREVIEW] evicting cache entry",
			"key", key,
			"reason", err,
		)
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			slog.Warn("[LINK-PREVIEW] failed to evict cache entry",
				"key", key,
				"error", delErr,
			)
		}
		s.observer.ObserveLookup("invalid")
		return nil
	}

	s.observer.ObserveLookup("hit")
	return record
}

// Set stores record for postURL. Failures are logged and otherwise ignored.
func (s *PreviewService) Set(ctx context.Context, postURL string, record *PreviewRecord) {
	if record == nil {
		return
	}
	key := CacheKey(postURL)

	data, err := encodeEntry(record, s.now())
	if err != nil {
		slog.Warn("[LINK-PREVIEW] failed to encode cache entry",
			"key", key,
			"error", err,
		)
		return
	}

	if err := s.store.Set(ctx, key, data); err != nil {
		slog.Warn("[LINK-PREVIEW] failed to write cache entry",
			"key", key,
			"error", err,
		)
	}
}

// FetchPreview performs one fetch for postURL and never returns an error:
// upstream and decoding failures are logged and reported as nil.
func (s *PreviewService) FetchPreview(ctx context.Context, postURL string) *PreviewRecord {
	if s.circuitBreaker != nil {
		if err := s.circuitBreaker.canAttempt(previewProvider); err != nil {
			slog.Info("[LINK-PREVIEW] skipping fetch",
				"url", postURL,
				"error", err,
			)
			s.observer.ObserveFetch("circuit_open", 0)
			return nil
		}
	}

	start := s.now()
	record, err := s.fetcher.Fetch(ctx, postURL)
	elapsed := s.now().Sub(start)

	if err != nil {
		if s.circuitBreaker != nil {
			s.circuitBreaker.recordFailure(previewProvider, err)
		}
		slog.Warn("[LINK-PREVIEW] preview fetch failed",
			"url", postURL,
			"error", err,
		)
		s.observer.ObserveFetch("failure", elapsed)
		return nil
	}

	if s.circuitBreaker != nil {
		s.circuitBreaker.recordSuccess(previewProvider)
	}
	s.observer.ObserveFetch("success", elapsed)
	return record
}

// GetOrFetch returns the cached preview for postURL, or joins or starts the
// single in-flight fetch for its cache key.
//
// The fetch is detached from ctx: a caller that stops waiting gets ctx.Err()
// while the fetch still completes for everyone else and fills the cache.
func (s *PreviewService) GetOrFetch(ctx context.Context, postURL string) (*PreviewRecord, error) {
	if record := s.Get(ctx, postURL); record != nil {
		return record, nil
	}

	key := CacheKey(postURL)

	s.mu.Lock()
	f, ok := s.inflight[key]
	if ok {
		f.waiters++
	} else {
		f = &flight{done: make(chan struct{}), waiters: 1}
		s.inflight[key] = f
	}
	s.mu.Unlock()

	if ok {
		s.observer.ObserveSharedFetch()
	} else {
		go s.runFlight(context.WithoutCancel(ctx), key, postURL, f)
	}

	select {
	case <-f.done:
		return f.record, nil
	case <-ctx.Done():
		s.mu.Lock()
		f.waiters--
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// runFlight fetches, caches a non-nil result, then releases every waiter.
// The entry leaves the in-flight table only after the cache write so a
// caller arriving in between finds either the flight or the cached record.
func (s *PreviewService) runFlight(ctx context.Context, key, postURL string, f *flight) {
	var record *PreviewRecord

	defer func() {
		if r := recover(); r != nil {
			slog.Error("[LINK-PREVIEW] preview fetch panicked",
				"url", postURL,
				"panic", r,
			)
			record = nil
		}

		s.mu.Lock()
		delete(s.inflight, key)
		f.record = record
		s.mu.Unlock()
		close(f.done)
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	record = s.FetchPreview(fetchCtx, postURL)
	if record != nil {
		s.Set(ctx, postURL, record)
	}
}

// PrefetchPreviews resolves previews for postURLs with bounded concurrency.
// URLs without a preview are absent from the result. The returned error is
// ctx's error when the caller gave up early.
func (s *PreviewService) PrefetchPreviews(ctx context.Context, postURLs []string) (map[string]*PreviewRecord, error) {
	results := make(map[string]*PreviewRecord, len(postURLs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.prefetchConcurrency)

	seen := make(map[string]bool, len(postURLs))
	for _, postURL := range postURLs {
		if seen[postURL] {
			continue
		}
		seen[postURL] = true

		g.Go(func() error {
			record, err := s.GetOrFetch(gctx, postURL)
			if err != nil {
				return err
			}
			if record != nil {
				mu.Lock()
				results[postURL] = record
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// Clear removes every preview entry from the store
func (s *PreviewService) Clear(ctx context.Context) (int, error) {
	removed, err := s.store.DeletePrefix(ctx, CacheKeyPrefix)
	if err != nil {
		return removed, fmt.Errorf("failed to clear preview cache: %w", err)
	}

	slog.Info("[LINK-PREVIEW] preview cache cleared",
		"entries_removed", removed,
	)
	return removed, nil
}

// waiters returns how many callers are still waiting on the flight for key
func (s *PreviewService) waiters(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.inflight[key]; ok {
		return f.waiters
	}
	return 0
}
