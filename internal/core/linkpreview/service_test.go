package linkpreview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher counts calls and optionally blocks until release is closed
type mockFetcher struct {
	release chan struct{}
	respond func(postURL string) (*PreviewRecord, error)
	calls   atomic.Int32
}

func (m *mockFetcher) Fetch(ctx context.Context, postURL string) (*PreviewRecord, error) {
	m.calls.Add(1)
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.respond != nil {
		return m.respond(postURL)
	}
	return &PreviewRecord{AuthorName: "jack", AuthorURL: "https://x.com/jack", Text: "post " + postURL}, nil
}

// fakeClock is safe to read from the fetch goroutine
type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	lookups []string
	fetches []string
	shared  int
	mu      sync.Mutex
}

func (o *recordingObserver) ObserveLookup(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, outcome)
}

func (o *recordingObserver) ObserveFetch(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, outcome)
}

func (o *recordingObserver) ObserveSharedFetch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shared++
}

// failingStore fails every operation
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("storage unavailable")
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("storage unavailable")
}

func (failingStore) DeletePrefix(context.Context, string) (int, error) {
	return 0, errors.New("storage unavailable")
}

func newTestService(t *testing.T, fetcher Fetcher, opts ...ServiceOption) (*PreviewService, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore(100)
	require.NoError(t, err)
	svc, err := NewService(store, fetcher, opts...)
	require.NoError(t, err)
	return svc, store
}

func TestNewService_NilDependencies(t *testing.T) {
	store, err := NewMemoryStore(1)
	require.NoError(t, err)

	_, err = NewService(nil, &mockFetcher{})
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewService(store, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestGetOrFetch_ConcurrentCallersShareOneFetch(t *testing.T) {
	fetcher := &mockFetcher{release: make(chan struct{})}
	svc, _ := newTestService(t, fetcher)

	// Both URLs carry the same post id, so they share a cache key
	urls := []string{
		"https://x.com/jack/status/20",
		"https://twitter.com/jack/status/20?s=20#reply",
	}

	results := make([]*PreviewRecord, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := svc.GetOrFetch(context.Background(), u)
			assert.NoError(t, err)
			results[i] = record
		}()
	}

	key := CacheKey(urls[0])
	require.Eventually(t, func() bool { return svc.waiters(key) == 2 }, time.Second, time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	require.NotNil(t, results[0])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 0, svc.waiters(key), "flight removed after completion")

	cached := svc.Get(context.Background(), urls[1])
	assert.Equal(t, results[0], cached)
}

func TestGetOrFetch_DifferentPostsFetchIndependently(t *testing.T) {
	fetcher := &mockFetcher{}
	svc, _ := newTestService(t, fetcher)
	ctx := context.Background()

	a, err := svc.GetOrFetch(ctx, "https://x.com/jack/status/1")
	require.NoError(t, err)
	b, err := svc.GetOrFetch(ctx, "https://x.com/jack/status/2")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestGetOrFetch_CacheHitSkipsFetch(t *testing.T) {
	fetcher := &mockFetcher{}
	svc, _ := newTestService(t, fetcher)
	ctx := context.Background()

	record := &PreviewRecord{AuthorName: "cached", Text: "from cache"}
	svc.Set(ctx, "https://x.com/a/status/5", record)

	got, err := svc.GetOrFetch(ctx, "https://x.com/a/status/5?ref=share")
	require.NoError(t, err)
	assert.Equal(t, record, got)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestGet_ExpiredEntryIsEvicted(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	svc, store := newTestService(t, &mockFetcher{}, WithClock(clock.Now))
	ctx := context.Background()
	postURL := "https://x.com/a/status/7"

	svc.Set(ctx, postURL, &PreviewRecord{AuthorName: "a", Text: "t"})
	require.NotNil(t, svc.Get(ctx, postURL))

	clock.Advance(DefaultCacheTTL + time.Minute)
	assert.Nil(t, svc.Get(ctx, postURL))

	_, err := store.Get(ctx, CacheKey(postURL))
	assert.ErrorIs(t, err, ErrCacheMiss, "expired entry removed from storage")
}

func TestGet_VersionMismatchIsEvicted(t *testing.T) {
	svc, store := newTestService(t, &mockFetcher{})
	ctx := context.Background()
	postURL := "https://x.com/a/status/8"
	key := CacheKey(postURL)

	stale := fmt.Sprintf(`{"preview":{"authorName":"a","authorUrl":"","text":"t"},"timestamp":%d,"version":%d}`,
		time.Now().UnixMilli(), CacheSchemaVersion+1)
	require.NoError(t, store.Set(ctx, key, []byte(stale)))

	assert.Nil(t, svc.Get(ctx, postURL))
	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGet_IncompleteEntryIsEvicted(t *testing.T) {
	svc, store := newTestService(t, &mockFetcher{})
	ctx := context.Background()
	postURL := "https://x.com/a/status/9"
	key := CacheKey(postURL)

	incomplete := fmt.Sprintf(`{"preview":{"authorUrl":""},"timestamp":%d,"version":%d}`,
		time.Now().UnixMilli(), CacheSchemaVersion)
	require.NoError(t, store.Set(ctx, key, []byte(incomplete)))

	assert.Nil(t, svc.Get(ctx, postURL))
	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestGetOrFetch_FailureLeavesURLUncached(t *testing.T) {
	fetcher := &mockFetcher{respond: func(string) (*PreviewRecord, error) {
		return nil, fmt.Errorf("%w: status 503", ErrUpstreamUnavailable)
	}}
	svc, store := newTestService(t, fetcher)
	ctx := context.Background()
	postURL := "https://x.com/a/status/10"

	record, err := svc.GetOrFetch(ctx, postURL)
	require.NoError(t, err)
	assert.Nil(t, record)

	_, err = store.Get(ctx, CacheKey(postURL))
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = svc.GetOrFetch(ctx, postURL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load(), "next request repeats the fetch")
}

func TestGetOrFetch_StorageFailureStillReturnsRecord(t *testing.T) {
	fetcher := &mockFetcher{}
	svc, err := NewService(failingStore{}, fetcher)
	require.NoError(t, err)

	record, err := svc.GetOrFetch(context.Background(), "https://x.com/a/status/11")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "jack", record.AuthorName)
}

func TestGetOrFetch_PanickingFetcher(t *testing.T) {
	fetcher := &mockFetcher{respond: func(string) (*PreviewRecord, error) {
		panic("boom")
	}}
	svc, _ := newTestService(t, fetcher)
	postURL := "https://x.com/a/status/12"

	record, err := svc.GetOrFetch(context.Background(), postURL)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 0, svc.waiters(CacheKey(postURL)))
}

func TestGetOrFetch_WaiterGivesUpWhileFetchCompletes(t *testing.T) {
	fetcher := &mockFetcher{release: make(chan struct{})}
	svc, _ := newTestService(t, fetcher)
	postURL := "https://x.com/a/status/13"

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.GetOrFetch(ctx, postURL)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return svc.waiters(CacheKey(postURL)) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	svc.mu.Lock()
	_, stillInFlight := svc.inflight[CacheKey(postURL)]
	svc.mu.Unlock()
	assert.True(t, stillInFlight, "fetch keeps running after the caller leaves")
	assert.Equal(t, 0, svc.waiters(CacheKey(postURL)), "departed caller no longer counted")

	close(fetcher.release)
	require.Eventually(t, func() bool {
		return svc.Get(context.Background(), postURL) != nil
	}, time.Second, 5*time.Millisecond, "detached fetch still fills the cache")
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestGetOrFetch_FetchTimeout(t *testing.T) {
	fetcher := &mockFetcher{release: make(chan struct{})}
	defer close(fetcher.release)
	svc, _ := newTestService(t, fetcher, WithFetchTimeout(20*time.Millisecond))

	record, err := svc.GetOrFetch(context.Background(), "https://x.com/a/status/14")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetOrFetch_CircuitBreaker(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	fetcher := &mockFetcher{respond: func(postURL string) (*PreviewRecord, error) {
		if fail.Load() {
			return nil, ErrUpstreamUnavailable
		}
		return &PreviewRecord{AuthorName: "back", Text: "online"}, nil
	}}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	observer := &recordingObserver{}
	svc, _ := newTestService(t, fetcher, WithCircuitBreaker(), WithClock(clock.Now), WithObserver(observer))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record, err := svc.GetOrFetch(ctx, fmt.Sprintf("https://x.com/a/status/%d", 100+i))
		require.NoError(t, err)
		assert.Nil(t, record)
	}
	assert.Equal(t, stateOpen, svc.circuitBreaker.getState(previewProvider))

	record, err := svc.GetOrFetch(ctx, "https://x.com/a/status/200")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, int32(3), fetcher.calls.Load(), "open circuit skips the fetch")

	fail.Store(false)
	clock.Advance(6 * time.Minute)

	record, err = svc.GetOrFetch(ctx, "https://x.com/a/status/200")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "back", record.AuthorName)
	assert.Equal(t, stateClosed, svc.circuitBreaker.getState(previewProvider))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []string{"failure", "failure", "failure", "circuit_open", "success"}, observer.fetches)
}

func TestService_ObserverOutcomes(t *testing.T) {
	observer := &recordingObserver{}
	svc, store := newTestService(t, &mockFetcher{}, WithObserver(observer))
	ctx := context.Background()

	_, err := svc.GetOrFetch(ctx, "https://x.com/a/status/15")
	require.NoError(t, err)
	assert.NotNil(t, svc.Get(ctx, "https://x.com/a/status/15"))

	require.NoError(t, store.Set(ctx, CacheKey("https://x.com/a/status/16"), []byte("garbage")))
	assert.Nil(t, svc.Get(ctx, "https://x.com/a/status/16"))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, []string{"miss", "hit", "invalid"}, observer.lookups)
	assert.Equal(t, []string{"success"}, observer.fetches)
}

func TestPrefetchPreviews(t *testing.T) {
	fetcher := &mockFetcher{respond: func(postURL string) (*PreviewRecord, error) {
		if postURL == "https://x.com/a/status/3" {
			return nil, ErrUpstreamUnavailable
		}
		return &PreviewRecord{AuthorName: "a", Text: postURL}, nil
	}}
	svc, _ := newTestService(t, fetcher, WithPrefetchConcurrency(2))

	urls := []string{
		"https://x.com/a/status/1",
		"https://x.com/a/status/2",
		"https://x.com/a/status/1",
		"https://x.com/a/status/3",
	}

	results, err := svc.PrefetchPreviews(context.Background(), urls)
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Equal(t, "https://x.com/a/status/1", results["https://x.com/a/status/1"].Text)
	assert.Equal(t, "https://x.com/a/status/2", results["https://x.com/a/status/2"].Text)
	assert.NotContains(t, results, "https://x.com/a/status/3")
	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestClear(t *testing.T) {
	svc, store := newTestService(t, &mockFetcher{})
	ctx := context.Background()

	svc.Set(ctx, "https://x.com/a/status/1", &PreviewRecord{AuthorName: "a", Text: "1"})
	svc.Set(ctx, "https://x.com/a/status/2", &PreviewRecord{AuthorName: "a", Text: "2"})
	require.NoError(t, store.Set(ctx, "session:abc", []byte("keep")))

	removed, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Nil(t, svc.Get(ctx, "https://x.com/a/status/1"))
	assert.Equal(t, 1, store.Len())
}

func TestClear_StoreError(t *testing.T) {
	svc, err := NewService(failingStore{}, &mockFetcher{})
	require.NoError(t, err)

	_, err = svc.Clear(context.Background())
	assert.Error(t, err)
}

func TestService_Resolve(t *testing.T) {
	svc, _ := newTestService(t, &mockFetcher{})

	media := svc.Resolve("https://www.twitch.tv/shroud", EmbedContext{ParentHost: "lobby.example"})
	require.NotNil(t, media)
	assert.Equal(t, "https://player.twitch.tv/?channel=shroud&parent=lobby.example", media.EmbedURL)
}
