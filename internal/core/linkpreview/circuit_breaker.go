package linkpreview

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// circuitState represents the state of a circuit breaker
type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Provider failing, calls skipped
	stateHalfOpen                     // One trial call allowed
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker tracks consecutive fetch failures per provider and stops
// calling a provider that keeps failing
type circuitBreaker struct {
	now              func() time.Time
	failures         map[string]int
	lastFailure      map[string]time.Time
	state            map[string]circuitState
	failureThreshold int
	openDuration     time.Duration
	mu               sync.Mutex
}

// newCircuitBreaker opens after 3 consecutive failures and stays open 5 minutes
func newCircuitBreaker(now func() time.Time) *circuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &circuitBreaker{
		now:              now,
		failureThreshold: 3,
		openDuration:     5 * time.Minute,
		failures:         make(map[string]int),
		lastFailure:      make(map[string]time.Time),
		state:            make(map[string]circuitState),
	}
}

// canAttempt returns nil when a call to provider may go ahead, or an error
// wrapping ErrCircuitOpen while the circuit is open
func (cb *circuitBreaker) canAttempt(provider string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state[provider] != stateOpen {
		return nil
	}

	lastFail := cb.lastFailure[provider]
	if cb.now().Sub(lastFail) > cb.openDuration {
		cb.setState(provider, stateHalfOpen)
		return nil
	}

	return fmt.Errorf("%w for provider %q (failures: %d, next retry: %s)",
		ErrCircuitOpen,
		provider,
		cb.failures[provider],
		lastFail.Add(cb.openDuration).Format("15:04:05"),
	)
}

// recordSuccess closes the circuit and resets the failure count
func (cb *circuitBreaker) recordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	delete(cb.failures, provider)
	delete(cb.lastFailure, provider)
	cb.setState(provider, stateClosed)
}

// recordFailure counts a failure and opens the circuit at the threshold.
// A failed half-open trial reopens immediately.
func (cb *circuitBreaker) recordFailure(provider string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures[provider]++
	cb.lastFailure[provider] = cb.now()
	failCount := cb.failures[provider]

	if failCount >= cb.failureThreshold || cb.state[provider] == stateHalfOpen {
		cb.setState(provider, stateOpen)
		return
	}

	slog.Warn("[LINK-PREVIEW-CIRCUIT] provider failure",
		"provider", provider,
		"failures", failCount,
		"threshold", cb.failureThreshold,
		"error", err,
	)
}

// setState must be called with cb.mu held
func (cb *circuitBreaker) setState(provider string, next circuitState) {
	prev := cb.state[provider]
	cb.state[provider] = next
	if prev != next {
		slog.Info("[LINK-PREVIEW-CIRCUIT] circuit state changed",
			"provider", provider,
			"from", prev.String(),
			"to", next.String(),
			"failures", cb.failures[provider],
		)
	}
}

// getState returns the current state for provider
func (cb *circuitBreaker) getState(provider string) circuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state[provider]
}
