package linkpreview

import "errors"

var (
	// ErrCacheMiss is returned by a Store when no entry exists for a key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidKey is returned by a Store for an empty or unsafe key
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrUnsupportedURL is returned when a URL is not a social post link
	ErrUnsupportedURL = errors.New("URL does not point to a supported social post")

	// ErrUpstreamUnavailable is returned when the metadata endpoint cannot be reached
	// or answers with a non-success status
	ErrUpstreamUnavailable = errors.New("preview endpoint unavailable")

	// ErrMalformedResponse is returned when the metadata endpoint body cannot be decoded
	ErrMalformedResponse = errors.New("malformed preview response")

	// ErrCircuitOpen indicates the circuit breaker is open for a provider
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidEntry is returned when a cached entry fails structural validation
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrNilDependency is returned when a required dependency is nil
	ErrNilDependency = errors.New("required dependency is nil")
)
