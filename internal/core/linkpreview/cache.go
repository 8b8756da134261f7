package linkpreview

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

const (
	// CacheKeyPrefix namespaces every preview entry in a Store
	CacheKeyPrefix = "linkpreview:"

	// CacheSchemaVersion invalidates entries written with an older layout
	CacheSchemaVersion = 1

	// DefaultCacheTTL is how long a preview stays valid
	DefaultCacheTTL = 7 * 24 * time.Hour

	// maxEncodedURLLength bounds the fallback key for URLs without a post id
	maxEncodedURLLength = 128
)

// Store is a byte-oriented key/value store for cache entries.
// Implementations do no validation; the service owns entry semantics.
type Store interface {
	// Get returns the stored value, or ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// cacheEntrySchema describes a structurally complete CacheEntry
const cacheEntrySchema = `{
	"type": "object",
	"required": ["preview", "timestamp", "version"],
	"properties": {
		"preview": {
			"type": "object",
			"required": ["authorName", "text"],
			"properties": {
				"authorName": {"type": "string", "minLength": 1},
				"authorUrl": {"type": "string"},
				"text": {"type": "string", "minLength": 1},
				"imageUrl": {"type": "string"}
			}
		},
		"timestamp": {"type": "integer"},
		"version": {"type": "integer"}
	}
}`

var entrySchema = mustCompileSchema(cacheEntrySchema)

func mustCompileSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("linkpreview: invalid cache entry schema: %v", err))
	}
	return s
}

// CacheKey derives the storage key for a post URL. The post id is used when
// present so tracking parameters and fragments map to the same entry.
func CacheKey(postURL string) string {
	if id := ExtractPostID(postURL); id != "" {
		return CacheKeyPrefix + "x-" + id
	}

	encoded := base64.RawURLEncoding.EncodeToString([]byte(postURL))
	if len(encoded) > maxEncodedURLLength {
		encoded = encoded[:maxEncodedURLLength]
	}
	return CacheKeyPrefix + "url-" + encoded
}

// encodeEntry wraps record with the write time and current schema version
func encodeEntry(record *PreviewRecord, now time.Time) ([]byte, error) {
	return json.Marshal(&CacheEntry{
		Preview:   record,
		Timestamp: now.UnixMilli(),
		Version:   CacheSchemaVersion,
	})
}

// decodeEntry validates a stored entry and returns its record.
// Any structural, version or age problem yields an ErrInvalidEntry.
func decodeEntry(data []byte, now time.Time, ttl time.Duration) (*PreviewRecord, error) {
	result, err := entrySchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(problems, "; "))
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Version != CacheSchemaVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidEntry, entry.Version, CacheSchemaVersion)
	}

	age := now.Sub(time.UnixMilli(entry.Timestamp))
	if age > ttl {
		return nil, fmt.Errorf("%w: expired (age %s)", ErrInvalidEntry, age.Round(time.Second))
	}

	return entry.Preview, nil
}
