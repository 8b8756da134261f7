package linkpreview

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries bounds the in-memory store when no size is given
const DefaultMemoryEntries = 10000

// MemoryStore is a bounded in-process Store. Least recently used entries are
// dropped once the size limit is reached.
type MemoryStore struct {
	entries *lru.Cache[string, []byte]
}

// NewMemoryStore creates a MemoryStore holding at most size entries.
// A non-positive size uses DefaultMemoryEntries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &MemoryStore{entries: entries}, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	value, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries.Add(key, stored)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.entries.Remove(key)
	return nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	removed := 0
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) && m.entries.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}
