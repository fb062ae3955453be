package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps entries in an in-process expirable LRU. It is meant for
// single-replica deployments and tests; invalidations do not cross processes.
type MemoryStore struct {
	cache *lru.LRU[string, []byte]
}

// NewMemoryStore builds a store holding at most size entries, each living at
// most maxTTL.
func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{cache: lru.NewLRU[string, []byte](size, nil, maxTTL)}
}

// Get returns ErrMiss when the key is absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a copy of value. Per-entry ttl is bounded by the LRU's maxTTL;
// callers additionally stamp their own expiry into the payload.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.cache.Add(key, stored)
	return nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.cache.Remove(k)
	}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

var _ Store = (*MemoryStore)(nil)
