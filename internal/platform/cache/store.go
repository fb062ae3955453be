// Package cache provides the key/value backends used by the permission and
// sidebar caches.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss reports that no value is stored under the requested key. Backend
// failures are returned as other errors and must never be treated as a miss.
var ErrMiss = errors.New("platform/cache: miss")

// Store is a byte-oriented cache backend with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Observer receives lookup outcomes for metrics. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveCacheLookup(cache string, hit bool)
}

// ObserveLookup reports to o when it is non-nil.
func ObserveLookup(o Observer, cache string, hit bool) {
	if o != nil {
		o.ObserveCacheLookup(cache, hit)
	}
}
