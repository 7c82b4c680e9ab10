package cache

import (
	"context"

	"go.uber.org/zap"
)

// Backend is the slice of the store the cache needs.
type Backend interface {
	GetCacheEntry(ctx context.Context, fingerprint string) ([]byte, bool, error)
	PutCacheEntry(ctx context.Context, fingerprint string, payload []byte) error
}

// Cache is a write-through response cache. Entries never expire implicitly;
// stale data is evicted only by an explicit purge.
type Cache struct {
	backend Backend
}

// New creates a Cache over the given backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Get returns the cached payload for the fingerprint, if present. A backend
// read error is surfaced as a miss: the caller falls through to the network
// rather than failing the item.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	payload, ok, err := c.backend.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		zap.L().Warn("cache read failed, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return nil, false
	}
	return payload, ok
}

// Put stores a payload under the fingerprint. Write failures are logged and
// swallowed: a cold cache is a performance problem, not a correctness one.
func (c *Cache) Put(ctx context.Context, fingerprint string, payload []byte) {
	if err := c.backend.PutCacheEntry(ctx, fingerprint, payload); err != nil {
		zap.L().Warn("cache write failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
	}
}

// Through returns the cached payload for the fingerprint, or invokes fetch
// and caches its result. Only successful fetches are cached; failures must
// stay retryable on the next run.
func (c *Cache) Through(ctx context.Context, fingerprint string, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if payload, ok := c.Get(ctx, fingerprint); ok {
		return payload, true, nil
	}
	payload, err := fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	c.Put(ctx, fingerprint, payload)
	return payload, false, nil
}
