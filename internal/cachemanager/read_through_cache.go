package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache computes values with fn on a miss and caches them.
type ReadThroughCache[K ~string, V any, I any] struct {
	cache           CacheManager[K, V]
	fn              func(ctx context.Context, input I) (V, error)
	shouldSkipCache bool
}

// NewReadThroughCache wraps cache around fn. shouldSkipCache always calls fn.
func NewReadThroughCache[K ~string, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	shouldSkipCache bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:           cache,
		fn:              fn,
		shouldSkipCache: shouldSkipCache,
	}
}

// Get returns the cached value for key or computes it from input. Errors are not cached.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.shouldSkipCache {
		return r.fn(ctx, input)
	}
	if v, ok := r.cache.Get(ctx, key); ok {
		return v, nil
	}

	v, err := r.fn(ctx, input)
	if err != nil {
		return v, err
	}
	r.cache.Set(ctx, key, v, ttl)
	return v, nil
}
