package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/sortpool/internal/log"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// InMemoryCacheManager implements CacheManager with go-cache.
type InMemoryCacheManager[K ~string, V any] struct {
	useCase string
	cache   *gocache.Cache
}

// NewInMemoryCacheManager creates a cache named useCase for log output.
func NewInMemoryCacheManager[K ~string, V any](useCase string, defaultExpiration, cleanupInterval time.Duration) *InMemoryCacheManager[K, V] {
	return &InMemoryCacheManager[K, V]{
		useCase: useCase,
		cache:   gocache.New(defaultExpiration, cleanupInterval),
	}
}

// Get returns the cached value for key.
func (c *InMemoryCacheManager[K, V]) Get(_ context.Context, key K) (V, bool) {
	var zero V

	raw, found := c.cache.Get(string(key))
	if !found {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "Cached value has unexpected type", "cache", c.useCase, "key", key)
		return zero, false
	}
	return v, true
}

// GetWithRefresh returns the cached value and extends its TTL.
func (c *InMemoryCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	v, found := c.Get(ctx, key)
	if found {
		c.Set(ctx, key, v, ttl)
	}
	return v, found
}

// Set stores value under key for ttl. gocache.DefaultExpiration uses the cache default.
func (c *InMemoryCacheManager[K, V]) Set(_ context.Context, key K, value V, ttl time.Duration) {
	c.cache.Set(string(key), value, ttl)
}

// Items returns every unexpired entry.
func (c *InMemoryCacheManager[K, V]) Items(_ context.Context) map[K]V {
	items := c.cache.Items()
	out := make(map[K]V, len(items))
	for k, item := range items {
		if item.Expired() {
			continue
		}
		if v, ok := item.Object.(V); ok {
			out[K(k)] = v
		}
	}
	return out
}

// Delete removes keys.
func (c *InMemoryCacheManager[K, V]) Delete(_ context.Context, keys ...K) error {
	for _, key := range keys {
		c.cache.Delete(string(key))
	}
	return nil
}

// Flush removes everything.
func (c *InMemoryCacheManager[K, V]) Flush(context.Context) error {
	c.cache.Flush()
	log.Debug(log.CatCache, "Cache flushed", "cache", c.useCase)
	return nil
}
