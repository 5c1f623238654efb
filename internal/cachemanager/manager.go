// Package cachemanager provides small generic TTL caches on top of go-cache.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager is a typed key/value cache with per-entry TTL.
type CacheManager[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Items(ctx context.Context) map[K]V
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
}
