// Package history keeps recent run snapshots in memory so finished runs can
// be looked up by id for a while. Nothing is persisted.
package history

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/zjrosen/sortpool/internal/cachemanager"
	"github.com/zjrosen/sortpool/internal/events"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pubsub"
)

// DefaultTTL is how long a run stays visible after its last update.
const DefaultTTL = cachemanager.DefaultExpiration

// History stores the latest snapshot of each run.
type History struct {
	cache cachemanager.CacheManager[string, events.Snapshot]
	ttl   time.Duration
}

// New wraps cache. ttl <= 0 selects DefaultTTL.
func New(cache cachemanager.CacheManager[string, events.Snapshot], ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &History{cache: cache, ttl: ttl}
}

// NewInMemory returns a history backed by a go-cache instance.
func NewInMemory(ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return New(cachemanager.NewInMemoryCacheManager[string, events.Snapshot]("run-history", ttl, cachemanager.DefaultCleanupInterval), ttl)
}

// Record stores snap as the latest state of its run. Snapshots from before
// the first dispatch carry no run id and are ignored.
func (h *History) Record(ctx context.Context, snap events.Snapshot) {
	if snap.RunID == "" {
		return
	}
	h.cache.Set(ctx, snap.RunID, snap, h.ttl)
}

// Get returns the latest snapshot of runID.
func (h *History) Get(ctx context.Context, runID string) (events.Snapshot, bool) {
	return h.cache.Get(ctx, runID)
}

// List returns every retained run, running ones first, then by run id.
func (h *History) List(ctx context.Context) []events.Snapshot {
	items := h.cache.Items(ctx)
	out := make([]events.Snapshot, 0, len(items))
	for _, snap := range items {
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b events.Snapshot) int {
		if a.IsRunning != b.IsRunning {
			if a.IsRunning {
				return -1
			}
			return 1
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	return out
}

// Follow records every snapshot from sub until it closes or ctx ends.
func (h *History) Follow(ctx context.Context, sub <-chan pubsub.Event[events.Snapshot]) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				log.Debug(log.CatCache, "Run history stopped following")
				return
			}
			h.Record(ctx, ev.Payload)
		}
	}
}
