package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hyecorp/scantrack/scantrack/store"
)

// LatestDocPath builds the latest-projection path for one entity.
func LatestDocPath(key EntityKey) string {
	return "latest/" + key.String()
}

type cachedStamp struct {
	timestamp int64
	cachedAt  time.Time
}

// LatestCache is a bounded TTL cache of per-entity latest timestamps. It is
// passed into the pipeline by the caller so tests can inject a fresh
// instance.
type LatestCache struct {
	cache *lru.Cache
	ttl   time.Duration
}

func NewLatestCache(size int, ttl time.Duration) (*LatestCache, error) {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create latest cache: %w", err)
	}
	return &LatestCache{cache: cache, ttl: ttl}, nil
}

func (c *LatestCache) Get(key string) (int64, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return 0, false
	}
	stamp := v.(cachedStamp)
	if time.Since(stamp.cachedAt) > c.ttl {
		c.cache.Remove(key)
		return 0, false
	}
	return stamp.timestamp, true
}

func (c *LatestCache) Put(key string, timestamp int64) {
	c.cache.Add(key, cachedStamp{timestamp: timestamp, cachedAt: time.Now()})
}

func (c *LatestCache) Remove(key string) {
	c.cache.Remove(key)
}

// Gate decides whether an import advances an entity's latest projection.
// The stored timestamp is monotonically non-decreasing: only a strictly
// newer row may replace it, which keeps the read-then-write idempotent
// under reordering and re-imports.
type Gate struct {
	store store.DocStore
	cache *LatestCache
}

func NewGate(st store.DocStore, cache *LatestCache) *Gate {
	return &Gate{store: st, cache: cache}
}

// LatestTimestamp returns the entity's stored latest timestamp, 0 if no
// projection exists yet.
func (g *Gate) LatestTimestamp(ctx context.Context, key EntityKey) (int64, error) {
	cacheKey := key.String()
	if g.cache != nil {
		if ts, ok := g.cache.Get(cacheKey); ok {
			return ts, nil
		}
	}

	doc, err := g.store.Get(ctx, LatestDocPath(key))
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest projection for %s: %w", cacheKey, err)
	}

	ts := asInt64(doc["timestamp"])
	if g.cache != nil {
		g.cache.Put(cacheKey, ts)
	}
	return ts, nil
}

// Advances reports whether the given timestamp moves the entity forward.
func (g *Gate) Advances(ctx context.Context, key EntityKey, timestamp int64) (bool, error) {
	stored, err := g.LatestTimestamp(ctx, key)
	if err != nil {
		return false, err
	}
	return timestamp > stored, nil
}

// Record updates the cache after a latest merge has committed so later
// imports in the same process see the new watermark. Callers must not
// record a merge that was only queued: if the write then fails, the cache
// would report a watermark the store never reached.
func (g *Gate) Record(key EntityKey, timestamp int64) {
	if g.cache != nil {
		g.cache.Put(key.String(), timestamp)
	}
}

// Evict drops the entity's cached watermark so the next read goes to the
// store. Used when a latest merge did not commit and the cached value can
// no longer be trusted either way.
func (g *Gate) Evict(key EntityKey) {
	if g.cache != nil {
		g.cache.Remove(key.String())
	}
}

// asInt64 tolerates the numeric types different store drivers hand back.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
