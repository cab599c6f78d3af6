package cache

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	pkgcache "github.com/exllm/exllm/pkg/cache"
)

// LocalCache is the go-cache backed in-process backend, selectable when
// Redis is not configured and the workload does not need strict LRU
// bounding. Eviction is purely TTL based.
type LocalCache struct {
	store *gocache.Cache

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewLocalCache creates a go-cache backed store with the given default
// TTL (pkg/cache.DefaultTTL when zero) and a sweep interval of twice the
// TTL.
func NewLocalCache(defaultTTL time.Duration) *LocalCache {
	if defaultTTL <= 0 {
		defaultTTL = pkgcache.DefaultTTL
	}
	return &LocalCache{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	raw, _ := v.([]byte)
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, stored, ttl)
	c.sets.Add(1)
	return nil
}

func (c *LocalCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *LocalCache) Ping(ctx context.Context) error { return nil }

func (c *LocalCache) Close() error {
	c.store.Flush()
	return nil
}

func (c *LocalCache) Stats() pkgcache.Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := pkgcache.Stats{Hits: hits, Misses: misses, Sets: c.sets.Load()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
