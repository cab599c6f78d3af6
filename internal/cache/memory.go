// Package cache provides the cache backends: a bounded in-process LRU,
// a go-cache backed store, a shared Redis cache, and an on-disk response
// archive. All implement pkg/cache.Cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	pkgcache "github.com/exllm/exllm/pkg/cache"
)

// MemoryCache is a bounded in-memory cache with LRU eviction and
// per-entry TTL. Reads promote entries; inserting past capacity evicts
// the least recently used entry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	maxEntries int
	defaultTTL time.Duration

	stopCleanup chan struct{}
	closeOnce   sync.Once

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryConfig configures a MemoryCache.
type MemoryConfig struct {
	MaxEntries      int           // default 1024
	DefaultTTL      time.Duration // default pkg/cache.DefaultTTL (15 min)
	CleanupInterval time.Duration // default 1 minute
}

// NewMemoryCache creates a bounded LRU cache and starts its TTL sweeper.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = pkgcache.DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	c := &MemoryCache{
		entries:     make(map[string]*list.Element),
		order:       list.New(),
		maxEntries:  cfg.MaxEntries,
		defaultTTL:  cfg.DefaultTTL,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop(cfg.CleanupInterval)
	return c
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memoryEntry)
		if now.After(entry.expireAt) {
			c.removeLocked(el)
		}
		el = prev
	}
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	c.order.Remove(el)
	delete(c.entries, entry.key)
}

// Get returns the cached value for key, or nil, nil on miss. A hit
// promotes the entry to most recently used.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, nil
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expireAt) {
		c.removeLocked(el)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, nil
	}
	c.order.MoveToFront(el)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	c.mu.Unlock()
	c.hits.Add(1)
	return value, nil
}

// Set stores value under key, evicting the LRU entry when at capacity.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expireAt = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		c.sets.Add(1)
		return nil
	}

	for c.order.Len() >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
	el := c.order.PushFront(&memoryEntry{key: key, value: stored, expireAt: time.Now().Add(ttl)})
	c.entries[key] = el
	c.sets.Add(1)
	return nil
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Ping always succeeds for the in-process cache.
func (c *MemoryCache) Ping(ctx context.Context) error { return nil }

// Close stops the TTL sweeper.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns hit/miss counters.
func (c *MemoryCache) Stats() pkgcache.Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := pkgcache.Stats{Hits: hits, Misses: misses, Sets: c.sets.Load()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
