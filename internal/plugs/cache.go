package plugs

import (
	"time"

	"github.com/goccy/go-json"

	pkgcache "github.com/exllm/exllm/pkg/cache"
	"github.com/exllm/exllm/pkg/pipeline"
)

// cacheSettings reads the per-request cache option block.
func cacheSettings(req *pipeline.Request) (enabled bool, ttl time.Duration) {
	cc, ok := req.Config[OptCache].(map[string]any)
	if !ok {
		return false, 0
	}
	enabled, _ = cc["enabled"].(bool)
	if v, ok := intOption(cc["ttl_ms"]); ok && v > 0 {
		ttl = time.Duration(v) * time.Millisecond
	}
	return enabled, ttl
}

// CacheLookup is the pre-execution half of the cache pair: on a hit it
// completes the request from the stored response and halts, so no HTTP
// call happens. Streaming requests skip the cache.
type CacheLookup struct {
	Backend pkgcache.Cache
}

func (CacheLookup) Name() string { return "CacheLookup" }

func (CacheLookup) Init(opts map[string]any) (any, error) { return nil, nil }

func (c CacheLookup) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if c.Backend == nil || req.StreamContext != nil {
		return req
	}
	enabled, _ := cacheSettings(req)
	if !enabled {
		return req
	}

	key, err := pkgcache.Fingerprint(req.Provider, req.Messages, req.Config)
	if err != nil {
		return req
	}
	n := pipeline.PrivateAssign(req, privCacheKey, key)

	raw, err := c.Backend.Get(n.Context(), key)
	if err != nil || raw == nil {
		return n
	}
	var result pipeline.NormalizedResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return n
	}
	n = pipeline.Complete(n, &result)
	n.Private[privCacheHit] = true
	n.Metadata["cache_hit"] = true
	// Completed from cache: nothing downstream left to run.
	n.Halted = true
	return n
}

// CacheStore is the post-parse half: it persists the normalized result
// under the fingerprint computed by CacheLookup. Concurrent misses may
// both store; last writer wins.
type CacheStore struct {
	Backend pkgcache.Cache
}

func (CacheStore) Name() string { return "CacheStore" }

func (CacheStore) Init(opts map[string]any) (any, error) { return nil, nil }

func (c CacheStore) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if c.Backend == nil || req.Result == nil {
		return req
	}
	if hit, _ := req.Private[privCacheHit].(bool); hit {
		return req
	}
	enabled, ttl := cacheSettings(req)
	if !enabled {
		return req
	}
	key, ok := req.Private[privCacheKey].(string)
	if !ok || key == "" {
		return req
	}
	raw, err := json.Marshal(req.Result)
	if err != nil {
		return req
	}
	_ = c.Backend.Set(req.Context(), key, raw, ttl)
	return req
}
