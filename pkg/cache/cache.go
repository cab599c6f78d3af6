// Package cache defines the caching contract for LLM responses: the
// backend interface and the request-fingerprint key scheme.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
)

// Type represents the type of cache backend.
type Type string

const (
	TypeMemory Type = "memory" // bounded in-process LRU
	TypeLocal  Type = "local"  // go-cache backed in-process store
	TypeRedis  Type = "redis"  // shared Redis cache
	TypeDisk   Type = "disk"   // on-disk response archive
)

// DefaultTTL is the default lifetime of a cached response.
const DefaultTTL = 15 * time.Minute

// Cache defines the interface for all cache implementations.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with the given TTL.
	// If TTL is 0, the backend's default TTL is used.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// Ping checks if the cache is healthy.
	Ping(ctx context.Context) error

	// Close releases any resources held by the cache.
	Close() error

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache statistics for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

// fingerprintEnvelope is the canonical serialization hashed into a key.
// Map keys marshal in sorted order, so equal semantic requests produce
// byte-identical envelopes regardless of option insertion order.
type fingerprintEnvelope struct {
	Provider string         `json:"provider"`
	Messages any            `json:"messages"`
	Options  map[string]any `json:"options"`
}

// volatileOptions are excluded from the fingerprint: they change the
// delivery, not the semantic response.
var volatileOptions = map[string]bool{
	"stream":          true,
	"user":            true,
	"seed_nonce":      true,
	"timeout_ms":      true,
	"retry":           true,
	"cache":           true,
	"stream_recovery": true,
	"flow_control":    true,
	"api_key":         true,
	"base_url":        true,
	"organization":    true,
}

// Fingerprint computes the cache key for (provider, messages, options):
// a SHA-256 of the canonical JSON serialization, hex-encoded, with the
// volatile option fields excluded.
func Fingerprint(provider string, messages any, options map[string]any) (string, error) {
	relevant := make(map[string]any, len(options))
	for k, v := range options {
		if !volatileOptions[k] {
			relevant[k] = v
		}
	}
	raw, err := json.Marshal(fingerprintEnvelope{
		Provider: provider,
		Messages: messages,
		Options:  relevant,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
