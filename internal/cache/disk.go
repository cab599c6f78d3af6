package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	pkgcache "github.com/exllm/exllm/pkg/cache"
)

// DiskCache persists responses under
// <root>/<provider>/<endpoint>/<request_hash>/<timestamp>.json with an
// index.json pointer per hash directory. TTL is evaluated at read time
// from the entry's stored timestamp. Keys passed to Get/Set are
// "provider/endpoint/hash" triples joined by '/'; flat keys land under
// a "default/default" directory.
type DiskCache struct {
	root       string
	defaultTTL time.Duration

	mu sync.Mutex // serializes index rewrites per process

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// diskEntry is the stored file shape: the request fingerprint material,
// the response payload, and bookkeeping metadata.
type diskEntry struct {
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response"`
	Metadata diskMetadata    `json:"metadata"`
}

type diskMetadata struct {
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl_ns"`
}

// diskIndex is the per-directory pointer to the newest entry file.
type diskIndex struct {
	Latest   string    `json:"latest"`
	StoredAt time.Time `json:"stored_at"`
}

// NewDiskCache creates a disk cache rooted at dir.
func NewDiskCache(dir string, defaultTTL time.Duration) (*DiskCache, error) {
	if defaultTTL <= 0 {
		defaultTTL = pkgcache.DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{root: dir, defaultTTL: defaultTTL}, nil
}

func (c *DiskCache) entryDir(key string) string {
	parts := strings.SplitN(key, "/", 3)
	switch len(parts) {
	case 3:
		return filepath.Join(c.root, parts[0], parts[1], parts[2])
	case 2:
		return filepath.Join(c.root, parts[0], "default", parts[1])
	default:
		return filepath.Join(c.root, "default", "default", key)
	}
}

// Get loads the newest entry for key, honoring its stored TTL.
func (c *DiskCache) Get(ctx context.Context, key string) ([]byte, error) {
	dir := c.entryDir(key)
	idxRaw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		c.misses.Add(1)
		return nil, nil
	}
	var idx diskIndex
	if err := json.Unmarshal(idxRaw, &idx); err != nil || idx.Latest == "" {
		c.misses.Add(1)
		return nil, nil
	}
	raw, err := os.ReadFile(filepath.Join(dir, idx.Latest))
	if err != nil {
		c.misses.Add(1)
		return nil, nil
	}
	var entry diskEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.misses.Add(1)
		return nil, nil
	}
	ttl := entry.Metadata.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if time.Since(entry.Metadata.StoredAt) > ttl {
		c.misses.Add(1)
		return nil, nil
	}
	c.hits.Add(1)
	return entry.Response, nil
}

// Set appends a timestamped entry file and repoints index.json at it.
func (c *DiskCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	dir := c.entryDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	now := time.Now().UTC()
	entry := diskEntry{
		Response: json.RawMessage(value),
		Metadata: diskMetadata{StoredAt: now, TTL: ttl},
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	name := now.Format("2006-01-02T15-04-05.000000000Z") + ".json"

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		return err
	}
	idxRaw, err := json.Marshal(diskIndex{Latest: name, StoredAt: now})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "index.json"), idxRaw, 0o644); err != nil {
		return err
	}
	c.sets.Add(1)
	return nil
}

// Delete removes the whole entry directory for key.
func (c *DiskCache) Delete(ctx context.Context, key string) error {
	return os.RemoveAll(c.entryDir(key))
}

// Ping verifies the root directory is still writable.
func (c *DiskCache) Ping(ctx context.Context) error {
	return os.MkdirAll(c.root, 0o755)
}

func (c *DiskCache) Close() error { return nil }

// Entries lists the timestamped entry files for key, oldest first, for
// inspection and tests.
func (c *DiskCache) Entries(key string) ([]string, error) {
	files, err := os.ReadDir(c.entryDir(key))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if f.Name() != "index.json" && strings.HasSuffix(f.Name(), ".json") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *DiskCache) Stats() pkgcache.Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := pkgcache.Stats{Hits: hits, Misses: misses, Sets: c.sets.Load()}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
