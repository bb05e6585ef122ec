// Package embedding provides a time-bounded cache over the runtime's
// embedding endpoint.
package embedding

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// multiSpaceRegex matches runs of whitespace for key normalization.
var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Default cache parameters.
const (
	DefaultMaxEntries = 200
	DefaultTTL        = 5 * time.Minute
	DefaultKeyMaxLen  = 200
)

// Embedder is the single-call embedding dependency (the runtime client).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// entry is one cached vector with its insertion timestamp.
type entry struct {
	vector []float32
	ts     time.Time
}

// Cache maps normalized query strings to embedding vectors with lazy TTL
// expiry and oldest-insertion eviction. Concurrent misses on the same key
// may both call the embedder; the last write wins. That duplicate work is
// tolerated to keep the read path lock-free of network calls.
type Cache struct {
	embedder   Embedder
	entries    map[string]entry
	maxEntries int
	ttl        time.Duration
	keyMaxLen  int
	mu         sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// Config holds cache parameters.
type Config struct {
	MaxEntries int
	TTL        time.Duration
	KeyMaxLen  int
}

// NewCache creates an embedding cache over the given embedder.
func NewCache(embedder Embedder, cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyMaxLen <= 0 {
		cfg.KeyMaxLen = DefaultKeyMaxLen
	}
	return &Cache{
		embedder:   embedder,
		entries:    make(map[string]entry),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		keyMaxLen:  cfg.KeyMaxLen,
	}
}

// NormalizeKey produces the cache key for a query text: lowercase,
// whitespace collapsed, trimmed, truncated to maxLen runes. Collisions
// between case/whitespace variants are intentional. Idempotent.
func NormalizeKey(text string, maxLen int) string {
	key := strings.ToLower(text)
	key = multiSpaceRegex.ReplaceAllString(key, " ")
	key = strings.TrimSpace(key)
	if runes := []rune(key); len(runes) > maxLen {
		key = strings.TrimSpace(string(runes[:maxLen]))
	}
	return key
}

// GetOrCompute returns the cached vector for text's normalized key, or
// computes it via the embedder on a miss. At most one embedder call is
// issued per miss.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	key := NormalizeKey(text, c.keyMaxLen)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if time.Since(e.ts) <= c.ttl {
			c.mu.Unlock()
			c.hits.Add(1)
			return e.vector, nil
		}
		// Expired: drop now so a failed recompute doesn't resurrect it.
		delete(c.entries, key)
	}
	c.mu.Unlock()

	c.misses.Add(1)

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{vector: vec, ts: time.Now()}
	c.mu.Unlock()

	return vec, nil
}

// evictOldestLocked removes the entry with the smallest timestamp.
// Ties are broken arbitrarily. Caller holds c.mu.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestTS time.Time
	first := true
	for k, e := range c.entries {
		if first || e.ts.Before(oldestTS) {
			oldestKey, oldestTS = k, e.ts
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops all entries.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	if n > 0 {
		log.Debug().Int("dropped", n).Msg("Embedding cache invalidated")
	}
}

// Stats returns hit/miss counters and the current size.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	size = len(c.entries)
	c.mu.Unlock()
	return c.hits.Load(), c.misses.Load(), size
}
