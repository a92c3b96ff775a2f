package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Entry is one cached completion response.
type Entry struct {
	Key       string    `json:"key"`
	Response  string    `json:"response"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Hits      int64     `json:"hits"`
}

// Config defines cache behavior.
type Config struct {
	Enabled    bool          `json:"enabled"`
	DefaultTTL time.Duration `json:"default_ttl"`
	MaxSize    int           `json:"max_size"`
}

// DefaultConfig returns sensible defaults for completion caching.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		DefaultTTL: 1 * time.Hour,
		MaxSize:    10000,
	}
}

// Backend is the interface for cache storage backends.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Set(ctx context.Context, key string, response string, ttl time.Duration) error
	Clear(ctx context.Context)
}

// Cache short-circuits repeated low-temperature completion calls.
// Identical prompts against the same model produce identical requests,
// so the response hash key is stable.
type Cache struct {
	backend Backend
	config  *Config

	mu      sync.RWMutex
	entries map[string]*Entry
	stats   Stats
}

// Stats tracks cache performance.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// New creates an in-memory cache instance.
func New(config *Config) *Cache {
	if config == nil {
		config = DefaultConfig()
	}
	return &Cache{
		config:  config,
		entries: make(map[string]*Entry),
	}
}

// NewWithBackend creates a cache instance backed by external storage
// (e.g. Redis), falling back to the backend for all reads/writes.
func NewWithBackend(config *Config, backend Backend) *Cache {
	c := New(config)
	c.backend = backend
	return c
}

// Key derives a stable cache key from the request parts.
func Key(model, system, prompt string, temperature float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%.3f", model, system, prompt, temperature)))
	return hex.EncodeToString(h[:])
}

// Get returns a cached response if present and not expired.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if !c.config.Enabled {
		return "", false
	}

	if c.backend != nil {
		entry, ok := c.backend.Get(ctx, key)
		c.recordLookup(ok)
		if !ok {
			return "", false
		}
		return entry.Response, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.recordLookupLocked(ok)
	if !ok {
		return "", false
	}
	entry.Hits++
	return entry.Response, true
}

// Set stores a completion response under the key.
func (c *Cache) Set(ctx context.Context, key, response string) error {
	if !c.config.Enabled {
		return nil
	}

	if c.backend != nil {
		return c.backend.Set(ctx, key, response, c.config.DefaultTTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize {
		c.evictOldestLocked()
	}

	now := time.Now()
	c.entries[key] = &Entry{
		Key:       key,
		Response:  response,
		CachedAt:  now,
		ExpiresAt: now.Add(c.config.DefaultTTL),
	}
	return nil
}

// GetStats returns a snapshot of cache performance.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (c *Cache) recordLookup(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLookupLocked(hit)
}

func (c *Cache) recordLookupLocked(hit bool) {
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.CachedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.CachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}
