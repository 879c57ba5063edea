package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// entryOverheadBytes approximates per-entry bookkeeping cost when
// estimating memory usage.
const entryOverheadBytes = 256

// ResponseCacheConfig holds configuration for the local response cache.
type ResponseCacheConfig struct {
	MaxEntries    int           // maximum number of entries (default 1000)
	MaxMemoryMB   int           // maximum estimated memory (default 100)
	DefaultTTL    time.Duration // TTL when none is supplied (default 5m)
	MaxTTL        time.Duration // upper clamp for computed TTLs (default 1h)
	AdaptiveTTL   bool          // scale TTL by response characteristics
	TTLMultiplier float64       // global TTL scale factor (default 1.0)
}

// DefaultResponseCacheConfig returns the reference deployment limits.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{
		MaxEntries:    1000,
		MaxMemoryMB:   100,
		DefaultTTL:    5 * time.Minute,
		MaxTTL:        time.Hour,
		AdaptiveTTL:   true,
		TTLMultiplier: 1.0,
	}
}

type cacheEntry struct {
	resp      *CachedResponse
	createdAt time.Time
	ttl       time.Duration
	hitCount  int64
	size      int64
	lruElem   *list.Element
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.After(e.createdAt.Add(e.ttl))
}

// lruRecord is the per-key tracking record in the recency list.
type lruRecord struct {
	key        string
	lastAccess time.Time
}

// ResponseCache is a bounded in-memory store with TTL expiry and LRU
// eviction. One mutex covers the entry map and the recency list so the
// two can never disagree; monotonic counters are atomic and live
// outside the critical section.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently used
	memory  int64      // estimated bytes across all entries

	cfg ResponseCacheConfig

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewResponseCache creates a response cache with the given limits.
func NewResponseCache(cfg ResponseCacheConfig) *ResponseCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = 100
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = time.Hour
	}
	if cfg.TTLMultiplier <= 0 {
		cfg.TTLMultiplier = 1.0
	}

	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
		cfg:     cfg,
	}
}

// Get retrieves a cached response. An expired entry is treated as a
// miss and reclaimed immediately rather than waiting for Cleanup.
func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	now := time.Now()
	if entry.expired(now) {
		c.removeLocked(key, entry)
		c.misses.Add(1)
		return nil, false
	}

	c.touchLocked(entry, now)
	entry.hitCount++
	c.hits.Add(1)

	resp := *entry.resp
	return &resp, true
}

// Put stores a response. When ttl is zero it is computed from the
// configured base and multiplier, scaled down for large bodies when
// adaptive TTL is enabled, then clamped to [0, MaxTTL].
func (c *ResponseCache) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	effective := c.calculateTTL(resp, ttl)
	size := int64(len(resp.Body)) + entryOverheadBytes

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if existing, ok := c.entries[key]; ok {
		c.memory -= existing.size
		existing.resp = resp
		existing.createdAt = now
		existing.ttl = effective
		existing.size = size
		c.memory += size
		c.touchLocked(existing, now)
	} else {
		entry := &cacheEntry{
			resp:      resp,
			createdAt: now,
			ttl:       effective,
			size:      size,
		}
		entry.lruElem = c.lru.PushFront(&lruRecord{key: key, lastAccess: now})
		c.entries[key] = entry
		c.memory += size
	}

	c.evictLocked()
	return nil
}

// Remove deletes a single entry.
func (c *ResponseCache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.removeLocked(key, entry)
	}
	return nil
}

// Clear resets the structure to empty without resetting statistics.
func (c *ResponseCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
	c.memory = 0
	return nil
}

// Cleanup removes expired entries and returns the removed count.
// Intended for periodic background invocation, not the request path.
func (c *ResponseCache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(key, entry)
			removed++
		}
	}
	return removed, nil
}

// Stats returns a point-in-time snapshot. Hit rate is computed at
// snapshot time, not continuously.
func (c *ResponseCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	c.mu.Lock()
	entries := len(c.entries)
	memory := c.memory
	c.mu.Unlock()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Entries:     entries,
		MemoryBytes: memory,
		HitRate:     hitRate,
	}
}

// ResetStats zeroes the hit/miss/eviction counters on operator request.
func (c *ResponseCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close implements Store; the local cache holds no external resources.
func (c *ResponseCache) Close() error {
	return nil
}

// calculateTTL derives the effective TTL for a response. Larger
// payloads get shorter TTLs under adaptive mode since they are both
// expensive to hold and more likely to be one-off. The adaptive
// adjustment applies only to derived TTLs; a caller-supplied TTL is
// scaled by the multiplier and clamped, nothing else.
func (c *ResponseCache) calculateTTL(resp *CachedResponse, supplied time.Duration) time.Duration {
	ttl := supplied
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	ttl = time.Duration(float64(ttl) * c.cfg.TTLMultiplier)

	if c.cfg.AdaptiveTTL && supplied <= 0 {
		switch size := len(resp.Body); {
		case size > 256*1024:
			ttl /= 4
		case size > 64*1024:
			ttl /= 2
		}
	}

	if ttl < 0 {
		ttl = 0
	}
	if ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}
	return ttl
}

// touchLocked moves the entry to the most-recent position.
func (c *ResponseCache) touchLocked(entry *cacheEntry, now time.Time) {
	rec := entry.lruElem.Value.(*lruRecord)
	rec.lastAccess = now
	c.lru.MoveToFront(entry.lruElem)
}

// removeLocked deletes an entry and its LRU record.
func (c *ResponseCache) removeLocked(key string, entry *cacheEntry) {
	delete(c.entries, key)
	c.lru.Remove(entry.lruElem)
	c.memory -= entry.size
}

// evictLocked evicts least-recently-used entries until both the entry
// count and the memory estimate are within limits.
func (c *ResponseCache) evictLocked() {
	maxMemory := int64(c.cfg.MaxMemoryMB) * 1024 * 1024

	for len(c.entries) > c.cfg.MaxEntries || c.memory > maxMemory {
		back := c.lru.Back()
		if back == nil {
			return
		}
		rec := back.Value.(*lruRecord)
		entry, ok := c.entries[rec.key]
		if !ok {
			c.lru.Remove(back)
			continue
		}
		c.removeLocked(rec.key, entry)
		c.evictions.Add(1)
	}
}

var _ Store = (*ResponseCache)(nil)
