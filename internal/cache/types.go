// Package cache provides response caching for completion requests.
// It supports a bounded in-memory store with TTL and LRU eviction, and
// a Redis backend for multi-instance deployments.
package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// CachedResponse is the stored value: the provider payload plus the
// metadata needed to rebuild the response envelope on a hit.
type CachedResponse struct {
	Body      json.RawMessage `json:"body"`
	Provider  string          `json:"provider"`
	Model     string          `json:"model,omitempty"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Control allows per-request cache behavior customization, parsed from
// the request's cache_control field when present.
type Control struct {
	TTL     time.Duration `json:"ttl,omitempty"`
	NoCache bool          `json:"no-cache,omitempty"` // skip cache read
	NoStore bool          `json:"no-store,omitempty"` // skip cache write
}

// ParseControl extracts cache control settings from a raw JSON value.
// Malformed control blocks are ignored.
func ParseControl(raw json.RawMessage) *Control {
	if len(raw) == 0 {
		return nil
	}
	var ctrl Control
	if err := json.Unmarshal(raw, &ctrl); err != nil {
		return nil
	}
	return &ctrl
}

// Stats holds cache statistics as a point-in-time snapshot.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Entries     int     `json:"entries"`
	MemoryBytes int64   `json:"memory_usage_bytes"`
	HitRate     float64 `json:"hit_rate"`
}

// Store is the interface shared by the local and Redis cache backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a cached response. Expired entries report absent.
	Get(ctx context.Context, key string) (*CachedResponse, bool)

	// Put stores a response. A zero TTL means the backend computes one
	// from its configuration.
	Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error

	// Remove deletes a single entry.
	Remove(ctx context.Context, key string) error

	// Clear empties the store without resetting statistics.
	Clear(ctx context.Context) error

	// Cleanup removes expired entries and returns the removed count.
	Cleanup(ctx context.Context) (int, error)

	// Stats returns a snapshot of cache statistics.
	Stats() Stats

	// Len returns the number of live entries.
	Len() int

	// Close releases backend resources.
	Close() error
}
