package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// RedisStoreConfig holds connection settings for the Redis backend.
type RedisStoreConfig struct {
	Addr       string
	Password   string
	DB         int
	Namespace  string
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// RedisStore implements Store on Redis. TTL enforcement and eviction
// are delegated to Redis itself, so Cleanup is a no-op; deployments
// needing cross-instance sharing trade the local cache's LRU and
// memory accounting for Redis's own maxmemory policies.
type RedisStore struct {
	client     *goredis.Client
	namespace  string
	defaultTTL time.Duration
	maxTTL     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore creates a Redis-backed cache store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "aimux"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = time.Hour
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
	}, nil
}

func (s *RedisStore) key(key string) string {
	return s.namespace + ":" + key
}

// Get retrieves a cached response.
func (s *RedisStore) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Corrupt entry; drop it and report a miss.
		_ = s.client.Del(ctx, s.key(key)).Err()
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return &resp, true
}

// Put stores a response with the given TTL.
func (s *RedisStore) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	if resp == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

// Remove deletes a single entry.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Clear empties the namespace without resetting statistics.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Cleanup is a no-op: Redis expires keys itself.
func (s *RedisStore) Cleanup(ctx context.Context) (int, error) {
	return 0, nil
}

// Stats returns hit/miss counters tracked client-side. Entry counts
// and memory usage live in Redis and are not reported here.
func (s *RedisStore) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Len returns the number of keys in the namespace.
func (s *RedisStore) Len() int {
	ctx := context.Background()
	count := 0
	iter := s.client.Scan(ctx, 0, s.namespace+":*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
