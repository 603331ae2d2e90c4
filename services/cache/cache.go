// Package cache stores finished estimation results keyed by a hash of the
// request, in Redis or in process memory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ------------------------------------------------------------------
// Cache Types
// ------------------------------------------------------------------

// Cache is a byte store with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}

type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	CachedAt  int64           `json:"cached_at"`
	ExpiresAt int64           `json:"expires_at"`
	HitCount  int32           `json:"hit_count"`
}

type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalHits    int64   `json:"total_hits"`
	TotalMisses  int64   `json:"total_misses"`
	HitRate      float64 `json:"hit_rate"`
}

type counters struct {
	hits   int64
	misses int64
}

func (c *counters) hit()  { atomic.AddInt64(&c.hits, 1) }
func (c *counters) miss() { atomic.AddInt64(&c.misses, 1) }

func (c *counters) stats(entries int64) Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	s := Stats{TotalEntries: entries, TotalHits: hits, TotalMisses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// ------------------------------------------------------------------
// Keys and typed access
// ------------------------------------------------------------------

// Key hashes the JSON form of v. Equal requests give equal keys.
func Key(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "hash cache key")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Lookup decodes a cached value into out.
func Lookup(ctx context.Context, c Cache, key string, out any) (bool, error) {
	e, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return false, errors.Wrap(err, "decode cached entry")
	}
	return true, nil
}

// Store encodes v and caches it.
func Store(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode cache entry")
	}
	return c.Set(ctx, key, data, ttl)
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

// ------------------------------------------------------------------
// Redis
// ------------------------------------------------------------------

type RedisCache struct {
	rdb    *redis.Client
	logger *zap.Logger
	counters
}

// NewRedisCache connects to addr and pings it.
func NewRedisCache(ctx context.Context, addr string, db int, logger *zap.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", addr)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, logger: logger.Named("cache")}, nil
}

func redisKey(key string) string {
	return fmt.Sprintf("sshqpe:cache:%s", key)
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		c.miss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, errors.Wrap(err, "parse cache entry")
	}
	e.HitCount++
	c.hit()
	if updated, err := json.Marshal(e); err == nil {
		// KeepTTL leaves the original expiry in place.
		c.rdb.Set(ctx, redisKey(key), updated, redis.KeepTTL)
	}
	c.logger.Debug("cache hit", zap.String("key", shortKey(key)), zap.Int32("hits", e.HitCount))
	return &e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := time.Now()
	e := Entry{Payload: payload, CachedAt: now.Unix()}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).Unix()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "serialize cache entry")
	}
	if err := c.rdb.Set(ctx, redisKey(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	c.logger.Debug("cached result", zap.String("key", shortKey(key)), zap.Duration("ttl", ttl))
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) (bool, error) {
	deleted, err := c.rdb.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis del")
	}
	return deleted > 0, nil
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var entries int64
	iter := c.rdb.Scan(ctx, 0, redisKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		entries++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, errors.Wrap(err, "redis scan")
	}
	return c.stats(entries), nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// ------------------------------------------------------------------
// In-process
// ------------------------------------------------------------------

// MemoryCache is used when no Redis address is configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
	counters
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry), now: time.Now}
}

func (c *MemoryCache) expired(e *Entry) bool {
	return e.ExpiresAt > 0 && c.now().Unix() >= e.ExpiresAt
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && c.expired(e) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.miss()
		return nil, false, nil
	}
	e.HitCount++
	c.hit()
	cp := *e
	return &cp, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	now := c.now()
	e := &Entry{Payload: append(json.RawMessage(nil), payload...), CachedAt: now.Unix()}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).Unix()
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok, nil
}

func (c *MemoryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var live int64
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			continue
		}
		live++
	}
	return c.stats(live), nil
}
