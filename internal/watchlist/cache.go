package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/complyon/amlguard/pkg/metrics"
)

// RequestCache stores external responses in two tiers: redis for shared
// low-latency hits and one JSON file per key as the durable tier. Both are
// best-effort; a cache outage degrades to a live call, never to an error.
// Concurrent writers for the same key are tolerated, last write wins.
type RequestCache struct {
	rdb    redis.Cmdable
	dir    string
	logger *zap.SugaredLogger
}

// NewRequestCache creates a request cache. rdb may be nil when the redis
// tier is disabled.
func NewRequestCache(rdb redis.Cmdable, dir string, logger *zap.SugaredLogger) *RequestCache {
	return &RequestCache{rdb: rdb, dir: dir, logger: logger}
}

// Get returns the entry for key when present and within TTL. Expired
// entries are ignored, not evicted.
func (c *RequestCache) Get(ctx context.Context, key string) (*CacheEntry, bool) {
	now := time.Now().UTC()

	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var entry CacheEntry
			if err := json.Unmarshal(raw, &entry); err == nil && !entry.Expired(now) {
				metrics.CacheHits.WithLabelValues("redis").Inc()
				return &entry, true
			}
		} else if err != redis.Nil {
			c.logger.Debugw("redis cache read failed", "key", key, "error", err)
		}
	}

	raw, err := os.ReadFile(c.filePath(key))
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warnw("discarding unreadable cache file", "key", key, "error", err)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if entry.Expired(now) {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("file").Inc()
	return &entry, true
}

// Set stores the entry in both tiers best-effort
func (c *RequestCache) Set(ctx context.Context, entry CacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warnw("failed to marshal cache entry", "key", entry.Key, "error", err)
		return
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, c.redisKey(entry.Key), raw, entry.TTL).Err(); err != nil {
			c.logger.Debugw("redis cache write failed", "key", entry.Key, "error", err)
		}
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warnw("failed to create cache dir", "error", err)
		return
	}
	if err := os.WriteFile(c.filePath(entry.Key), raw, 0o644); err != nil {
		c.logger.Warnw("failed to write cache file", "key", entry.Key, "error", err)
	}
}

// NewSuccessEntry builds a cache entry for a live payload
func NewSuccessEntry(key string, payload any, ttl time.Duration) (CacheEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("failed to encode cache payload: %w", err)
	}
	return CacheEntry{
		Key:      key,
		Payload:  raw,
		CachedAt: time.Now().UTC(),
		TTL:      ttl,
	}, nil
}

// NewFailureEntry builds the explicit negative-cache variant, recording that
// the upstream failed so the gateway does not hammer it until the TTL lapses
func NewFailureEntry(key string, cause error, ttl time.Duration) CacheEntry {
	return CacheEntry{
		Key:      key,
		Failure:  true,
		Error:    cause.Error(),
		CachedAt: time.Now().UTC(),
		TTL:      ttl,
	}
}

func (c *RequestCache) redisKey(key string) string {
	return "watchlist:req:" + key
}

func (c *RequestCache) filePath(key string) string {
	return filepath.Join(c.dir, key+".json")
}
