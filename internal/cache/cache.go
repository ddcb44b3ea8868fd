// Package cache stores finished batch results. Tier 1 is an in-memory expirable LRU, tier 2 an
// optional Redis instance shared between replicas.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
)

const (
	defaultMaxItems = 1024
	defaultTTL      = time.Hour
)

// Stats represents cache performance statistics
type Stats struct {
	MemoryHits   int64     `json:"memory_hits"`
	MemoryMisses int64     `json:"memory_misses"`
	RedisHits    int64     `json:"redis_hits"`
	RedisMisses  int64     `json:"redis_misses"`
	Stores       int64     `json:"stores"`
	ErrorCount   int64     `json:"error_count"`
	LastReset    time.Time `json:"last_reset"`
}

// ReportCache implements domain.ReportCache. Entries are kept as JSON so every hit decodes a fresh
// value that callers may modify freely.
type ReportCache struct {
	memory *expirable.LRU[string, []byte]
	redis  *RedisStore
	ttl    time.Duration
	logger *logrus.Logger

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a report cache. redis may be nil for a memory-only cache.
func New(config domain.CacheConfig, redis *RedisStore, logger *logrus.Logger) *ReportCache {
	if config.MaxItems <= 0 {
		config.MaxItems = defaultMaxItems
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaultTTL
	}

	return &ReportCache{
		memory: expirable.NewLRU[string, []byte](config.MaxItems, nil, config.DefaultTTL),
		redis:  redis,
		ttl:    config.DefaultTTL,
		logger: logger,
		stats:  Stats{LastReset: time.Now()},
	}
}

// Get returns a cached result for key.
func (c *ReportCache) Get(ctx context.Context, key string) (*domain.BatchResult, bool) {
	if data, ok := c.memory.Get(key); ok {
		if result, err := decode(data); err == nil {
			c.incrementStat(func(s *Stats) { s.MemoryHits++ })
			c.logger.WithFields(logrus.Fields{"cache_key": key, "cache_tier": "memory"}).Debug("Cache hit in memory")
			return result, true
		}
		c.memory.Remove(key)
	}
	c.incrementStat(func(s *Stats) { s.MemoryMisses++ })

	if c.redis == nil {
		return nil, false
	}

	data, ok, err := c.redis.Get(ctx, key)
	if err != nil {
		c.incrementStat(func(s *Stats) { s.ErrorCount++ })
		c.logger.WithError(err).WithField("cache_key", key).Warn("Redis cache lookup failed")
		return nil, false
	}
	if !ok {
		c.incrementStat(func(s *Stats) { s.RedisMisses++ })
		return nil, false
	}
	result, err := decode(data)
	if err != nil {
		c.incrementStat(func(s *Stats) { s.RedisMisses++ })
		return nil, false
	}

	c.incrementStat(func(s *Stats) { s.RedisHits++ })
	c.logger.WithFields(logrus.Fields{"cache_key": key, "cache_tier": "redis"}).Debug("Cache hit in Redis")

	// Populate memory cache for next time
	c.memory.Add(key, data)
	return result, true
}

// Set stores result under key in both tiers. Failures are logged and otherwise ignored.
func (c *ReportCache) Set(ctx context.Context, key string, result *domain.BatchResult) {
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.incrementStat(func(s *Stats) { s.ErrorCount++ })
		c.logger.WithError(err).Warn("Failed to encode report for cache")
		return
	}

	c.memory.Add(key, data)
	c.incrementStat(func(s *Stats) { s.Stores++ })

	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl); err != nil {
		c.incrementStat(func(s *Stats) { s.ErrorCount++ })
		c.logger.WithError(err).WithField("cache_key", key).Warn("Failed to store report in Redis")
	}
}

// Len returns the number of entries in the memory tier.
func (c *ReportCache) Len() int {
	return c.memory.Len()
}

// Purge drops every memory entry. Redis entries expire on their own.
func (c *ReportCache) Purge() {
	c.memory.Purge()
}

// GetStats returns cache performance statistics
func (c *ReportCache) GetStats() Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// Close releases the Redis connection, if any.
func (c *ReportCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func (c *ReportCache) incrementStat(update func(*Stats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	update(&c.stats)
}

func decode(data []byte) (*domain.BatchResult, error) {
	var result domain.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &result, nil
}
