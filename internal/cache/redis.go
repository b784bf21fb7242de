package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStore caches embedding results in Redis
type RedisStore struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisStore creates a new Redis-backed store. A key prefix is required
// since Clear deletes everything under it.
func NewRedisStore(config *Config, logger *zap.Logger) (*RedisStore, error) {
	if config.KeyPrefix == "" {
		return nil, fmt.Errorf("key_prefix is required for the redis cache")
	}

	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	store := &RedisStore{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.ping(ctx); err != nil {
		_ = store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis result store initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return store, nil
}

// ping tests the Redis connection
func (s *RedisStore) ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx).Result()
	return err
}

// Get returns the cached layers for key
func (s *RedisStore) Get(ctx context.Context, key string) ([][][]float32, bool, error) {
	cacheKey := s.key(key)

	data, err := s.client.Get(ctx, cacheKey).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, false, nil
	} else if err != nil {
		s.misses.Add(1)
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var entry CachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Error("Failed to unmarshal cached entry", zap.Error(err))
		// Delete corrupted cache entry
		s.client.Del(ctx, cacheKey)
		s.misses.Add(1)
		return nil, false, nil
	}

	s.hits.Add(1)
	s.logger.Debug("Cache hit", zap.String("key", cacheKey))
	return entry.Layers, true, nil
}

// Set stores layers under key with the default TTL
func (s *RedisStore) Set(ctx context.Context, key string, value [][][]float32) error {
	data, err := encodeEntry(value, s.config.DefaultTTL)
	if err != nil {
		return err
	}

	cacheKey := s.key(key)
	if err := s.client.Set(ctx, cacheKey, data, s.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache entry: %w", err)
	}

	s.logger.Debug("Entry cached", zap.String("key", cacheKey))
	return nil
}

// Stats returns cache performance statistics
func (s *RedisStore) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	stats.HitRate = hitRate(stats.Hits, stats.Misses)

	// Some Redis-compatible servers restrict INFO sections
	if info, err := s.client.Info(ctx, "memory").Result(); err == nil {
		stats.MemoryUsage = parseUsedMemory(info)
	} else {
		s.logger.Debug("Redis memory info unavailable", zap.Error(err))
	}

	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalKeys = int64(len(keys))

	return stats, nil
}

// Clear removes all entries written by this store
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := s.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	s.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.config.KeyPrefix + ":" + key
}

// scanKeys lists the keys under "<prefix>:" with SCAN
func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	iter := s.client.Scan(ctx, 0, s.key("*"), 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return keys, nil
}

func encodeEntry(value [][][]float32, ttl time.Duration) ([]byte, error) {
	data, err := json.Marshal(CachedEntry{
		Layers:   value,
		CachedAt: time.Now(),
		TTL:      int64(ttl.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry for caching: %w", err)
	}
	return data, nil
}

// parseUsedMemory reads used_memory from an INFO reply
func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || colon < strings.Index(userPart, "://")+3 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
