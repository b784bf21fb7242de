package cache

import (
	"context"
	"time"
)

// Store types
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Store keeps one sentence's [layer][word][feature] vectors by key.
type Store interface {
	Get(ctx context.Context, key string) ([][][]float32, bool, error)
	Set(ctx context.Context, key string, value [][][]float32) error
	Stats(ctx context.Context) (*CacheStats, error)
	Clear(ctx context.Context) error
	Close() error
}

// CachedEntry is the serialized form of a cached sentence
type CachedEntry struct {
	Layers   [][][]float32 `json:"layers"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      int64         `json:"ttl"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	Type           string        `yaml:"type" mapstructure:"type"`         // "none", "memory", "redis"
	Capacity       int           `yaml:"capacity" mapstructure:"capacity"` // memory store entries
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
