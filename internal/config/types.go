package config

import (
	"time"

	"github.com/raaihank/ctxembed/internal/cache"
	"github.com/raaihank/ctxembed/internal/corpus"
	"github.com/raaihank/ctxembed/internal/embeddings"
)

// Config represents the main configuration structure
type Config struct {
	Embeddings embeddings.ServiceConfig `yaml:"embeddings" mapstructure:"embeddings"`
	Cache      cache.Config             `yaml:"cache" mapstructure:"cache"`
	Corpus     corpus.Config            `yaml:"corpus" mapstructure:"corpus"`
	Logging    LoggingConfig            `yaml:"logging" mapstructure:"logging"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Embeddings: embeddings.CreateDefaultConfig("bert-base-uncased"),
		Cache: cache.Config{
			Type:           cache.TypeNone,
			Capacity:       10000,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     24 * time.Hour,
			KeyPrefix:      "ctxembed",
		},
		Corpus: corpus.Config{
			BatchSize:      corpus.DefaultBatchSize,
			ProgressReport: 1000,
			SkipEmpty:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: struct {
				Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
				Path    string `yaml:"path" mapstructure:"path"`
			}{
				Enabled: false,
				Path:    "logs/ctxembed.log",
			},
		},
	}
}
