package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/cache"
	"github.com/raaihank/ctxembed/internal/embeddings"
)

// EnvPrefix prefixes environment overrides, e.g. CTXEMBED_EMBEDDINGS_MODEL_NAME
const EnvPrefix = "CTXEMBED"

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	_, config, err := load(configPath)
	return config, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	v := newViper(configPath)

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, config, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/ctxembed/")
	v.AddConfigPath("$HOME/.ctxembed/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, GetDefaults())

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return v
}

// setDefaults registers the scalar keys so environment overrides apply even
// when the file does not mention them
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("embeddings.model_name", d.Embeddings.ModelName)
	v.SetDefault("embeddings.eager_load", d.Embeddings.EagerLoad)
	v.SetDefault("embeddings.cache_dir", d.Embeddings.CacheDir)
	v.SetDefault("embeddings.subword.tokenizer_path", d.Embeddings.Subword.TokenizerPath)
	v.SetDefault("embeddings.subword.model_path", d.Embeddings.Subword.ModelPath)
	v.SetDefault("embeddings.subword.model_file", d.Embeddings.Subword.ModelFile)
	v.SetDefault("embeddings.subword.pad_token", d.Embeddings.Subword.PadToken)
	v.SetDefault("embeddings.subword.strict_alignment", d.Embeddings.Subword.StrictAlignment)
	v.SetDefault("embeddings.recurrent.options_file", d.Embeddings.Recurrent.OptionsFile)
	v.SetDefault("embeddings.recurrent.weights_file", d.Embeddings.Recurrent.WeightsFile)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.max_connections", d.Cache.MaxConnections)
	v.SetDefault("cache.min_idle_conns", d.Cache.MinIdleConns)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)

	v.SetDefault("corpus.batch_size", d.Corpus.BatchSize)
	v.SetDefault("corpus.progress_report", d.Corpus.ProgressReport)
	v.SetDefault("corpus.skip_empty", d.Corpus.SkipEmpty)
	v.SetDefault("corpus.stop_on_error", d.Corpus.StopOnError)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
}

// decode unmarshals and validates the current viper state
func decode(v *viper.Viper) (*Config, error) {
	config := GetDefaults()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if err := embeddings.ValidateServiceConfig(config.Embeddings); err != nil {
		return err
	}

	switch config.Cache.Type {
	case cache.TypeNone:
	case cache.TypeMemory:
		if config.Cache.Capacity <= 0 {
			return fmt.Errorf("invalid cache capacity: %d", config.Cache.Capacity)
		}
	case cache.TypeRedis:
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis cache")
		}
		if strings.TrimSpace(config.Cache.KeyPrefix) == "" {
			return fmt.Errorf("key_prefix is required for the redis cache")
		}
	default:
		return fmt.Errorf("invalid cache type: %s (must be none, memory, or redis)", config.Cache.Type)
	}

	if config.Corpus.BatchSize < 0 {
		return fmt.Errorf("invalid corpus batch size: %d", config.Corpus.BatchSize)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch loads the configuration and calls callback with every valid
// reloaded version of it. Invalid edits are logged and skipped.
func Watch(configPath string, logger *zap.Logger, callback func(*Config)) (*Config, error) {
	v, config, err := load(configPath)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring invalid configuration change",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return config, nil
}
