package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/cache"
	"github.com/raaihank/ctxembed/internal/embeddings"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "bert-base-uncased", config.Embeddings.ModelName)
	assert.Equal(t, embeddings.DefaultElmoOptionsURL, config.Embeddings.Recurrent.OptionsFile)
	assert.Equal(t, cache.TypeNone, config.Cache.Type)
	assert.Equal(t, 24*time.Hour, config.Cache.DefaultTTL)
	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.Corpus.SkipEmpty)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
embeddings:
  model_name: roberta-base
  eager_load: true
  subword:
    model_path: /models/roberta.onnx
    tokenizer_path: /models/tokenizer.json
    segment_markers: false
    special_tokens: ["<s>", "</s>"]
    strict_alignment: true
cache:
  type: memory
  capacity: 64
  default_ttl: 30m
corpus:
  batch_size: 8
logging:
  level: debug
  format: console
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "roberta-base", config.Embeddings.ModelName)
	assert.True(t, config.Embeddings.EagerLoad)
	assert.Equal(t, "/models/roberta.onnx", config.Embeddings.Subword.ModelPath)
	require.NotNil(t, config.Embeddings.Subword.SegmentMarkers)
	assert.False(t, *config.Embeddings.Subword.SegmentMarkers)
	assert.Nil(t, config.Embeddings.Subword.AttentionMask)
	assert.Equal(t, []string{"<s>", "</s>"}, config.Embeddings.Subword.SpecialTokens)
	assert.True(t, config.Embeddings.Subword.StrictAlignment)
	assert.Equal(t, cache.TypeMemory, config.Cache.Type)
	assert.Equal(t, 64, config.Cache.Capacity)
	assert.Equal(t, 30*time.Minute, config.Cache.DefaultTTL)
	assert.Equal(t, 8, config.Corpus.BatchSize)
	assert.Equal(t, "console", config.Logging.Format)

	// untouched sections keep their defaults
	assert.Equal(t, "ctxembed", config.Cache.KeyPrefix)
	assert.Equal(t, int64(1000), config.Corpus.ProgressReport)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CTXEMBED_EMBEDDINGS_MODEL_NAME", "elmo-incremental")
	t.Setenv("CTXEMBED_CACHE_TYPE", "redis")
	t.Setenv("CTXEMBED_CACHE_REDIS_URL", "redis://cache:6379/1")

	config, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "elmo-incremental", config.Embeddings.ModelName)
	assert.Equal(t, cache.TypeRedis, config.Cache.Type)
	assert.Equal(t, "redis://cache:6379/1", config.Cache.RedisURL)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"UnknownElmo", "embeddings:\n  model_name: elmo-xl\n", "invalid elmo type"},
		{"CacheType", "cache:\n  type: disk\n", "invalid cache type"},
		{"CacheCapacity", "cache:\n  type: memory\n  capacity: 0\n", "invalid cache capacity"},
		{"RedisPrefix", "cache:\n  type: redis\n  key_prefix: \"\"\n", "key_prefix is required"},
		{"LogLevel", "logging:\n  level: verbose\n", "invalid log level"},
		{"LogFormat", "logging:\n  format: xml\n", "invalid log format"},
		{"BatchSize", "corpus:\n  batch_size: -1\n", "invalid corpus batch size"},
		{"Syntax", "embeddings: [\n", "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, "embeddings:\n  model_name: bert-base-uncased\n")

	reloaded := make(chan *Config, 4)
	config, err := Watch(path, zap.NewNop(), func(c *Config) {
		reloaded <- c
	})
	require.NoError(t, err)
	assert.Equal(t, "bert-base-uncased", config.Embeddings.ModelName)

	// invalid edits are skipped, the next valid one is delivered
	require.NoError(t, os.WriteFile(path, []byte("embeddings:\n  model_name: elmo-xl\n"), 0644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("embeddings:\n  model_name: gpt2\n"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			switch c.Embeddings.ModelName {
			case "gpt2":
				return
			case "elmo-xl":
				t.Fatal("Invalid configuration was delivered")
			}
		case <-deadline:
			t.Fatal("Timed out waiting for the configuration reload")
		}
	}
}
