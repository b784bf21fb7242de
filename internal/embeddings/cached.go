package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/normalize"
)

// ResultStore keeps one sentence's [layer][word][feature] vectors by key.
type ResultStore interface {
	Get(ctx context.Context, key string) ([][][]float32, bool, error)
	Set(ctx context.Context, key string, value [][][]float32) error
}

// CacheStats reports cached embedder lookups
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// CachedEmbedder serves repeated sentences from a ResultStore and embeds the
// rest in a single inner batch.
type CachedEmbedder struct {
	inner     Embedder
	modelName string
	store     ResultStore
	logger    *zap.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCachedEmbedder wraps inner. modelName scopes keys so different models
// can share one store.
func NewCachedEmbedder(inner Embedder, modelName string, store ResultStore, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		inner:     inner,
		modelName: modelName,
		store:     store,
		logger:    logger,
	}
}

// CacheKey returns the store key of a sentence for a model.
func CacheKey(modelName, sentence string) string {
	sum := sha256.Sum256([]byte(modelName + "\x00" + normalize.PennToNormal(sentence)))
	return fmt.Sprintf("embedding:%s:%s", modelName, hex.EncodeToString(sum[:16]))
}

// EmbedBatch returns result[sentence][layer][word], preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, sentences []string) (Result, error) {
	result := make(Result, len(sentences))
	keys := make([]string, len(sentences))
	var missIdx []int
	var missSentences []string

	for i, sentence := range sentences {
		keys[i] = CacheKey(c.modelName, sentence)
		cached, ok, err := c.store.Get(ctx, keys[i])
		if err != nil {
			c.logger.Warn("Cache lookup failed", zap.Error(err))
		}
		if ok && c.fits(cached, sentence) {
			result[i] = cloneLayers(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missSentences = append(missSentences, sentence)
	}

	c.hits.Add(int64(len(sentences) - len(missIdx)))
	c.misses.Add(int64(len(missIdx)))

	if len(missSentences) == 0 {
		return result, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missSentences)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		result[i] = embedded[j]
		if err := c.store.Set(ctx, keys[i], cloneLayers(embedded[j])); err != nil {
			c.logger.Warn("Failed to cache embedding", zap.Error(err))
		}
	}

	c.logger.Debug("Cached batch embedded",
		zap.Int("sentences", len(sentences)),
		zap.Int("cache_hits", len(sentences)-len(missIdx)))

	return result, nil
}

// fits rejects entries whose shape no longer matches the backend.
func (c *CachedEmbedder) fits(cached [][][]float32, sentence string) bool {
	if c.inner.Layers() > 0 && len(cached) != c.inner.Layers() {
		return false
	}
	words := len(normalize.Words(sentence))
	for _, layer := range cached {
		if len(layer) != words {
			return false
		}
	}
	return true
}

// cloneLayers deep-copies one sentence so callers and the store never share
// vectors.
func cloneLayers(layers [][][]float32) [][][]float32 {
	out := make([][][]float32, len(layers))
	for l, words := range layers {
		out[l] = make([][]float32, len(words))
		for w, vec := range words {
			out[l][w] = append([]float32(nil), vec...)
		}
	}
	return out
}

// Stats returns hit and miss counts since construction.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Unwrap returns the wrapped embedder.
func (c *CachedEmbedder) Unwrap() Embedder {
	return c.inner
}

// Open opens the wrapped embedder.
func (c *CachedEmbedder) Open(ctx context.Context) error {
	return c.inner.Open(ctx)
}

// Dim returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dim() int {
	return c.inner.Dim()
}

// Layers returns the wrapped embedder's layer count.
func (c *CachedEmbedder) Layers() int {
	return c.inner.Layers()
}

// Close closes the wrapped embedder. The store is owned by the caller.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
