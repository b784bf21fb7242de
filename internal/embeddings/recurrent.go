package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/normalize"
)

// ELMo variants and their output geometry.
const (
	ElmoPrefix      = "elmo"
	ElmoStandard    = "elmo"
	ElmoIncremental = "elmo-incremental"

	elmoLayers        = 3
	elmoProjectionDim = 512
)

// IsRecurrentModel reports whether a model name selects the recurrent backend.
func IsRecurrentModel(modelName string) bool {
	return strings.HasPrefix(modelName, ElmoPrefix)
}

// RecurrentEmbedder wraps a bidirectional character-aware language model.
// It works at word granularity so no subword realignment is needed.
type RecurrentEmbedder struct {
	name        string
	incremental bool
	dim         int
	layers      int
	config      RecurrentConfig
	provider    RecurrentProvider
	logger      *zap.Logger

	mu    sync.RWMutex
	ready bool
	model RecurrentModel
}

// NewRecurrentEmbedder validates the variant name. The model is loaded lazily.
func NewRecurrentEmbedder(name string, config RecurrentConfig, provider RecurrentProvider, logger *zap.Logger) (*RecurrentEmbedder, error) {
	e := &RecurrentEmbedder{
		name:     name,
		layers:   elmoLayers,
		config:   config,
		provider: provider,
		logger:   logger.With(zap.String("model", name)),
	}

	switch name {
	case ElmoStandard:
		e.dim = 2 * elmoProjectionDim
	case ElmoIncremental:
		e.incremental = true
		e.dim = elmoProjectionDim
	default:
		return nil, fmt.Errorf("%w: unknown elmo type %q (must be %s or %s)",
			ErrUnsupportedModel, name, ElmoStandard, ElmoIncremental)
	}

	if provider.LoadModel == nil {
		return nil, fmt.Errorf("%w: recurrent provider is incomplete", ErrConfigError)
	}

	return e, nil
}

// Open loads the model once.
func (e *RecurrentEmbedder) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}

	start := time.Now()
	e.logger.Info("Loading ELMo START")

	model, err := e.provider.LoadModel(ctx, e.config)
	if err != nil {
		return fmt.Errorf("failed to load ELMo: %w", err)
	}
	e.model = model
	e.ready = true

	e.logger.Info("Loading ELMo DONE", zap.Duration("duration", time.Since(start)))
	return nil
}

// acquire opens the embedder if needed and returns holding the read lock, so
// Close waits for in-flight calls.
func (e *RecurrentEmbedder) acquire(ctx context.Context) error {
	for {
		if err := e.Open(ctx); err != nil {
			return err
		}
		e.mu.RLock()
		if e.ready {
			return nil
		}
		e.mu.RUnlock()
	}
}

// Incremental reports whether only the forward half of each vector is kept.
func (e *RecurrentEmbedder) Incremental() bool {
	return e.incremental
}

// Dim returns 1024 for the standard variant and 512 for the incremental one.
func (e *RecurrentEmbedder) Dim() int {
	return e.dim
}

// Layers returns 3.
func (e *RecurrentEmbedder) Layers() int {
	return e.layers
}

// Close releases the model.
func (e *RecurrentEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.ready = false
	return err
}

// EmbedBatch returns result[sentence][layer][word].
func (e *RecurrentEmbedder) EmbedBatch(ctx context.Context, sentences []string) (Result, error) {
	if len(sentences) == 0 {
		return Result{}, nil
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	words := make([][]string, len(sentences))
	for i, sentence := range sentences {
		words[i] = normalize.Words(normalize.PennToNormal(sentence))
	}

	raw, err := e.model.EmbedSentences(ctx, words)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	if len(raw) != len(sentences) {
		return nil, fmt.Errorf("%w: model returned %d sentences, want %d", ErrInferenceFailed, len(raw), len(sentences))
	}

	result := make(Result, len(sentences))
	for i, activations := range raw {
		if len(activations) < e.layers {
			return nil, fmt.Errorf("%w: sentence %d has %d layers, want %d", ErrInferenceFailed, i, len(activations), e.layers)
		}
		result[i] = make([][][]float32, e.layers)
		for l := 0; l < e.layers; l++ {
			vectors, err := e.sliceLayer(activations[l], len(words[i]))
			if err != nil {
				return nil, fmt.Errorf("sentence %d layer %d: %w", i, l, err)
			}
			result[i][l] = vectors
		}
	}

	return result, nil
}

// sliceLayer keeps one vector per word, truncated to the variant's width.
func (e *RecurrentEmbedder) sliceLayer(layer [][]float32, wordCount int) ([][]float32, error) {
	if len(layer) < wordCount {
		return nil, fmt.Errorf("%w: %d positions for %d words", ErrInferenceFailed, len(layer), wordCount)
	}
	out := make([][]float32, wordCount)
	for w := 0; w < wordCount; w++ {
		if len(layer[w]) < e.dim {
			return nil, fmt.Errorf("%w: word %d has %d features, want %d", ErrInferenceFailed, w, len(layer[w]), e.dim)
		}
		vec := make([]float32, e.dim)
		copy(vec, layer[w][:e.dim])
		out[w] = vec
	}
	return out, nil
}
