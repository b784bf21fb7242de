package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/normalize"
)

// SubwordEmbedder wraps a pretrained transformer encoder and realigns its
// subword outputs to the caller's words.
type SubwordEmbedder struct {
	config   ModelConfig
	provider SubwordProvider
	profile  Profile
	logger   *zap.Logger

	mu        sync.RWMutex
	ready     bool
	tokenizer Tokenizer
	model     SubwordModel
	tokens    tokenSet

	dim    int
	layers int
}

// NewSubwordEmbedder creates a subword backend. Nothing is loaded until Open
// or the first EmbedBatch.
func NewSubwordEmbedder(config ModelConfig, provider SubwordProvider, logger *zap.Logger) (*SubwordEmbedder, error) {
	if config.ModelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrConfigError)
	}
	if provider.LoadTokenizer == nil || provider.LoadModel == nil {
		return nil, fmt.Errorf("%w: subword provider is incomplete", ErrConfigError)
	}

	return &SubwordEmbedder{
		config:   config,
		provider: provider,
		profile:  ProfileFor(config),
		logger:   logger.With(zap.String("model", config.ModelName)),
	}, nil
}

// Open loads the tokenizer and model once.
func (e *SubwordEmbedder) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return nil
	}

	start := time.Now()
	e.logger.Info("Loading subword model")

	tok, err := e.provider.LoadTokenizer(ctx, e.config)
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}
	tokens, err := resolveTokens(tok, e.profile, e.config)
	if err != nil {
		return err
	}
	model, err := e.provider.LoadModel(ctx, e.config)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	e.tokenizer = tok
	e.tokens = tokens
	e.model = model
	e.ready = true

	e.logger.Info("Subword model loaded",
		zap.String("pad_token", tokens.padToken),
		zap.Int("pad_id", tokens.padID),
		zap.Duration("duration", time.Since(start)))

	return nil
}

// acquire opens the embedder if needed and returns holding the read lock, so
// Close waits for in-flight calls.
func (e *SubwordEmbedder) acquire(ctx context.Context) error {
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

// Profile returns the framing and masking profile in use.
func (e *SubwordEmbedder) Profile() Profile {
	return e.profile
}

// Dim returns the vector length discovered by probe.
func (e *SubwordEmbedder) Dim() int {
	return e.dim
}

// Layers returns the layer count discovered by probe.
func (e *SubwordEmbedder) Layers() int {
	return e.layers
}

// Close releases the model.
func (e *SubwordEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.tokenizer = nil
	e.ready = false
	return err
}

// probe embeds ProbeSentence to record the output shape.
func (e *SubwordEmbedder) probe(ctx context.Context) error {
	res, err := e.EmbedBatch(ctx, []string{ProbeSentence})
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	if len(res) != 1 || len(res[0]) == 0 || len(res[0][0]) == 0 {
		return fmt.Errorf("%w: probe returned an empty result", ErrInferenceFailed)
	}
	e.layers = len(res[0])
	e.dim = len(res[0][0][0])

	e.logger.Info("Subword model probed", zap.Int("dim", e.dim), zap.Int("layers", e.layers))
	return nil
}

// Tokenize returns the token ids for a normalized sentence.
func (e *SubwordEmbedder) Tokenize(ctx context.Context, sentence string) ([]int, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()
	return e.tokenize(sentence)
}

func (e *SubwordEmbedder) tokenize(sentence string) ([]int, error) {
	if e.profile.UsesSegmentMarkers {
		return e.tokenizer.Encode(sentence, true)
	}

	var ids []int
	for _, word := range normalize.Words(sentence) {
		wordIDs, err := e.tokenizer.Encode(word, false)
		if err != nil {
			return nil, err
		}
		ids = append(ids, wordIDs...)
	}
	return ids, nil
}

// EmbedBatch returns result[sentence][layer][word].
func (e *SubwordEmbedder) EmbedBatch(ctx context.Context, sentences []string) (Result, error) {
	if len(sentences) == 0 {
		return Result{}, nil
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.mu.RUnlock()

	start := time.Now()

	normalized := make([]string, len(sentences))
	tokenized := make([][]int, len(sentences))
	maxLen := 0
	for i, sentence := range sentences {
		normalized[i] = normalize.PennToNormal(sentence)
		ids, err := e.tokenize(normalized[i])
		if err != nil {
			return nil, fmt.Errorf("%w: sentence %d: %w", ErrTokenizationFailed, i, err)
		}
		tokenized[i] = ids
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}
	if maxLen == 0 {
		return nil, fmt.Errorf("%w: batch produced no tokens", ErrInvalidInput)
	}

	padded := make([][]int64, len(tokenized))
	var mask [][]int64
	if e.profile.RequiresAttentionMask {
		mask = make([][]int64, len(tokenized))
	}
	for i, ids := range tokenized {
		padded[i] = padIDs(ids, int64(e.tokens.padID), maxLen)
		if mask != nil {
			mask[i] = attentionMask(len(ids), maxLen)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	layers, err := e.model.Run(ctx, padded, mask)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	if err := checkLayerShapes(layers, tokenized); err != nil {
		return nil, err
	}

	result := make(Result, len(sentences))
	for i := range sentences {
		positions, err := e.alignWords(tokenized[i], normalize.Words(normalized[i]))
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		result[i] = make([][][]float32, len(layers))
		for l, layer := range layers {
			result[i][l] = gatherVectors(layer[i], positions)
		}
	}

	e.logger.Debug("Subword batch embedded",
		zap.Int("sentences", len(sentences)),
		zap.Int("max_len", maxLen),
		zap.Int("layers", len(layers)),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// alignWords returns, per word, the token position whose vector represents it.
// Special tokens are skipped and each word advances the cursor by the number
// of tokens it encodes to alone, so only a word's first piece is recorded.
func (e *SubwordEmbedder) alignWords(ids []int, words []string) ([]int, error) {
	tokens := e.tokenizer.IDsToTokens(ids)
	positions := make([]int, 0, len(words))
	cursor := 0
	pieces := 0

	for w, word := range words {
		for cursor < len(tokens) && e.tokens.isSpecial(tokens[cursor]) {
			cursor++
		}
		if cursor >= len(tokens) {
			return nil, fmt.Errorf("%w: word %d (%q) starts past the %d tokens of the sentence",
				ErrAlignment, w, word, len(tokens))
		}
		positions = append(positions, cursor)

		wordIDs, err := e.tokenizer.Encode(word, false)
		if err != nil {
			return nil, fmt.Errorf("%w: word %d: %w", ErrTokenizationFailed, w, err)
		}
		cursor += len(wordIDs)
		pieces += len(wordIDs)
	}

	if content := countContent(tokens, e.tokens); content != pieces {
		if e.config.StrictAlignment {
			return nil, fmt.Errorf("%w: sentence has %d content tokens but its words encode to %d in isolation",
				ErrAlignment, content, pieces)
		}
		e.logger.Warn("Context-sensitive segmentation, word vectors may be misaligned",
			zap.Int("content_tokens", content),
			zap.Int("isolated_tokens", pieces))
	}

	return positions, nil
}

func countContent(tokens []string, set tokenSet) int {
	n := 0
	for _, token := range tokens {
		if !set.isSpecial(token) {
			n++
		}
	}
	return n
}

// checkLayerShapes verifies every layer covers every sentence's real tokens.
func checkLayerShapes(layers []LayerOutput, tokenized [][]int) error {
	if len(layers) == 0 {
		return fmt.Errorf("%w: model returned no layers", ErrInferenceFailed)
	}
	for l, layer := range layers {
		if len(layer) != len(tokenized) {
			return fmt.Errorf("%w: layer %d has %d sentences, want %d", ErrInferenceFailed, l, len(layer), len(tokenized))
		}
		for i, ids := range tokenized {
			if len(layer[i]) < len(ids) {
				return fmt.Errorf("%w: layer %d sentence %d has %d positions, want at least %d",
					ErrInferenceFailed, l, i, len(layer[i]), len(ids))
			}
		}
	}
	return nil
}

func gatherVectors(states [][]float32, positions []int) [][]float32 {
	out := make([][]float32, len(positions))
	for w, pos := range positions {
		vec := make([]float32, len(states[pos]))
		copy(vec, states[pos])
		out[w] = vec
	}
	return out
}

func padIDs(ids []int, padID int64, length int) []int64 {
	out := make([]int64, length)
	for i := range out {
		if i < len(ids) {
			out[i] = int64(ids[i])
		} else {
			out[i] = padID
		}
	}
	return out
}

func attentionMask(real, length int) []int64 {
	mask := make([]int64, length)
	for i := 0; i < real; i++ {
		mask[i] = 1
	}
	return mask
}
