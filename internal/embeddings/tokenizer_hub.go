package embeddings

import (
	"context"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"go.uber.org/zap"
)

// HubTokenizer adapts a sugarme tokenizer loaded from tokenizer.json.
type HubTokenizer struct {
	tk *tokenizer.Tokenizer
}

// LoadHubTokenizer loads tokenizer.json from config.TokenizerPath, or from the
// model's hub repository when no path is configured.
func LoadHubTokenizer(ctx context.Context, config ModelConfig, logger *zap.Logger) (*HubTokenizer, error) {
	path := config.TokenizerPath
	if path == "" {
		var err error
		path, err = fetchArtifact(ctx, HubFileURL(config.ModelName, "tokenizer.json"), config.CacheDir, logger)
		if err != nil {
			return nil, err
		}
	}

	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load tokenizer %s: %w", ErrModelNotLoaded, path, err)
	}

	logger.Info("Tokenizer loaded",
		zap.String("model", config.ModelName),
		zap.String("path", path))

	return &HubTokenizer{tk: tk}, nil
}

// Encode tokenizes text, adding the model's special tokens when requested.
func (h *HubTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	encoding, err := h.tk.EncodeSingle(text, addSpecialTokens)
	if err != nil {
		return nil, err
	}
	return encoding.Ids, nil
}

// IDsToTokens converts ids back to token strings. Unknown ids map to "".
func (h *HubTokenizer) IDsToTokens(ids []int) []string {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		if token, ok := h.tk.IdToToken(id); ok {
			tokens[i] = token
		}
	}
	return tokens
}

// TokenToID looks a token up in the vocabulary, added tokens included.
func (h *HubTokenizer) TokenToID(token string) (int, bool) {
	return h.tk.TokenToId(token)
}
