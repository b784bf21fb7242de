package embeddings

import (
	"context"

	"go.uber.org/zap"
)

// Tokenizer is the pretrained tokenizer contract used by the subword backend.
type Tokenizer interface {
	// Encode returns the token ids for text, optionally framed by the
	// tokenizer's special tokens.
	Encode(text string, addSpecialTokens bool) ([]int, error)
	// IDsToTokens returns the token string for each id.
	IDsToTokens(ids []int) []string
	// TokenToID looks a token string up in the vocabulary.
	TokenToID(token string) (int, bool)
}

// SubwordModel runs a transformer encoder over a rectangular batch.
type SubwordModel interface {
	// Run returns one output per hidden layer, bottom layer first. mask is nil
	// when the model does not take an attention mask.
	Run(ctx context.Context, ids [][]int64, mask [][]int64) ([]LayerOutput, error)
	Close() error
}

// RecurrentModel runs a word-level bidirectional language model.
type RecurrentModel interface {
	// EmbedSentences returns one [layer][word][feature] array per sentence.
	EmbedSentences(ctx context.Context, sentences [][]string) ([][][][]float32, error)
	Close() error
}

// SubwordProvider loads the collaborators of a subword backend.
type SubwordProvider struct {
	LoadTokenizer func(ctx context.Context, config ModelConfig) (Tokenizer, error)
	LoadModel     func(ctx context.Context, config ModelConfig) (SubwordModel, error)
}

// RecurrentProvider loads the model of a recurrent backend.
type RecurrentProvider struct {
	LoadModel func(ctx context.Context, config RecurrentConfig) (RecurrentModel, error)
}

// DefaultSubwordProvider loads tokenizer.json through sugarme/tokenizer and the
// model through ONNX Runtime. The ONNX half requires the 'onnx' build tag.
func DefaultSubwordProvider(logger *zap.Logger) SubwordProvider {
	return SubwordProvider{
		LoadTokenizer: func(ctx context.Context, config ModelConfig) (Tokenizer, error) {
			tk, err := LoadHubTokenizer(ctx, config, logger)
			if err != nil {
				return nil, err
			}
			return tk, nil
		},
		LoadModel: func(ctx context.Context, config ModelConfig) (SubwordModel, error) {
			modelPath, err := resolveModelFile(ctx, config, logger)
			if err != nil {
				return nil, err
			}
			return newOnnxSubwordModel(modelPath, logger)
		},
	}
}

// DefaultRecurrentProvider fetches the ELMo options and ONNX weights and runs
// them through ONNX Runtime. Requires the 'onnx' build tag.
func DefaultRecurrentProvider(logger *zap.Logger) RecurrentProvider {
	return RecurrentProvider{
		LoadModel: func(ctx context.Context, config RecurrentConfig) (RecurrentModel, error) {
			weightsPath, options, err := prepareElmoArtifacts(ctx, config, logger)
			if err != nil {
				return nil, err
			}
			return newOnnxRecurrentModel(weightsPath, options, logger)
		},
	}
}

// resolveModelFile returns a local path for the ONNX export, fetching it from
// the hub when no explicit path is configured.
func resolveModelFile(ctx context.Context, config ModelConfig, logger *zap.Logger) (string, error) {
	if config.ModelPath != "" {
		return config.ModelPath, nil
	}
	file := config.ModelFile
	if file == "" {
		file = "onnx/model.onnx"
	}
	return fetchArtifact(ctx, HubFileURL(config.ModelName, file), config.CacheDir, logger)
}
