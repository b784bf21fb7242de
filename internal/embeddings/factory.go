package embeddings

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BackendType names the two backend families
type BackendType string

const (
	// SubwordBackend wraps a pretrained transformer encoder
	SubwordBackend BackendType = "subword"

	// RecurrentBackend wraps the ELMo bidirectional language model
	RecurrentBackend BackendType = "recurrent"
)

// BackendFor returns the backend family a model name selects.
func BackendFor(modelName string) BackendType {
	if IsRecurrentModel(modelName) {
		return RecurrentBackend
	}
	return SubwordBackend
}

// Factory creates embedders by model name
type Factory struct {
	config    ServiceConfig
	logger    *zap.Logger
	subword   SubwordProvider
	recurrent RecurrentProvider
	store     ResultStore
}

// NewFactory creates a factory backed by the default ONNX providers
func NewFactory(config ServiceConfig, logger *zap.Logger) *Factory {
	return &Factory{
		config:    config,
		logger:    logger,
		subword:   DefaultSubwordProvider(logger),
		recurrent: DefaultRecurrentProvider(logger),
	}
}

// WithSubwordProvider replaces the subword provider
func (f *Factory) WithSubwordProvider(provider SubwordProvider) *Factory {
	f.subword = provider
	return f
}

// WithRecurrentProvider replaces the recurrent provider
func (f *Factory) WithRecurrentProvider(provider RecurrentProvider) *Factory {
	f.recurrent = provider
	return f
}

// WithResultStore wraps constructed embedders in a CachedEmbedder
func (f *Factory) WithResultStore(store ResultStore) *Factory {
	f.store = store
	return f
}

// Construct builds the embedder a model name selects. Names starting with
// "elmo" build a recurrent backend; anything else is a pretrained transformer
// identifier, probed once to discover its dimension and layer count.
func (f *Factory) Construct(ctx context.Context, modelName string) (Embedder, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%w: model name is required", ErrConfigError)
	}

	var (
		embedder Embedder
		fields   []zap.Field
	)
	switch BackendFor(modelName) {
	case RecurrentBackend:
		config := f.config.Recurrent
		if config.CacheDir == "" {
			config.CacheDir = f.config.CacheDir
		}
		recurrent, err := NewRecurrentEmbedder(modelName, config, f.recurrent, f.logger)
		if err != nil {
			return nil, err
		}
		if f.config.EagerLoad {
			if err := recurrent.Open(ctx); err != nil {
				return nil, err
			}
		}
		embedder = recurrent
		fields = append(fields, zap.Bool("incremental", recurrent.Incremental()))
	default:
		config := f.config.Subword
		config.ModelName = modelName
		if config.CacheDir == "" {
			config.CacheDir = f.config.CacheDir
		}
		subword, err := NewSubwordEmbedder(config, f.subword, f.logger)
		if err != nil {
			return nil, err
		}
		if err := subword.probe(ctx); err != nil {
			_ = subword.Close()
			return nil, err
		}
		embedder = subword
		profile := subword.Profile()
		fields = append(fields,
			zap.Bool("segment_markers", profile.UsesSegmentMarkers),
			zap.Bool("attention_mask", profile.RequiresAttentionMask))
	}

	f.logger.Info("Created embedder", append([]zap.Field{
		zap.String("model", modelName),
		zap.String("backend", string(BackendFor(modelName))),
		zap.Int("dim", embedder.Dim()),
		zap.Int("layers", embedder.Layers()),
		zap.Bool("cached", f.store != nil),
	}, fields...)...)

	if f.store != nil {
		return NewCachedEmbedder(embedder, modelName, f.store, f.logger), nil
	}
	return embedder, nil
}

// ValidateServiceConfig validates the embedder configuration
func ValidateServiceConfig(config ServiceConfig) error {
	if config.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if IsRecurrentModel(config.ModelName) {
		switch config.ModelName {
		case ElmoStandard, ElmoIncremental:
		default:
			return fmt.Errorf("invalid elmo type: %s (must be one of: %s, %s)", config.ModelName, ElmoStandard, ElmoIncremental)
		}
	}
	if config.Subword.PadToken != "" && strings.TrimSpace(config.Subword.PadToken) == "" {
		return fmt.Errorf("pad_token must not be blank")
	}
	return nil
}

// CreateDefaultConfig creates a default configuration for a model name
func CreateDefaultConfig(modelName string) ServiceConfig {
	return ServiceConfig{
		ModelName: modelName,
		CacheDir:  "./models",
		Subword: ModelConfig{
			ModelFile: "onnx/model.onnx",
		},
		Recurrent: RecurrentConfig{
			OptionsFile: DefaultElmoOptionsURL,
		},
	}
}
