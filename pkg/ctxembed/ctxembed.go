// Package ctxembed produces per-word contextual vectors for space-tokenized
// sentences from pretrained transformer encoders or ELMo.
//
// Every backend returns result[sentence][layer][word], one vector per
// space-delimited word regardless of how the backend segments text internally.
package ctxembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/raaihank/ctxembed/internal/cache"
	"github.com/raaihank/ctxembed/internal/config"
	"github.com/raaihank/ctxembed/internal/corpus"
	"github.com/raaihank/ctxembed/internal/embeddings"
	"github.com/raaihank/ctxembed/internal/logger"
)

type (
	// Result is indexed [sentence][layer][word].
	Result = embeddings.Result
	// Embedder is implemented by every backend.
	Embedder = embeddings.Embedder
	// Config is the full service configuration.
	Config = config.Config
	// SubwordProvider loads a transformer tokenizer and model.
	SubwordProvider = embeddings.SubwordProvider
	// RecurrentProvider loads an ELMo model.
	RecurrentProvider = embeddings.RecurrentProvider
	// BatchFunc receives embedded corpus batches.
	BatchFunc = corpus.BatchFunc
	// RunResult summarizes a corpus run.
	RunResult = corpus.RunResult
	// CacheStats reports result store usage.
	CacheStats = cache.CacheStats
)

var (
	// ErrCacheDisabled is returned by cache operations when no store is configured.
	ErrCacheDisabled = errors.New("result cache is not enabled")
	// ErrServiceClosed is returned by every call after Close.
	ErrServiceClosed = errors.New("service is closed")
)

// Errors callers can match with errors.Is.
var (
	ErrInvalidInput       = embeddings.ErrInvalidInput
	ErrUnsupportedModel   = embeddings.ErrUnsupportedModel
	ErrModelNotLoaded     = embeddings.ErrModelNotLoaded
	ErrTokenizationFailed = embeddings.ErrTokenizationFailed
	ErrInferenceFailed    = embeddings.ErrInferenceFailed
	ErrAlignment          = embeddings.ErrAlignment
	ErrBackendUnavailable = embeddings.ErrBackendUnavailable
	ErrConfigError        = embeddings.ErrConfigError
)

// Providers overrides the default ONNX-backed loaders. Nil fields keep the
// defaults.
type Providers struct {
	Subword   *SubwordProvider
	Recurrent *RecurrentProvider
}

// Service owns one embedder and the resources around it.
type Service struct {
	config    *Config
	log       *logger.Logger
	ownsLog   bool
	store     cache.Store
	providers Providers

	// mu is held for reading for the whole of each call, so a reload or Close
	// swaps the embedder only once in-flight calls have drained.
	mu       sync.RWMutex
	embedder Embedder
	closed   bool

	reloadMu sync.Mutex
}

// Open loads the configuration at configPath (defaults and CTXEMBED_*
// environment overrides apply) and constructs the configured model.
func Open(ctx context.Context, configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(LoggerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	svc, err := New(ctx, cfg, log, Providers{})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	svc.ownsLog = true
	return svc, nil
}

// New constructs the model cfg names. log may be nil.
func New(ctx context.Context, cfg *Config, log *logger.Logger, providers Providers) (*Service, error) {
	if cfg == nil {
		cfg = config.GetDefaults()
	}
	if log == nil {
		log = logger.Nop()
	}

	store, err := NewStore(cfg.Cache, log.WithComponent("cache").Logger)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		config:    cfg,
		log:       log,
		store:     store,
		providers: providers,
	}

	embedder, err := svc.construct(ctx, cfg.Embeddings, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	svc.embedder = embedder
	return svc, nil
}

// NewStore creates the result store a cache configuration selects. It returns
// nil for the "none" type.
func NewStore(cfg cache.Config, log *zap.Logger) (cache.Store, error) {
	switch cfg.Type {
	case "", cache.TypeNone:
		return nil, nil
	case cache.TypeMemory:
		return cache.NewMemoryStore(cfg.Capacity), nil
	case cache.TypeRedis:
		store, err := cache.NewRedisStore(&cfg, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache type %q", ErrConfigError, cfg.Type)
	}
}

// LoggerConfig maps the logging section onto the logger's configuration.
func LoggerConfig(cfg *Config) logger.Config {
	return logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func (s *Service) construct(ctx context.Context, cfg embeddings.ServiceConfig, store cache.Store) (Embedder, error) {
	factory := embeddings.NewFactory(cfg, s.log.WithComponent("embeddings").Logger)
	if s.providers.Subword != nil {
		factory.WithSubwordProvider(*s.providers.Subword)
	}
	if s.providers.Recurrent != nil {
		factory.WithRecurrentProvider(*s.providers.Recurrent)
	}
	if store != nil {
		factory.WithResultStore(store)
	}
	return factory.Construct(ctx, cfg.ModelName)
}

// Embedder returns the current embedder. The handle is only valid until the
// next reload or Close; the Service methods always use the current one.
func (s *Service) Embedder() Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedder
}

// Config returns the configuration in use.
func (s *Service) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// EmbedBatch returns result[sentence][layer][word].
func (s *Service) EmbedBatch(ctx context.Context, sentences []string) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	return s.embedder.EmbedBatch(ctx, sentences)
}

// Dim returns the vector length, or 0 after Close.
func (s *Service) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.embedder.Dim()
}

// Layers returns the number of layers per sentence, or 0 after Close.
func (s *Service) Layers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.embedder.Layers()
}

// RunCorpus embeds every sentence of the corpus file at path in batches.
func (s *Service) RunCorpus(ctx context.Context, path string, fn BatchFunc) (*RunResult, error) {
	return s.runner().Run(ctx, path, fn)
}

// RunLines embeds one sentence per line read from r, typically os.Stdin.
// r stays open.
func (s *Service) RunLines(ctx context.Context, r io.Reader, fn BatchFunc) (*RunResult, error) {
	return s.runner().RunReader(ctx, corpus.NewTextReader(r), fn)
}

func (s *Service) runner() *corpus.Runner {
	cfg := s.Config().Corpus
	return corpus.NewRunner(liveEmbedder{s}, &cfg, s.log.WithComponent("corpus").Logger)
}

// liveEmbedder routes each call to whatever embedder the service holds at
// that moment, so a long corpus run survives a reload.
type liveEmbedder struct {
	s *Service
}

func (l liveEmbedder) EmbedBatch(ctx context.Context, sentences []string) (Result, error) {
	return l.s.EmbedBatch(ctx, sentences)
}

func (l liveEmbedder) Open(ctx context.Context) error {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()
	if l.s.closed {
		return ErrServiceClosed
	}
	return l.s.embedder.Open(ctx)
}

func (l liveEmbedder) Dim() int    { return l.s.Dim() }
func (l liveEmbedder) Layers() int { return l.s.Layers() }

// Close is a no-op; the service owns the embedder.
func (l liveEmbedder) Close() error { return nil }

// CacheStats returns the result store statistics.
func (s *Service) CacheStats(ctx context.Context) (*CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	if s.store == nil {
		return nil, ErrCacheDisabled
	}
	return s.store.Stats(ctx)
}

// ClearCache drops every cached result.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	if s.store == nil {
		return ErrCacheDisabled
	}
	return s.store.Clear(ctx)
}

// Watch reloads the embedder whenever the embeddings section of the file at
// configPath changes. Changes arriving after Close are ignored.
func (s *Service) Watch(ctx context.Context, configPath string) error {
	_, err := config.Watch(configPath, s.log.WithComponent("config").Logger, func(cfg *Config) {
		err := s.reload(ctx, cfg)
		switch {
		case errors.Is(err, ErrServiceClosed):
			s.log.Debug("Ignoring configuration change after Close")
		case err != nil:
			s.log.Error("Failed to reload embedder", zap.Error(err))
		}
	})
	return err
}

// reload swaps in a new embedder when the embeddings configuration changed.
// The cache store is kept. The old embedder is closed after in-flight calls
// through the service have finished.
func (s *Service) reload(ctx context.Context, cfg *Config) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.RLock()
	closed, current, store := s.closed, s.config, s.store
	s.mu.RUnlock()
	if closed {
		return ErrServiceClosed
	}
	if reflect.DeepEqual(current.Embeddings, cfg.Embeddings) {
		return nil
	}

	embedder, err := s.construct(ctx, cfg.Embeddings, store)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = embedder.Close()
		return ErrServiceClosed
	}
	old := s.embedder
	next := *current
	next.Embeddings = cfg.Embeddings
	s.config = &next
	s.embedder = embedder
	s.mu.Unlock()

	s.log.WithModel(cfg.Embeddings.ModelName).Info("Embedder reloaded",
		zap.String("previous", current.Embeddings.ModelName))
	return old.Close()
}

// Close releases the model, the store and, when Open created it, the logger.
// It waits for in-flight calls and is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
		s.embedder = nil
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
		s.store = nil
	}
	if s.ownsLog {
		errs = append(errs, s.log.Close())
	}
	return errors.Join(errs...)
}
