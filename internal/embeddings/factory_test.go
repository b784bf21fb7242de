package embeddings

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testFactory struct {
	factory        *Factory
	tokenizer      *fakeTokenizer
	subwordModel   *fakeSubwordModel
	recurrentModel *fakeRecurrentModel
	subwordLoads   *loadCounter
	recurrentLoads *loadCounter
}

func newTestFactory(config ServiceConfig) *testFactory {
	tf := &testFactory{
		tokenizer:      newBertTokenizer(),
		subwordModel:   &fakeSubwordModel{layers: 13, dim: 16},
		recurrentModel: &fakeRecurrentModel{},
		subwordLoads:   &loadCounter{},
		recurrentLoads: &loadCounter{},
	}
	tf.factory = NewFactory(config, zap.NewNop()).
		WithSubwordProvider(fakeSubwordProvider(tf.tokenizer, tf.subwordModel, tf.subwordLoads)).
		WithRecurrentProvider(fakeRecurrentProvider(tf.recurrentModel, tf.recurrentLoads))
	return tf
}

func TestFactoryConstruct(t *testing.T) {
	ctx := context.Background()

	t.Run("SubwordIsProbed", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		e, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		if _, ok := e.(*SubwordEmbedder); !ok {
			t.Fatalf("Expected *SubwordEmbedder, got %T", e)
		}
		if e.Dim() != 16 || e.Layers() != 13 {
			t.Errorf("Expected dim 16 and 13 layers, got %d and %d", e.Dim(), e.Layers())
		}
		if tf.subwordModel.calls != 1 {
			t.Errorf("Expected one probe run, got %d", tf.subwordModel.calls)
		}
	})

	t.Run("RecurrentByPrefix", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		e, err := tf.factory.Construct(ctx, "elmo-incremental")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		r, ok := e.(*RecurrentEmbedder)
		if !ok {
			t.Fatalf("Expected *RecurrentEmbedder, got %T", e)
		}
		if !r.Incremental() || r.Dim() != 512 {
			t.Errorf("Expected incremental 512-dim embedder, got dim %d", r.Dim())
		}
		if tf.recurrentLoads.model != 0 {
			t.Error("Recurrent backend should load lazily")
		}
	})

	t.Run("LogsBackendDetails", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		tf := newTestFactory(ServiceConfig{})
		tf.factory.logger = zap.New(core)

		if _, err := tf.factory.Construct(ctx, "bert-base-uncased"); err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		if _, err := tf.factory.Construct(ctx, ElmoIncremental); err != nil {
			t.Fatalf("Construct failed: %v", err)
		}

		created := logs.FilterMessage("Created embedder").All()
		if len(created) != 2 {
			t.Fatalf("Expected 2 creation entries, got %d", len(created))
		}
		bert := created[0].ContextMap()
		if bert["segment_markers"] != true || bert["attention_mask"] != true {
			t.Errorf("Expected BERT framing in log fields, got %v", bert)
		}
		elmo := created[1].ContextMap()
		if elmo["incremental"] != true || elmo["dim"] != int64(512) {
			t.Errorf("Expected incremental 512-dim entry, got %v", elmo)
		}
	})

	t.Run("EagerLoad", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{EagerLoad: true})
		if _, err := tf.factory.Construct(ctx, ElmoStandard); err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		if tf.recurrentLoads.model != 1 {
			t.Errorf("Expected eager load, got %d loads", tf.recurrentLoads.model)
		}
	})

	t.Run("UnsupportedElmo", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		_, err := tf.factory.Construct(ctx, "elmo-large")
		if !errors.Is(err, ErrUnsupportedModel) {
			t.Errorf("Expected ErrUnsupportedModel, got %v", err)
		}
	})

	t.Run("EmptyName", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		_, err := tf.factory.Construct(ctx, "")
		if !errors.Is(err, ErrConfigError) {
			t.Errorf("Expected ErrConfigError, got %v", err)
		}
	})

	t.Run("ProbeFailureCloses", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		tf.subwordModel.err = errors.New("bad export")
		_, err := tf.factory.Construct(ctx, "roberta-base")
		if !errors.Is(err, ErrInferenceFailed) {
			t.Errorf("Expected ErrInferenceFailed, got %v", err)
		}
		if !tf.subwordModel.closed {
			t.Error("Expected model to be closed after a failed probe")
		}
	})

	t.Run("CacheDirInherited", func(t *testing.T) {
		var seen ModelConfig
		provider := fakeSubwordProvider(newBertTokenizer(), &fakeSubwordModel{layers: 1, dim: 4}, &loadCounter{})
		load := provider.LoadTokenizer
		provider.LoadTokenizer = func(ctx context.Context, config ModelConfig) (Tokenizer, error) {
			seen = config
			return load(ctx, config)
		}
		f := NewFactory(ServiceConfig{CacheDir: "/tmp/models"}, zap.NewNop()).WithSubwordProvider(provider)
		if _, err := f.Construct(ctx, "bert-base-cased"); err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		if seen.ModelName != "bert-base-cased" || seen.CacheDir != "/tmp/models" {
			t.Errorf("Unexpected provider config: %+v", seen)
		}
	})

	t.Run("WrapsWithStore", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		tf.factory.WithResultStore(newMapStore())
		e, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		cached, ok := e.(*CachedEmbedder)
		if !ok {
			t.Fatalf("Expected *CachedEmbedder, got %T", e)
		}
		if _, ok := cached.Unwrap().(*SubwordEmbedder); !ok {
			t.Errorf("Expected wrapped *SubwordEmbedder, got %T", cached.Unwrap())
		}
		if e.Dim() != 16 || e.Layers() != 13 {
			t.Errorf("Wrapper should report inner shape, got %d/%d", e.Dim(), e.Layers())
		}
	})
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("ServesHitsAndBatchesMisses", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		inner, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		store := newMapStore()
		cached := NewCachedEmbedder(inner, "bert-base-uncased", store, zap.NewNop())

		first, err := cached.EmbedBatch(ctx, []string{"a b", "c d e"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if len(store.data) != 2 {
			t.Errorf("Expected 2 stored entries, got %d", len(store.data))
		}

		calls := tf.subwordModel.calls
		second, err := cached.EmbedBatch(ctx, []string{"c d e", "f", "a b"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if tf.subwordModel.calls != calls+1 {
			t.Fatalf("Expected one inner batch, got %d", tf.subwordModel.calls-calls)
		}
		if len(tf.subwordModel.lastIDs) != 1 {
			t.Errorf("Expected only the miss to reach the model, got %d sentences", len(tf.subwordModel.lastIDs))
		}
		if !reflect.DeepEqual(second[0], first[1]) || !reflect.DeepEqual(second[2], first[0]) {
			t.Error("Cached results out of order")
		}
		if len(second[1][0]) != 1 {
			t.Errorf("Expected 1 word for the miss, got %d", len(second[1][0]))
		}

		stats := cached.Stats()
		if stats.Hits != 2 || stats.Misses != 3 {
			t.Errorf("Expected 2 hits and 3 misses, got %+v", stats)
		}

		calls = tf.subwordModel.calls
		if _, err := cached.EmbedBatch(ctx, []string{"a b"}); err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if tf.subwordModel.calls != calls {
			t.Error("All-hit batch should not reach the model")
		}
	})

	t.Run("ResultsDoNotAliasStore", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		inner, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		cached := NewCachedEmbedder(inner, "bert-base-uncased", newMapStore(), zap.NewNop())

		first, err := cached.EmbedBatch(ctx, []string{"a b"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		want := first[0][0][0][0]
		first[0][0][0][0] = 999

		second, err := cached.EmbedBatch(ctx, []string{"a b"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if got := second[0][0][0][0]; got != want {
			t.Fatalf("Expected %v from the cache, got %v", want, got)
		}

		second[0][0][0][0] = 777
		third, err := cached.EmbedBatch(ctx, []string{"a b"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if got := third[0][0][0][0]; got != want {
			t.Errorf("Edited hit leaked into the cache: got %v", got)
		}
		if cached.Stats().Hits != 2 {
			t.Errorf("Expected 2 hits, got %+v", cached.Stats())
		}
	})

	t.Run("KeysNormalizeAndScope", func(t *testing.T) {
		if CacheKey("m", "-LRB- x") != CacheKey("m", "( x") {
			t.Error("Escaped and literal sentences should share a key")
		}
		if CacheKey("m1", "x") == CacheKey("m2", "x") {
			t.Error("Keys should be scoped by model")
		}
	})

	t.Run("StoreErrorsIgnored", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		inner, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		store := newMapStore()
		store.err = errors.New("store down")
		cached := NewCachedEmbedder(inner, "bert-base-uncased", store, zap.NewNop())

		res, err := cached.EmbedBatch(ctx, []string{"a b"})
		if err != nil {
			t.Fatalf("Store errors should not fail the call: %v", err)
		}
		if len(res) != 1 || len(res[0]) != 13 {
			t.Errorf("Unexpected result shape")
		}
	})

	t.Run("StaleEntryIgnored", func(t *testing.T) {
		tf := newTestFactory(ServiceConfig{})
		inner, err := tf.factory.Construct(ctx, "bert-base-uncased")
		if err != nil {
			t.Fatalf("Construct failed: %v", err)
		}
		store := newMapStore()
		store.data[CacheKey("bert-base-uncased", "a b")] = [][][]float32{{{1}}}
		cached := NewCachedEmbedder(inner, "bert-base-uncased", store, zap.NewNop())

		res, err := cached.EmbedBatch(ctx, []string{"a b"})
		if err != nil {
			t.Fatalf("EmbedBatch failed: %v", err)
		}
		if len(res[0]) != 13 || len(res[0][0]) != 2 {
			t.Error("Expected a fresh embedding for a mis-shaped entry")
		}
	})
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  ServiceConfig
		wantErr bool
	}{
		{"Default", CreateDefaultConfig("bert-base-uncased"), false},
		{"Elmo", CreateDefaultConfig(ElmoIncremental), false},
		{"BadElmo", CreateDefaultConfig("elmo-xl"), true},
		{"NoModel", ServiceConfig{}, true},
		{"BlankPad", ServiceConfig{ModelName: "gpt2", Subword: ModelConfig{PadToken: "  "}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackendFor(t *testing.T) {
	if BackendFor("elmo") != RecurrentBackend {
		t.Error("elmo should select the recurrent backend")
	}
	if BackendFor("xlnet-base-cased") != SubwordBackend {
		t.Error("xlnet should select the subword backend")
	}
}
