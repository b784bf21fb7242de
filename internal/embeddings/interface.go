package embeddings

import (
	"context"
)

// Result is indexed [sentence][layer][word] and holds one feature vector per word.
type Result [][][][]float32

// LayerOutput is one hidden layer indexed [sentence][position][feature].
type LayerOutput [][][]float32

// Embedder produces per-word contextual vectors for space-tokenized sentences.
type Embedder interface {
	// EmbedBatch returns one entry per sentence, Layers() entries per sentence
	// and one vector of length Dim() per space-delimited word.
	EmbedBatch(ctx context.Context, sentences []string) (Result, error)
	// Open loads the tokenizer and model. It is idempotent.
	Open(ctx context.Context) error
	Dim() int
	Layers() int
	Close() error
}

var (
	_ Embedder = (*SubwordEmbedder)(nil)
	_ Embedder = (*RecurrentEmbedder)(nil)
	_ Embedder = (*CachedEmbedder)(nil)
)
