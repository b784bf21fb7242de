package embeddings

import (
	"context"
	"fmt"
	"strings"
)

// fakeTokenizer assigns ids on first sight. pieces splits a word into
// subwords; merges rewrites adjacent words only when encoded in context.
type fakeTokenizer struct {
	ids    map[string]int
	tokens map[int]string
	pieces map[string][]string
	merges map[string][]string
	cls    string
	sep    string
}

func newFakeTokenizer(specials ...string) *fakeTokenizer {
	t := &fakeTokenizer{
		ids:    make(map[string]int),
		tokens: make(map[int]string),
		pieces: make(map[string][]string),
		merges: make(map[string][]string),
	}
	for _, s := range specials {
		t.add(s)
	}
	return t
}

// newBertTokenizer frames sentences with [CLS] ... [SEP].
func newBertTokenizer() *fakeTokenizer {
	t := newFakeTokenizer("[PAD]", "[CLS]", "[SEP]")
	t.cls, t.sep = "[CLS]", "[SEP]"
	return t
}

// newGPT2Tokenizer has no pad token and adds no framing.
func newGPT2Tokenizer() *fakeTokenizer {
	return newFakeTokenizer("<|endoftext|>")
}

func (t *fakeTokenizer) add(token string) int {
	if id, ok := t.ids[token]; ok {
		return id
	}
	id := len(t.ids) + 1
	t.ids[token] = id
	t.tokens[id] = token
	return id
}

func (t *fakeTokenizer) Encode(text string, addSpecialTokens bool) ([]int, error) {
	if strings.Contains(text, "\t") {
		return nil, fmt.Errorf("tab in input")
	}
	var out []int
	if addSpecialTokens && t.cls != "" {
		out = append(out, t.add(t.cls))
	}
	words := strings.Fields(text)
	for i := 0; i < len(words); i++ {
		if i+1 < len(words) {
			if merged, ok := t.merges[words[i]+" "+words[i+1]]; ok {
				for _, p := range merged {
					out = append(out, t.add(p))
				}
				i++
				continue
			}
		}
		pieces, ok := t.pieces[words[i]]
		if !ok {
			pieces = []string{words[i]}
		}
		for _, p := range pieces {
			out = append(out, t.add(p))
		}
	}
	if addSpecialTokens && t.sep != "" {
		out = append(out, t.add(t.sep))
	}
	return out, nil
}

func (t *fakeTokenizer) IDsToTokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.tokens[id]
	}
	return out
}

func (t *fakeTokenizer) TokenToID(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}

// fakeSubwordModel returns, per layer and position, a vector of
// [token id, layer, position, 0...]. Positions never see their neighbours,
// so padding cannot leak into real positions.
type fakeSubwordModel struct {
	layers   int
	dim      int
	calls    int
	lastIDs  [][]int64
	lastMask [][]int64
	closed   bool
	err      error
}

func (m *fakeSubwordModel) Run(ctx context.Context, ids [][]int64, mask [][]int64) ([]LayerOutput, error) {
	m.calls++
	m.lastIDs = ids
	m.lastMask = mask
	if m.err != nil {
		return nil, m.err
	}
	out := make([]LayerOutput, m.layers)
	for l := range out {
		out[l] = make(LayerOutput, len(ids))
		for i, row := range ids {
			out[l][i] = make([][]float32, len(row))
			for p, id := range row {
				vec := make([]float32, m.dim)
				vec[0] = float32(id)
				vec[1] = float32(l)
				vec[2] = float32(p)
				out[l][i][p] = vec
			}
		}
	}
	return out, nil
}

func (m *fakeSubwordModel) Close() error {
	m.closed = true
	return nil
}

type loadCounter struct {
	tokenizer int
	model     int
}

func fakeSubwordProvider(tok *fakeTokenizer, model *fakeSubwordModel, loads *loadCounter) SubwordProvider {
	return SubwordProvider{
		LoadTokenizer: func(ctx context.Context, config ModelConfig) (Tokenizer, error) {
			loads.tokenizer++
			return tok, nil
		},
		LoadModel: func(ctx context.Context, config ModelConfig) (SubwordModel, error) {
			loads.model++
			return model, nil
		},
	}
}

// fakeRecurrentModel returns 3 layers of 1024 features per word, where
// feature k of word w in layer l is l*10000 + w*1000 + k.
type fakeRecurrentModel struct {
	calls     int
	lastWords [][]string
	closed    bool
}

func (m *fakeRecurrentModel) EmbedSentences(ctx context.Context, sentences [][]string) ([][][][]float32, error) {
	m.calls++
	m.lastWords = sentences
	out := make([][][][]float32, len(sentences))
	for i, words := range sentences {
		out[i] = make([][][]float32, elmoLayers)
		for l := range out[i] {
			out[i][l] = make([][]float32, len(words))
			for w := range words {
				vec := make([]float32, 2*elmoProjectionDim)
				for k := range vec {
					vec[k] = float32(l*10000 + w*1000 + k)
				}
				out[i][l][w] = vec
			}
		}
	}
	return out, nil
}

func (m *fakeRecurrentModel) Close() error {
	m.closed = true
	return nil
}

func fakeRecurrentProvider(model *fakeRecurrentModel, loads *loadCounter) RecurrentProvider {
	return RecurrentProvider{
		LoadModel: func(ctx context.Context, config RecurrentConfig) (RecurrentModel, error) {
			loads.model++
			return model, nil
		},
	}
}

// mapStore is an in-memory ResultStore.
type mapStore struct {
	data map[string][][][]float32
	err  error
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][][][]float32)}
}

func (s *mapStore) Get(ctx context.Context, key string) ([][][]float32, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapStore) Set(ctx context.Context, key string, value [][][]float32) error {
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}
