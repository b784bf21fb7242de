package embeddings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// outputInfo is the part of an ONNX output declaration used to pick hidden states.
type outputInfo struct {
	Name string
	Rank int
}

// selectHiddenStates picks the outputs carrying per-layer hidden states.
// Exports name them hidden_states.0 .. hidden_states.N, or stack them in a
// single rank-4 [layers, batch, seq, dim] output.
func selectHiddenStates(outputs []outputInfo) ([]string, bool, error) {
	type indexed struct {
		name  string
		index int
	}
	var layers []indexed
	for _, out := range outputs {
		lower := strings.ToLower(out.Name)
		if !strings.HasPrefix(lower, "hidden_states") {
			continue
		}
		if out.Rank == 4 {
			return []string{out.Name}, true, nil
		}
		layers = append(layers, indexed{name: out.Name, index: trailingIndex(out.Name)})
	}
	if len(layers) > 0 {
		sort.SliceStable(layers, func(i, j int) bool { return layers[i].index < layers[j].index })
		names := make([]string, len(layers))
		for i, l := range layers {
			names[i] = l.name
		}
		return names, false, nil
	}

	for _, out := range outputs {
		if out.Rank == 4 {
			return []string{out.Name}, true, nil
		}
	}

	return nil, false, fmt.Errorf("%w: model exposes no hidden states, export it with output_hidden_states", ErrConfigError)
}

// trailingIndex parses the number after the last '.' or '_' of a name.
func trailingIndex(name string) int {
	i := strings.LastIndexAny(name, "._")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// reshapeLayer copies a flat [batch, seq, dim] tensor into a LayerOutput.
func reshapeLayer(data []float32, shape []int64) (LayerOutput, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("unsupported hidden state shape %v", shape)
	}
	batch, seq, dim := int(shape[0]), int(shape[1]), int(shape[2])
	if len(data) != batch*seq*dim {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), shape)
	}

	buf := make([]float32, len(data))
	copy(buf, data)

	layer := make(LayerOutput, batch)
	for b := 0; b < batch; b++ {
		layer[b] = make([][]float32, seq)
		for s := 0; s < seq; s++ {
			offset := (b*seq + s) * dim
			layer[b][s] = buf[offset : offset+dim : offset+dim]
		}
	}
	return layer, nil
}

// splitStacked copies a flat [layers, batch, seq, dim] tensor into one
// LayerOutput per layer.
func splitStacked(data []float32, shape []int64) ([]LayerOutput, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("unsupported stacked hidden state shape %v", shape)
	}
	count := int(shape[0])
	per := len(data) / max(count, 1)
	if count == 0 || per*count != len(data) {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), shape)
	}

	layers := make([]LayerOutput, count)
	for l := 0; l < count; l++ {
		layer, err := reshapeLayer(data[l*per:(l+1)*per], shape[1:])
		if err != nil {
			return nil, err
		}
		layers[l] = layer
	}
	return layers, nil
}

// reshapeRecurrent copies a flat [batch, layers, words, dim] tensor into one
// [layer][word][feature] array per sentence, dropping padded word positions.
func reshapeRecurrent(data []float32, shape []int64, wordCounts []int) ([][][][]float32, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("unsupported recurrent output shape %v", shape)
	}
	batch, layers, words, dim := int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])
	if batch != len(wordCounts) {
		return nil, fmt.Errorf("recurrent output batch %d, want %d", batch, len(wordCounts))
	}
	if len(data) != batch*layers*words*dim {
		return nil, fmt.Errorf("unexpected flat data length %d for shape %v", len(data), shape)
	}

	out := make([][][][]float32, batch)
	for b := 0; b < batch; b++ {
		if wordCounts[b] > words {
			return nil, fmt.Errorf("sentence %d has %d words but output covers %d", b, wordCounts[b], words)
		}
		out[b] = make([][][]float32, layers)
		for l := 0; l < layers; l++ {
			out[b][l] = make([][]float32, wordCounts[b])
			for w := 0; w < wordCounts[b]; w++ {
				offset := ((b*layers+l)*words + w) * dim
				vec := make([]float32, dim)
				copy(vec, data[offset:offset+dim])
				out[b][l][w] = vec
			}
		}
	}
	return out, nil
}
