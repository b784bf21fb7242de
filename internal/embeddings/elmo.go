package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Default artifact locations of the original 2x4096_512_2048cnn_2xhighway model.
const (
	DefaultElmoOptionsURL = "https://s3-us-west-2.amazonaws.com/allennlp/models/elmo/2x4096_512_2048cnn_2xhighway/elmo_2x4096_512_2048cnn_2xhighway_options.json"
)

// ELMo character vocabulary. Byte values occupy 0..255.
const (
	elmoMaxWordLength     = 50
	elmoBeginOfWord       = 258
	elmoEndOfWord         = 259
	elmoPaddingCharacter  = 260
	elmoMaxBytesPerToken  = elmoMaxWordLength - 2
	elmoCharacterIDOffset = 1 // 0 is reserved for masked word positions
)

// ElmoOptions is the subset of the bilm options file the backend depends on.
type ElmoOptions struct {
	CharCNN struct {
		MaxCharactersPerToken int `json:"max_characters_per_token"`
	} `json:"char_cnn"`
	LSTM struct {
		ProjectionDim int `json:"projection_dim"`
		NLayers       int `json:"n_layers"`
	} `json:"lstm"`
}

// LoadElmoOptions parses and validates an options file against the geometry
// the recurrent backend reports.
func LoadElmoOptions(path string) (*ElmoOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ELMo options: %w", err)
	}

	var options ElmoOptions
	if err := json.Unmarshal(data, &options); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ELMo options: %w", ErrConfigError, err)
	}

	if options.LSTM.ProjectionDim != elmoProjectionDim {
		return nil, fmt.Errorf("%w: projection_dim %d, want %d", ErrUnsupportedModel, options.LSTM.ProjectionDim, elmoProjectionDim)
	}
	if options.LSTM.NLayers+1 != elmoLayers {
		return nil, fmt.Errorf("%w: %d lstm layers, want %d", ErrUnsupportedModel, options.LSTM.NLayers, elmoLayers-1)
	}
	if options.CharCNN.MaxCharactersPerToken != elmoMaxWordLength {
		return nil, fmt.Errorf("%w: max_characters_per_token %d, want %d",
			ErrUnsupportedModel, options.CharCNN.MaxCharactersPerToken, elmoMaxWordLength)
	}

	return &options, nil
}

// prepareElmoArtifacts fetches and validates the options file and fetches the
// weights, returning the local weights path.
func prepareElmoArtifacts(ctx context.Context, config RecurrentConfig, logger *zap.Logger) (string, *ElmoOptions, error) {
	optionsLocation := config.OptionsFile
	if optionsLocation == "" {
		optionsLocation = DefaultElmoOptionsURL
	}
	optionsPath, err := fetchArtifact(ctx, optionsLocation, config.CacheDir, logger)
	if err != nil {
		return "", nil, err
	}
	options, err := LoadElmoOptions(optionsPath)
	if err != nil {
		return "", nil, err
	}

	if config.WeightsFile == "" {
		return "", nil, fmt.Errorf("%w: recurrent weights_file is required", ErrConfigError)
	}
	weightsPath, err := fetchArtifact(ctx, config.WeightsFile, config.CacheDir, logger)
	if err != nil {
		return "", nil, err
	}

	return weightsPath, options, nil
}

// elmoWordCharIDs maps a word to its fixed-width character ids.
func elmoWordCharIDs(word string) [elmoMaxWordLength]int64 {
	var ids [elmoMaxWordLength]int64
	for i := range ids {
		ids[i] = elmoPaddingCharacter
	}

	encoded := []byte(word)
	if len(encoded) > elmoMaxBytesPerToken {
		encoded = encoded[:elmoMaxBytesPerToken]
	}

	ids[0] = elmoBeginOfWord
	for k, b := range encoded {
		ids[k+1] = int64(b)
	}
	ids[len(encoded)+1] = elmoEndOfWord

	for i := range ids {
		ids[i] += elmoCharacterIDOffset
	}
	return ids
}

// elmoBatchCharIDs returns a flat [batch, maxWords, 50] tensor body. Positions
// past a sentence's last word stay zero.
func elmoBatchCharIDs(sentences [][]string) ([]int64, int) {
	maxWords := 0
	for _, words := range sentences {
		if len(words) > maxWords {
			maxWords = len(words)
		}
	}

	flat := make([]int64, len(sentences)*maxWords*elmoMaxWordLength)
	for i, words := range sentences {
		for w, word := range words {
			ids := elmoWordCharIDs(word)
			offset := (i*maxWords + w) * elmoMaxWordLength
			copy(flat[offset:offset+elmoMaxWordLength], ids[:])
		}
	}
	return flat, maxWords
}
