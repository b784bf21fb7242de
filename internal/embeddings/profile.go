package embeddings

import (
	"fmt"
	"strings"
)

// Profile describes how a subword model frames and masks its input. It is
// decided once at construction.
type Profile struct {
	// UsesSegmentMarkers encodes whole sentences with CLS/SEP style markers.
	// Otherwise every word is encoded on its own without special tokens.
	UsesSegmentMarkers bool
	// RequiresAttentionMask passes a 1/0 mask alongside the padded ids.
	RequiresAttentionMask bool
}

// InferProfile derives a profile from a pretrained model identifier. The BERT
// family (bert, roberta, distilbert, ...) uses segment markers and masking.
func InferProfile(modelName string) Profile {
	bert := strings.Contains(modelName, "bert")
	return Profile{
		UsesSegmentMarkers:    bert,
		RequiresAttentionMask: bert,
	}
}

// ProfileFor applies explicit overrides in config on top of the inferred profile.
func ProfileFor(config ModelConfig) Profile {
	profile := InferProfile(config.ModelName)
	if config.SegmentMarkers != nil {
		profile.UsesSegmentMarkers = *config.SegmentMarkers
	}
	if config.AttentionMask != nil {
		profile.RequiresAttentionMask = *config.AttentionMask
	}
	return profile
}

// Candidate spellings per role, first match in the vocabulary wins.
var (
	clsCandidates = []string{"[CLS]", "<s>"}
	sepCandidates = []string{"[SEP]", "</s>"}
	bosCandidates = []string{"<s>", "<|endoftext|>"}
	eosCandidates = []string{"</s>", "<|endoftext|>"}
	padCandidates = []string{"[PAD]", "<pad>"}
)

// tokenSet holds the special tokens skipped during alignment and the pad id.
type tokenSet struct {
	special  map[string]bool
	padToken string
	padID    int
}

func (s tokenSet) isSpecial(token string) bool {
	return s.special[token]
}

// resolveTokens picks the special and pad tokens for a profile from the
// tokenizer's vocabulary. Explicit config values take precedence.
func resolveTokens(tok Tokenizer, profile Profile, config ModelConfig) (tokenSet, error) {
	set := tokenSet{special: make(map[string]bool)}

	if len(config.SpecialTokens) > 0 {
		for _, token := range config.SpecialTokens {
			set.special[token] = true
		}
	} else {
		roles := [][]string{bosCandidates, eosCandidates}
		if profile.UsesSegmentMarkers {
			roles = [][]string{clsCandidates, sepCandidates}
		}
		for _, candidates := range roles {
			if token, ok := firstKnown(tok, candidates); ok {
				set.special[token] = true
			}
		}
	}

	if config.PadToken != "" {
		id, ok := tok.TokenToID(config.PadToken)
		if !ok {
			return set, fmt.Errorf("%w: pad token %q not in vocabulary", ErrConfigError, config.PadToken)
		}
		set.padToken, set.padID = config.PadToken, id
		return set, nil
	}

	if token, ok := firstKnown(tok, padCandidates); ok {
		set.padToken = token
		set.padID, _ = tok.TokenToID(token)
		return set, nil
	}

	// Models without a pad token (gpt2) pad with EOS. Without a mask the
	// padded positions are never read back.
	if !profile.RequiresAttentionMask {
		if token, ok := firstKnown(tok, eosCandidates); ok {
			set.padToken = token
			set.padID, _ = tok.TokenToID(token)
			return set, nil
		}
	}

	return set, fmt.Errorf("%w: no pad token found for %q, set pad_token", ErrConfigError, config.ModelName)
}

func firstKnown(tok Tokenizer, candidates []string) (string, bool) {
	for _, token := range candidates {
		if _, ok := tok.TokenToID(token); ok {
			return token, true
		}
	}
	return "", false
}
