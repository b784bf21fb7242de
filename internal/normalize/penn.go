// Package normalize rewrites treebank-escaped punctuation before tokenization.
package normalize

import "strings"

// pennEscapes maps escaped treebank tokens to their literal punctuation.
var pennEscapes = map[string]string{
	"-LRB-": "(",
	"-RRB-": ")",
	`\/`:    "/",
	`\*`:    "*",
}

// PennToNormal replaces escaped punctuation words in a space-delimited sentence.
// Word count and order are preserved.
func PennToNormal(sentence string) string {
	words := Words(sentence)
	for i, word := range words {
		if literal, ok := pennEscapes[word]; ok {
			words[i] = literal
		}
	}
	return strings.Join(words, " ")
}

// Words splits a sentence on single spaces. Consecutive spaces yield empty words,
// matching the caller's segmentation exactly.
func Words(sentence string) []string {
	return strings.Split(sentence, " ")
}
