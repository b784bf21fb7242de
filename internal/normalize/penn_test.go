package normalize

import (
	"strings"
	"testing"
)

func TestPennToNormal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"brackets", "-LRB- test -RRB-", "( test )"},
		{"slash", `a \/ b`, "a / b"},
		{"star", `x \* y`, "x * y"},
		{"untouched", "This is some sentence", "This is some sentence"},
		{"embedded escape is not a word", `-LRB-x a\/b`, `-LRB-x a\/b`},
		{"single word", "-RRB-", ")"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PennToNormal(tt.in); got != tt.want {
				t.Errorf("PennToNormal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPennToNormal_PreservesWordCount(t *testing.T) {
	inputs := []string{
		"",
		"a",
		"-LRB- -RRB- \\/ \\*",
		"double  space",
		"The -LRB- quick -RRB- fox \\/ dog",
	}
	for _, in := range inputs {
		out := PennToNormal(in)
		if len(Words(out)) != len(Words(in)) {
			t.Errorf("word count changed for %q: %d -> %d", in, len(Words(in)), len(Words(out)))
		}
		if strings.Count(out, " ") != strings.Count(in, " ") {
			t.Errorf("separator count changed for %q", in)
		}
	}
}

func TestWords(t *testing.T) {
	words := Words("This is some sentence")
	if len(words) != 4 {
		t.Fatalf("expected 4 words, got %v", words)
	}
	if words[3] != "sentence" {
		t.Errorf("unexpected last word %q", words[3])
	}
}
