// Package tokenizer provides the pluggable per-model-family tokenizer
// seam. Real tokenizer services are external collaborators; the
// byte-level tokenizer here is the deterministic reference
// implementation used for prompt rendering and usage accounting.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotSupported is returned for models with no registered family.
var ErrNotSupported = errors.New("no tokenizer family for model")

// Tokenizer encodes and decodes token sequences for one model family.
type Tokenizer interface {
	// Encode tokenizes text, optionally wrapping it with the family's
	// begin/end-of-sequence tokens.
	Encode(text string, bos, eos bool) []int

	// Decode renders tokens back to text, skipping structural tokens.
	Decode(tokens []int) string

	// EOSToken is the end-of-sequence token id; a worker emitting it
	// for a choice index marks that index fulfilled.
	EOSToken() int
}

// Delims are the fixed prompt delimiters of a model family.
type Delims struct {
	BInst string
	EInst string
	BSys  string
	ESys  string
}

// Family binds a model family's tokenizer to its prompt conventions.
type Family struct {
	Name    string
	Delims  Delims
	// ReservedMarkers are control markers that must never appear in
	// free dialog text.
	ReservedMarkers []string
	// StructuralEventDiscount is the number of structural events
	// (role announcement, finish) subtracted per choice when counting
	// completion tokens. The convention is per-family because token
	// accounting is not uniform across tokenizers; see the composer
	// tests for the documented discrepancy.
	StructuralEventDiscount int
	Tokenizer               Tokenizer
}

var families = map[string]Family{
	"llama": {
		Name: "llama",
		Delims: Delims{
			BInst: "[INST]",
			EInst: "[/INST]",
			BSys:  "<<SYS>>\n",
			ESys:  "\n<</SYS>>\n\n",
		},
		ReservedMarkers:         []string{"[INST]", "[/INST]", "<<SYS>>", "<</SYS>>"},
		StructuralEventDiscount: 2,
		Tokenizer:               ByteTokenizer{},
	},
}

// ForModel resolves the tokenizer family of a model identifier.
func ForModel(model string) (Family, error) {
	if strings.HasPrefix(model, "llama-2-") {
		return families["llama"], nil
	}
	return Family{}, fmt.Errorf("model %q: %w", model, ErrNotSupported)
}

// Byte-level token ids: 0..255 are raw bytes, then the structural ids.
const (
	byteTokenBOS = 256
	byteTokenEOS = 257
)

// ByteTokenizer is the deterministic reference tokenizer: one token
// per byte plus BOS/EOS.
type ByteTokenizer struct{}

var _ Tokenizer = ByteTokenizer{}

func (ByteTokenizer) Encode(text string, bos, eos bool) []int {
	tokens := make([]int, 0, len(text)+2)
	if bos {
		tokens = append(tokens, byteTokenBOS)
	}
	for _, b := range []byte(text) {
		tokens = append(tokens, int(b))
	}
	if eos {
		tokens = append(tokens, byteTokenEOS)
	}
	return tokens
}

func (ByteTokenizer) Decode(tokens []int) string {
	var sb strings.Builder
	for _, t := range tokens {
		if t >= 0 && t < 256 {
			sb.WriteByte(byte(t))
		}
	}
	return sb.String()
}

func (ByteTokenizer) EOSToken() int { return byteTokenEOS }
