// Package tokenizer wraps a BPE tokenizer used to measure and bound chunk
// sizes in token units rather than bytes or runes.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the cl100k_base BPE encoding, matching the tokenizer used by
// GPT-3.5/GPT-4-family embedding and chat models.
const Encoding = "cl100k_base"

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
	initErr error
)

func get() (*tiktoken.Tiktoken, error) {
	once.Do(func() {
		enc, initErr = tiktoken.GetEncoding(Encoding)
	})
	return enc, initErr
}

// Tokenizer counts and encodes/decodes text in BPE tokens.
type Tokenizer struct{}

// New returns a Tokenizer. Construction never fails; encoding errors
// surface from individual calls so chunking can degrade per-chunk instead
// of aborting ingestion outright.
func New() *Tokenizer {
	return &Tokenizer{}
}

// CountTokens returns the number of BPE tokens in text.
func (t *Tokenizer) CountTokens(text string) (int, error) {
	e, err := get()
	if err != nil {
		return 0, err
	}
	return len(e.Encode(text, nil, nil)), nil
}

// Encode returns the BPE token IDs for text.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	e, err := get()
	if err != nil {
		return nil, err
	}
	return e.Encode(text, nil, nil), nil
}

// Decode reassembles text from BPE token IDs.
func (t *Tokenizer) Decode(tokens []int) (string, error) {
	e, err := get()
	if err != nil {
		return "", err
	}
	return e.Decode(tokens), nil
}
