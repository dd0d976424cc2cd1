package token

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the encoding used by the embedding models the
// pipeline targets.
const DefaultEncoding = "cl100k_base"

// Tokenizer wraps a named tiktoken encoding. Encoding and decoding are
// deterministic for a given encoding name and Decode(Encode(s)) == s.
type Tokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// New returns a tokenizer for the named encoding. An unknown encoding name
// is a configuration error; callers are expected to treat it as fatal.
func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("unknown token encoding %q: %w", encoding, err)
	}
	return &Tokenizer{encoding: encoding, enc: enc}, nil
}

// Encoding returns the encoding name the tokenizer was created with.
func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Count returns the number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Encode returns the token IDs for s.
func (t *Tokenizer) Encode(s string) []int {
	return t.enc.Encode(s, nil, nil)
}

// Decode reconstructs the text for the given token IDs.
func (t *Tokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
