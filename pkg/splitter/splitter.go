package splitter

import (
	"fmt"

	"github.com/tripsphere/backend/pkg/token"
)

const (
	DefaultTokensPerChunk = 1200
	DefaultChunkOverlap   = 100
)

// Chunk is one token-bounded window of input text.
type Chunk struct {
	Text             string
	SourceDocIndices []int
	NumTokens        int
}

// Splitter splits texts into overlapping token windows. Each input text is
// tokenized and a window of TokensPerChunk advances by
// TokensPerChunk-ChunkOverlap; the final window keeps the tail even when
// short. Chunks preserve input order and never exceed the token limit.
type Splitter struct {
	tok            *token.Tokenizer
	tokensPerChunk int
	chunkOverlap   int
}

// NewSplitterParams configures a Splitter. Zero values pick the defaults.
type NewSplitterParams struct {
	Tokenizer      *token.Tokenizer
	TokensPerChunk int
	ChunkOverlap   int
}

func NewSplitter(params NewSplitterParams) (*Splitter, error) {
	tokensPerChunk := params.TokensPerChunk
	if tokensPerChunk == 0 {
		tokensPerChunk = DefaultTokensPerChunk
	}
	chunkOverlap := params.ChunkOverlap
	if chunkOverlap == 0 && params.TokensPerChunk == 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if tokensPerChunk <= 0 {
		return nil, fmt.Errorf("tokens per chunk must be positive, got %d", tokensPerChunk)
	}
	if chunkOverlap < 0 || chunkOverlap >= tokensPerChunk {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, tokensPerChunk)
	}
	if params.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}

	return &Splitter{
		tok:            params.Tokenizer,
		tokensPerChunk: tokensPerChunk,
		chunkOverlap:   chunkOverlap,
	}, nil
}

// Split produces chunks for each input text in order. SourceDocIndices
// records which input contributed to each chunk.
func (s *Splitter) Split(texts []string) []Chunk {
	chunks := make([]Chunk, 0, len(texts))
	step := s.tokensPerChunk - s.chunkOverlap

	for docIdx, text := range texts {
		tokens := s.tok.Encode(text)
		if len(tokens) == 0 {
			continue
		}

		for start := 0; ; start += step {
			end := start + s.tokensPerChunk
			if end > len(tokens) {
				end = len(tokens)
			}

			window := tokens[start:end]
			chunks = append(chunks, Chunk{
				Text:             s.tok.Decode(window),
				SourceDocIndices: []int{docIdx},
				NumTokens:        len(window),
			})

			if end == len(tokens) {
				break
			}
		}
	}

	return chunks
}

// SplitText is a convenience wrapper over Split for a single input.
func (s *Splitter) SplitText(text string) []Chunk {
	return s.Split([]string{text})
}
