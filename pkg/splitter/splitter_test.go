package splitter

import (
	"strings"
	"testing"

	"github.com/tripsphere/backend/pkg/token"
)

func newTestSplitter(t *testing.T, tokensPerChunk, chunkOverlap int) *Splitter {
	t.Helper()
	tok, err := token.New(token.DefaultEncoding)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}
	s, err := NewSplitter(NewSplitterParams{
		Tokenizer:      tok,
		TokensPerChunk: tokensPerChunk,
		ChunkOverlap:   chunkOverlap,
	})
	if err != nil {
		t.Fatalf("failed to create splitter: %v", err)
	}
	return s
}

func TestNewSplitter_InvalidParams(t *testing.T) {
	tok, err := token.New(token.DefaultEncoding)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}

	tests := []struct {
		name   string
		params NewSplitterParams
	}{
		{"overlap equals chunk size", NewSplitterParams{Tokenizer: tok, TokensPerChunk: 100, ChunkOverlap: 100}},
		{"negative overlap", NewSplitterParams{Tokenizer: tok, TokensPerChunk: 100, ChunkOverlap: -1}},
		{"negative chunk size", NewSplitterParams{Tokenizer: tok, TokensPerChunk: -5}},
		{"missing tokenizer", NewSplitterParams{TokensPerChunk: 100, ChunkOverlap: 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSplitter(tc.params); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s := newTestSplitter(t, 1200, 100)
	chunks := s.SplitText("The Bund at night is spectacular.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "The Bund at night is spectacular." {
		t.Fatalf("unexpected chunk text %q", chunks[0].Text)
	}
	if got := chunks[0].SourceDocIndices; len(got) != 1 || got[0] != 0 {
		t.Fatalf("unexpected source doc indices %v", got)
	}
}

func TestSplit_EmptyInputsSkipped(t *testing.T) {
	s := newTestSplitter(t, 50, 10)
	chunks := s.Split([]string{"", "some text", ""})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].SourceDocIndices[0] != 1 {
		t.Fatalf("expected chunk from doc 1, got %v", chunks[0].SourceDocIndices)
	}
}

func TestSplit_WindowInvariants(t *testing.T) {
	const (
		tokensPerChunk = 40
		chunkOverlap   = 10
	)
	s := newTestSplitter(t, tokensPerChunk, chunkOverlap)
	tok, _ := token.New(token.DefaultEncoding)

	text := strings.Repeat("Review chunking keeps windows within the token budget. ", 30)
	original := tok.Encode(text)
	chunks := s.SplitText(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// No chunk exceeds the token limit.
	for i, c := range chunks {
		if c.NumTokens > tokensPerChunk {
			t.Fatalf("chunk %d has %d tokens, limit is %d", i, c.NumTokens, tokensPerChunk)
		}
	}

	// Each chunk is the decoded window over the original token stream:
	// starts advance by step, the last window holds the tail, and the
	// windows jointly cover every original token.
	step := tokensPerChunk - chunkOverlap
	covered := 0
	for i, c := range chunks {
		start := i * step
		end := start + tokensPerChunk
		if end > len(original) {
			end = len(original)
		}
		if want := tok.Decode(original[start:end]); c.Text != want {
			t.Fatalf("chunk %d text mismatch:\n got %q\nwant %q", i, c.Text, want)
		}
		if c.NumTokens != end-start {
			t.Fatalf("chunk %d has %d tokens, want %d", i, c.NumTokens, end-start)
		}
		covered = end
	}
	if covered != len(original) {
		t.Fatalf("windows cover %d of %d original tokens", covered, len(original))
	}
}

func TestSplit_TokenSum(t *testing.T) {
	// A text of exactly 3*step+overlap tokens splits into 3 chunks whose
	// token counts sum to original + 2*overlap.
	const (
		tokensPerChunk = 40
		chunkOverlap   = 10
	)
	s := newTestSplitter(t, tokensPerChunk, chunkOverlap)
	tok, _ := token.New(token.DefaultEncoding)

	text := strings.Repeat("word ", 200)
	original := tok.Count(text)
	chunks := s.SplitText(text)

	sum := 0
	for _, c := range chunks {
		sum += c.NumTokens
	}
	want := original + (len(chunks)-1)*chunkOverlap
	if sum != want {
		t.Fatalf("token sum %d, want %d (original %d, chunks %d)", sum, want, original, len(chunks))
	}
}
