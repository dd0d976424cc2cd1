package ai

import (
	"context"
)

// ModelMetrics contains accumulated usage metrics from model operations.
type ModelMetrics struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	DurationMs   int64 `json:"duration_ms"`
}

// EmbeddingClient is the embedding surface the gateway depends on.
// A single request embeds a batch of texts and returns one vector per input,
// in input order.
type EmbeddingClient interface {
	GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// ExtractionClient runs a structured-output completion: the model response
// is constrained to the JSON schema generated from out and unmarshaled into it.
type ExtractionClient interface {
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		systemPrompt string,
		prompt string,
		out any,
	) error
}

// Client is the combined surface used by the indexing pipeline.
type Client interface {
	EmbeddingClient
	ExtractionClient
	GetMetrics() ModelMetrics
	ResetMetrics()
}
