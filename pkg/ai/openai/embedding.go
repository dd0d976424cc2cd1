package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/tripsphere/backend/pkg/ai"
)

// GenerateEmbeddings creates embeddings for the inputs in a single request,
// returning one vector per input in input order. Every returned vector has
// exactly the configured dimension count.
func (c *Client) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := c.requestLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.requestLock.Release(1)

	body := openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:      openai.EmbeddingModel(c.embeddingModel),
		Dimensions: openai.Int(int64(c.dimensions)),
	}

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(inputs) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		vec := make([]float32, 0, c.dimensions)
		for _, v := range embedding.Embedding {
			vec = append(vec, float32(v))
		}
		if len(vec) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch at index %d: got %d want %d", dataIdx, len(vec), c.dimensions)
		}
		out[dataIdx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
