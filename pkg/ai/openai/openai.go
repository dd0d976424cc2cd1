package openai

import (
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"

	"github.com/tripsphere/backend/pkg/ai"
)

// Client talks to OpenAI-compatible endpoints for the two model operations
// the pipeline needs: embeddings and structured entity extraction. Separate
// endpoints may be configured for each.
//
// A Client should be created using NewClient.
type Client struct {
	embeddingModel  string
	extractionModel string
	dimensions      int

	// Process-wide cap on in-flight model requests.
	requestLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	EmbeddingClient *openai.Client
	ChatClient      *openai.Client
}

// NewClientParams defines the configuration for creating a Client.
//
// Dimensions is the embedding vector size; the embedding endpoint must
// produce vectors of exactly this size. MaxConcurrentRequests bounds
// in-flight requests across all callers sharing this client.
type NewClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	Dimensions      int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
}

// NewClient creates a Client configured with the provided parameters.
//
// Example:
//
//	client := openai.NewClient(openai.NewClientParams{
//		EmbeddingModel:  "text-embedding-3-large",
//		ExtractionModel: "gpt-4o-mini",
//		Dimensions:      3072,
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//	})
func NewClient(params NewClientParams) *Client {
	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	dimensions := params.Dimensions
	if dimensions <= 0 {
		dimensions = 3072
	}

	embedClient := newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey)
	chatClient := newOpenaiClient(params.ChatURL, params.ChatKey)

	return &Client{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		dimensions:      dimensions,

		requestLock: semaphore.NewWeighted(maxConcurrent),

		EmbeddingClient: embedClient,
		ChatClient:      chatClient,
	}
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	opts := []option.RequestOption{}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &client
}

func (c *Client) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
}

// GetMetrics returns the accumulated usage metrics.
func (c *Client) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// ResetMetrics clears the accumulated usage metrics.
func (c *Client) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}
