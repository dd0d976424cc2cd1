package embed

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/ai"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/splitter"
	"github.com/tripsphere/backend/pkg/token"
)

const (
	DefaultBatchSize      = 16
	DefaultBatchMaxTokens = 8191
	DefaultNumThreads     = 4
	DefaultMaxRetries     = 3
)

// Gateway batches texts into embedding requests. Inputs longer than the
// token budget are pre-split; the vector returned for a split input is the
// L2-normalised average of its sub-embeddings. A permanently failed batch
// yields nil vectors for the affected positions instead of failing the call.
type Gateway struct {
	client         ai.EmbeddingClient
	split          *splitter.Splitter
	batchSize      int
	batchMaxTokens int
	numThreads     int
	maxRetries     int
	normalize      bool
}

// NewGatewayParams configures a Gateway. Zero values pick the defaults.
type NewGatewayParams struct {
	Client         ai.EmbeddingClient
	Tokenizer      *token.Tokenizer
	BatchSize      int
	BatchMaxTokens int
	NumThreads     int
	MaxRetries     int
	Normalize      bool
}

func NewGateway(params NewGatewayParams) (*Gateway, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if params.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchMaxTokens := params.BatchMaxTokens
	if batchMaxTokens <= 0 {
		batchMaxTokens = DefaultBatchMaxTokens
	}
	numThreads := params.NumThreads
	if numThreads <= 0 {
		numThreads = DefaultNumThreads
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	split, err := splitter.NewSplitter(splitter.NewSplitterParams{
		Tokenizer:      params.Tokenizer,
		TokensPerChunk: batchMaxTokens,
		ChunkOverlap:   0,
	})
	if err != nil {
		return nil, err
	}

	return &Gateway{
		client:         params.Client,
		split:          split,
		batchSize:      batchSize,
		batchMaxTokens: batchMaxTokens,
		numThreads:     numThreads,
		maxRetries:     maxRetries,
		normalize:      params.Normalize,
	}, nil
}

type piece struct {
	owner     int
	text      string
	numTokens int

	vec    []float32
	failed bool
}

// Embed returns one vector per input text, in input order. Positions whose
// embedding permanently failed, or whose input produced no tokens, are nil.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	pieces := make([]*piece, 0, len(texts))
	for i, text := range texts {
		for _, chunk := range g.split.SplitText(text) {
			pieces = append(pieces, &piece{
				owner:     i,
				text:      chunk.Text,
				numTokens: chunk.NumTokens,
			})
		}
	}

	batches := g.assembleBatches(pieces)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.numThreads)
	for _, batch := range batches {
		b := batch
		eg.Go(func() error {
			return g.embedBatch(gCtx, b)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return g.combine(texts, pieces), nil
}

// assembleBatches packs pieces in order, respecting both the batch size and
// the cumulative token budget. A batch always takes at least one piece.
func (g *Gateway) assembleBatches(pieces []*piece) [][]*piece {
	var batches [][]*piece
	var current []*piece
	currentTokens := 0

	for _, p := range pieces {
		if len(current) > 0 &&
			(len(current) >= g.batchSize || currentTokens+p.numTokens > g.batchMaxTokens) {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, p)
		currentTokens += p.numTokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (g *Gateway) embedBatch(ctx context.Context, batch []*piece) error {
	inputs := make([]string, len(batch))
	for i, p := range batch {
		inputs[i] = p.text
	}

	vecs, err := util.RetryWithBackoff(ctx, g.maxRetries, util.BackoffOptions{}, func(ctx context.Context) ([][]float32, error) {
		return g.client.GenerateEmbeddings(ctx, inputs)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("[Embed] Batch permanently failed", "size", len(batch), "err", err)
		for _, p := range batch {
			p.failed = true
		}
		return nil
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(vecs), len(batch))
	}

	for i, p := range batch {
		p.vec = vecs[i]
	}
	return nil
}

func (g *Gateway) combine(texts []string, pieces []*piece) [][]float32 {
	out := make([][]float32, len(texts))
	byOwner := make([][]*piece, len(texts))
	for _, p := range pieces {
		byOwner[p.owner] = append(byOwner[p.owner], p)
	}

	for i, owned := range byOwner {
		if len(owned) == 0 {
			continue
		}

		var sum []float32
		failed := false
		for _, p := range owned {
			if p.failed || p.vec == nil {
				failed = true
				break
			}
			if sum == nil {
				sum = make([]float32, len(p.vec))
			}
			for j, v := range p.vec {
				sum[j] += v
			}
		}
		if failed || sum == nil {
			continue
		}

		if len(owned) > 1 {
			inv := float32(1) / float32(len(owned))
			for j := range sum {
				sum[j] *= inv
			}
		}
		if g.normalize || len(owned) > 1 {
			normalizeL2(sum)
		}
		out[i] = sum
	}
	return out
}

func normalizeL2(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sq))
	for i := range vec {
		vec[i] *= inv
	}
}
