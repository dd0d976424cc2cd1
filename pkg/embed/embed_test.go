package embed

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/tripsphere/backend/pkg/token"
)

// fakeClient returns unit vectors along a fixed axis and can be scripted to
// fail for inputs containing a marker substring.
type fakeClient struct {
	mu       sync.Mutex
	calls    [][]string
	failWith string
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inputs)
	f.mu.Unlock()

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if f.failWith != "" && strings.Contains(in, f.failWith) {
			return nil, errors.New("upstream 500")
		}
		vec := make([]float32, 4)
		vec[i%4] = 1
		out[i] = vec
	}
	return out, nil
}

func newTestGateway(t *testing.T, client *fakeClient, params NewGatewayParams) *Gateway {
	t.Helper()
	tok, err := token.New(token.DefaultEncoding)
	if err != nil {
		t.Fatalf("failed to create tokenizer: %v", err)
	}
	params.Client = client
	params.Tokenizer = tok
	g, err := NewGateway(params)
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return g
}

func TestEmbed_EmptyInput(t *testing.T) {
	g := newTestGateway(t, &fakeClient{}, NewGatewayParams{})
	out, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output, got %v", out)
	}
}

func TestEmbed_EmptyTextYieldsNil(t *testing.T) {
	g := newTestGateway(t, &fakeClient{}, NewGatewayParams{})
	out, err := g.Embed(context.Background(), []string{"", "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] != nil {
		t.Fatal("expected nil vector for empty text")
	}
	if out[1] == nil {
		t.Fatal("expected vector for non-empty text")
	}
}

func TestEmbed_BatchSizeRespected(t *testing.T) {
	client := &fakeClient{}
	g := newTestGateway(t, client, NewGatewayParams{BatchSize: 2, NumThreads: 1})

	texts := []string{"one", "two", "three", "four", "five"}
	out, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, vec := range out {
		if vec == nil {
			t.Fatalf("position %d unexpectedly nil", i)
		}
	}
	for _, call := range client.calls {
		if len(call) > 2 {
			t.Fatalf("batch of %d exceeds batch size 2", len(call))
		}
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(client.calls))
	}
}

func TestEmbed_LongInputAveragedAndNormalised(t *testing.T) {
	client := &fakeClient{}
	// Tiny token budget forces the input to split into several sub-chunks.
	g := newTestGateway(t, client, NewGatewayParams{BatchMaxTokens: 8, BatchSize: 4})

	long := strings.Repeat("travel reviews describe places vividly ", 10)
	out, err := g.Embed(context.Background(), []string{long})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] == nil {
		t.Fatal("expected a vector for the long input")
	}

	var norm float64
	for _, v := range out[0] {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
}

func TestEmbed_NormalizeFlag(t *testing.T) {
	g := newTestGateway(t, &fakeClient{}, NewGatewayParams{Normalize: true})
	out, err := g.Embed(context.Background(), []string{"short text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var norm float64
	for _, v := range out[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", math.Sqrt(norm))
	}
}

func TestEmbed_PermanentFailureYieldsNilPosition(t *testing.T) {
	client := &fakeClient{failWith: "poison"}
	g := newTestGateway(t, client, NewGatewayParams{BatchSize: 1, MaxRetries: 2, NumThreads: 1})

	out, err := g.Embed(context.Background(), []string{"fine", "poison pill", "also fine"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] == nil || out[2] == nil {
		t.Fatal("healthy positions must embed")
	}
	if out[1] != nil {
		t.Fatal("failed position must be nil")
	}
}
