package pipeline

import (
	"context"
	"fmt"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/blob"
	"github.com/tripsphere/backend/pkg/embed"
	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/graphstore"
	"github.com/tripsphere/backend/pkg/vector"
	"github.com/tripsphere/backend/pkg/workflow"
)

const DefaultExtractionThreads = 4

// DefaultEmbedFields are the entity fields embedded by
// create_text_embeddings when none are configured.
var DefaultEmbedFields = []string{"description"}

// UnitStore is the slice of the vector store the pipeline depends on.
type UnitStore interface {
	FindByTarget(ctx context.Context, targetID string, targetType string, limit int) ([]vector.TextUnit, error)
	UpdateUnitLinks(ctx context.Context, unitID string, entityIDs []string, relationshipIDs []string) error
	SaveEntityEmbeddings(ctx context.Context, rows []vector.EntityEmbedding) error
}

// Pipeline builds the five-stage indexing workflow for one target: collect
// its text units, extract a knowledge graph, finalize it into Neo4j, link
// units back to graph elements, and embed entity fields.
type Pipeline struct {
	units       UnitStore
	blobs       blob.Store
	embedder    *embed.Gateway
	extractor   *graph.Extractor
	graphdb     *graphstore.Client
	policy      graph.DescriptionPolicy
	embedFields []string
	threads     int
}

type NewPipelineParams struct {
	Units     UnitStore
	Blobs     blob.Store
	Embedder  *embed.Gateway
	Extractor *graph.Extractor
	// Graph may be nil; graph persistence is then skipped and only the
	// parquet artifacts are produced.
	Graph             *graphstore.Client
	DescriptionPolicy graph.DescriptionPolicy
	EmbedFields       []string
	ExtractionThreads int
}

func New(params NewPipelineParams) (*Pipeline, error) {
	if params.Units == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if params.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedding gateway is required")
	}
	if params.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}

	policy := params.DescriptionPolicy
	if policy == "" {
		policy = graph.DescriptionLongest
	}
	embedFields := params.EmbedFields
	if len(embedFields) == 0 {
		embedFields = DefaultEmbedFields
	}
	threads := params.ExtractionThreads
	if threads <= 0 {
		threads = DefaultExtractionThreads
	}

	return &Pipeline{
		units:       params.Units,
		blobs:       params.Blobs,
		embedder:    params.Embedder,
		extractor:   params.Extractor,
		graphdb:     params.Graph,
		policy:      policy,
		embedFields: embedFields,
		threads:     threads,
	}, nil
}

// Stages returns the workflow stages in execution order.
func (p *Pipeline) Stages() []workflow.Stage {
	return []workflow.Stage{
		{Name: "collect_text_units", Outputs: []string{KeyTextUnits}, Run: p.collectTextUnits},
		{Name: "extract_graph", Outputs: []string{KeyRawEntities, KeyRawRelationships}, Run: p.extractGraph},
		{Name: "finalize_graph", Outputs: []string{KeyFinalEntities, KeyFinalRelationships}, Run: p.finalizeGraph},
		{Name: "create_final_text_units", Run: p.createFinalTextUnits},
		{Name: "create_text_embeddings", Run: p.createTextEmbeddings},
	}
}

func loadArtifact[T any](ctx context.Context, rc *workflow.RunContext, key string) ([]T, error) {
	name, ok := rc.Artifact(key)
	if !ok {
		return nil, fmt.Errorf("missing %s artifact", key)
	}
	data, err := rc.Blobs.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s artifact: %w", key, err)
	}
	return decodeRows[T](data)
}

func saveArtifact[T any](ctx context.Context, rc *workflow.RunContext, key string, kind string, rows []T) error {
	data, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("failed to encode %s artifact: %w", key, err)
	}
	name := util.BlobName(kind)
	if err := rc.Blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("failed to store %s artifact: %w", key, err)
	}
	rc.SetArtifact(key, name)
	return nil
}
