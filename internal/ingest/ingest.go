package ingest

import (
	"context"
	"fmt"

	"github.com/tripsphere/backend/internal/queue"
	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/embed"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/splitter"
	"github.com/tripsphere/backend/pkg/vector"
)

const DefaultTargetType = "attraction"

// Service turns review events into stored text units: split the text into
// token windows, embed them, and upsert the batch. Unit IDs derive from the
// readable ID, so redelivered events converge instead of duplicating.
type Service struct {
	split      *splitter.Splitter
	embedder   *embed.Gateway
	units      *vector.Store
	targetType string
}

type NewServiceParams struct {
	Splitter   *splitter.Splitter
	Embedder   *embed.Gateway
	Units      *vector.Store
	TargetType string
}

func NewService(params NewServiceParams) (*Service, error) {
	if params.Splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedding gateway is required")
	}
	if params.Units == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	targetType := params.TargetType
	if targetType == "" {
		targetType = DefaultTargetType
	}
	return &Service{
		split:      params.Splitter,
		embedder:   params.Embedder,
		units:      params.Units,
		targetType: targetType,
	}, nil
}

// ReadableUnitID builds the canonical readable ID of a review's n-th unit.
func ReadableUnitID(documentID string, ordinal int) string {
	return fmt.Sprintf("/reviews/%s/text-units/%d", documentID, ordinal)
}

// buildUnits splits the review text into text units with deterministic IDs.
func (s *Service) buildUnits(event queue.ReviewEvent) []vector.TextUnit {
	chunks := s.split.SplitText(event.Text)
	units := make([]vector.TextUnit, 0, len(chunks))
	for i, chunk := range chunks {
		readableID := ReadableUnitID(event.ID, i)
		units = append(units, vector.TextUnit{
			ID:         util.DeterministicUnitID(readableID),
			ReadableID: readableID,
			Text:       chunk.Text,
			NumTokens:  chunk.NumTokens,
			DocumentID: event.ID,
			TargetID:   event.TargetID,
			TargetType: s.targetType,
		})
	}
	return units
}

// CreateReview splits, embeds, and stores a new review. Units whose
// embedding permanently failed are dropped with a warning.
func (s *Service) CreateReview(ctx context.Context, event queue.ReviewEvent) error {
	if event.ID == "" || event.TargetID == "" {
		return fmt.Errorf("review event missing ID or TargetID")
	}

	units := s.buildUnits(event)
	if len(units) == 0 {
		logger.Warn("[Ingest] Review has no content, skipping", "document", event.ID)
		return nil
	}

	texts := make([]string, len(units))
	for i, unit := range units {
		texts[i] = unit.Text
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed review %s: %w", event.ID, err)
	}

	stored := make([]vector.TextUnit, 0, len(units))
	for i := range units {
		if vecs[i] == nil {
			logger.Warn("[Ingest] Dropping unit with failed embedding",
				"document", event.ID, "readable_id", units[i].ReadableID)
			continue
		}
		units[i].Embedding = vecs[i]
		stored = append(stored, units[i])
	}
	if len(stored) == 0 {
		logger.Warn("[Ingest] All units failed to embed", "document", event.ID)
		return nil
	}

	if err := s.units.SaveUnits(ctx, stored); err != nil {
		return fmt.Errorf("failed to store units for review %s: %w", event.ID, err)
	}

	logger.Info("[Ingest] Stored review", "document", event.ID, "target", event.TargetID, "units", len(stored))
	return nil
}

// UpdateReview replaces a review's units: delete by document, then the
// create path.
func (s *Service) UpdateReview(ctx context.Context, event queue.ReviewEvent) error {
	removed, err := s.units.DeleteByDocument(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to delete stale units for review %s: %w", event.ID, err)
	}
	logger.Debug("[Ingest] Removed stale units", "document", event.ID, "removed", removed)
	return s.CreateReview(ctx, event)
}

// DeleteReview removes all units of a review.
func (s *Service) DeleteReview(ctx context.Context, event queue.ReviewEvent) error {
	removed, err := s.units.DeleteByDocument(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to delete units for review %s: %w", event.ID, err)
	}
	logger.Info("[Ingest] Deleted review", "document", event.ID, "removed", removed)
	return nil
}
