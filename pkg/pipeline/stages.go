package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/logger"
	"github.com/tripsphere/backend/pkg/vector"
	"github.com/tripsphere/backend/pkg/workflow"
)

// collectTextUnits dumps the target's stored text units into a columnar
// checkpoint so later stages work from a stable snapshot.
func (p *Pipeline) collectTextUnits(ctx context.Context, rc *workflow.RunContext) error {
	units, err := p.units.FindByTarget(ctx, rc.TargetID, rc.TargetType, 0)
	if err != nil {
		return workflow.Retryable(err)
	}
	logger.Info("[Pipeline] Collected text units", "target", rc.TargetID, "units", len(units))
	return saveArtifact(ctx, rc, KeyTextUnits, "text_units", toUnitRows(units))
}

// extractGraph runs the extractor over every text unit and merges the raw
// mentions into one entity and relationship set per target.
func (p *Pipeline) extractGraph(ctx context.Context, rc *workflow.RunContext) error {
	units, err := loadArtifact[TextUnitRow](ctx, rc, KeyTextUnits)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	var entityMentions []graph.Entity
	var relationshipMentions []graph.Relationship

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.threads)
	for _, unit := range units {
		u := unit
		eg.Go(func() error {
			entities, relationships, err := p.extractor.ExtractFromUnit(gCtx, rc.TargetID, u.ID, u.Text)
			if err != nil {
				return fmt.Errorf("extraction failed for unit %s: %w", u.ID, err)
			}
			mu.Lock()
			entityMentions = append(entityMentions, entities...)
			relationshipMentions = append(relationshipMentions, relationships...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return workflow.Retryable(err)
	}

	entities := graph.MergeEntities(rc.TargetID, entityMentions, p.policy)
	relationships := graph.MergeRelationships(rc.TargetID, relationshipMentions, entities, p.policy)
	logger.Info("[Pipeline] Extracted graph", "target", rc.TargetID,
		"units", len(units), "entities", len(entities), "relationships", len(relationships))

	if err := saveArtifact(ctx, rc, KeyRawEntities, "raw_entities", toEntityRows(entities)); err != nil {
		return err
	}
	return saveArtifact(ctx, rc, KeyRawRelationships, "raw_relationships", toRelationshipRows(relationships))
}

// assignIdentity gives every merged element its final UUIDv7 and readable
// ID. Input order is the merge's deterministic order, so ordinals are
// stable for identical input.
func assignIdentity(targetID string, entities []graph.Entity, relationships []graph.Relationship) {
	for i := range entities {
		entities[i].ID = util.NewV7()
		entities[i].ReadableID = fmt.Sprintf("/targets/%s/entities/%d", targetID, i)
	}
	for i := range relationships {
		relationships[i].ID = util.NewV7()
		relationships[i].ReadableID = fmt.Sprintf("/targets/%s/relationships/%d", targetID, i)
	}
}

// finalizeGraph assigns final identities and replaces the target's subgraph
// in the graph database.
func (p *Pipeline) finalizeGraph(ctx context.Context, rc *workflow.RunContext) error {
	rawEntities, err := loadArtifact[EntityRow](ctx, rc, KeyRawEntities)
	if err != nil {
		return err
	}
	rawRelationships, err := loadArtifact[RelationshipRow](ctx, rc, KeyRawRelationships)
	if err != nil {
		return err
	}

	entities := fromEntityRows(rawEntities)
	relationships := fromRelationshipRows(rawRelationships)
	assignIdentity(rc.TargetID, entities, relationships)

	if p.graphdb != nil {
		if err := p.graphdb.EnsureSchema(ctx); err != nil {
			return workflow.Retryable(err)
		}
		// Replace, not accumulate: IDs are fresh per run.
		if err := p.graphdb.DeleteTarget(ctx, rc.TargetID); err != nil {
			return workflow.Retryable(err)
		}
		if err := p.graphdb.UpsertGraph(ctx, rc.TargetID, rc.TargetType, entities, relationships); err != nil {
			return workflow.Retryable(err)
		}
	}

	if err := saveArtifact(ctx, rc, KeyFinalEntities, "entities", toEntityRows(entities)); err != nil {
		return err
	}
	return saveArtifact(ctx, rc, KeyFinalRelationships, "relationships", toRelationshipRows(relationships))
}

// linkUnits inverts the graph's text unit references: for every unit, the
// IDs of entities and relationships that cite it.
func linkUnits(units []TextUnitRow, entities []EntityRow, relationships []RelationshipRow) map[string]*vector.TextUnit {
	links := make(map[string]*vector.TextUnit, len(units))
	for _, u := range units {
		links[u.ID] = &vector.TextUnit{ID: u.ID}
	}
	for _, e := range entities {
		for _, unitID := range e.TextUnitIDs {
			if link, ok := links[unitID]; ok {
				link.EntityIDs = append(link.EntityIDs, e.ID)
			}
		}
	}
	for _, r := range relationships {
		for _, unitID := range r.TextUnitIDs {
			if link, ok := links[unitID]; ok {
				link.RelationshipIDs = append(link.RelationshipIDs, r.ID)
			}
		}
	}
	return links
}

// createFinalTextUnits writes entity and relationship references back onto
// the stored text units.
func (p *Pipeline) createFinalTextUnits(ctx context.Context, rc *workflow.RunContext) error {
	units, err := loadArtifact[TextUnitRow](ctx, rc, KeyTextUnits)
	if err != nil {
		return err
	}
	entities, err := loadArtifact[EntityRow](ctx, rc, KeyFinalEntities)
	if err != nil {
		return err
	}
	relationships, err := loadArtifact[RelationshipRow](ctx, rc, KeyFinalRelationships)
	if err != nil {
		return err
	}

	// Every unit is rewritten, including those the extractor linked to
	// nothing: graph IDs are fresh per run, so link lists left over from a
	// previous run would dangle.
	links := linkUnits(units, entities, relationships)
	updated := 0
	for _, unit := range units {
		link := links[unit.ID]
		if err := p.units.UpdateUnitLinks(ctx, unit.ID, link.EntityIDs, link.RelationshipIDs); err != nil {
			return workflow.Retryable(err)
		}
		updated++
	}
	logger.Info("[Pipeline] Linked text units", "target", rc.TargetID, "updated", updated)
	return nil
}

// createTextEmbeddings embeds the configured entity fields and stores them
// in the entity vector collection. Entities whose embedding permanently
// failed are skipped with a warning; the stage still succeeds.
func (p *Pipeline) createTextEmbeddings(ctx context.Context, rc *workflow.RunContext) error {
	entities, err := loadArtifact[EntityRow](ctx, rc, KeyFinalEntities)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}

	for _, field := range p.embedFields {
		texts := make([]string, len(entities))
		for i, e := range entities {
			switch field {
			case "title":
				texts[i] = e.Title
			default:
				texts[i] = e.Description
			}
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return workflow.Retryable(err)
		}

		rows := make([]vector.EntityEmbedding, 0, len(entities))
		for i, e := range entities {
			if vecs[i] == nil {
				logger.Warn("[Pipeline] Skipping entity with failed embedding",
					"target", rc.TargetID, "entity", e.Title, "field", field)
				continue
			}
			rows = append(rows, vector.EntityEmbedding{
				ID:         e.ID + ":" + field,
				EntityID:   e.ID,
				Field:      field,
				Text:       texts[i],
				Embedding:  vecs[i],
				TargetID:   rc.TargetID,
				TargetType: rc.TargetType,
			})
		}
		if err := p.units.SaveEntityEmbeddings(ctx, rows); err != nil {
			return workflow.Retryable(err)
		}
		logger.Info("[Pipeline] Stored entity embeddings",
			"target", rc.TargetID, "field", field, "rows", len(rows))
	}
	return nil
}
