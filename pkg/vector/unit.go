package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/tripsphere/backend/pkg/logger"
)

const scrollBatchSize = 256

// SaveUnits bulk upserts text units in chunked transactions. A re-run of the
// same review overwrites its units in place because unit IDs are derived from
// the readable ID.
func (s *Store) SaveUnits(ctx context.Context, units []TextUnit) error {
	if len(units) == 0 {
		return nil
	}

	logger.Debug("[Vector][SaveUnits] Bulk upserting text units", "units", len(units))

	return chunkRange(len(units), 1000, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, unit := range units[start:end] {
			var embedding any
			if unit.Embedding != nil {
				if len(unit.Embedding) != s.dimensions {
					return fmt.Errorf("unit %s has embedding dimension %d, want %d", unit.ID, len(unit.Embedding), s.dimensions)
				}
				embedding = pgvector.NewVector(unit.Embedding)
			}
			batch.Queue(`
				INSERT INTO text_units (
					id, readable_id, text, embedding, num_tokens,
					document_id, target_id, target_type, entity_ids, relationship_ids
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO UPDATE SET
					readable_id = EXCLUDED.readable_id,
					text = EXCLUDED.text,
					embedding = EXCLUDED.embedding,
					num_tokens = EXCLUDED.num_tokens,
					document_id = EXCLUDED.document_id,
					target_id = EXCLUDED.target_id,
					target_type = EXCLUDED.target_type,
					entity_ids = EXCLUDED.entity_ids,
					relationship_ids = EXCLUDED.relationship_ids,
					updated_at = now()
			`,
				unit.ID, unit.ReadableID, unit.Text, embedding, unit.NumTokens,
				unit.DocumentID, unit.TargetID, unit.TargetType, unit.EntityIDs, unit.RelationshipIDs,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// UpdateUnitLinks replaces the entity and relationship references of a text
// unit after graph extraction has resolved them.
func (s *Store) UpdateUnitLinks(ctx context.Context, unitID string, entityIDs []string, relationshipIDs []string) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE text_units
		SET entity_ids = $2, relationship_ids = $3, updated_at = now()
		WHERE id = $1
	`, unitID, entityIDs, relationshipIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("text unit %s not found", unitID)
	}
	return nil
}

// FindByTarget scrolls text units attributed to a target, in stable ID
// order, up to limit rows. A limit <= 0 scrolls everything. Embeddings are
// not loaded; callers that need them should search.
func (s *Store) FindByTarget(ctx context.Context, targetID string, targetType string, limit int) ([]TextUnit, error) {
	var out []TextUnit
	cursor := ""

	for {
		batch := scrollBatchSize
		if limit > 0 && limit-len(out) < batch {
			batch = limit - len(out)
		}
		rows, err := s.conn.Query(ctx, `
			SELECT id, readable_id, text, num_tokens, document_id,
			       target_id, target_type, entity_ids, relationship_ids
			FROM text_units
			WHERE target_id = $1 AND target_type = $2 AND id > $3
			ORDER BY id
			LIMIT $4
		`, targetID, targetType, cursor, batch)
		if err != nil {
			return nil, err
		}

		page, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TextUnit, error) {
			var u TextUnit
			err := row.Scan(
				&u.ID, &u.ReadableID, &u.Text, &u.NumTokens, &u.DocumentID,
				&u.TargetID, &u.TargetType, &u.EntityIDs, &u.RelationshipIDs,
			)
			return u, err
		})
		if err != nil {
			return nil, err
		}

		out = append(out, page...)
		if len(page) < batch || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// ScoredUnit is a search hit with its cosine similarity to the query vector.
type ScoredUnit struct {
	TextUnit
	Score float32
}

// SearchUnits returns the topK text units of a target closest to the query
// vector by cosine distance. Units without an embedding are never returned.
func (s *Store) SearchUnits(ctx context.Context, query []float32, targetID string, targetType string, topK int) ([]ScoredUnit, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(query), s.dimensions)
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, readable_id, text, num_tokens, document_id,
		       target_id, target_type, entity_ids, relationship_ids,
		       1 - (embedding <=> $1) AS score
		FROM text_units
		WHERE target_id = $2 AND target_type = $3 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(query), targetID, targetType, topK)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredUnit, error) {
		var u ScoredUnit
		err := row.Scan(
			&u.ID, &u.ReadableID, &u.Text, &u.NumTokens, &u.DocumentID,
			&u.TargetID, &u.TargetType, &u.EntityIDs, &u.RelationshipIDs,
			&u.Score,
		)
		return u, err
	})
}

// DeleteByDocument removes every text unit derived from one source document.
// Used when a single review is deleted or re-ingested.
func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `DELETE FROM text_units WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByTarget removes every text unit attributed to a target.
func (s *Store) DeleteByTarget(ctx context.Context, targetID string, targetType string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM text_units WHERE target_id = $1 AND target_type = $2
	`, targetID, targetType)
	if err != nil {
		return 0, err
	}
	logger.Debug("[Vector][DeleteByTarget] Removed text units", "target", targetID, "removed", tag.RowsAffected())
	return tag.RowsAffected(), nil
}
