package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/tripsphere/backend/pkg/logger"
)

// SaveEntityEmbeddings bulk upserts embedded entity fields in chunked
// transactions. Rows without a vector are skipped; a failed embedding must
// not shadow an earlier successful one.
func (s *Store) SaveEntityEmbeddings(ctx context.Context, rows []EntityEmbedding) error {
	if len(rows) == 0 {
		return nil
	}

	logger.Debug("[Vector][SaveEntityEmbeddings] Bulk upserting entity embeddings", "rows", len(rows))

	return chunkRange(len(rows), 1000, func(start, end int) error {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		queued := 0
		for _, row := range rows[start:end] {
			if row.Embedding == nil {
				continue
			}
			if len(row.Embedding) != s.dimensions {
				return fmt.Errorf("entity embedding %s has dimension %d, want %d", row.ID, len(row.Embedding), s.dimensions)
			}
			batch.Queue(`
				INSERT INTO entity_embeddings (id, entity_id, field, text, embedding, target_id, target_type)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET
					text = EXCLUDED.text,
					embedding = EXCLUDED.embedding,
					updated_at = now()
			`, row.ID, row.EntityID, row.Field, row.Text, pgvector.NewVector(row.Embedding), row.TargetID, row.TargetType)
			queued++
		}
		if queued == 0 {
			return tx.Commit(ctx)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// ScoredEntity is an entity search hit with its cosine similarity.
type ScoredEntity struct {
	EntityEmbedding
	Score float32
}

// SearchEntities returns the topK embedded entity fields of a target closest
// to the query vector by cosine distance.
func (s *Store) SearchEntities(ctx context.Context, query []float32, targetID string, targetType string, topK int) ([]ScoredEntity, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(query), s.dimensions)
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, entity_id, field, text, target_id, target_type,
		       1 - (embedding <=> $1) AS score
		FROM entity_embeddings
		WHERE target_id = $2 AND target_type = $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(query), targetID, targetType, topK)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScoredEntity, error) {
		var e ScoredEntity
		err := row.Scan(&e.ID, &e.EntityID, &e.Field, &e.Text, &e.TargetID, &e.TargetType, &e.Score)
		return e, err
	})
}

// DeleteEntityEmbeddingsByTarget removes every embedded entity field of a
// target.
func (s *Store) DeleteEntityEmbeddingsByTarget(ctx context.Context, targetID string, targetType string) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM entity_embeddings WHERE target_id = $1 AND target_type = $2
	`, targetID, targetType)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
