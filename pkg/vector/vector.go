package vector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TextUnit is a token-bounded chunk of a review's text with its embedding
// and target attribution; the unit of storage in the text-units collection.
type TextUnit struct {
	ID              string
	ReadableID      string
	Text            string
	Embedding       []float32
	NumTokens       int
	DocumentID      string
	TargetID        string
	TargetType      string
	EntityIDs       []string
	RelationshipIDs []string
}

// EntityEmbedding is one embedded field of a graph entity, stored in the
// sibling entity collection.
type EntityEmbedding struct {
	ID         string
	EntityID   string
	Field      string
	Text       string
	Embedding  []float32
	TargetID   string
	TargetType string
}

// Store persists text units and entity embeddings in Postgres with pgvector
// columns. The connection pool is shared and safe for concurrent use.
type Store struct {
	conn       *pgxpool.Pool
	dimensions int
}

// NewStore verifies that both vector collections carry the configured
// dimension count. A mismatch is a fatal configuration error: vectors of the
// wrong size can never be written or compared.
func NewStore(ctx context.Context, conn *pgxpool.Pool, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}
	s := &Store{conn: conn, dimensions: dimensions}

	for _, table := range []string{"text_units", "entity_embeddings"} {
		dims, err := s.columnDimensions(ctx, table, "embedding")
		if err != nil {
			return nil, err
		}
		if dims != dimensions {
			return nil, fmt.Errorf("collection %s has dimension %d, configured %d", table, dims, dimensions)
		}
	}
	return s, nil
}

var dimRe = regexp.MustCompile(`^vector\((\d+)\)$`)

func (s *Store) columnDimensions(ctx context.Context, table string, column string) (int, error) {
	var formatted string
	err := s.conn.QueryRow(ctx, `
		SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = $1 AND a.attname = $2
	`, table, column).Scan(&formatted)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s.%s: %w", table, column, err)
	}

	m := dimRe.FindStringSubmatch(formatted)
	if m == nil {
		return 0, fmt.Errorf("column %s.%s is %s, expected a vector type", table, column, formatted)
	}
	dims, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	return dims, nil
}

// chunkRange invokes fn over [start, end) windows of at most chunkSize
// elements covering n elements.
func chunkRange(n int, chunkSize int, fn func(start, end int) error) error {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
