package pipeline

import (
	"bytes"

	"github.com/parquet-go/parquet-go"

	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/vector"
)

// Artifact keys recorded in the workflow context. Raw and final graph
// artifacts use distinct keys so resume detection can tell the stages apart.
const (
	KeyTextUnits          = "text_units"
	KeyRawEntities        = "raw_entities"
	KeyRawRelationships   = "raw_relationships"
	KeyFinalEntities      = "entities"
	KeyFinalRelationships = "relationships"
)

// TextUnitRow is the columnar form of a text unit checkpoint.
type TextUnitRow struct {
	ID         string `parquet:"id"`
	ReadableID string `parquet:"readable_id"`
	DocumentID string `parquet:"document_id"`
	Text       string `parquet:"text"`
	NumTokens  int32  `parquet:"num_tokens"`
}

// EntityRow is the columnar form of a merged entity.
type EntityRow struct {
	ID          string   `parquet:"id"`
	ReadableID  string   `parquet:"readable_id"`
	Title       string   `parquet:"title"`
	Type        string   `parquet:"type"`
	Description string   `parquet:"description"`
	Frequency   int32    `parquet:"frequency"`
	TextUnitIDs []string `parquet:"text_unit_ids,list"`
}

// RelationshipRow is the columnar form of a merged relationship.
type RelationshipRow struct {
	ID          string   `parquet:"id"`
	ReadableID  string   `parquet:"readable_id"`
	Source      string   `parquet:"source"`
	Target      string   `parquet:"target"`
	Description string   `parquet:"description"`
	Weight      float64  `parquet:"weight"`
	TextUnitIDs []string `parquet:"text_unit_ids,list"`
}

func encodeRows[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRows[T any](data []byte) ([]T, error) {
	return parquet.Read[T](bytes.NewReader(data), int64(len(data)))
}

func toUnitRows(units []vector.TextUnit) []TextUnitRow {
	rows := make([]TextUnitRow, 0, len(units))
	for _, u := range units {
		rows = append(rows, TextUnitRow{
			ID:         u.ID,
			ReadableID: u.ReadableID,
			DocumentID: u.DocumentID,
			Text:       u.Text,
			NumTokens:  int32(u.NumTokens),
		})
	}
	return rows
}

func toEntityRows(entities []graph.Entity) []EntityRow {
	rows := make([]EntityRow, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, EntityRow{
			ID:          e.ID,
			ReadableID:  e.ReadableID,
			Title:       e.Title,
			Type:        e.Type,
			Description: e.Description,
			Frequency:   int32(e.Frequency),
			TextUnitIDs: e.TextUnitIDs,
		})
	}
	return rows
}

func fromEntityRows(rows []EntityRow) []graph.Entity {
	entities := make([]graph.Entity, 0, len(rows))
	for _, r := range rows {
		entities = append(entities, graph.Entity{
			ID:          r.ID,
			ReadableID:  r.ReadableID,
			Title:       r.Title,
			Type:        r.Type,
			Description: r.Description,
			Frequency:   int(r.Frequency),
			TextUnitIDs: r.TextUnitIDs,
		})
	}
	return entities
}

func toRelationshipRows(rels []graph.Relationship) []RelationshipRow {
	rows := make([]RelationshipRow, 0, len(rels))
	for _, r := range rels {
		rows = append(rows, RelationshipRow{
			ID:          r.ID,
			ReadableID:  r.ReadableID,
			Source:      r.Source,
			Target:      r.Target,
			Description: r.Description,
			Weight:      r.Weight,
			TextUnitIDs: r.TextUnitIDs,
		})
	}
	return rows
}

func fromRelationshipRows(rows []RelationshipRow) []graph.Relationship {
	rels := make([]graph.Relationship, 0, len(rows))
	for _, r := range rows {
		rels = append(rels, graph.Relationship{
			ID:          r.ID,
			ReadableID:  r.ReadableID,
			Source:      r.Source,
			Target:      r.Target,
			Description: r.Description,
			Weight:      r.Weight,
			TextUnitIDs: r.TextUnitIDs,
		})
	}
	return rels
}
