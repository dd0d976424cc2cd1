package pipeline

import (
	"context"
	"testing"

	"github.com/tripsphere/backend/pkg/blob"
	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/vector"
	"github.com/tripsphere/backend/pkg/workflow"
)

type recordedLinks struct {
	entityIDs       []string
	relationshipIDs []string
}

type memUnitStore struct {
	units   []vector.TextUnit
	updates map[string]recordedLinks
}

func (m *memUnitStore) FindByTarget(_ context.Context, _ string, _ string, _ int) ([]vector.TextUnit, error) {
	return m.units, nil
}

func (m *memUnitStore) UpdateUnitLinks(_ context.Context, unitID string, entityIDs []string, relationshipIDs []string) error {
	if m.updates == nil {
		m.updates = make(map[string]recordedLinks)
	}
	m.updates[unitID] = recordedLinks{entityIDs: entityIDs, relationshipIDs: relationshipIDs}
	return nil
}

func (m *memUnitStore) SaveEntityEmbeddings(context.Context, []vector.EntityEmbedding) error {
	return nil
}

func TestArtifactRoundTrip(t *testing.T) {
	entities := []EntityRow{
		{
			ID: "e1", ReadableID: "/targets/t/entities/0", Title: "HOTEL MIRAMAR",
			Type: "ACCOMMODATION", Description: "Beachfront hotel.", Frequency: 3,
			TextUnitIDs: []string{"u1", "u2"},
		},
		{
			ID: "e2", ReadableID: "/targets/t/entities/1", Title: "ROOFTOP POOL",
			Type: "AMENITY", Description: "Open until late.", Frequency: 1,
			TextUnitIDs: []string{"u2"},
		},
	}

	data, err := encodeRows(entities)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeRows[EntityRow](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(entities) {
		t.Fatalf("got %d rows, want %d", len(decoded), len(entities))
	}
	for i := range entities {
		if decoded[i].ID != entities[i].ID || decoded[i].Title != entities[i].Title ||
			decoded[i].Frequency != entities[i].Frequency {
			t.Fatalf("row %d mismatch: %+v != %+v", i, decoded[i], entities[i])
		}
		if len(decoded[i].TextUnitIDs) != len(entities[i].TextUnitIDs) {
			t.Fatalf("row %d unit ids mismatch: %v", i, decoded[i].TextUnitIDs)
		}
	}
}

func TestArtifactRoundTripEmpty(t *testing.T) {
	data, err := encodeRows([]TextUnitRow{})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeRows[TextUnitRow](data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected no rows, got %d", len(decoded))
	}
}

func TestAssignIdentity(t *testing.T) {
	entities := []graph.Entity{
		{Title: "A", Type: "CONCEPT"},
		{Title: "B", Type: "CONCEPT"},
	}
	relationships := []graph.Relationship{
		{Source: "A", Target: "B"},
	}

	assignIdentity("tgt-1", entities, relationships)

	if entities[0].ID == "" || entities[0].ID == entities[1].ID {
		t.Fatal("entities must get distinct IDs")
	}
	if entities[0].ReadableID != "/targets/tgt-1/entities/0" {
		t.Fatalf("unexpected readable id %s", entities[0].ReadableID)
	}
	if entities[1].ReadableID != "/targets/tgt-1/entities/1" {
		t.Fatalf("unexpected readable id %s", entities[1].ReadableID)
	}
	if relationships[0].ReadableID != "/targets/tgt-1/relationships/0" {
		t.Fatalf("unexpected readable id %s", relationships[0].ReadableID)
	}
}

func TestLinkUnits(t *testing.T) {
	units := []TextUnitRow{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
	entities := []EntityRow{
		{ID: "e1", TextUnitIDs: []string{"u1", "u2"}},
		{ID: "e2", TextUnitIDs: []string{"u2", "ghost"}},
	}
	relationships := []RelationshipRow{
		{ID: "r1", TextUnitIDs: []string{"u2"}},
	}

	links := linkUnits(units, entities, relationships)

	if got := links["u1"].EntityIDs; len(got) != 1 || got[0] != "e1" {
		t.Fatalf("u1 entities = %v", got)
	}
	if got := links["u2"].EntityIDs; len(got) != 2 {
		t.Fatalf("u2 entities = %v", got)
	}
	if got := links["u2"].RelationshipIDs; len(got) != 1 || got[0] != "r1" {
		t.Fatalf("u2 relationships = %v", got)
	}
	if got := links["u3"]; len(got.EntityIDs) != 0 || len(got.RelationshipIDs) != 0 {
		t.Fatalf("u3 must have no links, got %+v", got)
	}
}

func TestCreateFinalTextUnitsRewritesUnlinkedUnits(t *testing.T) {
	ctx := context.Background()
	rc := &workflow.RunContext{TargetID: "tgt-1", TargetType: "hotel", Blobs: blob.NewMemoryStore()}

	// This run's extraction cites only u1. u2 may still hold links from an
	// earlier run against graph IDs that no longer exist, so the stage must
	// rewrite it with empty lists rather than skip it.
	units := []TextUnitRow{{ID: "u1"}, {ID: "u2"}}
	entities := []EntityRow{{ID: "e1", TextUnitIDs: []string{"u1"}}}
	if err := saveArtifact(ctx, rc, KeyTextUnits, "text_units", units); err != nil {
		t.Fatal(err)
	}
	if err := saveArtifact(ctx, rc, KeyFinalEntities, "entities", entities); err != nil {
		t.Fatal(err)
	}
	if err := saveArtifact(ctx, rc, KeyFinalRelationships, "relationships", []RelationshipRow{}); err != nil {
		t.Fatal(err)
	}

	store := &memUnitStore{}
	p := &Pipeline{units: store}
	if err := p.createFinalTextUnits(ctx, rc); err != nil {
		t.Fatalf("stage failed: %v", err)
	}

	if len(store.updates) != 2 {
		t.Fatalf("updated %d units, want 2", len(store.updates))
	}
	if got := store.updates["u1"].entityIDs; len(got) != 1 || got[0] != "e1" {
		t.Fatalf("u1 entities = %v", got)
	}
	u2 := store.updates["u2"]
	if len(u2.entityIDs) != 0 || len(u2.relationshipIDs) != 0 {
		t.Fatalf("u2 links must be cleared, got %+v", u2)
	}
}
