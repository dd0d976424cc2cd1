package graph

import (
	"math"
	"strings"
	"testing"
)

func TestMergeEntities(t *testing.T) {
	mentions := []Entity{
		{Title: "HOTEL MIRAMAR", Type: "ACCOMMODATION", Description: "Beachfront hotel with a rooftop pool.", TextUnitIDs: []string{"u2"}, Frequency: 1},
		{Title: "HOTEL MIRAMAR", Type: "ACCOMMODATION", Description: "Hotel.", TextUnitIDs: []string{"u1"}, Frequency: 1},
		{Title: "HOTEL MIRAMAR", Type: "LOCATION", Description: "Area around the hotel.", TextUnitIDs: []string{"u1"}, Frequency: 1},
	}

	merged := MergeEntities("tgt-1", mentions, DescriptionLongest)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged entities, got %d", len(merged))
	}

	hotel := merged[0]
	if hotel.Type != "ACCOMMODATION" {
		t.Fatalf("expected ACCOMMODATION first, got %s", hotel.Type)
	}
	if hotel.Frequency != 2 {
		t.Fatalf("expected frequency 2, got %d", hotel.Frequency)
	}
	if hotel.Description != "Beachfront hotel with a rooftop pool." {
		t.Fatalf("longest policy picked %q", hotel.Description)
	}
	if len(hotel.TextUnitIDs) != 2 || hotel.TextUnitIDs[0] != "u1" || hotel.TextUnitIDs[1] != "u2" {
		t.Fatalf("expected sorted union of unit ids, got %v", hotel.TextUnitIDs)
	}
	if hotel.ID != EntityID("tgt-1", "HOTEL MIRAMAR", "ACCOMMODATION") {
		t.Fatal("merged entity ID is not deterministic")
	}
}

func TestMergeEntitiesConcatPolicy(t *testing.T) {
	mentions := []Entity{
		{Title: "POOL", Type: "AMENITY", Description: "Open until late.", TextUnitIDs: []string{"u1"}},
		{Title: "POOL", Type: "AMENITY", Description: "Crowded at noon.", TextUnitIDs: []string{"u2"}},
		{Title: "POOL", Type: "AMENITY", Description: "Crowded at noon.", TextUnitIDs: []string{"u3"}},
	}

	merged := MergeEntities("tgt-1", mentions, DescriptionConcat)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged entity, got %d", len(merged))
	}

	lines := strings.Split(merged[0].Description, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 distinct description lines, got %v", lines)
	}
	if lines[0] > lines[1] {
		t.Fatalf("concat output not sorted: %v", lines)
	}
}

func TestMergeEntitiesDeterministicOrder(t *testing.T) {
	a := []Entity{
		{Title: "B", Type: "CONCEPT", TextUnitIDs: []string{"u1"}},
		{Title: "A", Type: "CONCEPT", TextUnitIDs: []string{"u2"}},
	}
	b := []Entity{a[1], a[0]}

	ma := MergeEntities("tgt", a, DescriptionLongest)
	mb := MergeEntities("tgt", b, DescriptionLongest)
	for i := range ma {
		if ma[i].ID != mb[i].ID {
			t.Fatal("merge output order depends on input order")
		}
	}
}

func TestMergeRelationships(t *testing.T) {
	entities := []Entity{
		{Title: "HOTEL MIRAMAR", Type: "ACCOMMODATION"},
		{Title: "ROOFTOP POOL", Type: "AMENITY"},
	}
	mentions := []Relationship{
		{Source: "HOTEL MIRAMAR", Target: "ROOFTOP POOL", Description: "The hotel has a rooftop pool.", Weight: 0.8, TextUnitIDs: []string{"u1"}},
		{Source: "HOTEL MIRAMAR", Target: "ROOFTOP POOL", Description: "Pool.", Weight: 0.5, TextUnitIDs: []string{"u2"}},
		{Source: "HOTEL MIRAMAR", Target: "GHOST", Description: "Dropped.", Weight: 1, TextUnitIDs: []string{"u1"}},
	}

	merged := MergeRelationships("tgt-1", mentions, entities, DescriptionLongest)
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged relationship, got %d", len(merged))
	}

	rel := merged[0]
	if math.Abs(rel.Weight-1.3) > 1e-9 {
		t.Fatalf("expected summed weight 1.3, got %f", rel.Weight)
	}
	if len(rel.TextUnitIDs) != 2 {
		t.Fatalf("expected union of unit ids, got %v", rel.TextUnitIDs)
	}
	if rel.ID != RelationshipID("tgt-1", "HOTEL MIRAMAR", "ROOFTOP POOL") {
		t.Fatal("merged relationship ID is not deterministic")
	}
}

func TestParseDescriptionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    DescriptionPolicy
		wantErr bool
	}{
		{in: "", want: DescriptionLongest},
		{in: "longest", want: DescriptionLongest},
		{in: "concat", want: DescriptionConcat},
		{in: "shortest", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDescriptionPolicy(tt.in)
		if tt.wantErr != (err != nil) {
			t.Fatalf("%q: err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}
