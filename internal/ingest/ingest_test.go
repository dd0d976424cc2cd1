package ingest

import (
	"testing"

	"github.com/tripsphere/backend/internal/util"
)

func TestReadableUnitID(t *testing.T) {
	got := ReadableUnitID("r1", 0)
	want := "/reviews/r1/text-units/0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if ReadableUnitID("r1", 2) != "/reviews/r1/text-units/2" {
		t.Fatal("ordinal must appear verbatim")
	}
}

func TestUnitIDsAreDeterministic(t *testing.T) {
	a := util.DeterministicUnitID(ReadableUnitID("r1", 0))
	b := util.DeterministicUnitID(ReadableUnitID("r1", 0))
	if a != b {
		t.Fatal("same readable ID must yield same unit ID")
	}
	if a == util.DeterministicUnitID(ReadableUnitID("r1", 1)) {
		t.Fatal("different ordinals must yield different unit IDs")
	}
	if a == util.DeterministicUnitID(ReadableUnitID("r2", 0)) {
		t.Fatal("different documents must yield different unit IDs")
	}
}
