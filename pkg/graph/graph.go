package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultEntityTypes are the types extracted from travel reviews when a
// target does not configure its own set.
var DefaultEntityTypes = []string{
	"ACCOMMODATION", "RESTAURANT", "ATTRACTION", "LOCATION",
	"AMENITY", "ACTIVITY", "PERSON", "ORGANIZATION", "EVENT", "CONCEPT",
}

// Entity is a node of the knowledge graph built for one target. Title and
// type together identify an entity within a target; Frequency counts how
// many raw mentions were merged into it.
type Entity struct {
	ID          string   `json:"id"`
	ReadableID  string   `json:"readable_id,omitempty"`
	Title       string   `json:"title"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	TextUnitIDs []string `json:"text_unit_ids"`
	Frequency   int      `json:"frequency"`
}

// Relationship is an undirected-by-identity edge between two entity titles.
// Weight accumulates the strengths of all merged mentions.
type Relationship struct {
	ID          string   `json:"id"`
	ReadableID  string   `json:"readable_id,omitempty"`
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Description string   `json:"description"`
	Weight      float64  `json:"weight"`
	TextUnitIDs []string `json:"text_unit_ids"`
}

var graphNamespace = uuid.MustParse("9f2c4a11-6d38-4e5f-8b7a-3c1d0e9a5b27")

// EntityID derives a stable entity ID from the target and the entity's
// identity pair, so re-indexing a target reproduces the same IDs.
func EntityID(targetID string, title string, entityType string) string {
	name := fmt.Sprintf("entity|%s|%s|%s", targetID, strings.ToUpper(title), strings.ToUpper(entityType))
	return uuid.NewSHA1(graphNamespace, []byte(name)).String()
}

// RelationshipID derives a stable relationship ID from the target and the
// edge's identity pair.
func RelationshipID(targetID string, source string, target string) string {
	name := fmt.Sprintf("rel|%s|%s|%s", targetID, strings.ToUpper(source), strings.ToUpper(target))
	return uuid.NewSHA1(graphNamespace, []byte(name)).String()
}
