package graph

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/invopop/jsonschema"

	"github.com/tripsphere/backend/internal/util"
	"github.com/tripsphere/backend/pkg/ai"
)

const extractPrompt = `
# Task Context
You are tasked with extracting **structured entity and relationship information** from a traveler review. The process must capture **all details explicitly present in the text**, without omission.

# Background Data
- **Entity_types:** [%s]
- **Review_of:** [%s]

# Detailed Task Description & Rules

## Entity Extraction
1. Identify all entities of the specified types [%s].
2. For each entity, extract:
   - **entity_name:** The name of the entity, written in **ALL CAPITAL LETTERS**.
   - **entity_type:** One of the provided types [%s].
   - **entity_description:** A comprehensive description of all attributes, qualities, experiences, prices, timings, or other explicit details the reviewer mentions.
     - Do **not** omit any explicit information.
     - Do **not** invent details the reviewer did not state.

## Relationship Extraction
1. From the identified entities, determine all clear relationships between pairs of entities.
2. For each relationship, extract:
   - **source_entity:** name of the source entity.
   - **target_entity:** name of the target entity.
   - **relationship_description:** detailed explanation of how and why the entities are related, based strictly on the review.
   - **relationship_strength:** a numeric score (0.0-1.0) indicating the strength of the relationship (higher = stronger).
3. If the review mentions only a single entity, return an **empty array** for "relationships".

# Output Formatting
Output must be valid JSON only (no commentary, no extra text).
`

type extractEntity struct {
	EntityName        string `json:"entity_name" jsonschema_description:"Name of the entity, all letters capitalized"`
	EntityType        string `json:"entity_type" jsonschema_description:"One of the provided entity types"`
	EntityDescription string `json:"entity_description" jsonschema_description:"Comprehensive description of the entity's attributes, qualities and information provided by the review."`
}

type extractRelationship struct {
	SourceEntity            string  `json:"source_entity" jsonschema_description:"Name of the source entity, as identified in step 1"`
	TargetEntity            string  `json:"target_entity" jsonschema_description:"Name of the target entity, as identified in step 1"`
	RelationshipDescription string  `json:"relationship_description" jsonschema_description:"Explanation as to why you think the source entity and the target entity are related to each other"`
	RelationshipStrength    float64 `json:"relationship_strength" jsonschema_description:"A numeric score indicating strength of the relationship between the source entity and target entity"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the review"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the review"`
}

// Extractor turns text units into raw entity and relationship mentions using
// a structured-output completion per unit.
type Extractor struct {
	client      ai.ExtractionClient
	entityTypes []string
	maxRetries  int
}

type NewExtractorParams struct {
	Client      ai.ExtractionClient
	EntityTypes []string
	MaxRetries  int
}

func NewExtractor(params NewExtractorParams) (*Extractor, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("extraction client is required")
	}
	entityTypes := params.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Extractor{
		client:      params.Client,
		entityTypes: entityTypes,
		maxRetries:  maxRetries,
	}, nil
}

// ExtractFromUnit extracts entity and relationship mentions from a single
// text unit. Relationships referencing entities not present in the same
// response are dropped.
func (e *Extractor) ExtractFromUnit(ctx context.Context, targetName string, unitID string, text string) ([]Entity, []Relationship, error) {
	types := strings.Join(e.entityTypes, ",")
	systemPrompt := fmt.Sprintf(extractPrompt, types, targetName, types, types)

	res, err := util.RetryWithContext(ctx, e.maxRetries, func(ctx context.Context) (*extractResponse, error) {
		var out extractResponse
		err := e.client.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relationships",
			"Extract entities and relationships from a traveler review.",
			systemPrompt,
			text,
			&out,
		)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, nil, err
	}

	entities := make([]Entity, 0, len(res.Entities))
	known := make(map[string]bool, len(res.Entities))
	for _, ent := range res.Entities {
		title := strings.ToUpper(strings.TrimSpace(ent.EntityName))
		if title == "" {
			continue
		}
		known[title] = true
		entities = append(entities, Entity{
			Title:       title,
			Type:        strings.ToUpper(strings.TrimSpace(ent.EntityType)),
			Description: strings.TrimSpace(ent.EntityDescription),
			TextUnitIDs: []string{unitID},
			Frequency:   1,
		})
	}

	relationships := make([]Relationship, 0, len(res.Relationships))
	for _, rel := range res.Relationships {
		source := strings.ToUpper(strings.TrimSpace(rel.SourceEntity))
		target := strings.ToUpper(strings.TrimSpace(rel.TargetEntity))
		if !known[source] || !known[target] || source == target {
			continue
		}
		relationships = append(relationships, Relationship{
			Source:      source,
			Target:      target,
			Description: strings.TrimSpace(rel.RelationshipDescription),
			Weight:      rel.RelationshipStrength,
			TextUnitIDs: []string{unitID},
		})
	}

	return entities, relationships, nil
}
