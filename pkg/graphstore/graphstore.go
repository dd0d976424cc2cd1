package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tripsphere/backend/pkg/graph"
	"github.com/tripsphere/backend/pkg/logger"
)

// Client writes finalized knowledge graphs to Neo4j. Entities become
// (:Entity) nodes and relationships become [:RELATES] edges, both tagged
// with the owning target so a target's subgraph can be replaced or removed
// wholesale.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

type NewClientParams struct {
	URI      string
	User     string
	Password string
	Database string
}

func NewClient(ctx context.Context, params NewClientParams) (*Client, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	user := params.User
	if user == "" {
		user = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(user, params.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	vCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(vCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	return &Client{driver: driver, database: params.Database}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint and target lookup indexes.
// Safe to run on every startup.
func (c *Client) EnsureSchema(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE INDEX entity_target_id IF NOT EXISTS FOR (e:Entity) ON (e.target_id)`,
		`CREATE INDEX relates_target_id IF NOT EXISTS FOR ()-[r:RELATES]-() ON (r.target_id)`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to ensure graph schema: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// UpsertGraph writes a target's merged entities and relationships in a
// single write transaction. Node and edge properties are replaced, so
// re-running a finalize stage converges instead of accumulating.
func (c *Client) UpsertGraph(
	ctx context.Context,
	targetID string,
	targetType string,
	entities []graph.Entity,
	relationships []graph.Relationship,
) error {
	if len(entities) == 0 && len(relationships) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	entityNodes := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		entityNodes = append(entityNodes, map[string]any{
			"id":            e.ID,
			"title":         e.Title,
			"type":          e.Type,
			"description":   e.Description,
			"frequency":     e.Frequency,
			"text_unit_ids": e.TextUnitIDs,
			"target_id":     targetID,
			"target_type":   targetType,
			"synced_at":     now,
		})
	}

	byTitle := make(map[string]string, len(entities))
	for _, e := range entities {
		byTitle[e.Title] = e.ID
	}

	edges := make([]map[string]any, 0, len(relationships))
	for _, r := range relationships {
		sourceID, okS := byTitle[r.Source]
		targetEntityID, okT := byTitle[r.Target]
		if !okS || !okT {
			continue
		}
		edges = append(edges, map[string]any{
			"id":            r.ID,
			"source":        sourceID,
			"target":        targetEntityID,
			"description":   r.Description,
			"weight":        r.Weight,
			"text_unit_ids": r.TextUnitIDs,
			"target_id":     targetID,
			"synced_at":     now,
		})
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(entityNodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $entities AS e
MERGE (n:Entity {id: e.id})
SET n = e
`, map[string]any{"entities": entityNodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edges) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $edges AS edge
MATCH (s:Entity {id: edge.source})
MATCH (t:Entity {id: edge.target})
MERGE (s)-[r:RELATES {id: edge.id}]->(t)
SET r.description = edge.description,
    r.weight = edge.weight,
    r.text_unit_ids = edge.text_unit_ids,
    r.target_id = edge.target_id,
    r.synced_at = edge.synced_at
`, map[string]any{"edges": edges})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert graph for target %s: %w", targetID, err)
	}

	logger.Debug("[GraphStore][UpsertGraph] Synced target graph",
		"target", targetID, "entities", len(entityNodes), "relationships", len(edges))
	return nil
}

// DeleteTarget removes a target's whole subgraph, nodes and edges.
func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (e:Entity {target_id: $target_id})
DETACH DELETE e
`, map[string]any{"target_id": targetID})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete graph for target %s: %w", targetID, err)
	}
	return nil
}
