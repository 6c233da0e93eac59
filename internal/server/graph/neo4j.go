package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/apigraph/internal/entity"
)

// Neo4jRepository implements Repository using Neo4j. Each snapshot is a
// :Snapshot node that CONTAINS one :Entity node per entity; relationship
// references between fetched entities become REL edges.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewNeo4j creates a new Neo4j repository
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jRepository{driver: driver, database: database}, nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Neo4jRepository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// EnsureIndexes creates the constraints and indexes snapshots rely on
func (r *Neo4jRepository) EnsureIndexes(ctx context.Context) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT snapshot_id IF NOT EXISTS FOR (s:Snapshot) REQUIRE s.id IS UNIQUE`,
		`CREATE INDEX snapshot_fetched_at IF NOT EXISTS FOR (s:Snapshot) ON (s.fetched_at)`,
		`CREATE INDEX entity_snapshot_key IF NOT EXISTS FOR (e:Entity) ON (e.snapshot_id, e.key)`,
	}
	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// SaveSnapshot stores a snapshot in a single write transaction
func (r *Neo4jRepository) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	docs, err := documents(s.Entities)
	if err != nil {
		return err
	}

	entities := make([]map[string]any, len(s.Entities))
	var links []map[string]any
	for i, e := range s.Entities {
		entities[i] = map[string]any{
			"position": i,
			"key":      e.Key(),
			"type":     e.Type,
			"id":       e.ID,
			"document": docs[i],
		}
		for _, rel := range e.Relationships {
			for _, ref := range rel.Refs {
				links = append(links, map[string]any{
					"source": e.Key(),
					"target": ref.Key(),
					"name":   rel.Name,
				})
			}
		}
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			CREATE (s:Snapshot {
				id: $id,
				root: $root,
				mode: $mode,
				fetched_at: datetime($fetched_at),
				entity_count: $entity_count
			})
			WITH s
			UNWIND $entities AS ent
			CREATE (s)-[:CONTAINS]->(:Entity {
				snapshot_id: $id,
				position: ent.position,
				key: ent.key,
				type: ent.type,
				id: ent.id,
				document: ent.document
			})
		`
		params := map[string]any{
			"id":           s.ID,
			"root":         s.Root,
			"mode":         s.Mode,
			"fetched_at":   s.FetchedAt.UTC().Format(time.RFC3339Nano),
			"entity_count": len(s.Entities),
			"entities":     entities,
		}
		if _, err := tx.Run(ctx, query, params); err != nil {
			return nil, fmt.Errorf("creating snapshot: %w", err)
		}

		if len(links) == 0 {
			return nil, nil
		}

		// Dangling references have no target node and are skipped.
		query = `
			UNWIND $links AS link
			MATCH (source:Entity {snapshot_id: $id, key: link.source})
			MATCH (target:Entity {snapshot_id: $id, key: link.target})
			MERGE (source)-[:REL {name: link.name}]->(target)
		`
		if _, err := tx.Run(ctx, query, map[string]any{"id": s.ID, "links": links}); err != nil {
			return nil, fmt.Errorf("creating links: %w", err)
		}
		return nil, nil
	})

	return err
}

// LatestSnapshot loads the most recently fetched snapshot
func (r *Neo4jRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:Snapshot)
			WITH s ORDER BY s.fetched_at DESC LIMIT 1
			OPTIONAL MATCH (s)-[:CONTAINS]->(e:Entity)
			WITH s, e ORDER BY e.position
			RETURN s.id AS id, s.root AS root, s.mode AS mode,
			       toString(s.fetched_at) AS fetched_at,
			       collect(e.document) AS documents
		`

		result, err := tx.Run(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return nil, err
			}
			return nil, ErrNoSnapshot
		}

		record := result.Record()
		s := &Snapshot{}
		if err := readSnapshotHeader(record, &s.ID, &s.Root, &s.Mode, &s.FetchedAt); err != nil {
			return nil, err
		}

		docs, _ := record.Get("documents")
		list, ok := docs.([]any)
		if !ok {
			return nil, fmt.Errorf("snapshot %s: documents is not a list", s.ID)
		}
		s.Entities = make([]entity.Entity, 0, len(list))
		for _, d := range list {
			doc, ok := d.(string)
			if !ok {
				return nil, fmt.Errorf("snapshot %s: entity document is not a string", s.ID)
			}
			e, err := decodeEntity(doc)
			if err != nil {
				return nil, err
			}
			s.Entities = append(s.Entities, e)
		}
		return s, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// ListSnapshots returns snapshot descriptions, newest first
func (r *Neo4jRepository) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:Snapshot)
			WITH s ORDER BY s.fetched_at DESC LIMIT $limit
			OPTIONAL MATCH (s)-[:CONTAINS]->(:Entity)-[r:REL]->()
			WITH s, count(r) AS link_count
			RETURN s.id AS id, s.root AS root, s.mode AS mode,
			       toString(s.fetched_at) AS fetched_at, s.entity_count AS entity_count,
			       link_count
			ORDER BY s.fetched_at DESC
		`

		result, err := tx.Run(ctx, query, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}

		var infos []SnapshotInfo
		for result.Next(ctx) {
			record := result.Record()
			var info SnapshotInfo
			if err := readSnapshotHeader(record, &info.ID, &info.Root, &info.Mode, &info.FetchedAt); err != nil {
				return nil, err
			}
			if info.Entities, err = recordInt(record, "entity_count"); err != nil {
				return nil, err
			}
			if info.Links, err = recordInt(record, "link_count"); err != nil {
				return nil, err
			}
			infos = append(infos, info)
		}
		return infos, result.Err()
	})

	if err != nil {
		return nil, err
	}
	return result.([]SnapshotInfo), nil
}

// readSnapshotHeader reads the id, root, mode and fetched_at columns.
func readSnapshotHeader(record *neo4j.Record, id, root, mode *string, fetchedAt *time.Time) error {
	var err error
	if *id, err = recordString(record, "id"); err != nil {
		return err
	}
	if *root, err = recordString(record, "root"); err != nil {
		return fmt.Errorf("snapshot %s: %w", *id, err)
	}
	if *mode, err = recordString(record, "mode"); err != nil {
		return fmt.Errorf("snapshot %s: %w", *id, err)
	}
	ts, err := recordString(record, "fetched_at")
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", *id, err)
	}
	if *fetchedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return fmt.Errorf("snapshot %s: parsing fetched_at: %w", *id, err)
	}
	return nil
}

func recordInt(record *neo4j.Record, key string) (int, error) {
	v, ok := record.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, errors.New(key + " is not an integer")
	}
	return int(n), nil
}

func recordString(record *neo4j.Record, key string) (string, error) {
	v, ok := record.Get(key)
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.New(key + " is not a string")
	}
	return s, nil
}
