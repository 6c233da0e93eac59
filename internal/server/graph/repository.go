// Package graph persists fetched entity sets as snapshots so a restarted
// server can serve the last graph without refetching it.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/apigraph/internal/entity"
)

// ErrNoSnapshot is returned when no snapshot has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Snapshot is one fetched entity set, in ingestion order.
type Snapshot struct {
	ID        string          `json:"id"`
	Root      string          `json:"root"`
	Mode      string          `json:"mode"`
	FetchedAt time.Time       `json:"fetched_at"`
	Entities  []entity.Entity `json:"entities"`
}

// SnapshotInfo describes a stored snapshot without its entities.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Root      string    `json:"root"`
	Mode      string    `json:"mode"`
	FetchedAt time.Time `json:"fetched_at"`
	Entities  int       `json:"entities"`
	Links     int       `json:"links"` // stored relationship references
}

// NewSnapshot creates a snapshot with a fresh id, fetched now.
func NewSnapshot(root, mode string, entities []entity.Entity) *Snapshot {
	return &Snapshot{
		ID:        uuid.New().String(),
		Root:      root,
		Mode:      mode,
		FetchedAt: time.Now().UTC(),
		Entities:  entities,
	}
}

// Repository defines the interface for snapshot storage backends.
// Both SQLite and Neo4j implement this interface.
type Repository interface {
	// Lifecycle
	Close(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error

	// Snapshot operations
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error)
}

// Backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
	BackendNone   = "none"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	SQLitePath string
	Neo4j      Neo4jConfig
}

// Open connects to the configured backend. BackendNone returns a nil
// Repository and no error.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Backend {
	case BackendSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	case BackendNeo4j:
		repo, err := NewNeo4j(ctx, cfg.Neo4j)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			repo.Close(ctx)
			return nil, err
		}
		return repo, nil
	case BackendNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// documents encodes each entity as its JSON:API document.
func documents(entities []entity.Entity) ([]string, error) {
	out := make([]string, len(entities))
	for i, e := range entities {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshaling entity %s: %w", e.Key(), err)
		}
		out[i] = string(data)
	}
	return out, nil
}

func decodeEntity(doc string) (entity.Entity, error) {
	var e entity.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return entity.Entity{}, fmt.Errorf("unmarshaling entity: %w", err)
	}
	return e, nil
}
