package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout has fixed-width fractions so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository implements Repository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite repository
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Pragmas are per connection; keep a single one.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Apply pragmas for optimal performance
	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if err := repo.EnsureIndexes(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// Close closes the SQLite connection
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// EnsureIndexes creates tables and indexes if missing
func (r *SQLiteRepository) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range allSchemaStatements() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// SaveSnapshot stores a snapshot with its entities and links
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, s *Snapshot) error {
	docs, err := documents(s.Entities)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, root, mode, fetched_at, entity_count)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Root, s.Mode, s.FetchedAt.UTC().Format(timeLayout), len(s.Entities))
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	insertEntity, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (snapshot_id, position, key, type, id, document)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing entity insert: %w", err)
	}
	defer insertEntity.Close()

	insertLink, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO links (snapshot_id, source_key, target_key, name)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing link insert: %w", err)
	}
	defer insertLink.Close()

	for i, e := range s.Entities {
		if _, err := insertEntity.ExecContext(ctx, s.ID, i, e.Key(), e.Type, e.ID, docs[i]); err != nil {
			return fmt.Errorf("inserting entity %s: %w", e.Key(), err)
		}
		for _, rel := range e.Relationships {
			for _, ref := range rel.Refs {
				if _, err := insertLink.ExecContext(ctx, s.ID, e.Key(), ref.Key(), rel.Name); err != nil {
					return fmt.Errorf("inserting link %s -> %s: %w", e.Key(), ref.Key(), err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot loads the most recently fetched snapshot
func (r *SQLiteRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, root, mode, fetched_at
		FROM snapshots
		ORDER BY fetched_at DESC, rowid DESC
		LIMIT 1
	`)

	var s Snapshot
	var fetchedAt string
	if err := row.Scan(&s.ID, &s.Root, &s.Mode, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing fetched_at: %w", err)
	}
	s.FetchedAt = t

	rows, err := r.db.QueryContext(ctx, `
		SELECT document FROM entities WHERE snapshot_id = ? ORDER BY position
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		e, err := decodeEntity(doc)
		if err != nil {
			return nil, err
		}
		s.Entities = append(s.Entities, e)
	}
	return &s, rows.Err()
}

// ListSnapshots returns snapshot descriptions, newest first
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.root, s.mode, s.fetched_at, s.entity_count,
		       (SELECT COUNT(*) FROM links l WHERE l.snapshot_id = s.id)
		FROM snapshots s
		ORDER BY s.fetched_at DESC, s.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var fetchedAt string
		if err := rows.Scan(&info.ID, &info.Root, &info.Mode, &fetchedAt, &info.Entities, &info.Links); err != nil {
			return nil, err
		}
		if info.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
			return nil, fmt.Errorf("parsing fetched_at: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
