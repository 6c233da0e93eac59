package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/apigraph/internal/entity"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	repo, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "apigraph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close(ctx) })
	return repo
}

func sampleEntities() []entity.Entity {
	return []entity.Entity{
		{
			Type:       "project",
			ID:         "p1",
			Attributes: map[string]any{"name": "Shop", "tags": []any{"a", "b"}},
			Relationships: entity.Relationships{
				{Name: "applications", Refs: []entity.Ref{{Type: "application", ID: "a1"}, {Type: "application", ID: "ghost"}}, Many: true},
				{Name: "owner", Refs: nil},
			},
		},
		{
			Type:       "application",
			ID:         "a1",
			Attributes: map[string]any{"name": "Web", "projectId": "p1", "weight": 2.5},
			Relationships: entity.Relationships{
				{Name: "project", Refs: []entity.Ref{{Type: "project", ID: "p1"}}},
			},
		},
	}
}

func TestLatestSnapshotEmpty(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	snap := NewSnapshot("https://acme.example.com/api/config/v1/project", "DESIGN", sampleEntities())
	require.NoError(t, repo.SaveSnapshot(ctx, snap))

	got, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, snap.ID, got.ID)
	assert.Equal(t, snap.Root, got.Root)
	assert.Equal(t, "DESIGN", got.Mode)
	assert.WithinDuration(t, snap.FetchedAt, got.FetchedAt, time.Microsecond)
	assert.Equal(t, snap.Entities, got.Entities)

	// Relationship order survives storage.
	assert.Equal(t, "applications", got.Entities[0].Relationships[0].Name)
	assert.Equal(t, "owner", got.Entities[0].Relationships[1].Name)

	infos, err := repo.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, len(snap.Entities), infos[0].Entities)
	assert.Equal(t, 3, infos[0].Links, "dangling references are stored too")
}

func TestLatestSnapshotPicksNewest(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	older := NewSnapshot("root-old", "DESIGN", sampleEntities()[:1])
	older.FetchedAt = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	newer := NewSnapshot("root-new", "DESIGN", sampleEntities())
	newer.FetchedAt = time.Date(2026, 1, 1, 10, 0, 0, 500, time.UTC)

	require.NoError(t, repo.SaveSnapshot(ctx, newer))
	require.NoError(t, repo.SaveSnapshot(ctx, older))

	got, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "root-new", got.Root)
	assert.Len(t, got.Entities, 2)

	infos, err := repo.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, newer.ID, infos[0].ID)
	assert.Equal(t, 2, infos[0].Entities)
	assert.Equal(t, older.ID, infos[1].ID)
	assert.Equal(t, 1, infos[1].Entities)

	infos, err = repo.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestSaveSnapshotRejectsDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	dup := append(sampleEntities(), sampleEntities()[0])
	err := repo.SaveSnapshot(ctx, NewSnapshot("root", "DESIGN", dup))
	require.Error(t, err)

	_, err = repo.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot, "failed save is rolled back")
}

func TestReopenKeepsSnapshots(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "apigraph.db")

	repo, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	snap := NewSnapshot("root", "DESIGN", sampleEntities())
	require.NoError(t, repo.SaveSnapshot(ctx, snap))
	require.NoError(t, repo.Close(ctx))

	repo, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close(ctx)

	got, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, repo)

	repo, err = Open(ctx, Config{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	require.NotNil(t, repo)
	require.NoError(t, repo.Close(ctx))

	_, err = Open(ctx, Config{Backend: "postgres"})
	assert.Error(t, err)
}
