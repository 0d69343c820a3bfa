package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func seedChunks(t *testing.T, s *Store, projectID string, n int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.GetOrCreateProject(ctx, projectID)
	require.NoError(t, err)

	chunks := make([]store.DataChunk, n)
	for i := range chunks {
		chunks[i] = store.DataChunk{
			ProjectID: projectID,
			Text:      fmt.Sprintf("chunk %d", i+1),
			Metadata:  map[string]any{"source": "a.txt"},
			Order:     i + 1,
		}
	}
	inserted, err := s.InsertChunks(ctx, chunks, 7)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)
}

func TestGetOrCreateProject(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	p1, err := s.GetOrCreateProject(ctx, "demo1")
	require.NoError(t, err)
	assert.Equal(t, "demo1", p1.ProjectID)
	assert.False(t, p1.CreatedAt.IsZero())

	p2, err := s.GetOrCreateProject(ctx, "demo1")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)

	_, err = s.GetOrCreateProject(ctx, "bad id")
	assert.ErrorIs(t, err, store.ErrInvalidProjectID)

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssets(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.GetOrCreateProject(ctx, "p1")
	require.NoError(t, err)

	a := &store.Asset{ProjectID: "p1", Type: store.AssetTypeFile, Name: "abc_notes.txt", Size: 12,
		Config: map[string]any{"content_type": "text/plain"}}
	require.NoError(t, s.CreateAsset(ctx, a))
	assert.NotZero(t, a.ID)

	dup := &store.Asset{ProjectID: "p1", Type: store.AssetTypeFile, Name: "abc_notes.txt", Size: 1}
	assert.ErrorIs(t, s.CreateAsset(ctx, dup), store.ErrAlreadyExists)

	got, err := s.GetAsset(ctx, "p1", "abc_notes.txt")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "text/plain", got.Config["content_type"])

	_, err = s.GetAsset(ctx, "p1", "nope.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateAsset(ctx, &store.Asset{ProjectID: "p1", Type: store.AssetTypeFile, Name: "def_b.md", Size: 3}))
	list, err := s.ListAssets(ctx, "p1", store.AssetTypeFile)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "abc_notes.txt", list[0].Name)

	list, err = s.ListAssets(ctx, "p1", "url")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAssets_UnknownProjectRejected(t *testing.T) {
	s := setupTestStore(t)
	err := s.CreateAsset(context.Background(), &store.Asset{ProjectID: "ghost", Type: store.AssetTypeFile, Name: "x"})
	assert.Error(t, err)
}

func TestGetChunksPage(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seedChunks(t, s, "p1", 23)
	seedChunks(t, s, "p2", 5)

	var all []store.DataChunk
	for page := 1; ; page++ {
		chunks, err := s.GetChunksPage(ctx, "p1", page, 10)
		require.NoError(t, err)
		if len(chunks) == 0 {
			assert.Equal(t, 4, page, "pages 1-3 hold data, page 4 is empty")
			break
		}
		all = append(all, chunks...)
	}
	require.Len(t, all, 23)
	for i, c := range all {
		assert.Equal(t, i+1, c.Order)
		assert.Equal(t, "p1", c.ProjectID)
		assert.Equal(t, "a.txt", c.Metadata["source"])
	}

	empty, err := s.GetChunksPage(ctx, "nobody", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = s.GetChunksPage(ctx, "p1", 1, 0)
	assert.Error(t, err)
}

func TestInsertChunks_ValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.GetOrCreateProject(ctx, "p1")
	require.NoError(t, err)

	n, err := s.InsertChunks(ctx, []store.DataChunk{
		{ProjectID: "p1", Text: "ok", Order: 1},
		{ProjectID: "p1", Text: " ", Order: 2},
	}, 10)
	assert.ErrorIs(t, err, store.ErrInvalidChunk)
	assert.Zero(t, n)

	count, err := s.CountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteChunks(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seedChunks(t, s, "p1", 12)

	asset := &store.Asset{ProjectID: "p1", Type: store.AssetTypeFile, Name: "x_a.txt", Size: 1}
	require.NoError(t, s.CreateAsset(ctx, asset))
	_, err := s.InsertChunks(ctx, []store.DataChunk{
		{ProjectID: "p1", AssetID: asset.ID, Text: "from asset", Order: 1},
		{ProjectID: "p1", AssetID: asset.ID, Text: "from asset too", Order: 2},
	}, 0)
	require.NoError(t, err)

	n, err := s.DeleteChunksByAsset(ctx, "p1", asset.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteChunksByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	count, err := s.CountChunks(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
