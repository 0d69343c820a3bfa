package vectorstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneHot(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func newChromem(t *testing.T, path string) *vectorstore.ChromemStore {
	t.Helper()
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func TestNewChromemStore_RejectsNonCosine(t *testing.T) {
	_, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Distance: vectorstore.DistanceDot}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemStore_NotConnected(t *testing.T) {
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	_, err = s.CollectionExists(context.Background(), "Collection_1")
	assert.ErrorIs(t, err, vectorstore.ErrNotConnected)
}

func TestChromemStore_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t, "")

	exists, err := s.CollectionExists(ctx, "Collection_1")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := s.CreateCollection(ctx, "Collection_1", 4, false)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateCollection(ctx, "Collection_1", 4, false)
	require.NoError(t, err)
	assert.False(t, created, "existing collection without reset is left alone")

	require.NoError(t, s.InsertOne(ctx, "Collection_1", vectorstore.Record{
		ID: vectorstore.NumericID(0), Text: "hello", Vector: oneHot(4, 0),
	}))

	created, err = s.CreateCollection(ctx, "Collection_1", 4, true)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := s.GetCollectionInfo(ctx, "Collection_1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.PointCount, "reset drops previous points")
	assert.Equal(t, 4, info.VectorSize)
	assert.Equal(t, vectorstore.DistanceCosine, info.Distance)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Collection_1"}, names)

	deleted, err := s.DeleteCollection(ctx, "Collection_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteCollection(ctx, "Collection_1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.GetCollectionInfo(ctx, "Collection_1")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemStore_InvalidName(t *testing.T) {
	s := newChromem(t, "")
	_, err := s.CreateCollection(context.Background(), "../escape", 4, false)
	assert.Error(t, err)
}

func TestChromemStore_RoundTripSearch(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t, "")
	const dim = 8

	_, err := s.CreateCollection(ctx, "Collection_rt", dim, false)
	require.NoError(t, err)

	recs := make([]vectorstore.Record, dim)
	for i := range recs {
		recs[i] = vectorstore.Record{
			ID:       vectorstore.NumericID(uint64(i)),
			Text:     fmt.Sprintf("chunk %d", i),
			Vector:   oneHot(dim, i),
			Metadata: map[string]any{"chunk_order": i},
		}
	}
	require.NoError(t, s.InsertMany(ctx, "Collection_rt", recs, 3))

	for k := range dim {
		docs, err := s.SearchByVector(ctx, "Collection_rt", oneHot(dim, k), 3)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, fmt.Sprintf("chunk %d", k), docs[0].Text)
		assert.InDelta(t, 1.0, docs[0].Score, 1e-5)
		assert.Equal(t, fmt.Sprint(k), docs[0].Metadata["chunk_order"])
		for i := 1; i < len(docs); i++ {
			assert.GreaterOrEqual(t, docs[i-1].Score, docs[i].Score)
		}
	}
}

func TestChromemStore_SearchLimitAboveCount(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t, "")
	_, err := s.CreateCollection(ctx, "Collection_small", 2, false)
	require.NoError(t, err)

	docs, err := s.SearchByVector(ctx, "Collection_small", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	require.NoError(t, s.InsertOne(ctx, "Collection_small", vectorstore.Record{
		ID: vectorstore.NumericID(1), Text: "only", Vector: []float32{1, 0},
	}))
	docs, err = s.SearchByVector(ctx, "Collection_small", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestChromemStore_UpsertOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t, "")
	_, err := s.CreateCollection(ctx, "Collection_up", 2, false)
	require.NoError(t, err)

	recs := []vectorstore.Record{
		{ID: vectorstore.NumericID(0), Text: "a", Vector: []float32{1, 0}},
		{ID: vectorstore.NumericID(1), Text: "b", Vector: []float32{0, 1}},
	}
	require.NoError(t, s.InsertMany(ctx, "Collection_up", recs, 50))
	require.NoError(t, s.InsertMany(ctx, "Collection_up", recs, 50))

	info, err := s.GetCollectionInfo(ctx, "Collection_up")
	require.NoError(t, err)
	assert.Equal(t, 2, info.PointCount)
}

func TestChromemStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t, "")
	_, err := s.CreateCollection(ctx, "Collection_dim", 3, false)
	require.NoError(t, err)

	err = s.InsertOne(ctx, "Collection_dim", vectorstore.Record{ID: vectorstore.NumericID(0), Text: "x", Vector: []float32{1, 0}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	var opErr *vectorstore.OperationError
	assert.ErrorAs(t, err, &opErr)
}

func TestChromemStore_InsertIntoMissingCollection(t *testing.T) {
	s := newChromem(t, "")
	err := s.InsertOne(context.Background(), "Collection_none", vectorstore.Record{Vector: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newChromem(t, dir)
	_, err := s.CreateCollection(ctx, "Collection_p", 2, false)
	require.NoError(t, err)
	require.NoError(t, s.InsertOne(ctx, "Collection_p", vectorstore.Record{
		ID: vectorstore.NumericID(7), Text: "persisted", Vector: []float32{0, 1},
	}))
	require.NoError(t, s.Disconnect(ctx))

	reopened := newChromem(t, dir)
	docs, err := reopened.SearchByVector(ctx, "Collection_p", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "persisted", docs[0].Text)
}

func TestChromemStore_DimensionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newChromem(t, dir)
	_, err := s.CreateCollection(ctx, "Collection_p", 4, false)
	require.NoError(t, err)
	require.NoError(t, s.InsertOne(ctx, "Collection_p", vectorstore.Record{
		ID: vectorstore.NumericID(0), Text: "four", Vector: oneHot(4, 1),
	}))
	require.NoError(t, s.Disconnect(ctx))

	reopened := newChromem(t, dir)
	info, err := reopened.GetCollectionInfo(ctx, "Collection_p")
	require.NoError(t, err)
	assert.Equal(t, 4, info.VectorSize)

	created, err := reopened.CreateCollection(ctx, "Collection_p", 3, false)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.False(t, created)

	err = reopened.InsertOne(ctx, "Collection_p", vectorstore.Record{
		ID: vectorstore.NumericID(1), Text: "three", Vector: oneHot(3, 0),
	})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	docs, err := reopened.SearchByVector(ctx, "Collection_p", oneHot(4, 1), 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "four", docs[0].Text)

	created, err = reopened.CreateCollection(ctx, "Collection_p", 3, true)
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, reopened.Disconnect(ctx))

	again := newChromem(t, dir)
	info, err = again.GetCollectionInfo(ctx, "Collection_p")
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorSize)
	assert.Zero(t, info.PointCount)
}
