package vectorstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID(t *testing.T) {
	n := NumericID(42)
	assert.False(t, n.IsUUID())
	assert.Equal(t, uint64(42), n.Num())
	assert.Equal(t, "42", n.String())

	u := UUIDPointID("5f0c6a3e-8a59-5d36-9a0e-4a8b2a7f3f51")
	assert.True(t, u.IsUUID())
	assert.Equal(t, "5f0c6a3e-8a59-5d36-9a0e-4a8b2a7f3f51", u.String())

	assert.Equal(t, "0", NumericID(0).String())
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		in      string
		want    Distance
		wantErr bool
	}{
		{"", DistanceCosine, false},
		{"Cosine", DistanceCosine, false},
		{"euclid", DistanceEuclidean, false},
		{"L2", DistanceEuclidean, false},
		{"dot", DistanceDot, false},
		{"manhattan", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDistance(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func records(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{ID: NumericID(uint64(i)), Text: "t", Vector: []float32{1, 0}}
	}
	return out
}

func TestSplitBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"exact", 100, 50, []int{50, 50}},
		{"remainder", 120, 50, []int{50, 50, 20}},
		{"small", 3, 50, []int{3}},
		{"default size", 60, 0, []int{50, 10}},
		{"empty", 0, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := splitBatches(records(tt.n), tt.size)
			var sizes []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestInsertBatches_AllOrNothing(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")

	err := insertBatches(context.Background(), records(10), 3, 2, func(_ context.Context, batch []Record) error {
		calls.Add(1)
		if batch[0].ID.Num() == 6 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestInsertBatches_WritesEveryRecord(t *testing.T) {
	var written atomic.Int32
	err := insertBatches(context.Background(), records(123), 10, 4, func(_ context.Context, batch []Record) error {
		written.Add(int32(len(batch)))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(123), written.Load())
}

func TestOperationError(t *testing.T) {
	err := opError("qdrant", "search", "Collection_1", ErrCollectionNotFound)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Contains(t, err.Error(), "qdrant search on Collection_1")

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "search", opErr.Op)

	// Already-typed errors are not wrapped twice.
	assert.Same(t, err, opError("qdrant", "insert_many", "Collection_1", err))
	assert.NoError(t, opError("qdrant", "search", "", nil))
}

func TestCheckDimension(t *testing.T) {
	assert.NoError(t, checkDimension(records(3), 2))
	assert.NoError(t, checkDimension(records(3), 0))
	assert.ErrorIs(t, checkDimension(records(3), 3), ErrDimensionMismatch)
}
