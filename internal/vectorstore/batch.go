package vectorstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInsertBatchSize is used when InsertMany gets a non-positive size.
	DefaultInsertBatchSize = 50

	// DefaultInsertConcurrency bounds in-flight sub-batches.
	DefaultInsertConcurrency = 4
)

// splitBatches slices records into consecutive windows of at most size.
func splitBatches(records []Record, size int) [][]Record {
	if size <= 0 {
		size = DefaultInsertBatchSize
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return batches
}

// insertBatches runs write for every sub-batch with at most limit running at
// once. The first failure cancels the remaining sub-batches and is returned.
func insertBatches(ctx context.Context, records []Record, size, limit int, write func(context.Context, []Record) error) error {
	if limit <= 0 {
		limit = DefaultInsertConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, batch := range splitBatches(records, size) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return write(gctx, batch)
		})
	}
	return g.Wait()
}
