package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls sub-batching and backoff for embedding calls.
type RetryPolicy struct {
	BatchSize  int
	MaxRetries int
	Base       time.Duration

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns batches of 100, three attempts, one second base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BatchSize: 100, MaxRetries: 3, Base: time.Second}
}

// Backoff returns base*2^attempt plus up to base of jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Base << attempt
	if p.Base > 0 {
		d += time.Duration(rand.Int64N(int64(p.Base)))
	}
	return d
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.BatchSize < 1 {
		p.BatchSize = 1
	}
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	return p
}

// embedFunc embeds one sub-batch.
type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedInBatches runs fn over consecutive sub-batches in order, retrying
// transient failures. The first exhausted sub-batch aborts the call.
func embedInBatches(ctx context.Context, provider string, p RetryPolicy, dim int, texts []string, fn embedFunc) ([][]float32, error) {
	p = p.normalized()
	out := make([][]float32, 0, len(texts))

	for offset := 0; offset < len(texts); offset += p.BatchSize {
		end := min(offset+p.BatchSize, len(texts))
		batch := texts[offset:end]

		var (
			vectors [][]float32
			err     error
			attempt int
		)
		for attempt = 0; attempt < p.MaxRetries; attempt++ {
			if attempt > 0 {
				if werr := p.wait(ctx, p.Backoff(attempt-1)); werr != nil {
					err = werr
					break
				}
			}
			vectors, err = fn(ctx, batch)
			if err == nil {
				err = checkVectors(vectors, len(batch), dim)
			}
			if err == nil || !IsTransient(err) {
				break
			}
		}
		if err != nil {
			return nil, &EmbeddingError{
				Provider: provider,
				Offset:   offset,
				Size:     len(batch),
				Attempts: min(attempt+1, p.MaxRetries),
				Err:      err,
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func checkVectors(vectors [][]float32, want, dim int) error {
	if len(vectors) != want {
		return &countMismatchError{got: len(vectors), want: want}
	}
	if dim > 0 {
		for _, v := range vectors {
			if len(v) != dim {
				return ErrDimensionMismatch
			}
		}
	}
	return nil
}

type countMismatchError struct{ got, want int }

func (e *countMismatchError) Error() string {
	return fmt.Sprintf("provider returned %d vectors for %d inputs", e.got, e.want)
}
