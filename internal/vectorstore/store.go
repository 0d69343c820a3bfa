// Package vectorstore defines the vector storage capability and its backends.
//
// A Store holds named collections of points. Every point carries a vector,
// the chunk text it was computed from, and free-form metadata. All vectors in
// one collection share a dimension and the store's distance metric, both
// fixed when the collection is created.
//
// Implementations:
//   - QdrantStore: remote Qdrant over gRPC
//   - ChromemStore: embedded chromem-go, persistent or in-memory
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrDimensionMismatch is returned when a vector does not match the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotConnected is returned by operations on a disconnected store.
	ErrNotConnected = errors.New("vector store not connected")

	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Store is the vector storage capability consumed by the RAG pipelines.
//
// Connect must be called before any other method and Disconnect releases the
// backend. Both are safe to call more than once.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	CollectionExists(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates name with the given dimension. With reset an
	// existing collection is dropped first. It reports false when the
	// collection already existed and was left untouched.
	CreateCollection(ctx context.Context, name string, dimension int, reset bool) (bool, error)

	// DeleteCollection reports false when there was nothing to delete.
	DeleteCollection(ctx context.Context, name string) (bool, error)

	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	InsertOne(ctx context.Context, name string, record Record) error

	// InsertMany writes records in sub-batches of batchSize, possibly
	// concurrently. It succeeds only if every sub-batch succeeds.
	InsertMany(ctx context.Context, name string, records []Record, batchSize int) error

	// SearchByVector returns at most limit documents, best match first.
	SearchByVector(ctx context.Context, name string, vector []float32, limit int) ([]RetrievedDocument, error)
}

// PointID identifies a point. Backends accept either an unsigned integer or
// a UUID string.
type PointID struct {
	num  uint64
	uuid string
}

// NumericID returns an integer point id.
func NumericID(n uint64) PointID { return PointID{num: n} }

// UUIDPointID returns a UUID point id.
func UUIDPointID(id string) PointID { return PointID{uuid: id} }

// IsUUID reports whether the id is a UUID.
func (p PointID) IsUUID() bool { return p.uuid != "" }

// Num returns the numeric value; zero for UUID ids.
func (p PointID) Num() uint64 { return p.num }

// UUID returns the UUID value; empty for numeric ids.
func (p PointID) UUID() string { return p.uuid }

func (p PointID) String() string {
	if p.uuid != "" {
		return p.uuid
	}
	return strconv.FormatUint(p.num, 10)
}

// Record is a single point to insert.
type Record struct {
	ID       PointID
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// RetrievedDocument is a search hit in backend-neutral form.
type RetrievedDocument struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name       string   `json:"name"`
	PointCount int      `json:"points_count"`
	VectorSize int      `json:"vector_size"`
	Distance   Distance `json:"distance"`
	Status     string   `json:"status"`
}

// Distance is the similarity metric of a store.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceEuclidean Distance = "euclidean"
	DistanceDot       Distance = "dot"
)

// ParseDistance accepts the metric names and a few common aliases.
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return DistanceCosine, nil
	case "euclidean", "euclid", "l2":
		return DistanceEuclidean, nil
	case "dot", "ip", "dot_product":
		return DistanceDot, nil
	default:
		return "", fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, s)
	}
}

// OperationError reports a failed backend operation.
type OperationError struct {
	Backend    string
	Op         string
	Collection string
	Err        error
}

func (e *OperationError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s %s on %s: %v", e.Backend, e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(backend, op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var existing *OperationError
	if errors.As(err, &existing) {
		return err
	}
	return &OperationError{Backend: backend, Op: op, Collection: collection, Err: err}
}

func checkDimension(records []Record, dimension int) error {
	if dimension <= 0 {
		return nil
	}
	for i, r := range records {
		if len(r.Vector) != dimension {
			return fmt.Errorf("%w: record %d (%s) has %d, want %d",
				ErrDimensionMismatch, i, r.ID, len(r.Vector), dimension)
		}
	}
	return nil
}
