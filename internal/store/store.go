// Package store defines the metadata records behind the RAG pipelines and
// the ports used to persist them.
//
// A project owns its assets (uploaded files) and chunks (embeddable text).
// Chunks are read back page by page during indexing; a page shorter than
// the page size, or empty, ends the scan.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on a uniqueness violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidProjectID is returned for empty or non-alphanumeric ids.
	ErrInvalidProjectID = errors.New("project id must be a non-empty alphanumeric string")

	// ErrInvalidChunk is returned for chunks that violate their invariants.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// AssetTypeFile marks assets backed by an uploaded file.
const AssetTypeFile = "file"

// Project is a tenant namespace. It is created on first reference and never
// mutated afterwards.
type Project struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a stored source file.
type Asset struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"project_id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Size      int64          `json:"size"`
	Config    map[string]any `json:"config,omitempty"`
	PushedAt  time.Time      `json:"pushed_at"`
}

// DataChunk is a unit of embeddable text.
type DataChunk struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"project_id"`
	AssetID   int64          `json:"asset_id,omitempty"` // zero when not tied to an asset
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Order     int            `json:"order"`
}

// ValidateProjectID enforces the alphanumeric project id rule.
func ValidateProjectID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidProjectID
	}
	for _, r := range id {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
		}
	}
	return nil
}

// Validate checks the chunk invariants: non-blank text and a positive order.
func (c DataChunk) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: text must not be empty", ErrInvalidChunk)
	}
	if c.Order <= 0 {
		return fmt.Errorf("%w: order must be positive, got %d", ErrInvalidChunk, c.Order)
	}
	return nil
}

// ProjectStore persists projects.
type ProjectStore interface {
	GetOrCreateProject(ctx context.Context, projectID string) (*Project, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
}

// AssetStore persists uploaded file records.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, projectID, name string) (*Asset, error)
	ListAssets(ctx context.Context, projectID, assetType string) ([]Asset, error)
}

// ChunkStore persists chunks and serves them to the indexing pipeline.
type ChunkStore interface {
	// InsertChunks writes chunks in transactions of batchSize and returns
	// the number written.
	InsertChunks(ctx context.Context, chunks []DataChunk, batchSize int) (int, error)

	// GetChunksPage returns page (1-based) of a project's chunks ordered by
	// id. An empty slice means there are no more pages.
	GetChunksPage(ctx context.Context, projectID string, page, pageSize int) ([]DataChunk, error)

	DeleteChunksByProject(ctx context.Context, projectID string) (int, error)
	DeleteChunksByAsset(ctx context.Context, projectID string, assetID int64) (int, error)
	CountChunks(ctx context.Context, projectID string) (int, error)
}
