package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
)

const defaultChunkInsertBatch = 100

// Stores groups the persistence ports the processor writes to.
type Stores struct {
	Projects store.ProjectStore
	Assets   store.AssetStore
	Chunks   store.ChunkStore
}

// Processor uploads files and turns them into chunks.
type Processor struct {
	files    *FileStore
	stores   Stores
	redactor *Redactor
	logger   *logging.Logger
}

// NewProcessor builds a Processor. redactor may be nil to store chunk text
// unchanged.
func NewProcessor(files *FileStore, stores Stores, redactor *Redactor, logger *logging.Logger) (*Processor, error) {
	if files == nil {
		return nil, fmt.Errorf("file store cannot be nil")
	}
	if stores.Projects == nil || stores.Assets == nil || stores.Chunks == nil {
		return nil, fmt.Errorf("project, asset and chunk stores are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{files: files, stores: stores, redactor: redactor, logger: logger.Named("ingest")}, nil
}

// Upload is one incoming file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload validates and stores a file, then records it as an asset of the
// project, creating the project on first use.
func (p *Processor) Upload(ctx context.Context, projectID string, up Upload) (*store.Asset, error) {
	if err := store.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if err := p.files.Validate(up.ContentType, up.Size); err != nil {
		return nil, err
	}
	ctx = logging.WithProjectID(ctx, projectID)

	if _, err := p.stores.Projects.GetOrCreateProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	name, size, err := p.files.Save(projectID, up.FileName, up.Body)
	if err != nil {
		p.logger.Error(ctx, "file upload failed", zap.String("file", up.FileName), zap.Error(err))
		return nil, err
	}

	asset := &store.Asset{
		ProjectID: projectID,
		Type:      store.AssetTypeFile,
		Name:      name,
		Size:      size,
		Config:    map[string]any{"content_type": normaliseType(up.ContentType), "original_name": up.FileName},
	}
	if err := p.stores.Assets.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("recording asset: %w", err)
	}
	p.logger.Info(ctx, "file uploaded", zap.String("file_id", name), zap.Int64("size", size))
	return asset, nil
}

// ProcessRequest selects what to chunk. An empty FileID means every file of
// the project.
type ProcessRequest struct {
	ProjectID    string
	FileID       string
	ChunkSize    int
	ChunkOverlap int
	DoReset      bool
}

// ProcessResult reports what a Process call stored.
type ProcessResult struct {
	InsertedChunks int      `json:"inserted_chunks"`
	ProcessedFiles int      `json:"processed_files"`
	SkippedFiles   []string `json:"skipped_files,omitempty"`
	Redactions     int      `json:"redactions,omitempty"`
}

// Process loads, splits and stores the selected files. Files that cannot be
// loaded are skipped and listed in the result. With DoReset the project's
// existing chunks are deleted first.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if err := store.ValidateProjectID(req.ProjectID); err != nil {
		return nil, err
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = DefaultChunkSize
	}
	ctx = logging.WithProjectID(ctx, req.ProjectID)

	if _, err := p.stores.Projects.GetOrCreateProject(ctx, req.ProjectID); err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	assets, err := p.selectAssets(ctx, req.ProjectID, req.FileID)
	if err != nil {
		return nil, err
	}

	if req.DoReset {
		n, err := p.stores.Chunks.DeleteChunksByProject(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("resetting chunks: %w", err)
		}
		p.logger.Info(ctx, "project chunks reset", zap.Int("deleted", n))
	}

	result := &ProcessResult{}
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks, redactions, err := p.chunkAsset(ctx, req, asset)
		if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrUnsupportedFile) {
			p.logger.Warn(ctx, "skipping file", zap.String("file_id", asset.Name), zap.Error(err))
			result.SkippedFiles = append(result.SkippedFiles, asset.Name)
			continue
		}
		if err != nil {
			return nil, err
		}

		n, err := p.stores.Chunks.InsertChunks(ctx, chunks, defaultChunkInsertBatch)
		if err != nil {
			return nil, fmt.Errorf("storing chunks of %s: %w", asset.Name, err)
		}
		result.InsertedChunks += n
		result.ProcessedFiles++
		result.Redactions += redactions
	}

	p.logger.Info(ctx, "files processed",
		zap.Int("inserted_chunks", result.InsertedChunks),
		zap.Int("processed_files", result.ProcessedFiles),
		zap.Int("skipped_files", len(result.SkippedFiles)))
	return result, nil
}

func (p *Processor) selectAssets(ctx context.Context, projectID, fileID string) ([]store.Asset, error) {
	if fileID != "" {
		asset, err := p.stores.Assets.GetAsset(ctx, projectID, fileID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
		}
		if err != nil {
			return nil, err
		}
		return []store.Asset{*asset}, nil
	}

	assets, err := p.stores.Assets.ListAssets(ctx, projectID, store.AssetTypeFile)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrNoFiles
	}
	return assets, nil
}

func (p *Processor) chunkAsset(ctx context.Context, req ProcessRequest, asset store.Asset) ([]store.DataChunk, int, error) {
	path, err := p.files.Path(req.ProjectID, asset.Name)
	if err != nil {
		return nil, 0, err
	}
	docs, err := LoadFile(ctx, path)
	if err != nil {
		return nil, 0, err
	}

	// Redact whole documents so a secret is never split across chunks.
	redactions := 0
	if p.redactor != nil {
		for i := range docs {
			var found []Redaction
			docs[i].PageContent, found = p.redactor.Redact(docs[i].PageContent)
			redactions += len(found)
		}
	}

	pieces, err := Split(docs, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return nil, 0, err
	}

	chunks := make([]store.DataChunk, 0, len(pieces))
	for _, piece := range pieces {
		text := piece.PageContent
		if strings.TrimSpace(text) == "" {
			continue
		}
		md := make(map[string]any, len(piece.Metadata))
		maps.Copy(md, piece.Metadata)
		chunks = append(chunks, store.DataChunk{
			ProjectID: req.ProjectID,
			AssetID:   asset.ID,
			Text:      text,
			Metadata:  md,
			Order:     len(chunks) + 1,
		})
	}
	if redactions > 0 {
		p.logger.Warn(ctx, "secrets redacted from chunks",
			zap.String("file_id", asset.Name), zap.Int("count", redactions))
	}
	return chunks, redactions, nil
}
