package rag

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/collections"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// pointNamespace scopes chunk-derived point ids.
var pointNamespace = uuid.MustParse("6f1c8a52-3d0e-5b7a-9c41-2e8d7f5a0b13")

// IndexResult summarises a completed IndexProject run.
type IndexResult struct {
	Inserted int `json:"inserted_items_count"`
	Pages    int `json:"pages"`
}

// IndexProject embeds every chunk of projectID and writes the vectors to the
// project's collection.
//
// With doReset the collection is dropped and recreated first; otherwise it is
// created only if absent. Chunks are read page by page until the chunk store
// returns an empty page. Each page is embedded as one batch and inserted
// before the next page is read, so a failure leaves earlier pages in place and
// reports them in IndexingError.Inserted.
//
// With positional point ids every run numbers points from zero, so running
// twice without reset against an append-only backend duplicates points.
// Chunk-derived ids make reruns overwrite the same points instead.
func (s *Service) IndexProject(ctx context.Context, projectID string, doReset bool) (*IndexResult, error) {
	projectID, err := normaliseProject(projectID)
	if err != nil {
		return nil, err
	}
	release, err := s.acquire(projectID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	ctx = logging.WithProjectID(ctx, projectID)
	ctx, span := s.tracer.Start(ctx, "rag.IndexProject", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Bool("do_reset", doReset),
		attribute.String("point_ids", s.cfg.PointIDs),
	))
	defer span.End()

	result, err := s.indexProject(ctx, projectID, doReset)
	s.metrics.record(ctx, "index", resultOf(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "indexing failed")
		s.logger.Error(ctx, "indexing failed", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("inserted", result.Inserted),
		attribute.Int("pages", result.Pages),
	)
	s.logger.Info(ctx, "project indexed",
		zap.Int("inserted", result.Inserted),
		zap.Int("pages", result.Pages),
		zap.Bool("do_reset", doReset),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *Service) indexProject(ctx context.Context, projectID string, doReset bool) (*IndexResult, error) {
	name := collections.NameFor(projectID)
	dim := s.emb.Dimension()

	created, err := s.vectors.CreateCollection(ctx, name, dim, doReset)
	if err != nil {
		return nil, &IndexingError{ProjectID: projectID, Err: fmt.Errorf("preparing collection %s: %w", name, err)}
	}
	s.logger.Debug(ctx, "collection ready",
		zap.String("collection", name),
		zap.Int("dimension", dim),
		zap.Bool("created", created))

	result := &IndexResult{}
	cursor := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, s.pageError(projectID, page, result, err)
		}

		chunks, err := s.chunks.GetChunksPage(ctx, projectID, page, s.cfg.PageSize)
		if err != nil {
			return nil, s.pageError(projectID, page, result, fmt.Errorf("reading chunks: %w", err))
		}
		if len(chunks) == 0 {
			break
		}

		n, err := s.indexPage(ctx, name, projectID, chunks, cursor)
		if err != nil {
			return nil, s.pageError(projectID, page, result, err)
		}
		s.metrics.indexed(ctx, n)

		cursor += n
		result.Inserted += n
		result.Pages++
		s.logger.Trace(ctx, "page indexed", zap.Int("page", page), zap.Int("points", n))
	}
	return result, nil
}

func (s *Service) indexPage(ctx context.Context, collection, projectID string, chunks []store.DataChunk, cursor int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "rag.indexPage", trace.WithAttributes(
		attribute.Int("chunks", len(chunks)),
		attribute.Int("cursor", cursor),
	))
	defer span.End()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.emb.EmbedBatch(ctx, texts, llm.PurposeDocument)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:       s.pointID(projectID, c, cursor+i),
			Text:     c.Text,
			Vector:   vectors[i],
			Metadata: chunkMetadata(c),
		}
	}

	if err := s.vectors.InsertMany(ctx, collection, records, s.cfg.InsertBatchSize); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return 0, fmt.Errorf("inserting points: %w", err)
	}
	return len(records), nil
}

func (s *Service) pointID(projectID string, c store.DataChunk, position int) vectorstore.PointID {
	if s.cfg.PointIDs == config.PointIDsChunk {
		return ChunkPointID(projectID, c.ID)
	}
	return vectorstore.NumericID(uint64(position))
}

// ChunkPointID derives a stable UUIDv5 point id from a chunk's identity.
func ChunkPointID(projectID string, chunkID int64) vectorstore.PointID {
	name := projectID + "/" + strconv.FormatInt(chunkID, 10)
	return vectorstore.UUIDPointID(uuid.NewSHA1(pointNamespace, []byte(name)).String())
}

func chunkMetadata(c store.DataChunk) map[string]any {
	md := make(map[string]any, len(c.Metadata)+3)
	maps.Copy(md, c.Metadata)
	md["chunk_id"] = c.ID
	md["chunk_order"] = c.Order
	if c.AssetID != 0 {
		md["asset_id"] = c.AssetID
	}
	return md
}

func (s *Service) pageError(projectID string, page int, result *IndexResult, err error) error {
	return &IndexingError{ProjectID: projectID, Page: page, Inserted: result.Inserted, Err: err}
}

// ResetCollection drops the project's collection. It reports false when there
// was no collection.
func (s *Service) ResetCollection(ctx context.Context, projectID string) (bool, error) {
	projectID, err := normaliseProject(projectID)
	if err != nil {
		return false, err
	}
	ctx = logging.WithProjectID(ctx, projectID)
	ctx, span := s.tracer.Start(ctx, "rag.ResetCollection")
	defer span.End()

	deleted, err := s.vectors.DeleteCollection(ctx, collections.NameFor(projectID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return false, fmt.Errorf("resetting collection: %w", err)
	}
	s.logger.Info(ctx, "collection reset", zap.Bool("deleted", deleted))
	return deleted, nil
}

// CollectionInfo describes the project's collection. A project that was never
// indexed yields an error wrapping vectorstore.ErrCollectionNotFound.
func (s *Service) CollectionInfo(ctx context.Context, projectID string) (*vectorstore.CollectionInfo, error) {
	projectID, err := normaliseProject(projectID)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "rag.CollectionInfo",
		trace.WithAttributes(attribute.String("project.id", projectID)))
	defer span.End()

	info, err := s.vectors.GetCollectionInfo(ctx, collections.NameFor(projectID))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("collection info: %w", err)
	}
	return info, nil
}

func normaliseProject(projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if err := store.ValidateProjectID(projectID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	return projectID, nil
}
