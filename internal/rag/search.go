package rag

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/collections"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Search returns the documents of projectID closest to query, best first.
//
// A query that cannot be embedded (empty text, provider failure, empty
// vector) has no results: Search logs a warning and returns an empty slice.
// Vector store failures are returned as errors. A non-positive limit uses the
// configured default.
func (s *Service) Search(ctx context.Context, projectID, query string, limit int) ([]vectorstore.RetrievedDocument, error) {
	projectID, err := normaliseProject(projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}

	start := time.Now()
	ctx = logging.WithProjectID(ctx, projectID)
	ctx, span := s.tracer.Start(ctx, "rag.Search", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Int("limit", limit),
	))
	defer span.End()

	docs, err := s.search(ctx, projectID, query, limit)
	s.metrics.record(ctx, "search", resultOf(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(docs)))
	return docs, nil
}

func (s *Service) search(ctx context.Context, projectID, query string, limit int) ([]vectorstore.RetrievedDocument, error) {
	vector, err := s.emb.EmbedOne(ctx, query, llm.PurposeQuery)
	if err != nil {
		s.logger.Warn(ctx, "query embedding failed, returning no results", zap.Error(err))
		return []vectorstore.RetrievedDocument{}, nil
	}
	if len(vector) == 0 {
		s.logger.Warn(ctx, "query embedding is empty, returning no results")
		return []vectorstore.RetrievedDocument{}, nil
	}

	docs, err := s.vectors.SearchByVector(ctx, collections.NameFor(projectID), vector, limit)
	if err != nil {
		return nil, fmt.Errorf("searching project %s: %w", projectID, err)
	}
	if docs == nil {
		docs = []vectorstore.RetrievedDocument{}
	}
	s.logger.Debug(ctx, "search completed", zap.Int("limit", limit), zap.Int("results", len(docs)))
	return docs, nil
}
