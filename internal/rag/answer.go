package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/templates"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// NoContext replaces the documents section when no document rendered to text.
const NoContext = "No relevant context found."

// Answer is a generated reply with the prompt that produced it.
type Answer struct {
	Text        string        `json:"answer"`
	FullPrompt  string        `json:"full_prompt"`
	ChatHistory []llm.Message `json:"chat_history"`
}

// Answer retrieves up to limit documents for query and asks the generation
// provider to answer from them.
//
// When retrieval finds nothing Answer returns nil, nil and the generation
// provider is not called. Template and generation failures are returned
// wrapped; an empty reply surfaces as llm.ErrGenerationFailed.
func (s *Service) Answer(ctx context.Context, projectID, query string, limit int) (*Answer, error) {
	docs, err := s.Search(ctx, projectID, query, limit)
	if err != nil {
		return nil, err
	}

	projectID, _ = normaliseProject(projectID)
	ctx = logging.WithProjectID(ctx, projectID)
	if len(docs) == 0 {
		s.logger.Debug(ctx, "no documents retrieved, skipping generation")
		return nil, nil
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "rag.Answer", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Int("documents", len(docs)),
	))
	defer span.End()

	answer, err := s.answer(ctx, query, docs)
	s.metrics.record(ctx, "answer", resultOf(err), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")
		s.logger.Warn(ctx, "answer failed", zap.Error(err))
		return nil, err
	}
	return answer, nil
}

func (s *Service) answer(ctx context.Context, query string, docs []vectorstore.RetrievedDocument) (*Answer, error) {
	system, docsSection, footer, err := s.renderPrompt(query, docs)
	if err != nil {
		return nil, err
	}

	fullPrompt := docsSection + "\n\n" + footer
	history := []llm.Message{s.gen.ConstructPrompt(system, llm.RoleSystem)}

	text, err := s.gen.GenerateText(ctx, fullPrompt, history)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return &Answer{Text: text, FullPrompt: fullPrompt, ChatHistory: history}, nil
}

// renderPrompt resolves the system prompt, the footer and one rendering per
// document concurrently. Document renderings keep retrieval order.
func (s *Service) renderPrompt(query string, docs []vectorstore.RetrievedDocument) (system, documents, footer string, err error) {
	rendered := make([]string, len(docs))
	var g errgroup.Group

	g.Go(func() error {
		var err error
		system, err = s.template(templates.KeySystemPrompt, nil)
		return err
	})
	g.Go(func() error {
		var err error
		footer, err = s.template(templates.KeyFooterPrompt, map[string]any{"query": query})
		return err
	})
	for i, doc := range docs {
		g.Go(func() error {
			var err error
			rendered[i], err = s.template(templates.KeyDocumentPrompt, map[string]any{
				"doc_num":    i + 1,
				"chunk_text": s.gen.ProcessText(doc.Text),
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", "", err
	}

	documents = strings.Join(rendered, "\n")
	if strings.TrimSpace(documents) == "" {
		documents = NoContext
	}
	return system, documents, footer, nil
}

func (s *Service) template(key string, vars map[string]any) (string, error) {
	out, err := s.templates.Get(templates.GroupRAG, key, vars)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", key, err)
	}
	return out, nil
}
