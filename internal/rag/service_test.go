package rag_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/collections"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/templates"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

type harness struct {
	svc     *rag.Service
	emb     *lexicalEmbedder
	gen     *countingGenerator
	chunks  *pagedChunks
	vectors vectorstore.Store
	logger  *logging.TestLogger
	tel     *telemetry.TestTelemetry
}

type harnessOption func(*rag.Deps, *rag.Config)

func withVectors(v vectorstore.Store) harnessOption {
	return func(d *rag.Deps, _ *rag.Config) { d.Vectors = v }
}

func withPageSize(n int) harnessOption {
	return func(_ *rag.Deps, c *rag.Config) { c.PageSize = n }
}

func withPointIDs(mode string) harnessOption {
	return func(_ *rag.Deps, c *rag.Config) { c.PointIDs = mode }
}

func withTemplates(p *templates.Parser) harnessOption {
	return func(d *rag.Deps, _ *rag.Config) { d.Templates = p }
}

func newMemoryStore(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func newHarness(t *testing.T, chunks *pagedChunks, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		emb:    newLexicalEmbedder(),
		gen:    &countingGenerator{reply: "Cats are felines."},
		chunks: chunks,
		logger: logging.NewTestLogger(),
		tel:    telemetry.NewTestTelemetry(),
	}
	deps := rag.Deps{
		Generation: h.gen,
		Embedding:  h.emb,
		Vectors:    newMemoryStore(t),
		Chunks:     chunks,
		Templates:  templates.NewDefault("en", "en"),
		Logger:     h.logger.Logger,
		Tracer:     h.tel.Tracer("rag-test"),
		Meter:      h.tel.Meter("rag-test"),
	}
	cfg := rag.DefaultConfig()
	for _, opt := range opts {
		opt(&deps, &cfg)
	}
	svc, err := rag.New(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	h.vectors = deps.Vectors
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := rag.New(rag.Deps{}, rag.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation provider")
	assert.Contains(t, err.Error(), "vector store")

	deps := rag.Deps{
		Generation: &countingGenerator{},
		Embedding:  newLexicalEmbedder(),
		Vectors:    newAppendStore(),
		Chunks:     newPagedChunks("p1"),
		Templates:  templates.NewDefault("en", "en"),
	}
	_, err = rag.New(deps, rag.Config{PointIDs: "random"})
	assert.ErrorIs(t, err, rag.ErrInvalidConfig)

	svc, err := rag.New(deps, rag.Config{})
	require.NoError(t, err)
	assert.Equal(t, rag.DefaultConfig(), svc.Config())
}

func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("demo1", "cat", "dog", "car"))

	result, err := h.svc.IndexProject(ctx, "demo1", true)
	require.NoError(t, err)
	assert.Equal(t, &rag.IndexResult{Inserted: 3, Pages: 1}, result)

	docs, err := h.svc.Search(ctx, "demo1", "feline", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "cat", docs[0].Text)

	all, err := h.svc.Search(ctx, "demo1", "feline", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cat", all[0].Text)
	assert.Greater(t, all[0].Score, all[1].Score)

	info, err := h.svc.CollectionInfo(ctx, "demo1")
	require.NoError(t, err)
	assert.Equal(t, collections.NameFor("demo1"), info.Name)
	assert.Equal(t, 3, info.PointCount)
	assert.Equal(t, 4, info.VectorSize)

	h.tel.AssertSpanExists(t, "rag.IndexProject")
	h.tel.AssertSpanAttribute(t, "rag.IndexProject", "inserted", int64(3))
	h.tel.AssertSpanExists(t, "rag.Search")
	assert.Contains(t, h.tel.MetricNames(ctx), "ragd.rag.operations_total")
	h.logger.AssertLogged(t, zapcore.InfoLevel, "project indexed")
}

func TestIndexProject_EmptyFirstPage(t *testing.T) {
	ctx := context.Background()
	chunks := newPagedChunks("empty")
	h := newHarness(t, chunks)

	result, err := h.svc.IndexProject(ctx, "empty", true)
	require.NoError(t, err)
	assert.Equal(t, &rag.IndexResult{Inserted: 0, Pages: 0}, result)
	assert.Equal(t, 1, chunks.PageCalls())

	info, err := h.svc.CollectionInfo(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, info.PointCount)
}

func TestIndexProject_Pagination(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		pageSize  int
		wantPages int
	}{
		{"single partial page", 3, 50, 1},
		{"exact pages", 100, 50, 2},
		{"trailing partial page", 120, 50, 3},
		{"page size one", 5, 1, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts := make([]string, tt.chunks)
			for i := range texts {
				texts[i] = fmt.Sprintf("chunk %d about a dog", i)
			}
			chunks := newPagedChunks("p1", texts...)
			vectors := newAppendStore()
			h := newHarness(t, chunks, withVectors(vectors), withPageSize(tt.pageSize))

			result, err := h.svc.IndexProject(context.Background(), "p1", true)
			require.NoError(t, err)
			assert.Equal(t, tt.chunks, result.Inserted)
			assert.Equal(t, tt.wantPages, result.Pages)
			assert.Equal(t, tt.wantPages+1, chunks.PageCalls(), "stops at the first empty page")

			points := vectors.points(collections.NameFor("p1"))
			require.Len(t, points, tt.chunks)
			for i, p := range points {
				assert.Equal(t, uint64(i), p.ID.Num(), "positional ids are contiguous across pages")
			}
		})
	}
}

func TestIndexProject_ResetVersusAppend(t *testing.T) {
	ctx := context.Background()
	vectors := newAppendStore()
	h := newHarness(t, newPagedChunks("p1", "cat", "dog", "car"), withVectors(vectors))
	name := collections.NameFor("p1")

	_, err := h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)
	_, err = h.svc.IndexProject(ctx, "p1", false)
	require.NoError(t, err)

	info, err := h.svc.CollectionInfo(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 6, info.PointCount, "positional ids duplicate points on a non-reset rerun")
	points := vectors.points(name)
	assert.Equal(t, points[0].ID, points[3].ID)

	_, err = h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)
	info, err = h.svc.CollectionInfo(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, info.PointCount, "reset leaves exactly the indexed chunks")
}

func TestIndexProject_ChunkPointIDs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("p1", "cat", "dog", "car"), withPointIDs(config.PointIDsChunk))

	for range 3 {
		result, err := h.svc.IndexProject(ctx, "p1", false)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Inserted)
	}

	info, err := h.svc.CollectionInfo(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, info.PointCount, "chunk-derived ids overwrite on rerun")
}

func TestChunkPointID(t *testing.T) {
	a := rag.ChunkPointID("p1", 7)
	assert.True(t, a.IsUUID())
	assert.Equal(t, a, rag.ChunkPointID("p1", 7))
	assert.NotEqual(t, a, rag.ChunkPointID("p1", 8))
	assert.NotEqual(t, a, rag.ChunkPointID("p2", 7))
}

func TestIndexProject_FailureKeepsEarlierPages(t *testing.T) {
	texts := make([]string, 120)
	for i := range texts {
		texts[i] = "a car"
	}

	t.Run("embedding fails on page 2", func(t *testing.T) {
		vectors := newAppendStore()
		h := newHarness(t, newPagedChunks("p1", texts...), withVectors(vectors))
		h.emb.failCall = 2

		result, err := h.svc.IndexProject(context.Background(), "p1", true)
		require.Error(t, err)
		assert.Nil(t, result)

		var ierr *rag.IndexingError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, "p1", ierr.ProjectID)
		assert.Equal(t, 2, ierr.Page)
		assert.Equal(t, 50, ierr.Inserted)
		assert.ErrorIs(t, err, llm.ErrEmbeddingFailed)
		assert.Len(t, vectors.points(collections.NameFor("p1")), 50)
	})

	t.Run("insert fails on page 3", func(t *testing.T) {
		vectors := newAppendStore()
		vectors.failInsert = 3
		h := newHarness(t, newPagedChunks("p1", texts...), withVectors(vectors))

		_, err := h.svc.IndexProject(context.Background(), "p1", true)
		var ierr *rag.IndexingError
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, 3, ierr.Page)
		assert.Equal(t, 100, ierr.Inserted)

		var operr *vectorstore.OperationError
		assert.ErrorAs(t, err, &operr)
		h.logger.AssertLogged(t, zapcore.ErrorLevel, "indexing failed")
	})
}

func TestIndexProject_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, newPagedChunks("p1", "cat"), withVectors(newAppendStore()))

	_, err := h.svc.IndexProject(ctx, "p1", true)
	var ierr *rag.IndexingError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ierr.Inserted)
}

func TestIndexProject_InvalidProject(t *testing.T) {
	h := newHarness(t, newPagedChunks("p1"))
	for _, id := range []string{"", "  ", "a/b", "../x"} {
		_, err := h.svc.IndexProject(context.Background(), id, true)
		assert.ErrorIs(t, err, rag.ErrInvalidProject, "project id %q", id)
	}
}

func TestIndexProject_RejectsConcurrentRunForSameProject(t *testing.T) {
	ctx := context.Background()
	chunks := newPagedChunks("p1", "cat", "dog")
	chunks.add("p2", "car")
	h := newHarness(t, chunks, withVectors(newAppendStore()))
	gate := make(chan struct{})
	h.emb.gate = gate

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.IndexProject(ctx, "p1", true)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.svc.Indexing("p1") }, time.Second, 5*time.Millisecond)

	_, err := h.svc.IndexProject(ctx, "p1", false)
	assert.ErrorIs(t, err, rag.ErrIndexInProgress)
	assert.False(t, h.svc.Indexing("p2"))

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, h.svc.Indexing("p1"))

	result, err := h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
}

func TestResetCollection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("p1", "cat"))

	deleted, err := h.svc.ResetCollection(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)

	deleted, err = h.svc.ResetCollection(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = h.svc.CollectionInfo(ctx, "p1")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestSearch_UnembeddableQueryReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("p1", "cat"))
	_, err := h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)

	docs, err := h.svc.Search(ctx, "p1", "", 5)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "query embedding failed")
}

func TestSearch_StoreFailureIsAnError(t *testing.T) {
	vectors := newAppendStore()
	vectors.searchErr = &vectorstore.OperationError{Backend: "fake", Op: "search", Err: vectorstore.ErrNotConnected}
	h := newHarness(t, newPagedChunks("p1", "cat"), withVectors(vectors))

	docs, err := h.svc.Search(context.Background(), "p1", "cat", 5)
	assert.Nil(t, docs)
	assert.ErrorIs(t, err, vectorstore.ErrNotConnected)
}

func TestSearch_DefaultLimit(t *testing.T) {
	ctx := context.Background()
	texts := make([]string, 15)
	for i := range texts {
		texts[i] = "dog"
	}
	h := newHarness(t, newPagedChunks("p1", texts...), withVectors(newAppendStore()))
	_, err := h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)

	docs, err := h.svc.Search(ctx, "p1", "puppy", 0)
	require.NoError(t, err)
	assert.Len(t, docs, rag.DefaultConfig().SearchLimit)
}

func TestAnswer_NoDocumentsSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("p1"), withVectors(newAppendStore()))
	_, err := h.svc.IndexProject(ctx, "p1", true)
	require.NoError(t, err)

	answer, err := h.svc.Answer(ctx, "p1", "feline", 3)
	require.NoError(t, err)
	assert.Nil(t, answer)
	assert.Equal(t, 0, h.gen.Calls())

	answer, err = h.svc.Answer(ctx, "p1", "", 3)
	require.NoError(t, err)
	assert.Nil(t, answer)
	assert.Equal(t, 0, h.gen.Calls())
}

func TestAnswer_AssemblesPrompt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newPagedChunks("demo1", "cat", "dog", "car"))
	_, err := h.svc.IndexProject(ctx, "demo1", true)
	require.NoError(t, err)

	answer, err := h.svc.Answer(ctx, "demo1", "feline", 2)
	require.NoError(t, err)
	require.NotNil(t, answer)

	assert.Equal(t, "Cats are felines.", answer.Text)
	assert.Equal(t, 1, h.gen.Calls())
	assert.Equal(t, answer.FullPrompt, h.gen.prompt)

	require.Len(t, answer.ChatHistory, 1)
	assert.Equal(t, "system", answer.ChatHistory[0].Role)
	assert.Contains(t, answer.ChatHistory[0].Content, "only the documents provided")
	assert.Equal(t, answer.ChatHistory, h.gen.history)

	assert.Contains(t, answer.FullPrompt, "## Document No: 1\n### Content: cat")
	assert.Contains(t, answer.FullPrompt, "## Document No: 2")
	assert.NotContains(t, answer.FullPrompt, "## Document No: 3")
	assert.Contains(t, answer.FullPrompt, "## Question:\nfeline")
	assert.Less(t,
		strings.Index(answer.FullPrompt, "## Document No: 1"),
		strings.Index(answer.FullPrompt, "## Document No: 2"))
	assert.Less(t,
		strings.Index(answer.FullPrompt, "## Document No: 2"),
		strings.Index(answer.FullPrompt, "## Question:"))

	h.tel.AssertSpanExists(t, "rag.Answer")
}

func TestAnswer_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing template", func(t *testing.T) {
		fsys := fstest.MapFS{
			"en/rag.toml": {Data: []byte(`system_prompt = "sys"` + "\n" + `document_prompt = "$doc_num $chunk_text"`)},
		}
		h := newHarness(t, newPagedChunks("p1", "cat"), withTemplates(templates.New(fsys, "en", "en")))
		_, err := h.svc.IndexProject(ctx, "p1", true)
		require.NoError(t, err)

		answer, err := h.svc.Answer(ctx, "p1", "cat", 1)
		assert.Nil(t, answer)
		assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
		assert.Equal(t, 0, h.gen.Calls())
	})

	t.Run("generation failure", func(t *testing.T) {
		h := newHarness(t, newPagedChunks("p1", "cat"))
		h.gen.err = &llm.GenerationError{Provider: "fake", Err: errors.New("empty response")}
		_, err := h.svc.IndexProject(ctx, "p1", true)
		require.NoError(t, err)

		answer, err := h.svc.Answer(ctx, "p1", "cat", 1)
		assert.Nil(t, answer)
		assert.ErrorIs(t, err, llm.ErrGenerationFailed)
	})
}

func TestService_NonASCIIProjectIDs(t *testing.T) {
	ctx := context.Background()
	for _, project := range []string{"café", "مشروع١"} {
		t.Run(project, func(t *testing.T) {
			require.NoError(t, store.ValidateProjectID(project))
			h := newHarness(t, newPagedChunks(project, "cat", "dog"))

			result, err := h.svc.IndexProject(ctx, project, true)
			require.NoError(t, err)
			assert.Equal(t, 2, result.Inserted)

			docs, err := h.svc.Search(ctx, project, "feline", 1)
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "cat", docs[0].Text)
		})
	}
}
