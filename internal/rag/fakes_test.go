package rag_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// lexicalEmbedder maps each known word to one dimension. Synonyms share a
// dimension, so "feline" lands on "cat". Texts with no known word use the
// last dimension.
type lexicalEmbedder struct {
	vocab    map[string]int
	dim      int
	mu       sync.Mutex
	calls    int
	failCall int // 1-based EmbedBatch call that fails; 0 never
	gate     chan struct{}
}

func newLexicalEmbedder() *lexicalEmbedder {
	vocab := map[string]int{
		"cat": 0, "feline": 0, "kitten": 0,
		"dog": 1, "canine": 1, "puppy": 1,
		"car": 2, "vehicle": 2, "automobile": 2,
	}
	return &lexicalEmbedder{vocab: vocab, dim: 4}
}

func (e *lexicalEmbedder) SetEmbeddingModel(string, int) {}
func (e *lexicalEmbedder) Dimension() int               { return e.dim }

func (e *lexicalEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	hit := false
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if i, ok := e.vocab[strings.Trim(w, ".,!?")]; ok {
			v[i]++
			hit = true
		}
	}
	if !hit {
		v[e.dim-1] = 1
	}
	return v
}

func (e *lexicalEmbedder) EmbedOne(_ context.Context, text string, _ llm.Purpose) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyInput
	}
	return e.vector(text), nil
}

func (e *lexicalEmbedder) EmbedBatch(_ context.Context, texts []string, _ llm.Purpose) ([][]float32, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.failCall == call {
		return nil, &llm.EmbeddingError{Provider: "fake", Offset: 0, Size: len(texts), Attempts: 3, Err: errors.New("rate limited")}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// countingGenerator records every GenerateText call.
type countingGenerator struct {
	mu      sync.Mutex
	calls   int
	prompt  string
	history []llm.Message
	reply   string
	err     error
}

func (g *countingGenerator) SetGenerationModel(string) {}

func (g *countingGenerator) GenerateText(_ context.Context, prompt string, history []llm.Message, _ ...llm.GenerateOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompt = prompt
	g.history = history
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *countingGenerator) ConstructPrompt(text string, role llm.Role) llm.Message {
	return llm.Message{Role: role.String(), Content: text}
}

func (g *countingGenerator) ProcessText(text string) string {
	return llm.TruncateText(text, 1024)
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// pagedChunks serves a fixed chunk list through the paginator.
type pagedChunks struct {
	mu        sync.Mutex
	chunks    map[string][]store.DataChunk
	pageCalls int
}

func newPagedChunks(projectID string, texts ...string) *pagedChunks {
	p := &pagedChunks{chunks: map[string][]store.DataChunk{}}
	p.add(projectID, texts...)
	return p
}

func (p *pagedChunks) add(projectID string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range texts {
		n := len(p.chunks[projectID])
		p.chunks[projectID] = append(p.chunks[projectID], store.DataChunk{
			ID:        int64(n + 1),
			ProjectID: projectID,
			Text:      t,
			Metadata:  map[string]any{"source": "test.txt"},
			Order:     n + 1,
		})
	}
}

func (p *pagedChunks) InsertChunks(_ context.Context, chunks []store.DataChunk, _ int) (int, error) {
	for _, c := range chunks {
		p.add(c.ProjectID, c.Text)
	}
	return len(chunks), nil
}

func (p *pagedChunks) GetChunksPage(_ context.Context, projectID string, page, pageSize int) ([]store.DataChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageCalls++
	all := p.chunks[projectID]
	from := (page - 1) * pageSize
	if from >= len(all) {
		return []store.DataChunk{}, nil
	}
	to := min(from+pageSize, len(all))
	return append([]store.DataChunk(nil), all[from:to]...), nil
}

func (p *pagedChunks) DeleteChunksByProject(_ context.Context, projectID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.chunks[projectID])
	delete(p.chunks, projectID)
	return n, nil
}

func (p *pagedChunks) DeleteChunksByAsset(context.Context, string, int64) (int, error) {
	return 0, nil
}

func (p *pagedChunks) CountChunks(_ context.Context, projectID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks[projectID]), nil
}

func (p *pagedChunks) PageCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCalls
}

// appendStore is a vector store that never overwrites: every insert adds
// points, whatever their ids.
type appendStore struct {
	mu          sync.Mutex
	collections map[string][]vectorstore.Record
	dims        map[string]int
	insertCalls int
	failInsert  int // 1-based InsertMany call that fails; 0 never
	searchErr   error
}

func newAppendStore() *appendStore {
	return &appendStore{collections: map[string][]vectorstore.Record{}, dims: map[string]int{}}
}

func (s *appendStore) Connect(context.Context) error    { return nil }
func (s *appendStore) Disconnect(context.Context) error { return nil }

func (s *appendStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *appendStore) ListCollections(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for n := range s.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *appendStore) CreateCollection(_ context.Context, name string, dim int, reset bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok && !reset {
		return false, nil
	}
	s.collections[name] = []vectorstore.Record{}
	s.dims[name] = dim
	return true, nil
}

func (s *appendStore) DeleteCollection(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	delete(s.collections, name)
	return ok, nil
}

func (s *appendStore) GetCollectionInfo(_ context.Context, name string) (*vectorstore.CollectionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	return &vectorstore.CollectionInfo{
		Name:       name,
		PointCount: len(points),
		VectorSize: s.dims[name],
		Distance:   vectorstore.DistanceDot,
		Status:     "green",
	}, nil
}

func (s *appendStore) InsertOne(ctx context.Context, name string, r vectorstore.Record) error {
	return s.InsertMany(ctx, name, []vectorstore.Record{r}, 1)
}

func (s *appendStore) InsertMany(_ context.Context, name string, records []vectorstore.Record, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.failInsert == s.insertCalls {
		return &vectorstore.OperationError{Backend: "fake", Op: "insert", Collection: name, Err: errors.New("unavailable")}
	}
	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	s.collections[name] = append(s.collections[name], records...)
	return nil
}

func (s *appendStore) SearchByVector(_ context.Context, name string, vector []float32, limit int) ([]vectorstore.RetrievedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	docs := make([]vectorstore.RetrievedDocument, 0, len(s.collections[name]))
	for _, r := range s.collections[name] {
		var score float64
		for i := range vector {
			score += float64(vector[i] * r.Vector[i])
		}
		docs = append(docs, vectorstore.RetrievedDocument{Text: r.Text, Score: score, Metadata: r.Metadata})
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *appendStore) points(name string) []vectorstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vectorstore.Record(nil), s.collections[name]...)
}

var (
	_ llm.EmbeddingProvider  = (*lexicalEmbedder)(nil)
	_ llm.GenerationProvider = (*countingGenerator)(nil)
	_ store.ChunkStore       = (*pagedChunks)(nil)
	_ vectorstore.Store      = (*appendStore)(nil)
)
