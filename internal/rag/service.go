// Package rag implements the retrieval-augmented generation pipelines.
//
// A Service is the application context shared by every request: it holds the
// generation and embedding providers, the vector store, the chunk store and
// the prompt templates, all constructed once at startup. Its methods are safe
// for concurrent use. Indexing runs for the same project are serialised by a
// per-project guard; runs for different projects proceed independently.
package rag

import (
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/templates"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/rag"

// Config tunes the pipelines.
type Config struct {
	// PageSize is the number of chunks embedded and inserted per page (default: 50).
	PageSize int

	// PointIDs selects point id assignment: config.PointIDsPositional or
	// config.PointIDsChunk (default: positional).
	PointIDs string

	// InsertBatchSize is passed to the vector store's InsertMany (default: 50).
	InsertBatchSize int

	// SearchLimit is used when a caller passes a non-positive limit (default: 10).
	SearchLimit int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:        50,
		PointIDs:        config.PointIDsPositional,
		InsertBatchSize: vectorstore.DefaultInsertBatchSize,
		SearchLimit:     10,
	}
}

// ConfigFrom extracts the pipeline settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PageSize:        cfg.Index.PageSize,
		PointIDs:        cfg.Index.PointIDs,
		InsertBatchSize: cfg.VectorDB.InsertBatchSize,
		SearchLimit:     cfg.Index.SearchLimit,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.PointIDs == "" {
		c.PointIDs = d.PointIDs
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = d.InsertBatchSize
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = d.SearchLimit
	}
}

// Deps are the shared handles a Service is built from. Logger, Tracer and
// Meter are optional.
type Deps struct {
	Generation llm.GenerationProvider
	Embedding  llm.EmbeddingProvider
	Vectors    vectorstore.Store
	Chunks     store.ChunkStore
	Templates  *templates.Parser
	Logger     *logging.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

// Service runs indexing, search and answer generation for projects.
type Service struct {
	cfg       Config
	gen       llm.GenerationProvider
	emb       llm.EmbeddingProvider
	vectors   vectorstore.Store
	chunks    store.ChunkStore
	templates *templates.Parser
	logger    *logging.Logger
	tracer    trace.Tracer
	metrics   *pipelineMetrics

	mu       sync.Mutex
	indexing map[string]struct{}
}

// New validates deps and returns a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	var missing []string
	if deps.Generation == nil {
		missing = append(missing, "generation provider")
	}
	if deps.Embedding == nil {
		missing = append(missing, "embedding provider")
	}
	if deps.Vectors == nil {
		missing = append(missing, "vector store")
	}
	if deps.Chunks == nil {
		missing = append(missing, "chunk store")
	}
	if deps.Templates == nil {
		missing = append(missing, "templates")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("rag: missing %s", strings.Join(missing, ", "))
	}

	cfg.applyDefaults()
	if cfg.PointIDs != config.PointIDsPositional && cfg.PointIDs != config.PointIDsChunk {
		return nil, fmt.Errorf("rag: %w: unknown point id strategy %q", ErrInvalidConfig, cfg.PointIDs)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	return &Service{
		cfg:       cfg,
		gen:       deps.Generation,
		emb:       deps.Embedding,
		vectors:   deps.Vectors,
		chunks:    deps.Chunks,
		templates: deps.Templates,
		logger:    logger.Named("rag"),
		tracer:    tracer,
		metrics:   newPipelineMetrics(meter, logger.Underlying()),
		indexing:  make(map[string]struct{}),
	}, nil
}

// Config returns the effective pipeline configuration.
func (s *Service) Config() Config { return s.cfg }

// acquire claims the indexing slot for projectID. The returned func releases it.
func (s *Service) acquire(projectID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.indexing[projectID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrIndexInProgress, projectID)
	}
	s.indexing[projectID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.indexing, projectID)
		s.mu.Unlock()
	}, nil
}

// Indexing reports whether an index run for projectID is in flight.
func (s *Service) Indexing(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.indexing[projectID]
	return busy
}
