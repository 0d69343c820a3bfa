package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Pipeline is the retrieval capability the tools call.
type Pipeline interface {
	IndexProject(ctx context.Context, projectID string, doReset bool) (*rag.IndexResult, error)
	CollectionInfo(ctx context.Context, projectID string) (*vectorstore.CollectionInfo, error)
	Search(ctx context.Context, projectID, query string, limit int) ([]vectorstore.RetrievedDocument, error)
	Answer(ctx context.Context, projectID, query string, limit int) (*rag.Answer, error)
}

// JobRunner runs index jobs in the background.
type JobRunner interface {
	SubmitIndex(ctx context.Context, projectID string, doReset bool) (*jobs.Job, error)
	Get(jobID string) (*jobs.Job, error)
}

// Scrubber removes secrets from text returned to clients. *ingest.Redactor
// satisfies it.
type Scrubber interface {
	Scrub(text string) string
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server serves ragd tools over MCP.
type Server struct {
	mcp      *mcp.Server
	pipeline Pipeline
	jobs     JobRunner
	scrubber Scrubber
	metrics  *toolMetrics
	logger   *zap.Logger
}

// NewServer creates an MCP server around pipeline. jobs and scrubber are
// optional.
func NewServer(cfg *Config, pipeline Pipeline, jobs JobRunner, scrubber Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		pipeline: pipeline,
		jobs:     jobs,
		scrubber: scrubber,
		metrics:  newToolMetrics(otel.Meter(instrumentationName), cfg.Logger),
		logger:   cfg.Logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport. Tests use it with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

func (s *Server) scrub(text string) string {
	if s.scrubber == nil {
		return text
	}
	return s.scrubber.Scrub(text)
}
