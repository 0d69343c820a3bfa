// Package http provides the REST API for ragd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Ingestor stores uploads and turns them into chunks.
type Ingestor interface {
	Upload(ctx context.Context, projectID string, up ingest.Upload) (*store.Asset, error)
	Process(ctx context.Context, req ingest.ProcessRequest) (*ingest.ProcessResult, error)
}

// Pipeline is the retrieval side of ragd.
type Pipeline interface {
	IndexProject(ctx context.Context, projectID string, doReset bool) (*rag.IndexResult, error)
	CollectionInfo(ctx context.Context, projectID string) (*vectorstore.CollectionInfo, error)
	Search(ctx context.Context, projectID, query string, limit int) ([]vectorstore.RetrievedDocument, error)
	Answer(ctx context.Context, projectID, query string, limit int) (*rag.Answer, error)
}

// JobRunner runs index jobs off the request path.
type JobRunner interface {
	SubmitIndex(ctx context.Context, projectID string, doReset bool) (*jobs.Job, error)
	Get(jobID string) (*jobs.Job, error)
}

// Deps are the services the API fronts. Jobs is optional; without it async
// push requests are rejected.
type Deps struct {
	Ingest   Ingestor
	Pipeline Pipeline
	Jobs     JobRunner
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Version is reported by /health.
	Version string

	// Defaults for process requests that omit chunking parameters.
	ChunkSize    int
	ChunkOverlap int
}

// ConfigFrom maps the application config onto a server Config.
func ConfigFrom(cfg *config.Config, version string) *Config {
	return &Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Version:      version,
		ChunkSize:    cfg.Files.ChunkSize,
		ChunkOverlap: cfg.Files.ChunkOverlap,
	}
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	tracer trace.Tracer
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Ingest == nil {
		return nil, fmt.Errorf("ingestor cannot be nil")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = ingest.DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = ingest.DefaultChunkOverlap
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.Named("http"),
		tracer: otel.Tracer(instrumentationName),
		config: cfg,
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.traceRequests)
	e.Use(newRequestMetrics(otel.Meter(instrumentationName), s.logger.Underlying()).middleware)
	e.Use(s.logRequests)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	data := v1.Group("/data")
	data.POST("/upload/:project_id", s.handleUpload)
	data.POST("/process/:project_id", s.handleProcess)

	nlp := v1.Group("/nlp/index")
	nlp.POST("/push/:project_id", s.handlePush)
	nlp.GET("/info/:project_id", s.handleInfo)
	nlp.POST("/search/:project_id", s.handleSearch)
	nlp.POST("/answer/:project_id", s.handleAnswer)
	nlp.GET("/jobs/:job_id", s.handleJob)
}

// ServeHTTP lets the server be driven directly, e.g. by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

// traceRequests opens a server span per request, continuing any trace
// propagated by the caller.
func (s *Server) traceRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := s.tracer.Start(ctx, req.Method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("http.route", c.Path()),
			))
		defer span.End()
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		status := c.Response().Status
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		return err
	}
}

// logRequests is the innermost middleware: it resolves handler errors into
// responses so outer middleware observes the final status.
func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), requestID)
		if pid := c.Param("project_id"); pid != "" {
			ctx = logging.WithProjectID(ctx, pid)
		}
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// handleError renders apiError and echo errors as ErrorResponse bodies.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	var resp ErrorResponse
	var status int
	switch {
	case errors.As(err, &he):
		status = he.Code
		resp = ErrorResponse{Signal: SignalInvalidRequest, Error: fmt.Sprint(he.Message)}
		if status >= http.StatusInternalServerError {
			resp.Signal = SignalInternalError
		}
	default:
		ae := classify(err, SignalInternalError)
		status = ae.status
		resp = ErrorResponse{Signal: ae.signal, Error: ae.err.Error()}
	}

	c.Set(signalKey, resp.Signal)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", zap.String("signal", string(resp.Signal)), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "request rejected", zap.String("signal", string(resp.Signal)), zap.Error(err))
	}

	if err := c.JSON(status, resp); err != nil {
		s.logger.Warn(ctx, "writing error response", zap.Error(err))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
