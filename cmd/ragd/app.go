package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	httpapi "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/providers"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/store/sqlite"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/templates"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// app holds every long-lived component of the daemon.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry

	embedding llm.EmbeddingProvider
	vectors   vectorstore.Store
	store     *sqlite.Store
	nats      *nats.Conn

	rag      *rag.Service
	ingest   *ingest.Processor
	redactor *ingest.Redactor
	jobs     *jobs.Registry
	http     *httpapi.Server
}

// newApp loads configuration and builds the app. With stderrLogs the console
// log stream goes to stderr, leaving stdout to the MCP transport.
func newApp(ctx context.Context, configPath string, stderrLogs bool) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	if stderrLogs {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return buildApp(ctx, cfg, logger)
}

// buildApp wires components from cfg. On error everything built so far is
// released.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	zl := logger.Underlying()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if h := a.telemetry.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	metrics := llm.NewMetrics(a.telemetry.Meter("github.com/fyrsmithlabs/ragd/internal/llm"), zl)
	generation, err := providers.NewGenerationProvider(cfg, zl, providers.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	a.embedding, err = providers.NewEmbeddingProvider(cfg, zl, providers.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	a.vectors, err = providers.NewVectorStore(ctx, cfg, zl)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	logger.Info(ctx, "providers initialized",
		zap.String("generation", cfg.Generation.Backend),
		zap.String("embedding", cfg.Embedding.Backend),
		zap.Int("dimension", a.embedding.Dimension()),
		zap.String("vectordb", cfg.VectorDB.Backend))

	storePath, err := providers.ExpandPath(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store, err = sqlite.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}

	a.rag, err = rag.New(rag.Deps{
		Generation: generation,
		Embedding:  a.embedding,
		Vectors:    a.vectors,
		Chunks:     a.store,
		Templates:  templates.NewDefault(cfg.Templates.Language, cfg.Templates.DefaultLanguage),
		Logger:     logger,
		Tracer:     a.telemetry.Tracer("github.com/fyrsmithlabs/ragd/internal/rag"),
		Meter:      a.telemetry.Meter("github.com/fyrsmithlabs/ragd/internal/rag"),
	}, rag.ConfigFrom(cfg))
	if err != nil {
		return nil, err
	}

	filesDir, err := providers.EnsureDir(cfg.Files.Dir)
	if err != nil {
		return nil, err
	}
	files, err := ingest.NewFileStore(filesDir, cfg.Files.MaxSizeMB, cfg.Files.AllowedTypes)
	if err != nil {
		return nil, err
	}
	if cfg.Redaction.Enabled {
		a.redactor, err = ingest.NewRedactor()
		if err != nil {
			return nil, fmt.Errorf("redactor: %w", err)
		}
	}
	a.ingest, err = ingest.NewProcessor(files, ingest.Stores{
		Projects: a.store,
		Assets:   a.store,
		Chunks:   a.store,
	}, a.redactor, logger)
	if err != nil {
		return nil, err
	}

	var publisher jobs.Publisher
	if cfg.NATS.URL != "" {
		a.nats, err = jobs.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		publisher = a.nats
	}
	a.jobs = jobs.NewRegistry(a.rag, publisher, jobs.Config{SubjectPrefix: cfg.NATS.SubjectPrefix}, logger)

	a.http, err = httpapi.NewServer(httpapi.Deps{
		Ingest:   a.ingest,
		Pipeline: a.rag,
		Jobs:     a.jobs,
	}, logger, httpapi.ConfigFrom(cfg, version))
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of construction. Fields left
// nil by a failed build are skipped.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if a.jobs != nil {
		errs = append(errs, a.jobs.Close(ctx))
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Drain())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Disconnect(ctx))
	}
	if c, ok := a.embedding.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}
