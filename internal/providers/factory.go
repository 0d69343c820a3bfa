// Package providers builds generation, embedding and vector store backends
// from configuration.
//
// Backend names are matched case-insensitively. Required settings are checked
// before any client is constructed, so a misconfigured daemon fails at
// startup with a ConfigurationError naming the missing field.
package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.uber.org/zap"
)

// Backend names.
const (
	BackendOpenAI      = "openai"
	BackendCohere      = "cohere"
	BackendFastEmbed   = "fastembed"
	BackendQdrant      = "qdrant"
	BackendAsyncQdrant = "asyncqdrant"
	BackendChromem     = "chromem"
	BackendMemory      = "memory"
	BackendMilvus      = "milvus"
)

// Option customizes provider construction.
type Option func(*options)

type options struct {
	metrics *llm.Metrics
}

// WithMetrics attaches model-call metrics to LLM providers.
func WithMetrics(m *llm.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func apply(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func generationDefaults(cfg *config.Config) llm.GenerationDefaults {
	return llm.GenerationDefaults{
		InputMaxChars:   cfg.Generation.InputMaxChars,
		OutputMaxTokens: cfg.Generation.OutputMaxTokens,
		Temperature:     cfg.Generation.Temperature,
	}
}

func retryPolicy(cfg *config.Config) llm.RetryPolicy {
	return llm.RetryPolicy{
		BatchSize:  cfg.Embedding.BatchSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		Base:       cfg.Embedding.RetryBase.Duration(),
	}
}

// NewGenerationProvider builds the configured text generation backend with
// its model already selected.
func NewGenerationProvider(cfg *config.Config, logger *zap.Logger, opts ...Option) (llm.GenerationProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := apply(opts)
	backend := normalize(cfg.Generation.Backend)
	model := strings.TrimSpace(cfg.Generation.ModelID)

	switch backend {
	case BackendOpenAI:
		if !cfg.OpenAI.APIKey.IsSet() {
			return nil, &ConfigurationError{Provider: backend, Field: "openai.api_key"}
		}
		if model == "" {
			return nil, &ConfigurationError{Provider: backend, Field: "generation.model_id"}
		}
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:          cfg.OpenAI.APIKey.Value(),
			BaseURL:         cfg.OpenAI.BaseURL,
			GenerationModel: model,
			Defaults:        generationDefaults(cfg),
			Timeout:         cfg.Generation.Timeout.Duration(),
		}, logger.Named("openai"), o.metrics)
		if err != nil {
			return nil, err
		}
		return p, nil

	case BackendCohere:
		if !cfg.Cohere.APIKey.IsSet() {
			return nil, &ConfigurationError{Provider: backend, Field: "cohere.api_key"}
		}
		if model == "" {
			return nil, &ConfigurationError{Provider: backend, Field: "generation.model_id"}
		}
		p, err := llm.NewCohereProvider(llm.CohereConfig{
			APIKey:            cfg.Cohere.APIKey.Value(),
			BaseURL:           cfg.Cohere.BaseURL,
			GenerationModel:   model,
			Defaults:          generationDefaults(cfg),
			Timeout:           cfg.Generation.Timeout.Duration(),
			RequestsPerSecond: cfg.Cohere.RequestsPerSecond,
		}, logger.Named("cohere"), o.metrics)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, &UnsupportedProviderError{Kind: "generation", Name: cfg.Generation.Backend}
	}
}

// NewEmbeddingProvider builds the configured embedding backend with its model
// and dimension already selected.
func NewEmbeddingProvider(cfg *config.Config, logger *zap.Logger, opts ...Option) (llm.EmbeddingProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := apply(opts)
	backend := normalize(cfg.Embedding.Backend)
	model := strings.TrimSpace(cfg.Embedding.ModelID)
	dim := cfg.Embedding.Dimension

	switch backend {
	case BackendOpenAI:
		if !cfg.OpenAI.APIKey.IsSet() {
			return nil, &ConfigurationError{Provider: backend, Field: "openai.api_key"}
		}
		if err := requireModel(backend, model, dim); err != nil {
			return nil, err
		}
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:         cfg.OpenAI.APIKey.Value(),
			BaseURL:        cfg.OpenAI.BaseURL,
			EmbeddingModel: model,
			Dimension:      dim,
			Defaults:       generationDefaults(cfg),
			Retry:          retryPolicy(cfg),
			Timeout:        cfg.Embedding.Timeout.Duration(),
		}, logger.Named("openai"), o.metrics)
		if err != nil {
			return nil, err
		}
		return p, nil

	case BackendCohere:
		if !cfg.Cohere.APIKey.IsSet() {
			return nil, &ConfigurationError{Provider: backend, Field: "cohere.api_key"}
		}
		if err := requireModel(backend, model, dim); err != nil {
			return nil, err
		}
		p, err := llm.NewCohereProvider(llm.CohereConfig{
			APIKey:            cfg.Cohere.APIKey.Value(),
			BaseURL:           cfg.Cohere.BaseURL,
			EmbeddingModel:    model,
			Dimension:         dim,
			Defaults:          generationDefaults(cfg),
			Retry:             retryPolicy(cfg),
			Timeout:           cfg.Embedding.Timeout.Duration(),
			RequestsPerSecond: cfg.Cohere.RequestsPerSecond,
		}, logger.Named("cohere"), o.metrics)
		if err != nil {
			return nil, err
		}
		return p, nil

	case BackendFastEmbed:
		if model == "" {
			model = embeddings.DefaultModel
		}
		native, err := embeddings.ModelDimension(model)
		if err != nil {
			return nil, &ConfigurationError{Provider: backend, Field: "embedding.model_id", Reason: err.Error()}
		}
		if dim != 0 && dim != native {
			return nil, &ConfigurationError{
				Provider: backend,
				Field:    "embedding.dimension",
				Reason:   fmt.Sprintf("is %d but %s produces %d", dim, model, native),
			}
		}
		cacheDir, err := EnsureDir(cfg.FastEmbed.CacheDir)
		if err != nil {
			return nil, err
		}
		p, err := embeddings.NewFastEmbedProvider(embeddings.Config{
			Model:                model,
			CacheDir:             cacheDir,
			ShowDownloadProgress: cfg.FastEmbed.ShowDownloadProgress,
		}, logger.Named("fastembed"), o.metrics)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, &UnsupportedProviderError{Kind: "embedding", Name: cfg.Embedding.Backend}
	}
}

func requireModel(backend, model string, dim int) error {
	if model == "" {
		return &ConfigurationError{Provider: backend, Field: "embedding.model_id"}
	}
	if dim <= 0 {
		return &ConfigurationError{Provider: backend, Field: "embedding.dimension"}
	}
	return nil
}

// NewVectorStore builds and connects the configured vector store.
func NewVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	vc := cfg.VectorDB
	backend := normalize(vc.Backend)

	distance, err := vectorstore.ParseDistance(vc.Distance)
	if err != nil {
		return nil, &ConfigurationError{Provider: backend, Field: "vectordb.distance", Reason: err.Error()}
	}

	var store vectorstore.Store
	switch backend {
	case BackendQdrant, BackendAsyncQdrant:
		if strings.TrimSpace(vc.Host) == "" {
			return nil, &ConfigurationError{Provider: backend, Field: "vectordb.host"}
		}
		store, err = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:              vc.Host,
			Port:              vc.Port,
			APIKey:            vc.APIKey.Value(),
			UseTLS:            vc.UseTLS,
			Distance:          distance,
			Timeout:           vc.Timeout.Duration(),
			MaxRetries:        vc.MaxRetries,
			InsertConcurrency: vc.InsertConcurrency,
		}, logger.Named("qdrant"))

	case BackendChromem:
		if distance != vectorstore.DistanceCosine {
			return nil, &ConfigurationError{Provider: backend, Field: "vectordb.distance", Reason: "must be cosine"}
		}
		if strings.TrimSpace(vc.Path) == "" {
			return nil, &ConfigurationError{Provider: backend, Field: "vectordb.path"}
		}
		path, derr := EnsureDir(vc.Path)
		if derr != nil {
			return nil, derr
		}
		store, err = vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:              path,
			Compress:          vc.Compress,
			Distance:          distance,
			InsertConcurrency: vc.InsertConcurrency,
		}, logger.Named("chromem"))

	case BackendMemory:
		if distance != vectorstore.DistanceCosine {
			return nil, &ConfigurationError{Provider: backend, Field: "vectordb.distance", Reason: "must be cosine"}
		}
		store, err = vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Distance:          distance,
			InsertConcurrency: vc.InsertConcurrency,
		}, logger.Named("memory"))

	default:
		return nil, &UnsupportedProviderError{Kind: "vectordb", Name: vc.Backend}
	}
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout(vc.Timeout.Duration()))
	defer cancel()
	if err := store.Connect(cctx); err != nil {
		return nil, fmt.Errorf("connecting %s vector store: %w", backend, err)
	}
	return store, nil
}

func connectTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ExpandPath replaces a leading "~" with the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// EnsureDir expands path and creates it if missing. Calling it again on an
// existing directory is a no-op.
func EnsureDir(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", expanded, err)
	}
	return expanded, nil
}

// IsUnsupported reports whether err names an unknown backend.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedProvider)
}
