// Package config provides configuration loading for ragd.
//
// Configuration is read from a YAML file and overridden by RAGD_-prefixed
// environment variables. Every section has defaults, so an empty file (or no
// file at all) yields a runnable local setup: chromem vector storage, SQLite
// metadata, OpenAI generation and embeddings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete ragd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Generation GenerationConfig `koanf:"generation"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Cohere     CohereConfig     `koanf:"cohere"`
	FastEmbed  FastEmbedConfig  `koanf:"fastembed"`
	VectorDB   VectorDBConfig   `koanf:"vectordb"`
	Store      StoreConfig      `koanf:"store"`
	Files      FilesConfig      `koanf:"files"`
	Index      IndexConfig      `koanf:"index"`
	Templates  TemplatesConfig  `koanf:"templates"`
	NATS       NATSConfig       `koanf:"nats"`
	Redaction  RedactionConfig  `koanf:"redaction"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects level and encoding for the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// GenerationConfig selects and tunes the text generation backend.
//
// Timeout bounds each generation request and is independent of
// EmbeddingConfig.Timeout.
type GenerationConfig struct {
	Backend         string   `koanf:"backend"`
	ModelID         string   `koanf:"model_id"`
	InputMaxChars   int      `koanf:"input_max_chars"`
	OutputMaxTokens int      `koanf:"output_max_tokens"`
	Temperature     float64  `koanf:"temperature"`
	Timeout         Duration `koanf:"timeout"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend    string   `koanf:"backend"`
	ModelID    string   `koanf:"model_id"`
	Dimension  int      `koanf:"dimension"`
	BatchSize  int      `koanf:"batch_size"`
	MaxRetries int      `koanf:"max_retries"`
	RetryBase  Duration `koanf:"retry_base"`
	Timeout    Duration `koanf:"timeout"`
}

// OpenAIConfig holds OpenAI (or OpenAI-compatible) credentials.
type OpenAIConfig struct {
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// CohereConfig holds Cohere credentials and request pacing.
type CohereConfig struct {
	APIKey            Secret  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// FastEmbedConfig configures the local ONNX embedding backend.
type FastEmbedConfig struct {
	CacheDir             string `koanf:"cache_dir"`
	ShowDownloadProgress bool   `koanf:"show_download_progress"`
}

// VectorDBConfig selects and tunes the vector store.
//
// Path is used by the embedded backends; Host, Port, APIKey and UseTLS by qdrant.
type VectorDBConfig struct {
	Backend           string   `koanf:"backend"`
	Path              string   `koanf:"path"`
	Compress          bool     `koanf:"compress"`
	Distance          string   `koanf:"distance"`
	Host              string   `koanf:"host"`
	Port              int      `koanf:"port"`
	APIKey            Secret   `koanf:"api_key"`
	UseTLS            bool     `koanf:"use_tls"`
	Timeout           Duration `koanf:"timeout"`
	MaxRetries        int      `koanf:"max_retries"`
	InsertBatchSize   int      `koanf:"insert_batch_size"`
	InsertConcurrency int      `koanf:"insert_concurrency"`
}

// StoreConfig locates the SQLite metadata database.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// FilesConfig governs uploads and chunking.
type FilesConfig struct {
	Dir          string   `koanf:"dir"`
	MaxSizeMB    int      `koanf:"max_size_mb"`
	AllowedTypes []string `koanf:"allowed_types"`
	ChunkSize    int      `koanf:"chunk_size"`
	ChunkOverlap int      `koanf:"chunk_overlap"`
}

// IndexConfig tunes the indexing and search pipelines.
type IndexConfig struct {
	PageSize    int    `koanf:"page_size"`
	PointIDs    string `koanf:"point_ids"`
	SearchLimit int    `koanf:"search_limit"`
}

// TemplatesConfig selects the prompt language.
type TemplatesConfig struct {
	Language        string `koanf:"language"`
	DefaultLanguage string `koanf:"default_language"`
}

// NATSConfig configures job event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedactionConfig controls secret scrubbing of chunk text before storage.
type RedactionConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Point id strategies for IndexConfig.PointIDs.
const (
	PointIDsPositional = "positional"
	PointIDsChunk      = "chunk"
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ragd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Generation.Backend == "" {
		cfg.Generation.Backend = "openai"
	}
	if cfg.Generation.InputMaxChars == 0 {
		cfg.Generation.InputMaxChars = 1024
	}
	if cfg.Generation.OutputMaxTokens == 0 {
		cfg.Generation.OutputMaxTokens = 200
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.1
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(60 * time.Second)
	}

	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = "openai"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 100
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.RetryBase == 0 {
		cfg.Embedding.RetryBase = Duration(time.Second)
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(60 * time.Second)
	}

	if cfg.Cohere.BaseURL == "" {
		cfg.Cohere.BaseURL = "https://api.cohere.com"
	}
	if cfg.Cohere.RequestsPerSecond == 0 {
		cfg.Cohere.RequestsPerSecond = 10
	}

	if cfg.FastEmbed.CacheDir == "" {
		cfg.FastEmbed.CacheDir = "~/.cache/ragd/models"
	}

	if cfg.VectorDB.Backend == "" {
		cfg.VectorDB.Backend = "chromem"
	}
	if cfg.VectorDB.Path == "" {
		cfg.VectorDB.Path = "~/.local/share/ragd/vectordb"
	}
	if cfg.VectorDB.Distance == "" {
		cfg.VectorDB.Distance = "cosine"
	}
	if cfg.VectorDB.Host == "" {
		cfg.VectorDB.Host = "localhost"
	}
	if cfg.VectorDB.Port == 0 {
		cfg.VectorDB.Port = 6334
	}
	if cfg.VectorDB.Timeout == 0 {
		cfg.VectorDB.Timeout = Duration(30 * time.Second)
	}
	if cfg.VectorDB.MaxRetries == 0 {
		cfg.VectorDB.MaxRetries = 3
	}
	if cfg.VectorDB.InsertBatchSize == 0 {
		cfg.VectorDB.InsertBatchSize = 50
	}
	if cfg.VectorDB.InsertConcurrency == 0 {
		cfg.VectorDB.InsertConcurrency = 4
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.local/share/ragd/metadata.db"
	}

	if cfg.Files.Dir == "" {
		cfg.Files.Dir = "~/.local/share/ragd/files"
	}
	if cfg.Files.MaxSizeMB == 0 {
		cfg.Files.MaxSizeMB = 10
	}
	if len(cfg.Files.AllowedTypes) == 0 {
		cfg.Files.AllowedTypes = []string{"text/plain", "application/pdf", "text/markdown"}
	}
	if cfg.Files.ChunkSize == 0 {
		cfg.Files.ChunkSize = 100
	}
	if cfg.Files.ChunkOverlap == 0 {
		cfg.Files.ChunkOverlap = 20
	}

	if cfg.Index.PageSize == 0 {
		cfg.Index.PageSize = 50
	}
	if cfg.Index.PointIDs == "" {
		cfg.Index.PointIDs = PointIDsPositional
	}
	if cfg.Index.SearchLimit == 0 {
		cfg.Index.SearchLimit = 5
	}

	if cfg.Templates.DefaultLanguage == "" {
		cfg.Templates.DefaultLanguage = "en"
	}
	if cfg.Templates.Language == "" {
		cfg.Templates.Language = cfg.Templates.DefaultLanguage
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "ragd.jobs"
	}
}

// Validate checks ranges and enumerations. Backend-specific requirements
// such as API keys are checked when providers are constructed.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature must be between 0 and 2, got %f", c.Generation.Temperature))
	}
	if c.Generation.InputMaxChars < 1 {
		errs = append(errs, fmt.Errorf("generation.input_max_chars must be positive"))
	}
	if c.Generation.OutputMaxTokens < 1 {
		errs = append(errs, fmt.Errorf("generation.output_max_tokens must be positive"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension cannot be negative"))
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("embedding.batch_size must be positive"))
	}
	if c.Embedding.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("embedding.max_retries must be at least 1"))
	}
	switch strings.ToLower(c.VectorDB.Distance) {
	case "cosine", "euclidean", "dot":
	default:
		errs = append(errs, fmt.Errorf("vectordb.distance must be cosine, euclidean or dot, got %q", c.VectorDB.Distance))
	}
	if c.VectorDB.InsertBatchSize < 1 {
		errs = append(errs, fmt.Errorf("vectordb.insert_batch_size must be positive"))
	}
	if c.VectorDB.InsertConcurrency < 1 {
		errs = append(errs, fmt.Errorf("vectordb.insert_concurrency must be positive"))
	}
	if c.Files.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("files.chunk_size must be positive"))
	}
	if c.Files.ChunkOverlap < 0 || c.Files.ChunkOverlap >= c.Files.ChunkSize {
		errs = append(errs, fmt.Errorf("files.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.Index.PageSize < 1 {
		errs = append(errs, fmt.Errorf("index.page_size must be positive"))
	}
	if c.Index.PointIDs != PointIDsPositional && c.Index.PointIDs != PointIDsChunk {
		errs = append(errs, fmt.Errorf("index.point_ids must be %q or %q, got %q", PointIDsPositional, PointIDsChunk, c.Index.PointIDs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
