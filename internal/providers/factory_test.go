package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerationProvider(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		wantField string
		wantUnsup bool
	}{
		{
			name: "openai",
			mutate: func(c *config.Config) {
				c.Generation.Backend = "OpenAI"
				c.Generation.ModelID = "gpt-4o-mini"
				c.OpenAI.APIKey = "sk-test"
			},
		},
		{
			name: "cohere",
			mutate: func(c *config.Config) {
				c.Generation.Backend = " cohere "
				c.Generation.ModelID = "command-r"
				c.Cohere.APIKey = "co-test"
			},
		},
		{
			name: "openai missing key",
			mutate: func(c *config.Config) {
				c.Generation.Backend = "openai"
				c.Generation.ModelID = "gpt-4o-mini"
			},
			wantField: "openai.api_key",
		},
		{
			name: "cohere missing model",
			mutate: func(c *config.Config) {
				c.Generation.Backend = "cohere"
				c.Cohere.APIKey = "co-test"
			},
			wantField: "generation.model_id",
		},
		{
			name:      "fastembed cannot generate",
			mutate:    func(c *config.Config) { c.Generation.Backend = "fastembed" },
			wantUnsup: true,
		},
		{
			name:      "unknown",
			mutate:    func(c *config.Config) { c.Generation.Backend = "gemini" },
			wantUnsup: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			p, err := providers.NewGenerationProvider(cfg, nil)
			switch {
			case tt.wantUnsup:
				assert.ErrorIs(t, err, providers.ErrUnsupportedProvider)
				assert.True(t, providers.IsUnsupported(err))
				assert.Nil(t, p)
			case tt.wantField != "":
				var cfgErr *providers.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tt.wantField, cfgErr.Field)
				assert.ErrorIs(t, err, providers.ErrConfiguration)
				assert.Nil(t, p)
			default:
				require.NoError(t, err)
				require.NotNil(t, p)
				assert.NotEmpty(t, p.ConstructPrompt("hi", llm.RoleUser).Role)
			}
		})
	}
}

func TestNewGenerationProvider_UsesGenerationTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := config.Default()
	cfg.Generation.Backend = "cohere"
	cfg.Generation.ModelID = "command-r"
	cfg.Generation.Timeout = config.Duration(50 * time.Millisecond)
	cfg.Embedding.Timeout = config.Duration(time.Minute)
	cfg.Cohere.APIKey = "co-test"
	cfg.Cohere.BaseURL = srv.URL

	p, err := providers.NewGenerationProvider(cfg, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.GenerateText(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestNewEmbeddingProvider(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		wantDim   int
		wantField string
		wantUnsup bool
	}{
		{
			name: "openai",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "openai"
				c.Embedding.ModelID = "text-embedding-3-small"
				c.Embedding.Dimension = 1536
				c.OpenAI.APIKey = "sk-test"
			},
			wantDim: 1536,
		},
		{
			name: "cohere",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "COHERE"
				c.Embedding.ModelID = "embed-multilingual-v3.0"
				c.Embedding.Dimension = 1024
				c.Cohere.APIKey = "co-test"
			},
			wantDim: 1024,
		},
		{
			name: "openai missing dimension",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "openai"
				c.Embedding.ModelID = "text-embedding-3-small"
				c.OpenAI.APIKey = "sk-test"
			},
			wantField: "embedding.dimension",
		},
		{
			name: "cohere missing key",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "cohere"
				c.Embedding.ModelID = "embed-english-v3.0"
				c.Embedding.Dimension = 1024
			},
			wantField: "cohere.api_key",
		},
		{
			name: "fastembed wrong dimension",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "fastembed"
				c.Embedding.ModelID = "BAAI/bge-small-en-v1.5"
				c.Embedding.Dimension = 768
			},
			wantField: "embedding.dimension",
		},
		{
			name: "fastembed unknown model",
			mutate: func(c *config.Config) {
				c.Embedding.Backend = "fastembed"
				c.Embedding.ModelID = "not-a-model"
			},
			wantField: "embedding.model_id",
		},
		{
			name:      "unknown",
			mutate:    func(c *config.Config) { c.Embedding.Backend = "huggingface" },
			wantUnsup: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			p, err := providers.NewEmbeddingProvider(cfg, nil)
			switch {
			case tt.wantUnsup:
				assert.ErrorIs(t, err, providers.ErrUnsupportedProvider)
			case tt.wantField != "":
				var cfgErr *providers.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, tt.wantField, cfgErr.Field)
				assert.Nil(t, p)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantDim, p.Dimension())
			}
		})
	}
}

func TestNewVectorStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorDB.Backend = "Memory"
		store, err := providers.NewVectorStore(ctx, cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Disconnect(ctx) })

		created, err := store.CreateCollection(ctx, "Collection_1", 4, false)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("chromem creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "vectordb")
		cfg := config.Default()
		cfg.VectorDB.Backend = "chromem"
		cfg.VectorDB.Path = dir

		store, err := providers.NewVectorStore(ctx, cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Disconnect(ctx) })

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		// A second construction over the same directory is fine.
		again, err := providers.NewVectorStore(ctx, cfg, nil)
		require.NoError(t, err)
		_ = again.Disconnect(ctx)
	})

	t.Run("chromem rejects dot distance", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorDB.Path = t.TempDir()
		cfg.VectorDB.Distance = "dot"
		_, err := providers.NewVectorStore(ctx, cfg, nil)
		var cfgErr *providers.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "vectordb.distance", cfgErr.Field)
	})

	t.Run("milvus is recognised but unsupported", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorDB.Backend = "milvus"
		_, err := providers.NewVectorStore(ctx, cfg, nil)
		var unsup *providers.UnsupportedProviderError
		require.ErrorAs(t, err, &unsup)
		assert.Equal(t, "vectordb", unsup.Kind)
	})

	t.Run("qdrant missing host", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorDB.Backend = "asyncqdrant"
		cfg.VectorDB.Host = " "
		_, err := providers.NewVectorStore(ctx, cfg, nil)
		assert.ErrorIs(t, err, providers.ErrConfiguration)
	})
}

func TestEnsureDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := providers.EnsureDir("~/data/ragd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "ragd"), path)

	again, err := providers.EnsureDir("~/data/ragd")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}
