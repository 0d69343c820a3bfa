package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "chromem", cfg.VectorDB.Backend)
	assert.Equal(t, "cosine", cfg.VectorDB.Distance)
	assert.Equal(t, 100, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.Embedding.MaxRetries)
	assert.InDelta(t, 0.1, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.Generation.Timeout.Duration())
	assert.Equal(t, []string{"text/plain", "application/pdf", "text/markdown"}, cfg.Files.AllowedTypes)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.http_port"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad distance", func(c *Config) { c.VectorDB.Distance = "manhattan" }, "vectordb.distance"},
		{"overlap too large", func(c *Config) { c.Files.ChunkOverlap = c.Files.ChunkSize }, "files.chunk_overlap"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "telemetry.sample_rate"},
		{"negative dimension", func(c *Config) { c.Embedding.Dimension = -1 }, "embedding.dimension"},
		{"bad temperature", func(c *Config) { c.Generation.Temperature = 3 }, "generation.temperature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(out))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, "1m30s", d.Duration().String())

	require.NoError(t, d.UnmarshalText([]byte(" 30 ")))
	assert.Equal(t, 30*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_UnmarshalTextTrims(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("sk-abc\n")))
	assert.Equal(t, "sk-abc", s.Value())
}
