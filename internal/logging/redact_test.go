package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encodeWith(t *testing.T, cfg RedactionConfig, fields ...zap.Field) string {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder_FieldNames(t *testing.T) {
	out := encodeWith(t, NewDefaultConfig().Redaction,
		zap.String("api_key", "plain-value"),
		zap.String("project", "42"),
	)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"project":"42"`)
	assert.NotContains(t, out, "plain-value")
}

func TestRedactingEncoder_ValuePatterns(t *testing.T) {
	out := encodeWith(t, NewDefaultConfig().Redaction,
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("note", "key sk-abcdefghijklmnopqrstu leaked"),
	)
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstu")
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	out := encodeWith(t, RedactionConfig{}, zap.String("api_key", "visible"))
	assert.Contains(t, out, "visible")
}

func TestRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("openai_key", config.Secret("sk-123456"))
	assert.Equal(t, "[REDACTED:9]", f.String)
}
