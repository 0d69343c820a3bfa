package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelDimension(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{"", 384},
		{"BAAI/bge-small-en-v1.5", 384},
		{"baai/BGE-BASE-EN-V1.5", 768},
		{"fast-bge-small-zh-v1.5", 512},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"fast-all-MiniLM-L6-v2", 384},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			dim, err := ModelDimension(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, dim)
		})
	}
}

func TestModelDimension_Unsupported(t *testing.T) {
	_, err := ModelDimension("text-embedding-3-small")
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
