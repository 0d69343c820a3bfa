//go:build !cgo

package embeddings

import (
	"context"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"go.uber.org/zap"
)

// FastEmbedProvider is unavailable without cgo.
type FastEmbedProvider struct{}

var _ llm.EmbeddingProvider = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider always fails without cgo.
func NewFastEmbedProvider(_ Config, _ *zap.Logger, _ *llm.Metrics) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) SetEmbeddingModel(string, int) {}

func (p *FastEmbedProvider) Dimension() int { return 0 }

func (p *FastEmbedProvider) EmbedOne(context.Context, string, llm.Purpose) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedBatch(context.Context, []string, llm.Purpose) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Close() error { return nil }
