//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"go.uber.org/zap"
)

const providerName = "fastembed"

// passageBatchSize is the ONNX inference batch, independent of the caller's
// batch size.
const passageBatchSize = 256

// FastEmbedProvider embeds text with a local ONNX model.
type FastEmbedProvider struct {
	cfg     Config
	logger  *zap.Logger
	metrics *llm.Metrics

	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	modelID   string
	dimension int
}

var _ llm.EmbeddingProvider = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider loads the configured model, downloading it into
// CacheDir on first use.
func NewFastEmbedProvider(cfg Config, logger *zap.Logger, metrics *llm.Metrics) (*FastEmbedProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}
	p := &FastEmbedProvider{cfg: cfg, logger: logger, metrics: metrics}
	if err := p.load(cfg.Model); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FastEmbedProvider) load(id string) error {
	info, err := resolveModel(id)
	if err != nil {
		return err
	}

	show := p.cfg.ShowDownloadProgress
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastembed.EmbeddingModel(info.name),
		CacheDir:             p.cfg.CacheDir,
		MaxLength:            p.cfg.MaxLength,
		ShowDownloadProgress: &show,
	})
	if err != nil {
		return fmt.Errorf("initializing fastembed model %s: %w", info.name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		_ = p.model.Destroy()
	}
	p.model = model
	p.modelID = id
	p.dimension = info.dimension
	return nil
}

// SetEmbeddingModel swaps the loaded model. The dimension argument is
// ignored in favour of the model's own output size; a failed load keeps the
// previous model.
func (p *FastEmbedProvider) SetEmbeddingModel(modelID string, dimension int) {
	if err := p.load(modelID); err != nil {
		p.logger.Error("failed to load fastembed model", zap.String("model", modelID), zap.Error(err))
		return
	}
	if dimension > 0 && dimension != p.Dimension() {
		p.logger.Warn("configured dimension differs from model output",
			zap.String("model", modelID), zap.Int("configured", dimension), zap.Int("actual", p.Dimension()))
	}
}

func (p *FastEmbedProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

// EmbedOne uses the query prefix for PurposeQuery and the passage prefix
// otherwise.
func (p *FastEmbedProvider) EmbedOne(ctx context.Context, text string, purpose llm.Purpose) ([]float32, error) {
	text = llm.TruncateText(text, 0)
	if text == "" {
		return nil, &llm.EmbeddingError{Provider: providerName, Size: 1, Err: llm.ErrEmptyInput}
	}
	if purpose == llm.PurposeQuery {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.mu.RLock()
		defer p.mu.RUnlock()

		start := time.Now()
		vec, err := p.model.QueryEmbed(text)
		p.metrics.Record(ctx, providerName, p.modelID, "embed_query", time.Since(start), 1, err)
		if err != nil {
			return nil, &llm.EmbeddingError{Provider: providerName, Size: 1, Attempts: 1, Err: err}
		}
		return vec, nil
	}

	vectors, err := p.EmbedBatch(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch always uses passage embeddings; local inference has no rate
// limits so failures are not retried.
func (p *FastEmbedProvider) EmbedBatch(ctx context.Context, texts []string, _ llm.Purpose) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	start := time.Now()
	vectors, err := p.model.PassageEmbed(texts, passageBatchSize)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("model returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	p.metrics.Record(ctx, providerName, p.modelID, "embed_batch", time.Since(start), len(texts), err)
	if err != nil {
		return nil, &llm.EmbeddingError{Provider: providerName, Size: len(texts), Attempts: 1, Err: err}
	}
	return vectors, nil
}

// Close releases the ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
