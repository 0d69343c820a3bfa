package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	GenerationModel string
	EmbeddingModel  string
	Dimension       int
	Defaults        GenerationDefaults
	Retry           RetryPolicy
	Timeout         time.Duration
}

// OpenAIProvider implements both capabilities against the OpenAI API (or any
// OpenAI-compatible server) through langchaingo.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	logger  *zap.Logger
	metrics *Metrics

	mu        sync.RWMutex
	genModel  string
	embModel  string
	dimension int
	chat      *openai.LLM
	embedder  *openai.LLM
}

// NewOpenAIProvider builds the langchaingo clients. No network calls are made.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger, metrics *Metrics) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.Defaults == (GenerationDefaults{}) {
		cfg.Defaults = DefaultGenerationDefaults()
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &OpenAIProvider{cfg: cfg, logger: logger, metrics: metrics}

	chat, err := p.newClient(cfg.GenerationModel, "")
	if err != nil {
		return nil, err
	}
	p.chat = chat
	p.genModel = cfg.GenerationModel

	if cfg.EmbeddingModel != "" {
		p.SetEmbeddingModel(cfg.EmbeddingModel, cfg.Dimension)
		if p.embedder == nil {
			return nil, fmt.Errorf("openai: failed to create embedding client for %q", cfg.EmbeddingModel)
		}
	}
	return p, nil
}

func (p *OpenAIProvider) newClient(model, embeddingModel string) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithToken(p.cfg.APIKey)}
	if p.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.cfg.BaseURL))
	}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}
	if p.cfg.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: p.cfg.Timeout}))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: creating client: %w", err)
	}
	return llm, nil
}

func (p *OpenAIProvider) SetGenerationModel(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.genModel = modelID
}

// SetEmbeddingModel rebuilds the embedding client for modelID.
func (p *OpenAIProvider) SetEmbeddingModel(modelID string, dimension int) {
	client, err := p.newClient("", modelID)
	if err != nil {
		p.logger.Error("failed to create embedding client", zap.String("model", modelID), zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embModel = modelID
	p.dimension = dimension
	p.embedder = client
}

func (p *OpenAIProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

func (p *OpenAIProvider) ProcessText(text string) string {
	return TruncateText(text, p.cfg.Defaults.InputMaxChars)
}

// ConstructPrompt uses OpenAI's system/user/assistant vocabulary.
func (p *OpenAIProvider) ConstructPrompt(text string, role Role) Message {
	return Message{Role: role.String(), Content: text}
}

func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, history []Message, opts ...GenerateOption) (string, error) {
	p.mu.RLock()
	model, chat := p.genModel, p.chat
	p.mu.RUnlock()
	if model == "" {
		return "", &GenerationError{Provider: providerOpenAI, Err: ErrModelNotSet}
	}

	maxTokens, temp := p.cfg.Defaults.resolve(opts)
	messages := withPrompt(history, p.ConstructPrompt(prompt, RoleUser))

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(openAIMessageType(m.Role), m.Content))
	}

	start := time.Now()
	resp, err := chat.GenerateContent(ctx, content,
		llms.WithModel(model),
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temp),
	)
	if err == nil && (len(resp.Choices) == 0 || resp.Choices[0].Content == "") {
		err = &GenerationError{Provider: providerOpenAI, Model: model}
	}
	p.metrics.Record(ctx, providerOpenAI, model, "generate", time.Since(start), 0, err)
	if err != nil {
		p.logger.Warn("generation failed", zap.String("model", model), zap.Error(err))
		var ge *GenerationError
		if errors.As(err, &ge) {
			return "", err
		}
		return "", &GenerationError{Provider: providerOpenAI, Model: model, Err: err}
	}
	return resp.Choices[0].Content, nil
}

func (p *OpenAIProvider) EmbedOne(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	text = p.ProcessText(text)
	if text == "" {
		return nil, &EmbeddingError{Provider: providerOpenAI, Size: 1, Err: ErrEmptyInput}
	}
	vectors, err := p.EmbedBatch(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch ignores purpose; OpenAI embeddings are symmetric.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string, _ Purpose) ([][]float32, error) {
	p.mu.RLock()
	model, dim, embedder := p.embModel, p.dimension, p.embedder
	p.mu.RUnlock()
	if embedder == nil {
		return nil, &EmbeddingError{Provider: providerOpenAI, Size: len(texts), Err: ErrModelNotSet}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = p.ProcessText(t)
	}

	start := time.Now()
	vectors, err := embedInBatches(ctx, providerOpenAI, p.cfg.Retry, dim, inputs, embedder.CreateEmbedding)
	p.metrics.Record(ctx, providerOpenAI, model, "embed_batch", time.Since(start), len(texts), err)
	if err != nil {
		p.logger.Warn("embedding failed", zap.String("model", model), zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return vectors, nil
}

func openAIMessageType(role string) schema.ChatMessageType {
	switch role {
	case "system":
		return schema.ChatMessageTypeSystem
	case "assistant":
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
