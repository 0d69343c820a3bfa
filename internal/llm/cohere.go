package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	providerCohere = "cohere"

	// cohereMaxBatch is the embed endpoint's per-request text limit.
	cohereMaxBatch = 96
)

// CohereConfig configures a CohereProvider.
type CohereConfig struct {
	APIKey            string
	BaseURL           string
	GenerationModel   string
	EmbeddingModel    string
	Dimension         int
	Defaults          GenerationDefaults
	Retry             RetryPolicy
	Timeout           time.Duration
	RequestsPerSecond float64
}

// CohereProvider implements both capabilities against Cohere's v1 chat and
// embed endpoints.
type CohereProvider struct {
	cfg        CohereConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *Metrics

	mu        sync.RWMutex
	genModel  string
	embModel  string
	dimension int
}

// NewCohereProvider creates a Cohere client.
func NewCohereProvider(cfg CohereConfig, logger *zap.Logger, metrics *Metrics) (*CohereProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Defaults == (GenerationDefaults{}) {
		cfg.Defaults = DefaultGenerationDefaults()
	}
	if cfg.Retry.BatchSize == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Retry.BatchSize > cohereMaxBatch {
		cfg.Retry.BatchSize = cohereMaxBatch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CohereProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		metrics:    metrics,
		genModel:   cfg.GenerationModel,
		embModel:   cfg.EmbeddingModel,
		dimension:  cfg.Dimension,
	}, nil
}

func (p *CohereProvider) SetGenerationModel(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.genModel = modelID
}

func (p *CohereProvider) SetEmbeddingModel(modelID string, dimension int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embModel = modelID
	p.dimension = dimension
}

func (p *CohereProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

func (p *CohereProvider) ProcessText(text string) string {
	return TruncateText(text, p.cfg.Defaults.InputMaxChars)
}

// ConstructPrompt maps roles to SYSTEM, USER and CHATBOT.
func (p *CohereProvider) ConstructPrompt(text string, role Role) Message {
	return Message{Role: cohereRole(role), Content: text}
}

func cohereRole(role Role) string {
	switch role {
	case RoleSystem:
		return "SYSTEM"
	case RoleAssistant:
		return "CHATBOT"
	default:
		return "USER"
	}
}

type cohereChatMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereChatRequest struct {
	Model       string              `json:"model"`
	Message     string              `json:"message"`
	ChatHistory []cohereChatMessage `json:"chat_history,omitempty"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature"`
}

type cohereChatResponse struct {
	Text string `json:"text"`
}

// GenerateText sends history as chat_history and the prompt as the new
// user message.
func (p *CohereProvider) GenerateText(ctx context.Context, prompt string, history []Message, opts ...GenerateOption) (string, error) {
	p.mu.RLock()
	model := p.genModel
	p.mu.RUnlock()
	if model == "" {
		return "", &GenerationError{Provider: providerCohere, Err: ErrModelNotSet}
	}

	maxTokens, temp := p.cfg.Defaults.resolve(opts)
	req := cohereChatRequest{
		Model:       model,
		Message:     prompt,
		MaxTokens:   maxTokens,
		Temperature: temp,
	}
	for _, m := range history {
		req.ChatHistory = append(req.ChatHistory, cohereChatMessage{Role: m.Role, Message: m.Content})
	}

	start := time.Now()
	var resp cohereChatResponse
	err := p.withRetries(ctx, func() error { return p.post(ctx, "/v1/chat", req, &resp) })
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = &GenerationError{Provider: providerCohere, Model: model}
	}
	p.metrics.Record(ctx, providerCohere, model, "generate", time.Since(start), 0, err)
	if err != nil {
		p.logger.Warn("generation failed", zap.String("model", model), zap.Error(err))
		var ge *GenerationError
		if errors.As(err, &ge) {
			return "", err
		}
		return "", &GenerationError{Provider: providerCohere, Model: model, Err: err}
	}
	return resp.Text, nil
}

type cohereEmbedRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereEmbedResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

func cohereInputType(p Purpose) string {
	if p == PurposeQuery {
		return "search_query"
	}
	return "search_document"
}

func (p *CohereProvider) EmbedOne(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	text = p.ProcessText(text)
	if text == "" {
		return nil, &EmbeddingError{Provider: providerCohere, Size: 1, Err: ErrEmptyInput}
	}
	vectors, err := p.EmbedBatch(ctx, []string{text}, purpose)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *CohereProvider) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	p.mu.RLock()
	model, dim := p.embModel, p.dimension
	p.mu.RUnlock()
	if model == "" {
		return nil, &EmbeddingError{Provider: providerCohere, Size: len(texts), Err: ErrModelNotSet}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = p.ProcessText(t)
	}
	inputType := cohereInputType(purpose)

	start := time.Now()
	vectors, err := embedInBatches(ctx, providerCohere, p.cfg.Retry, dim, inputs, func(ctx context.Context, batch []string) ([][]float32, error) {
		var resp cohereEmbedResponse
		err := p.post(ctx, "/v1/embed", cohereEmbedRequest{
			Model:          model,
			Texts:          batch,
			InputType:      inputType,
			EmbeddingTypes: []string{"float"},
		}, &resp)
		return resp.Embeddings.Float, err
	})
	p.metrics.Record(ctx, providerCohere, model, "embed_batch", time.Since(start), len(texts), err)
	if err != nil {
		p.logger.Warn("embedding failed", zap.String("model", model), zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return vectors, nil
}

// withRetries retries transient chat failures with the embedding backoff
// policy; embedding sub-batches are retried by embedInBatches instead.
func (p *CohereProvider) withRetries(ctx context.Context, fn func() error) error {
	policy := p.cfg.Retry.normalized()
	var err error
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if werr := policy.wait(ctx, policy.Backoff(attempt-1)); werr != nil {
				return werr
			}
		}
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", err)
}

func (p *CohereProvider) post(ctx context.Context, path string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
