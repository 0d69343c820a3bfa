// Package llm defines the generation and embedding capabilities used by the
// RAG pipelines, along with the OpenAI and Cohere implementations.
//
// Pipelines depend only on GenerationProvider and EmbeddingProvider. Vendor
// specifics such as role vocabulary, payload limits and input types stay
// inside the implementations.
package llm

import (
	"context"
)

// Role is a logical chat role.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleAssistant
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Message is a chat message in a provider's own role vocabulary.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Purpose tells embedding backends how a text will be used.
type Purpose int

const (
	PurposeDocument Purpose = iota
	PurposeQuery
)

func (p Purpose) String() string {
	if p == PurposeQuery {
		return "query"
	}
	return "document"
}

// GenerationProvider produces text from a prompt and chat history.
type GenerationProvider interface {
	SetGenerationModel(modelID string)

	// GenerateText appends prompt as a user message to a copy of history and
	// returns the model's reply. An empty reply is a GenerationError.
	GenerateText(ctx context.Context, prompt string, history []Message, opts ...GenerateOption) (string, error)

	// ConstructPrompt wraps text in a message using the provider's role names.
	ConstructPrompt(text string, role Role) Message

	// ProcessText truncates text to the provider's input limit and trims it.
	ProcessText(text string) string
}

// EmbeddingProvider turns text into vectors of a fixed dimension.
type EmbeddingProvider interface {
	SetEmbeddingModel(modelID string, dimension int)
	Dimension() int

	EmbedOne(ctx context.Context, text string, purpose Purpose) ([]float32, error)

	// EmbedBatch embeds texts in provider-sized sub-batches. Any sub-batch that
	// still fails after retries fails the whole call; vectors are never
	// returned partially.
	EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error)
}

// GenerateOptions overrides per-call generation settings.
type GenerateOptions struct {
	MaxOutputTokens int
	Temperature     *float64
}

// GenerateOption configures a GenerateText call.
type GenerateOption func(*GenerateOptions)

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int) GenerateOption {
	return func(o *GenerateOptions) { o.MaxOutputTokens = n }
}

// WithTemperature sets sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) { o.Temperature = &t }
}

// GenerationDefaults are the provider-wide limits used when a call does not
// override them.
type GenerationDefaults struct {
	InputMaxChars   int
	OutputMaxTokens int
	Temperature     float64
}

// DefaultGenerationDefaults returns 1024 input characters, 200 output tokens
// and temperature 0.1.
func DefaultGenerationDefaults() GenerationDefaults {
	return GenerationDefaults{InputMaxChars: 1024, OutputMaxTokens: 200, Temperature: 0.1}
}

func (d GenerationDefaults) resolve(opts []GenerateOption) (int, float64) {
	o := GenerateOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	maxTokens := d.OutputMaxTokens
	if o.MaxOutputTokens > 0 {
		maxTokens = o.MaxOutputTokens
	}
	temp := d.Temperature
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	return maxTokens, temp
}

// withPrompt returns history plus the user prompt without touching the
// caller's backing array.
func withPrompt(history []Message, user Message) []Message {
	out := make([]Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, user)
}
