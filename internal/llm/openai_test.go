package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

type fakeOpenAI struct {
	chatBodies  []map[string]any
	embedBodies []map[string]any
	reply       string
}

func (f *fakeOpenAI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/chat/completions":
			f.chatBodies = append(f.chatBodies, body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   body["model"],
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": f.reply},
					"finish_reason": "stop",
				}},
				"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
			})
		case "/embeddings":
			f.embedBodies = append(f.embedBodies, body)
			inputs, _ := body["input"].([]any)
			data := make([]map[string]any, len(inputs))
			for i := range inputs {
				data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1, 0}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   data,
				"model":  body["model"],
				"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestOpenAI(t *testing.T, fake *fakeOpenAI, dim int) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	retry := RetryPolicy{BatchSize: 2, MaxRetries: 2, Base: time.Millisecond}
	retry.sleep = func(context.Context, time.Duration) error { return nil }

	p, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:          "sk-test",
		BaseURL:         srv.URL,
		GenerationModel: "gpt-4o-mini",
		EmbeddingModel:  "text-embedding-3-small",
		Dimension:       dim,
		Retry:           retry,
	}, nil, nil)
	require.NoError(t, err)
	return p
}

func TestOpenAI_GenerateText(t *testing.T) {
	fake := &fakeOpenAI{reply: "It is a cat."}
	p := newTestOpenAI(t, fake, 3)

	history := []Message{p.ConstructPrompt("You answer from context.", RoleSystem)}
	answer, err := p.GenerateText(context.Background(), "What is it?", history, WithMaxOutputTokens(64))

	require.NoError(t, err)
	assert.Equal(t, "It is a cat.", answer)
	require.Len(t, fake.chatBodies, 1)

	body := fake.chatBodies[0]
	assert.Equal(t, "gpt-4o-mini", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
	assert.Len(t, history, 1)
}

func TestOpenAI_GenerateText_HistoryRoles(t *testing.T) {
	fake := &fakeOpenAI{reply: "Yes."}
	p := newTestOpenAI(t, fake, 3)

	history := []Message{
		p.ConstructPrompt("You answer from context.", RoleSystem),
		p.ConstructPrompt("Is it a cat?", RoleUser),
		p.ConstructPrompt("It is a cat.", RoleAssistant),
	}
	_, err := p.GenerateText(context.Background(), "Are you sure?", history)
	require.NoError(t, err)
	require.Len(t, fake.chatBodies, 1)

	msgs := fake.chatBodies[0]["messages"].([]any)
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAIMessageType(t *testing.T) {
	assert.Equal(t, schema.ChatMessageTypeSystem, openAIMessageType("system"))
	assert.Equal(t, schema.ChatMessageTypeAI, openAIMessageType("assistant"))
	assert.Equal(t, schema.ChatMessageTypeHuman, openAIMessageType("user"))
	assert.Equal(t, schema.ChatMessageTypeHuman, openAIMessageType(""))
}

func TestOpenAI_GenerateText_EmptyReply(t *testing.T) {
	p := newTestOpenAI(t, &fakeOpenAI{reply: ""}, 3)

	_, err := p.GenerateText(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestOpenAI_EmbedBatch(t *testing.T) {
	fake := &fakeOpenAI{}
	p := newTestOpenAI(t, fake, 3)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"}, PurposeDocument)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, fake.embedBodies, 2, "sub-batches of two")
	assert.Equal(t, "text-embedding-3-small", fake.embedBodies[0]["model"])
	assert.Equal(t, 3, p.Dimension())
}

func TestOpenAI_EmbedBatch_DimensionMismatch(t *testing.T) {
	p := newTestOpenAI(t, &fakeOpenAI{}, 1536)

	_, err := p.EmbedBatch(context.Background(), []string{"a"}, PurposeDocument)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestOpenAI_EmbedOne_Empty(t *testing.T) {
	p := newTestOpenAI(t, &fakeOpenAI{}, 3)
	_, err := p.EmbedOne(context.Background(), "", PurposeQuery)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOpenAI_ConstructPromptAndProcessText(t *testing.T) {
	p := newTestOpenAI(t, &fakeOpenAI{}, 3)
	assert.Equal(t, Message{Role: "assistant", Content: "x"}, p.ConstructPrompt("x", RoleAssistant))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, p.ProcessText(string(long)), 1024)
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{}, nil, nil)
	assert.Error(t, err)
}
