package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.LLMProviderConfig{
		Type:   "openai",
		Model:  "gpt-4o-mini",
		APIKey: "test-key",
		Host:   server.URL,
	}
	cfg.SetDefaults()

	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)
	return p
}

func TestOpenAIGenerate(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)

		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{
				Message:      openAIMessage{Role: "assistant", Content: "hello"},
				FinishReason: "stop",
			}},
			Usage: openAIUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	})

	result, err := p.Generate(context.Background(), []*protocol.Message{
		{Role: protocol.RoleUser, Content: "hi"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, 10, result.InputTokens)
	assert.Equal(t, 5, result.OutputTokens)
}

func TestOpenAIGenerateToolCall(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []openAIChoice{{
				Message: openAIMessage{
					Role: "assistant",
					ToolCalls: []openAIToolCall{{
						ID:   "call_1",
						Type: "function",
						Function: openAIFunctionCall{
							Name:      "read_file",
							Arguments: `{"path":"main.go"}`,
						},
					}},
				},
				FinishReason: "tool_calls",
			}},
		})
	})

	result, err := p.Generate(context.Background(), []*protocol.Message{
		{Role: protocol.RoleUser, Content: "read main.go"},
	}, []ToolDefinition{{Name: "read_file", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "read_file", result.ToolCalls[0].Name)
	assert.Equal(t, "main.go", result.ToolCalls[0].Args["path"])
}

func TestOpenAIStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   protocol.Kind
	}{
		{http.StatusTooManyRequests, protocol.KindRateLimited},
		{http.StatusInternalServerError, protocol.KindUnavailable},
		{http.StatusBadRequest, protocol.KindBadRequest},
		{http.StatusUnauthorized, protocol.KindNotPermitted},
	}

	for _, tc := range cases {
		p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := p.Generate(context.Background(), nil, nil)
		require.Error(t, err)
		assert.Equal(t, tc.kind, protocol.KindOf(err), "status %d", tc.status)
	}
}

func TestOpenAIStreaming(t *testing.T) {
	p := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hel"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"))
		w.Write([]byte(`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"total_tokens":7}}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	})

	ch, err := p.GenerateStreaming(context.Background(), []*protocol.Message{
		{Role: protocol.RoleUser, Content: "hi"},
	}, nil)
	require.NoError(t, err)

	var text string
	var tokens int
	for chunk := range ch {
		require.NotEqual(t, "error", chunk.Type)
		switch chunk.Type {
		case "text":
			text += chunk.Text
		case "done":
			tokens = chunk.Tokens
		}
	}
	assert.Equal(t, "hello", text)
	assert.Equal(t, 7, tokens)
}
