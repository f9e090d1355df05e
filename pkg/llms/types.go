// Package llms implements the LLM provider abstraction: OpenAI,
// Anthropic, and Gemini backends behind one interface, with an ordered
// fallback chain handling retries and provider failover.
package llms

import (
	"context"
	"fmt"
	"net/http"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Type     string // "text", "tool_call", "done", "error"
	Text     string
	ToolCall *protocol.ToolCall
	Tokens   int
	Error    error
}

// Result is a complete (non-streaming) generation.
type Result struct {
	Text         string
	ToolCalls    []*protocol.ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is a single LLM backend.
type Provider interface {
	// Generate produces a complete response for the conversation.
	Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error)

	// GenerateStreaming produces a response incrementally. The channel
	// closes after a "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	GetModelName() string
	Close() error
}

// classifyStatus maps an HTTP status from a provider API to the error
// taxonomy. 429 and 5xx are retryable; 4xx is the caller's fault.
func classifyStatus(status int, provider string, body string) error {
	msg := fmt.Sprintf("%s API request failed with status %d: %s", provider, status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return protocol.Errorf(protocol.KindRateLimited, "%s", msg)
	case status >= 500:
		return protocol.Errorf(protocol.KindUnavailable, "%s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return protocol.Errorf(protocol.KindNotPermitted, "%s", msg)
	default:
		return protocol.Errorf(protocol.KindBadRequest, "%s", msg)
	}
}
