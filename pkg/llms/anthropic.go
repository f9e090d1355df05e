package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *http.Client
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicStreamResponse struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

func (p *AnthropicProvider) GetModelName() string { return p.config.Model }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	startTime := time.Now()

	response, err := p.makeRequest(ctx, p.buildRequest(messages, false, tools))
	duration := time.Since(startTime)

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		in, out := 0, 0
		if response != nil {
			in, out = response.Usage.InputTokens, response.Usage.OutputTokens
		}
		metrics.RecordLLMCall(ctx, p.config.Model, duration, in, out, err)
	}
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, protocol.Errorf(protocol.KindBadRequest, "anthropic API error: %s", response.Error.Message)
	}

	var text string
	var toolCalls []*protocol.ToolCall
	for _, content := range response.Content {
		switch content.Type {
		case "text":
			text += content.Text
		case "tool_use":
			var args map[string]any
			if content.Input != nil {
				args = *content.Input
			}
			toolCalls = append(toolCalls, &protocol.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}

	return &Result{
		Text:         text,
		ToolCalls:    toolCalls,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, true, tools)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)
		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: err}
		}
	}()

	return outputCh, nil
}

func (p *AnthropicProvider) buildRequest(messages []*protocol.Message, stream bool, tools []ToolDefinition) anthropicRequest {
	var system string
	anthropicMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case protocol.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})

		case protocol.RoleTool:
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case protocol.RoleAssistant:
			contents := []anthropicContent{}
			if msg.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				contents = append(contents, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: &args,
				})
			}
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role:    "assistant",
				Content: contents,
			})
		}
	}

	temperature := 1.0
	if p.config.Temperature != nil {
		temperature = *p.config.Temperature
	}

	request := anthropicRequest{
		Model:       p.config.Model,
		Messages:    anthropicMessages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: temperature,
		Stream:      stream,
		System:      system,
	}

	for _, tool := range tools {
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return request
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request anthropicRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, protocol.NewError(protocol.KindUnavailable, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, "Anthropic", string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request anthropicRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return protocol.NewError(protocol.KindUnavailable, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, "Anthropic", string(body))
	}

	idle := time.Duration(p.config.StreamIdleTimeout) * time.Second
	reader := bufio.NewReader(newIdleTimeoutReader(ctx, resp.Body, idle))

	// tool_use blocks stream their input as partial JSON fragments
	// keyed by block index.
	type pendingTool struct {
		id   string
		name string
		json string
	}
	pending := make(map[int]*pendingTool)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return protocol.NewError(protocol.KindUnavailable, "failed to read stream", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event anthropicStreamResponse
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pending[event.Index] = &pendingTool{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				outputCh <- StreamChunk{Type: "text", Text: event.Delta.Text}
			case "input_json_delta":
				if pt, ok := pending[event.Index]; ok {
					pt.json += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if pt, ok := pending[event.Index]; ok {
				var args map[string]any
				if pt.json != "" {
					if err := json.Unmarshal([]byte(pt.json), &args); err != nil {
						return protocol.NewError(protocol.KindBadRequest, "failed to parse tool arguments", err)
					}
				}
				outputCh <- StreamChunk{
					Type:     "tool_call",
					ToolCall: &protocol.ToolCall{ID: pt.id, Name: pt.name, Args: args},
				}
				delete(pending, event.Index)
			}

		case "message_delta":
			if event.Usage != nil {
				totalTokens += event.Usage.OutputTokens
			}

		case "message_stop":
			outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
			return nil

		case "error":
			if event.Message != nil && event.Message.Error != nil {
				return protocol.Errorf(protocol.KindUnavailable, "API error: %s", event.Message.Error.Message)
			}
			return protocol.Errorf(protocol.KindUnavailable, "API error")
		}
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	return nil
}
