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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}, nil
}

func (p *OpenAIProvider) GetModelName() string { return p.config.Model }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("maestro.llm")
	ctx, span := tracer.Start(ctx, "llm.request",
		trace.WithAttributes(
			attribute.String("llm.model", p.config.Model),
			attribute.String("provider", "openai"),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	response, err := p.makeRequest(ctx, p.buildRequest(messages, false, tools))
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		}
		return nil, err
	}

	if response.Error != nil {
		apiErr := protocol.Errorf(protocol.KindBadRequest, "OpenAI API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		}
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		noChoiceErr := protocol.Errorf(protocol.KindUnavailable, "no response choices returned")
		span.RecordError(noChoiceErr)
		span.SetStatus(codes.Error, "no choices")
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, noChoiceErr)
		}
		return nil, noChoiceErr
	}

	choice := response.Choices[0]

	var toolCalls []*protocol.ToolCall
	if len(choice.Message.ToolCalls) > 0 {
		toolCalls, err = parseOpenAIToolCalls(choice.Message.ToolCalls)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", response.Usage.PromptTokens),
		attribute.Int("llm.tokens.output", response.Usage.CompletionTokens),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, response.Usage.PromptTokens, response.Usage.CompletionTokens, nil)
	}

	return &Result{
		Text:         choice.Message.Content,
		ToolCalls:    toolCalls,
		InputTokens:  response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
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

func roleToOpenAI(role protocol.Role) string {
	switch role {
	case protocol.RoleUser:
		return "user"
	case protocol.RoleAssistant:
		return "assistant"
	case protocol.RoleTool:
		return "tool"
	default:
		return "system"
	}
}

func (p *OpenAIProvider) buildRequest(messages []*protocol.Message, stream bool, tools []ToolDefinition) openAIRequest {
	openaiMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAIMessage{
			Role:       roleToOpenAI(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			m.ToolCalls = append(m.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		openaiMessages = append(openaiMessages, m)
	}

	temperature := 0.7
	if p.config.Temperature != nil {
		temperature = *p.config.Temperature
	}

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    openaiMessages,
		Temperature: temperature,
		Stream:      stream,
	}
	if p.config.MaxTokens > 0 {
		maxTokens := p.config.MaxTokens
		request.MaxTokens = &maxTokens
	}

	if len(tools) > 0 {
		request.Tools = make([]openAITool, len(tools))
		for i, tool := range tools {
			request.Tools[i] = openAITool{
				Type:     "function",
				Function: openAIToolFunction(tool),
			}
		}
		request.ToolChoice = "auto"
	}

	return request
}

func parseOpenAIToolCalls(calls []openAIToolCall) ([]*protocol.ToolCall, error) {
	result := make([]*protocol.ToolCall, len(calls))
	for i, tc := range calls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, protocol.NewError(protocol.KindBadRequest, "failed to parse tool arguments", err)
		}
		result[i] = &protocol.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result, nil
}

func (p *OpenAIProvider) newRequest(ctx context.Context, request openAIRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	return req, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
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
		return nil, classifyStatus(resp.StatusCode, "OpenAI", string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &response, nil
}

func (p *OpenAIProvider) makeStreamingRequest(ctx context.Context, request openAIRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	// The overall client timeout would cut long streams short; rely on
	// the per-chunk idle watchdog instead.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return protocol.NewError(protocol.KindUnavailable, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return classifyStatus(resp.StatusCode, "OpenAI", string(body))
	}

	idle := time.Duration(p.config.StreamIdleTimeout) * time.Second
	reader := bufio.NewReader(newIdleTimeoutReader(ctx, resp.Body, idle))

	toolCallsMap := make(map[int]*openAIToolCall)
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

		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var streamResp openAIStreamResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != nil {
			return protocol.Errorf(protocol.KindUnavailable, "API error: %s", streamResp.Error.Message)
		}
		if streamResp.Usage != nil {
			totalTokens = streamResp.Usage.TotalTokens
		}
		if len(streamResp.Choices) == 0 {
			continue
		}

		choice := streamResp.Choices[0]

		if choice.Delta.Content != "" {
			outputCh <- StreamChunk{Type: "text", Text: choice.Delta.Content}
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			if deltaCall.ID != "" {
				toolCallsMap[len(toolCallsMap)] = &openAIToolCall{
					ID:       deltaCall.ID,
					Type:     deltaCall.Type,
					Function: deltaCall.Function,
				}
			} else if len(toolCallsMap) > 0 {
				toolCallsMap[len(toolCallsMap)-1].Function.Arguments += deltaCall.Function.Arguments
			}
		}

		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			accumulated := make([]openAIToolCall, 0, len(toolCallsMap))
			for i := 0; i < len(toolCallsMap); i++ {
				if tc, exists := toolCallsMap[i]; exists {
					accumulated = append(accumulated, *tc)
				}
			}
			if len(accumulated) > 0 {
				toolCalls, err := parseOpenAIToolCalls(accumulated)
				if err == nil {
					for _, tc := range toolCalls {
						outputCh <- StreamChunk{Type: "tool_call", ToolCall: tc}
					}
				}
			}
			break
		}
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	return nil
}
