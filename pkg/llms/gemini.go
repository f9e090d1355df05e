package llms

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// GeminiProvider talks to Google Gemini through the official genai SDK.
type GeminiProvider struct {
	config *config.LLMProviderConfig
	client *genai.Client
}

func NewGeminiProvider(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

func (p *GeminiProvider) GetModelName() string { return p.config.Model }

func (p *GeminiProvider) Close() error { return nil }

func (p *GeminiProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	startTime := time.Now()

	contents, genConfig := p.buildRequest(messages, tools)

	genResp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	duration := time.Since(startTime)

	if err != nil {
		wrapped := protocol.NewError(protocol.KindUnavailable, "Gemini generation failed", err)
		if metrics := observability.GetGlobalMetrics(); metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, wrapped)
		}
		return nil, wrapped
	}

	result, err := p.parseResponse(genResp)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		in, out := 0, 0
		if result != nil {
			in, out = result.InputTokens, result.OutputTokens
		}
		metrics.RecordLLMCall(ctx, p.config.Model, duration, in, out, err)
	}
	return result, err
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	contents, genConfig := p.buildRequest(messages, tools)

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		totalTokens := 0
		emittedCallIDs := make(map[string]bool)

		for genResp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
			if err != nil {
				outputCh <- StreamChunk{
					Type:  "error",
					Error: protocol.NewError(protocol.KindUnavailable, "Gemini streaming error", err),
				}
				return
			}

			if genResp.UsageMetadata != nil {
				totalTokens = int(genResp.UsageMetadata.TotalTokenCount)
			}
			if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range genResp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					outputCh <- StreamChunk{Type: "text", Text: part.Text}
				}
				if part.FunctionCall != nil {
					callID := part.FunctionCall.ID
					if callID == "" {
						callID = fmt.Sprintf("call_%d", len(emittedCallIDs))
					}
					// Gemini can repeat a function call across chunks.
					if emittedCallIDs[callID] {
						continue
					}
					emittedCallIDs[callID] = true

					outputCh <- StreamChunk{
						Type: "tool_call",
						ToolCall: &protocol.ToolCall{
							ID:   callID,
							Name: part.FunctionCall.Name,
							Args: part.FunctionCall.Args,
						},
					}
				}
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

func (p *GeminiProvider) buildRequest(messages []*protocol.Message, tools []ToolDefinition) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if systemInstruction == nil {
				systemInstruction = &genai.Content{Role: "user"}
			}
			systemInstruction.Parts = append(systemInstruction.Parts, &genai.Part{Text: msg.Content})

		case protocol.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		default:
			role := "user"
			if msg.Role == protocol.RoleAssistant {
				role = "model"
			}
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: role, Parts: parts})
			}
		}
	}

	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}
	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	for _, t := range tools {
		genConfig.Tools = append(genConfig.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}},
		})
	}

	return contents, genConfig
}

func (p *GeminiProvider) parseResponse(genResp *genai.GenerateContentResponse) (*Result, error) {
	if len(genResp.Candidates) == 0 {
		return nil, protocol.Errorf(protocol.KindUnavailable, "empty response from Gemini")
	}

	candidate := genResp.Candidates[0]
	result := &Result{}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				result.Text += part.Text
			}
			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = fmt.Sprintf("call_%d", len(result.ToolCalls))
				}
				result.ToolCalls = append(result.ToolCalls, &protocol.ToolCall{
					ID:   callID,
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
			}
		}
	}

	if genResp.UsageMetadata != nil {
		result.InputTokens = int(genResp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(genResp.UsageMetadata.CandidatesTokenCount)
	}

	return result, nil
}

// toGenaiSchema converts a JSON Schema object to the SDK's schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if required, ok := schema["required"].([]string); ok {
		s.Required = append(s.Required, required...)
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}
