package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestro-dev/maestro/pkg/llms"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// LLM is the completion surface the execution loop needs. *llms.Chain
// satisfies it.
type LLM interface {
	Generate(ctx context.Context, messages []*protocol.Message, tools []llms.ToolDefinition) (*llms.Result, error)
	GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error)
	GetModelName() string
}

// ToolUse records one tool invocation made during a role call, for
// turn persistence.
type ToolUse struct {
	Name   string
	Digest string
}

// Output is the result of one role invocation.
type Output struct {
	Text     string
	ToolUses []ToolUse

	// Degraded is set when the role was cut off by its iteration cap
	// or its context deadline with partial output in hand.
	Degraded bool
}

// Agent runs one role through the shared execution loop.
type Agent struct {
	role     *Role
	llm      LLM
	tools    *tools.Registry
	composer *Composer
	logger   *slog.Logger
}

func New(role *Role, llm LLM, toolRegistry *tools.Registry, composer *Composer, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		role:     role,
		llm:      llm,
		tools:    toolRegistry,
		composer: composer,
		logger:   logger,
	}
}

func (a *Agent) Role() *Role { return a.role }

// allowedDefinitions filters the registry's tool definitions to the
// role's whitelist.
func (a *Agent) allowedDefinitions() []llms.ToolDefinition {
	if a.tools == nil {
		return nil
	}
	all := a.tools.Definitions()
	allowed := make([]llms.ToolDefinition, 0, len(all))
	for _, def := range all {
		if a.role.AllowsTool(def.Name) {
			allowed = append(allowed, def)
		}
	}
	return allowed
}

// Execute runs the role loop to completion: compose, complete, run
// tool calls, repeat until the model stops calling tools or the
// iteration cap is hit.
func (a *Agent) Execute(ctx context.Context, sessionID, input string, attachments []AttachmentSnippet) (*Output, error) {
	return a.run(ctx, sessionID, input, attachments, nil)
}

// ExecuteStreaming runs the role loop streaming text to chunks. The
// channel is not closed by the agent; the caller owns it.
func (a *Agent) ExecuteStreaming(ctx context.Context, sessionID, input string, attachments []AttachmentSnippet, chunks chan<- string) (*Output, error) {
	return a.run(ctx, sessionID, input, attachments, chunks)
}

func (a *Agent) run(ctx context.Context, sessionID, input string, attachments []AttachmentSnippet, chunks chan<- string) (output *Output, err error) {
	tracer := observability.GetTracer("maestro.agent")
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("role", a.role.Name),
		attribute.String("session_id", sessionID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.GetGlobalMetrics().RecordRoleCall(ctx, a.role.Name, time.Since(start), err)
	}()

	messages, err := a.composer.Compose(ctx, a.role, sessionID, input, attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to compose prompt: %w", err)
	}

	definitions := a.allowedDefinitions()
	output = &Output{}

	for iteration := 0; ; iteration++ {
		var text string
		var calls []*protocol.ToolCall

		if chunks != nil {
			text, calls, err = a.generateStreaming(ctx, messages, definitions, chunks)
		} else {
			text, calls, err = a.generate(ctx, messages, definitions)
		}
		if err != nil {
			if output.Text != "" && ctx.Err() != nil {
				// Deadline hit mid-loop with partial output: surface
				// what we have and mark the task degraded.
				output.Degraded = true
				return output, nil
			}
			return nil, err
		}

		if text != "" {
			output.Text = text
		}
		if len(calls) == 0 {
			return output, nil
		}

		if iteration >= a.role.MaxToolIterations {
			a.logger.Warn("tool iteration cap reached",
				"role", a.role.Name, "session_id", sessionID, "cap", a.role.MaxToolIterations)
			output.Degraded = true
			return output, nil
		}

		messages = append(messages, &protocol.Message{
			Role:      protocol.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			content, use := a.executeCall(ctx, call)
			messages = append(messages, protocol.ToolResultMessage(call.ID, content))
			output.ToolUses = append(output.ToolUses, use)
		}
	}
}

// executeCall runs one tool call. Tool failures are data fed back to
// the model, never unwound; only context cancellation stops the loop
// at a higher level.
func (a *Agent) executeCall(ctx context.Context, call *protocol.ToolCall) (string, ToolUse) {
	if !a.role.AllowsTool(call.Name) {
		content := fmt.Sprintf("error: tool %s is not permitted for role %s", call.Name, a.role.Name)
		return content, ToolUse{Name: call.Name, Digest: "denied"}
	}

	result, err := a.tools.Execute(ctx, a.role.Name, call.Name, call.Args)
	if err != nil {
		a.logger.Debug("tool call failed",
			"role", a.role.Name, "tool", call.Name, "error", err)
		content := fmt.Sprintf("error: %v", err)
		return content, ToolUse{Name: call.Name, Digest: "error"}
	}

	content := result.Content
	if !result.Success && result.Error != "" {
		content = result.Error
	}
	return content, ToolUse{Name: call.Name, Digest: tools.Digest(result)}
}

func (a *Agent) generate(ctx context.Context, messages []*protocol.Message, definitions []llms.ToolDefinition) (string, []*protocol.ToolCall, error) {
	result, err := a.llm.Generate(ctx, messages, definitions)
	if err != nil {
		return "", nil, err
	}
	return result.Text, result.ToolCalls, nil
}

func (a *Agent) generateStreaming(ctx context.Context, messages []*protocol.Message, definitions []llms.ToolDefinition, chunks chan<- string) (string, []*protocol.ToolCall, error) {
	stream, err := a.llm.GenerateStreaming(ctx, messages, definitions)
	if err != nil {
		return "", nil, err
	}

	var text string
	var calls []*protocol.ToolCall

	for chunk := range stream {
		switch chunk.Type {
		case "text":
			text += chunk.Text
			select {
			case chunks <- chunk.Text:
			case <-ctx.Done():
				return text, nil, ctx.Err()
			}
		case "tool_call":
			if chunk.ToolCall != nil {
				calls = append(calls, chunk.ToolCall)
			}
		case "error":
			return text, nil, chunk.Error
		case "done":
			return text, calls, nil
		}
	}
	return text, calls, nil
}
