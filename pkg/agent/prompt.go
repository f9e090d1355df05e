package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestro-dev/maestro/pkg/memory"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/rag"
	"github.com/maestro-dev/maestro/pkg/session"
	"github.com/maestro-dev/maestro/pkg/utils"
)

// defaultPromptBudget caps the composed prompt in tokens. Recent turns
// are dropped oldest-first when the budget is exceeded.
const defaultPromptBudget = 8000

// AttachmentSnippet is an uploaded file already extracted and sliced
// by the gateway, ready to enter the prompt.
type AttachmentSnippet struct {
	Name    string
	Content string
}

// ContextSources are the retrieval backends the composer draws on.
// Any of them may be nil; a nil source contributes nothing.
type ContextSources struct {
	Memory   *memory.Memory
	Codebase *rag.Searcher
	Sessions session.Store
}

// Composer builds the message list for a role invocation: system
// instruction, retrieved memory, retrieved codebase snippets, recent
// conversation turns, and the incoming user content.
type Composer struct {
	sources     ContextSources
	counter     *utils.TokenCounter
	recentTurns int
	budget      int
	logger      *slog.Logger
}

func NewComposer(sources ContextSources, counter *utils.TokenCounter, recentTurns int, logger *slog.Logger) *Composer {
	if recentTurns <= 0 {
		recentTurns = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		sources:     sources,
		counter:     counter,
		recentTurns: recentTurns,
		budget:      defaultPromptBudget,
		logger:      logger,
	}
}

// Compose assembles the prompt. Retrieval failures never fail the
// call; the affected section is replaced with a short notice so the
// model knows context is missing.
func (c *Composer) Compose(ctx context.Context, role *Role, sessionID, userContent string, attachments []AttachmentSnippet) ([]*protocol.Message, error) {
	var system strings.Builder
	system.WriteString(role.SystemPrompt)

	if section := c.memorySection(ctx, sessionID, userContent); section != "" {
		system.WriteString("\n\n## Relevant conversation memory\n")
		system.WriteString(section)
	}
	if section := c.codebaseSection(ctx, userContent); section != "" {
		system.WriteString("\n\n## Relevant code\n")
		system.WriteString(section)
	}

	content := userContent
	if len(attachments) > 0 {
		var sb strings.Builder
		sb.WriteString(content)
		for _, att := range attachments {
			sb.WriteString(fmt.Sprintf("\n\n--- Attachment: %s ---\n%s", att.Name, att.Content))
		}
		content = sb.String()
	}

	messages := []*protocol.Message{
		{Role: protocol.RoleSystem, Content: system.String()},
	}
	messages = append(messages, c.historyMessages(ctx, sessionID)...)
	messages = append(messages, &protocol.Message{Role: protocol.RoleUser, Content: content})

	return c.trimToBudget(messages), nil
}

func (c *Composer) memorySection(ctx context.Context, sessionID, query string) string {
	if c.sources.Memory == nil || sessionID == "" || query == "" {
		return ""
	}
	results, err := c.sources.Memory.Recall(ctx, sessionID, query)
	if err != nil {
		c.logger.Warn("memory recall failed", "session_id", sessionID, "error", err)
		return "(memory unavailable)"
	}
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		role, _ := r.Metadata["role"].(string)
		if role == "" {
			role = "note"
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", role, r.Content))
	}
	return sb.String()
}

func (c *Composer) codebaseSection(ctx context.Context, query string) string {
	if c.sources.Codebase == nil || query == "" {
		return ""
	}
	results, err := c.sources.Codebase.Search(ctx, query)
	if err != nil {
		c.logger.Warn("codebase retrieval failed", "error", err)
		return "(retrieval unavailable)"
	}
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, r := range results {
		path, _ := r.Metadata["path"].(string)
		sb.WriteString(fmt.Sprintf("### %s\n%s\n", path, r.Content))
	}
	return sb.String()
}

// historyMessages converts the session's recent turns into messages.
// Tool turns are collapsed into short assistant-visible notes since
// the original tool_call ids are not replayable across requests.
func (c *Composer) historyMessages(ctx context.Context, sessionID string) []*protocol.Message {
	if c.sources.Sessions == nil || sessionID == "" {
		return nil
	}
	turns, err := c.sources.Sessions.RecentTurns(ctx, sessionID, c.recentTurns)
	if err != nil {
		c.logger.Warn("turn history load failed", "session_id", sessionID, "error", err)
		return nil
	}

	messages := make([]*protocol.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case protocol.RoleUser, protocol.RoleAssistant:
			messages = append(messages, &protocol.Message{
				Role:    turn.Role,
				Content: turn.Content,
			})
		case protocol.RoleTool:
			messages = append(messages, &protocol.Message{
				Role:    protocol.RoleAssistant,
				Content: fmt.Sprintf("[ran tool %s: %s]", turn.ToolName, turn.ToolDigest),
			})
		}
	}
	return messages
}

// trimToBudget drops the oldest history messages until the prompt fits
// the token budget. The system message and the final user message are
// never dropped.
func (c *Composer) trimToBudget(messages []*protocol.Message) []*protocol.Message {
	for len(messages) > 2 && c.promptTokens(messages) > c.budget {
		messages = append(messages[:1], messages[2:]...)
	}
	return messages
}

func (c *Composer) promptTokens(messages []*protocol.Message) int {
	total := 0
	for _, m := range messages {
		total += c.counter.Count(m.Content)
	}
	return total
}
