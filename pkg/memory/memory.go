package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/embedders"
	"github.com/maestro-dev/maestro/pkg/vector"
)

// Collection holds long-term conversational memory across sessions.
const Collection = "memory"

// Memory stores conversation turns as embeddings and recalls the ones
// most relevant to a query.
type Memory struct {
	vectors  vector.Provider
	embedder embedders.Embedder
	cfg      config.MemoryConfig
	logger   *slog.Logger
}

func New(vectors vector.Provider, embedder embedders.Embedder, cfg config.MemoryConfig) *Memory {
	return &Memory{
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default().With("component", "memory"),
	}
}

// Record stores a single turn tagged with its index in the session
// transcript. Empty content is silently skipped.
func (m *Memory) Record(ctx context.Context, sessionID, role, content string, turnIndex int) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed memory record: %w", err)
	}

	metadata := map[string]any{
		"content":    content,
		"session_id": sessionID,
		"role":       role,
		"turn_index": turnIndex,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.vectors.Upsert(ctx, Collection, uuid.NewString(), embedding, metadata); err != nil {
		return fmt.Errorf("failed to store memory record: %w", err)
	}
	return nil
}

// RecordExchange stores the user and assistant sides of a completed
// turn. A failure on one side does not block the other; the first
// error is returned.
func (m *Memory) RecordExchange(ctx context.Context, sessionID, userText, assistantText string, userIndex, assistantIndex int) error {
	userErr := m.Record(ctx, sessionID, "user", userText, userIndex)
	assistantErr := m.Record(ctx, sessionID, "assistant", assistantText, assistantIndex)
	if userErr != nil {
		return userErr
	}
	return assistantErr
}

// Recall retrieves memories relevant to the query. The search runs
// across all sessions and is filtered to the requesting session
// afterwards, so the result count is stable regardless of how much
// unrelated history other sessions have accumulated.
func (m *Memory) Recall(ctx context.Context, sessionID, query string) ([]vector.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed recall query: %w", err)
	}

	results, err := m.vectors.Search(ctx, Collection, embedding, m.cfg.RetrievalK)
	if err != nil {
		return nil, fmt.Errorf("memory recall failed: %w", err)
	}

	filtered := make([]vector.Result, 0, len(results))
	for _, r := range results {
		if sid, ok := r.Metadata["session_id"].(string); ok && sid == sessionID {
			filtered = append(filtered, r)
		}
	}

	if len(filtered) > m.cfg.TopAfterFilter {
		filtered = filtered[:m.cfg.TopAfterFilter]
	}
	return filtered, nil
}

// Forget removes all memories belonging to a session.
func (m *Memory) Forget(ctx context.Context, sessionID string) error {
	return m.vectors.DeleteByFilter(ctx, Collection, map[string]any{"session_id": sessionID})
}
