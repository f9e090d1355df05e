package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-dev/maestro/pkg/embedders"
	"github.com/maestro-dev/maestro/pkg/vector"
)

// Searcher retrieves codebase chunks relevant to a query.
type Searcher struct {
	vectors  vector.Provider
	embedder embedders.Embedder
	topK     int
}

func NewSearcher(vectors vector.Provider, embedder embedders.Embedder, topK int) *Searcher {
	if topK <= 0 {
		topK = 15
	}
	return &Searcher{vectors: vectors, embedder: embedder, topK: topK}
}

// Search embeds the query and returns the closest codebase chunks.
func (s *Searcher) Search(ctx context.Context, query string) ([]vector.Result, error) {
	query = sanitizeQuery(query)
	if query == "" {
		return nil, nil
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.vectors.Search(ctx, CodebaseCollection, embedding, s.topK)
	if err != nil {
		return nil, fmt.Errorf("codebase search failed: %w", err)
	}
	return results, nil
}

// sanitizeQuery strips role markers and instruction-override phrases
// before the query text is embedded or echoed into a prompt.
func sanitizeQuery(input string) string {
	sanitized := input

	for _, marker := range []string{"SYSTEM:", "System:", "system:", "ASSISTANT:", "Assistant:", "assistant:"} {
		sanitized = strings.ReplaceAll(sanitized, marker, "")
	}
	for _, phrase := range []string{
		"Ignore previous instructions", "ignore previous instructions",
		"Ignore all previous", "ignore all previous",
		"Disregard previous", "disregard previous",
	} {
		sanitized = strings.ReplaceAll(sanitized, phrase, "")
	}

	return strings.TrimSpace(sanitized)
}
