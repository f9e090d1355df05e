// Package embedders provides text embedding providers for the vector
// memory and codebase index.
package embedders

import (
	"context"
	"fmt"

	"github.com/maestro-dev/maestro/pkg/config"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
	GetDimension() int
}

// CreateEmbedder builds an embedder from its config.
func CreateEmbedder(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}
}
