// Package vector abstracts the vector store: an embedded chromem-go
// backend for zero-config deployments, plus Qdrant and Pinecone for
// external stores.
package vector

import (
	"context"
	"fmt"

	"github.com/maestro-dev/maestro/pkg/config"
)

// Result is a scored search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Provider is a vector store backend. Vectors are pre-computed by the
// embedder; providers never embed.
type Provider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Name() string
	Close() error
}

// NewProvider creates a vector provider from configuration.
func NewProvider(cfg *config.VectorConfig, dataRoot string) (Provider, error) {
	switch cfg.Provider {
	case "chromem":
		return NewChromemProvider(ChromemConfig{
			PersistPath: dataRoot + "/vectors",
			Compress:    true,
		})
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	case "pinecone":
		return NewPineconeProvider(cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unknown vector provider: %q", cfg.Provider)
	}
}
