package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/maestro-dev/maestro/pkg/config"
)

// PineconeProvider implements Provider against the Pinecone managed
// service. Indexes must exist already; they are provisioned out of
// band.
type PineconeProvider struct {
	client    *pinecone.Client
	config    config.PineconeConfig
	namespace string
}

func NewPineconeProvider(cfg config.PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{
		client:    client,
		config:    cfg,
		namespace: cfg.Namespace,
	}, nil
}

func (p *PineconeProvider) Name() string { return "pinecone" }

func (p *PineconeProvider) getIndexConnection(ctx context.Context, indexName string) (*pinecone.IndexConnection, error) {
	host := p.config.IndexHost
	if host == "" {
		index, err := p.client.DescribeIndex(ctx, indexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", indexName, err)
		}
		host = index.Host
	}

	indexConn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: p.namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return indexConn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var pineconeMetadata *pinecone.Metadata
	if len(metadata) > 0 {
		pineconeMetadata, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = indexConn.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   vector,
		Metadata: pineconeMetadata,
	}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeResults(queryResponse.Matches), nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	if err := indexConn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	indexConn, err := p.getIndexConnection(ctx, collection)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	if err := indexConn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	indexes, err := p.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == collection {
			return nil
		}
	}
	return fmt.Errorf("index %s does not exist; create it via the Pinecone console or API", collection)
}

func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	return fmt.Errorf("index deletion not implemented; delete index %s via the Pinecone console or API", collection)
}

func (p *PineconeProvider) Close() error { return nil }

func convertPineconeResults(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))

	for _, scoredVector := range matches {
		if scoredVector.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if scoredVector.Vector.Metadata != nil {
			for k, v := range scoredVector.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		content := ""
		if str, ok := metadata["content"].(string); ok {
			content = str
		}

		results = append(results, Result{
			ID:       scoredVector.Vector.Id,
			Content:  content,
			Vector:   scoredVector.Vector.Values,
			Metadata: metadata,
			Score:    scoredVector.Score,
		})
	}

	return results
}

var _ Provider = (*PineconeProvider)(nil)
