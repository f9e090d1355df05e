package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemProvider stores vectors in-process with chromem-go, with
// optional gob persistence. Single-process and memory-bound; fine for
// local deployments, use Qdrant or Pinecone beyond that.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	collections map[string]*chromem.Collection

	// dims pins the vector dimension per collection, declared through
	// CreateCollection or inferred from the first upsert.
	dims map[string]int

	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the chromem provider.
type ChromemConfig struct {
	// PersistPath enables file persistence when set.
	PersistPath string

	// Compress gzips the persisted file.
	Compress bool
}

func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := chromemDBPath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			db, err = chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("failed to load existing vector database, creating new",
					"path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("loaded vector database from file", "path", dbPath)
			}
		} else {
			db = chromem.NewDB()
			slog.Info("created new vector database", "path", dbPath)
		}
	} else {
		db = chromem.NewDB()
		slog.Info("created in-memory vector database (no persistence)")
	}

	// Vectors arrive pre-computed; chromem must never embed on its own.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		collections:   make(map[string]*chromem.Collection),
		dims:          make(map[string]int),
		embeddingFunc: identityEmbed,
	}, nil
}

func chromemDBPath(dir string, compress bool) string {
	path := dir + "/vectors.gob"
	if compress {
		path += ".gz"
	}
	return path
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	if err := p.checkDimension(collection, len(vector)); err != nil {
		return err
	}

	strMetadata := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMetadata[k] = fmt.Sprint(v)
	}

	content := ""
	if c, ok := metadata["content"].(string); ok {
		content = c
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  strMetadata,
		Embedding: vector,
	}

	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after upsert", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *ChromemProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem errors when topK exceeds the collection size.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	var whereFilter map[string]string
	if len(filter) > 0 {
		whereFilter = make(map[string]string, len(filter))
		for k, v := range filter {
			whereFilter[k] = fmt.Sprint(v)
		}
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, whereFilter, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, Result{
			ID:       r.ID,
			Score:    r.Similarity,
			Content:  r.Content,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (p *ChromemProvider) Delete(ctx context.Context, collection string, id string) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	whereFilter := make(map[string]string, len(filter))
	for k, v := range filter {
		whereFilter[k] = fmt.Sprint(v)
	}

	if err := col.Delete(ctx, whereFilter, nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after delete", "error", err)
	}
	return nil
}

// checkDimension rejects vectors whose length disagrees with the
// collection's pinned dimension. A collection without one adopts the
// first vector's length.
func (p *ChromemProvider) checkDimension(collection string, got int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	want, ok := p.dims[collection]
	if !ok {
		p.dims[collection] = got
		return nil
	}
	if want != got {
		return fmt.Errorf("dimension mismatch for collection %q: got %d, want %d", collection, got, want)
	}
	return nil
}

func (p *ChromemProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	if _, err := p.getCollection(collection); err != nil {
		return err
	}
	if vectorDimension > 0 {
		p.mu.Lock()
		p.dims[collection] = vectorDimension
		p.mu.Unlock()
	}
	return nil
}

func (p *ChromemProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(p.collections, collection)
	delete(p.dims, collection)

	if err := p.persist(); err != nil {
		slog.Warn("failed to persist after collection delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Name() string { return "chromem" }

func (p *ChromemProvider) Close() error { return p.persist() }

func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}

	//nolint:staticcheck // Using deprecated function for compatibility
	if err := p.db.Export(chromemDBPath(p.persistPath, p.compress), p.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
