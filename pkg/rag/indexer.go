package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/embedders"
	"github.com/maestro-dev/maestro/pkg/vector"
)

// CodebaseCollection holds the indexed workspace chunks.
const CodebaseCollection = "codebase"

// stateFile maps workspace-relative paths to content hashes, so
// incremental runs can skip unchanged files.
const stateFile = "files.json"

// skipDirNames are directories never worth indexing.
var skipDirNames = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	".state":       true,
	"dist":         true,
	"target":       true,
}

// Stats summarizes an indexing run.
type Stats struct {
	Files    int
	Chunks   int
	Skipped  int
	Duration time.Duration
}

// Indexer walks the workspace, chunks each text file, and upserts the
// chunk embeddings into the vector store. Sensitive paths never reach
// the index.
type Indexer struct {
	workspace    string
	indexDir     string
	vectors      vector.Provider
	embedder     embedders.Embedder
	chunker      *Chunker
	cfg          config.IndexerConfig
	skipPatterns []string
	logger       *slog.Logger

	mu    sync.Mutex
	state map[string]string
}

func NewIndexer(workspace, dataRoot string, vectors vector.Provider, embedder embedders.Embedder, cfg config.IndexerConfig, skipPatterns []string) *Indexer {
	return &Indexer{
		workspace:    workspace,
		indexDir:     filepath.Join(dataRoot, "index"),
		vectors:      vectors,
		embedder:     embedder,
		chunker:      NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:          cfg,
		skipPatterns: skipPatterns,
		logger:       slog.Default().With("component", "indexer"),
		state:        make(map[string]string),
	}
}

// manifest describes the configuration this index was built with.
func (ix *Indexer) manifest() *vector.Manifest {
	return &vector.Manifest{
		EmbedderModel: ix.embedder.GetModel(),
		Dimension:     ix.embedder.GetDimension(),
		ChunkSize:     ix.chunker.Size(),
		ChunkOverlap:  ix.chunker.Overlap(),
	}
}

// IndexAll indexes the workspace. When full is true, or when the stored
// manifest no longer matches the live embedding configuration, the
// existing index is discarded and rebuilt from scratch. Otherwise only
// files whose content hash changed are re-indexed.
func (ix *Indexer) IndexAll(ctx context.Context, full bool) (*Stats, error) {
	start := time.Now()

	stored, err := vector.LoadManifest(ix.indexDir)
	if err != nil {
		return nil, err
	}
	want := ix.manifest()

	if full || !stored.Matches(want) {
		if stored != nil && !stored.Matches(want) {
			ix.logger.Info("index manifest mismatch, rebuilding",
				"stored_model", stored.EmbedderModel, "current_model", want.EmbedderModel)
		}
		if err := ix.vectors.DeleteCollection(ctx, CodebaseCollection); err != nil {
			ix.logger.Debug("could not drop codebase collection", "error", err)
		}
		ix.mu.Lock()
		ix.state = make(map[string]string)
		ix.mu.Unlock()
	} else {
		ix.loadState()
	}

	var files []string
	err = filepath.Walk(ix.workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			ix.logger.Warn("walk error", "path", path, "error", err)
			return nil
		}
		rel, relErr := filepath.Rel(ix.workspace, path)
		if relErr != nil {
			return nil
		}

		if info.IsDir() {
			if rel == "." {
				return nil
			}
			if skipDirNames[info.Name()] || strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			if config.MatchAnyPattern(ix.skipPatterns, rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 && ix.escapingSymlink(path) {
			ix.logger.Debug("skipping symlink outside workspace", "path", rel)
			return nil
		}
		if ix.shouldSkipFile(rel, info) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace walk failed: %w", err)
	}

	stats := &Stats{}
	var statsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(ix.cfg.EmbedConcurrency))

	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			chunks, indexed, err := ix.indexFile(gctx, path)
			if err != nil {
				ix.logger.Warn("failed to index file", "path", path, "error", err)
				return nil
			}

			statsMu.Lock()
			if indexed {
				stats.Files++
				stats.Chunks += chunks
			} else {
				stats.Skipped++
			}
			statsMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := vector.SaveManifest(ix.indexDir, want); err != nil {
		return nil, err
	}
	if err := ix.saveState(); err != nil {
		ix.logger.Warn("failed to save index state", "error", err)
	}

	stats.Duration = time.Since(start)
	ix.logger.Info("indexing complete",
		"files", stats.Files, "chunks", stats.Chunks, "skipped", stats.Skipped,
		"duration", stats.Duration)
	return stats, nil
}

// IndexFile re-indexes a single file. Stale chunks from a previous
// version of the file are removed first.
func (ix *Indexer) IndexFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(ix.workspace, path)
	if err != nil {
		return err
	}
	if ix.shouldSkipFile(rel, info) {
		return nil
	}
	if ix.escapingSymlink(path) {
		return nil
	}

	if _, _, err := ix.indexFile(ctx, path); err != nil {
		return err
	}
	return ix.saveState()
}

// RemoveFile drops a deleted file's chunks from the index.
func (ix *Indexer) RemoveFile(ctx context.Context, path string) error {
	rel, err := filepath.Rel(ix.workspace, path)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)

	if err := ix.vectors.DeleteByFilter(ctx, CodebaseCollection, map[string]any{"path": rel}); err != nil {
		return err
	}

	ix.mu.Lock()
	delete(ix.state, rel)
	ix.mu.Unlock()
	return ix.saveState()
}

// escapingSymlink reports whether path is a symlink whose target
// resolves outside the workspace tree. Such entries never reach the
// index; their content is not workspace content.
func (ix *Indexer) escapingSymlink(path string) bool {
	li, err := os.Lstat(path)
	if err != nil || li.Mode()&os.ModeSymlink == 0 {
		return false
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return true
	}
	root, err := filepath.EvalSymlinks(ix.workspace)
	if err != nil {
		root = ix.workspace
	}
	return target != root && !strings.HasPrefix(target, root+string(filepath.Separator))
}

func (ix *Indexer) shouldSkipFile(rel string, info os.FileInfo) bool {
	rel = filepath.ToSlash(rel)
	if info.Size() == 0 || info.Size() > ix.cfg.MaxFileSize {
		return true
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return true
	}
	return config.MatchAnyPattern(ix.skipPatterns, rel)
}

// indexFile chunks and embeds one file. The second return value is
// false when the file was skipped as unchanged or non-text.
func (ix *Indexer) indexFile(ctx context.Context, path string) (int, bool, error) {
	rel, err := filepath.Rel(ix.workspace, path)
	if err != nil {
		return 0, false, err
	}
	rel = filepath.ToSlash(rel)

	content, err := ExtractText(ctx, path)
	if err != nil {
		if err == ErrBinaryFile {
			return 0, false, nil
		}
		return 0, false, err
	}
	if strings.TrimSpace(content) == "" {
		return 0, false, nil
	}

	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	ix.mu.Lock()
	unchanged := ix.state[rel] == hash
	ix.mu.Unlock()
	if unchanged {
		return 0, false, nil
	}

	// Old chunks must go before the new set lands, otherwise a file
	// that shrank leaves orphaned chunks behind.
	if err := ix.vectors.DeleteByFilter(ctx, CodebaseCollection, map[string]any{"path": rel}); err != nil {
		ix.logger.Debug("failed to delete stale chunks", "path", rel, "error", err)
	}

	chunks := ix.chunker.Chunk(content)
	for _, chunk := range chunks {
		embedding, err := ix.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			return 0, false, fmt.Errorf("failed to embed chunk %d of %s: %w", chunk.Index, rel, err)
		}

		id := fmt.Sprintf("%s:%d", rel, chunk.Index)
		metadata := map[string]any{
			"content":     chunk.Content,
			"path":        rel,
			"start_line":  chunk.StartLine,
			"end_line":    chunk.EndLine,
			"chunk_index": chunk.Index,
			"chunk_hash":  chunk.Hash,
		}
		if err := ix.vectors.Upsert(ctx, CodebaseCollection, id, embedding, metadata); err != nil {
			return 0, false, fmt.Errorf("failed to upsert chunk %s: %w", id, err)
		}
	}

	ix.mu.Lock()
	ix.state[rel] = hash
	ix.mu.Unlock()

	return len(chunks), true, nil
}

func (ix *Indexer) loadState() {
	data, err := os.ReadFile(filepath.Join(ix.indexDir, stateFile))
	if err != nil {
		return
	}
	state := make(map[string]string)
	if err := json.Unmarshal(data, &state); err != nil {
		ix.logger.Warn("failed to parse index state, starting fresh", "error", err)
		return
	}
	ix.mu.Lock()
	ix.state = state
	ix.mu.Unlock()
}

func (ix *Indexer) saveState() error {
	ix.mu.Lock()
	data, err := json.MarshalIndent(ix.state, "", "  ")
	ix.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ix.indexDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ix.indexDir, stateFile), data, 0644)
}
