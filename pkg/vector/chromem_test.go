package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromemUpsertAndSearch(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "memory", "a", []float32{1, 0, 0}, map[string]any{
		"content":    "first document",
		"session_id": "s1",
	}))
	require.NoError(t, p.Upsert(ctx, "memory", "b", []float32{0, 1, 0}, map[string]any{
		"content":    "second document",
		"session_id": "s2",
	}))

	results, err := p.Search(ctx, "memory", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "first document", results[0].Content)
}

func TestChromemSearchWithFilter(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "memory", "a", []float32{1, 0}, map[string]any{"session_id": "s1"}))
	require.NoError(t, p.Upsert(ctx, "memory", "b", []float32{1, 0}, map[string]any{"session_id": "s2"}))

	results, err := p.SearchWithFilter(ctx, "memory", []float32{1, 0}, 10, map[string]any{"session_id": "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestChromemTopKClampedToCollectionSize(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "memory", "only", []float32{1, 0}, nil))

	results, err := p.Search(ctx, "memory", []float32{1, 0}, 20)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemRejectsDimensionMismatch(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.CreateCollection(ctx, "memory", 3))
	require.NoError(t, p.Upsert(ctx, "memory", "a", []float32{1, 0, 0}, nil))

	err = p.Upsert(ctx, "memory", "b", []float32{1, 0}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestChromemPinsDimensionOnFirstUpsert(t *testing.T) {
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "memory", "a", []float32{1, 0}, nil))

	err = p.Upsert(ctx, "memory", "b", []float32{1, 0, 0}, nil)
	require.Error(t, err)

	// A dropped collection releases its pinned dimension.
	require.NoError(t, p.DeleteCollection(ctx, "memory"))
	assert.NoError(t, p.Upsert(ctx, "memory", "c", []float32{1, 0, 0}, nil))
}

func TestChromemPersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, p.Upsert(ctx, "memory", "a", []float32{1, 0}, map[string]any{"content": "kept"}))
	require.NoError(t, p.Close())

	reloaded, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	defer reloaded.Close()

	results, err := reloaded.Search(ctx, "memory", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Content)
}

func TestManifestRoundTripAndMatch(t *testing.T) {
	dir := t.TempDir()

	m := &Manifest{EmbedderModel: "nomic-embed-text", Dimension: 768, ChunkSize: 2000, ChunkOverlap: 200}
	require.NoError(t, SaveManifest(dir, m))

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Matches(m))

	changed := *m
	changed.EmbedderModel = "text-embedding-3-small"
	assert.False(t, loaded.Matches(&changed))
}

func TestManifestMissingIsNil(t *testing.T) {
	loaded, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
