package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/vector"
)

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r)
	}
	return v, nil
}

func (s *stubEmbedder) GetModel() string  { return "stub" }
func (s *stubEmbedder) GetDimension() int { return 8 }

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	provider, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })

	cfg := config.MemoryConfig{}
	cfg.SetDefaults()
	return New(provider, &stubEmbedder{}, cfg)
}

func TestRecordAndRecall(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.RecordExchange(ctx, "s1", "how do I parse YAML in Go", "use gopkg.in/yaml.v3", 0, 1))

	results, err := m.Recall(ctx, "s1", "parse YAML")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "s1", results[0].Metadata["session_id"])
}

func TestRecordTagsTurnIndex(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "s1", "assistant", "the fix is in the parser", 7))

	results, err := m.Recall(ctx, "s1", "parser fix")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "assistant", results[0].Metadata["role"])
	assert.Equal(t, "7", results[0].Metadata["turn_index"])
}

func TestRecallFiltersOtherSessions(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "s1", "user", "my topic is databases", 0))
	require.NoError(t, m.Record(ctx, "s2", "user", "my topic is databases too", 0))

	results, err := m.Recall(ctx, "s1", "databases")
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "s1", r.Metadata["session_id"])
	}
}

func TestRecallCapsResults(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, m.Record(ctx, "s1", "user", fmt.Sprintf("note number %d about widgets", i), i))
	}

	results, err := m.Recall(ctx, "s1", "widgets")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), m.cfg.TopAfterFilter)
}

func TestRecordSkipsEmptyContent(t *testing.T) {
	m := newTestMemory(t)
	require.NoError(t, m.Record(context.Background(), "s1", "user", "   ", 0))

	results, err := m.Recall(context.Background(), "s1", "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestForgetRemovesSessionMemories(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "s1", "user", "remember the milk", 0))
	require.NoError(t, m.Forget(ctx, "s1"))

	results, err := m.Recall(ctx, "s1", "milk")
	require.NoError(t, err)
	assert.Empty(t, results)
}
