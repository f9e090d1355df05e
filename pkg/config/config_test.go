package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
llm:
  providers:
    - type: openai
      model: gpt-4o-mini
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./.state", cfg.DataRoot)
	assert.Equal(t, "chromem", cfg.Vector.Provider)
	assert.Equal(t, "ollama", cfg.Embedder.Type)

	assert.Equal(t, 2000, cfg.Indexer.ChunkSize)
	assert.Equal(t, 200, cfg.Indexer.ChunkOverlap)
	assert.Equal(t, int64(1<<20), cfg.Indexer.MaxFileSize)
	assert.Equal(t, 4, cfg.Indexer.EmbedConcurrency)

	assert.Equal(t, 20, cfg.Memory.RetrievalK)
	assert.Equal(t, 10, cfg.Memory.TopAfterFilter)
	assert.Equal(t, 15, cfg.Memory.CodebaseK)
	assert.Equal(t, 20, cfg.Memory.RecentTurns)

	assert.Equal(t, 5*time.Second, cfg.Orchestrator.SoftDeadline)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.HardDeadline)
	assert.Equal(t, 5, cfg.Orchestrator.TestFixIterations)
	assert.False(t, cfg.Orchestrator.AutoCommit)
	assert.Equal(t, int64(8), cfg.Orchestrator.MaxInflightLLM)
	assert.Equal(t, int64(16), cfg.Orchestrator.MaxInflightTools)

	assert.Equal(t, 64, cfg.Gateway.SendBuffer)
	assert.Equal(t, int64(5<<20), cfg.Gateway.MaxAttachmentSize)
	assert.Equal(t, 1000, cfg.Gateway.AttachmentSlice)

	assert.Equal(t, 10*time.Second, cfg.Tools.DefaultTimeout)
	assert.Equal(t, 60*time.Second, cfg.Tools.MaxTimeout)

	assert.Equal(t, 24*time.Hour, cfg.Webhook.IdempotencyWindow)
	assert.Equal(t, 15*time.Minute, cfg.Webhook.JobTimeout)

	assert.Equal(t, 60, cfg.RateLimit.RequestsPerHour)
}

func TestParseRequiresProvider(t *testing.T) {
	_, err := Parse([]byte(`server: {port: 9000}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one LLM provider")
}

func TestParseRejectsUnknownProviderType(t *testing.T) {
	_, err := Parse([]byte(`
llm:
  providers:
    - type: mystery
      model: m
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM type")
}

func TestParseEnvExpansion(t *testing.T) {
	os.Setenv("TEST_MAESTRO_KEY", "sk-test-123")
	defer os.Unsetenv("TEST_MAESTRO_KEY")

	cfg, err := Parse([]byte(`
llm:
  providers:
    - type: openai
      model: ${TEST_MAESTRO_MODEL:-gpt-4o-mini}
      api_key: ${TEST_MAESTRO_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Providers[0].Model)
	assert.Equal(t, "sk-test-123", cfg.LLM.Providers[0].APIKey)
}

func TestValidateOverlapBound(t *testing.T) {
	_, err := Parse([]byte(`
llm:
  providers:
    - type: openai
      model: m
indexer:
  chunk_size: 100
  chunk_overlap: 100
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestValidateDeadlineOrdering(t *testing.T) {
	_, err := Parse([]byte(`
llm:
  providers:
    - type: openai
      model: m
orchestrator:
  soft_deadline: 20s
  hard_deadline: 10s
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft_deadline")
}
