package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf(`
workspace: %q
data_root: %q
llm:
  providers:
    - type: openai
      model: gpt-4o-mini
      api_key: test-key
`, t.TempDir(), t.TempDir())

	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func TestNewWiresAndShutsDown(t *testing.T) {
	ctx := context.Background()

	rt, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	require.NotNil(t, rt.Indexer())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, rt.Shutdown(shutdownCtx))
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	_, err := config.Parse([]byte("llm:\n  providers: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one LLM provider")
}

func TestCheckoutFactoryBuildsIsolatedStack(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	rt, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer rt.Shutdown(ctx)

	checkout := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "main.py"), []byte("print('hi')\n"), 0644))

	factory := checkoutFactory(cfg, rt.llm, rt.embedder, rt.memory, rt.sessions, nil, nil, nil)
	orch, registry, runner, err := factory(ctx, checkout)
	require.NoError(t, err)
	assert.NotNil(t, orch)
	assert.NotNil(t, registry)
	assert.NotNil(t, runner)

	// The factory indexes the checkout on its own; the shared index
	// never sees clone content.
	assert.FileExists(t, filepath.Join(checkout, ".maestro", "index", "manifest.json"))
}
