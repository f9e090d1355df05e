package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

func testRunner(t *testing.T) *ProcessRunner {
	t.Helper()
	cfg := config.SandboxConfig{}
	cfg.SetDefaults()
	return NewProcessRunner(cfg, t.TempDir())
}

func TestProcessRunnerCapturesOutput(t *testing.T) {
	r := testRunner(t)

	result, err := r.Run(context.Background(), Spec{Command: []string{"echo", "hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.False(t, result.TimedOut)
}

func TestProcessRunnerNonZeroExit(t *testing.T) {
	r := testRunner(t)

	result, err := r.Run(context.Background(), Spec{Command: []string{"false"}})
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestProcessRunnerTimeout(t *testing.T) {
	r := testRunner(t)

	result, err := r.Run(context.Background(), Spec{
		Command: []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
}

func TestProcessRunnerEmptyCommand(t *testing.T) {
	r := testRunner(t)

	_, err := r.Run(context.Background(), Spec{})
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidInput, protocol.KindOf(err))
}

func TestProcessRunnerEnvIsMinimal(t *testing.T) {
	t.Setenv("SUPER_SECRET_TOKEN", "do-not-leak")
	r := testRunner(t)

	result, err := r.Run(context.Background(), Spec{Command: []string{"env"}})
	require.NoError(t, err)
	assert.NotContains(t, result.Stdout, "SUPER_SECRET_TOKEN")
	assert.True(t, strings.Contains(result.Stdout, "PATH="))
}

func TestProcessRunnerStdin(t *testing.T) {
	r := testRunner(t)

	result, err := r.Run(context.Background(), Spec{
		Command: []string{"cat"},
		Stdin:   "piped input",
	})
	require.NoError(t, err)
	assert.Equal(t, "piped input", result.Stdout)
}

func TestNewRunnerRejectsUnknownMode(t *testing.T) {
	cfg := config.SandboxConfig{Mode: "vm"}
	_, err := NewRunner(cfg, t.TempDir())
	require.Error(t, err)
}
