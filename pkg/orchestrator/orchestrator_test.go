package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/llms"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/sandbox"
	"github.com/maestro-dev/maestro/pkg/session"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// scriptedLLM replays a fixed sequence of results across calls.
type scriptedLLM struct {
	results []*llms.Result
	calls   int

	// block makes every call wait for context cancellation instead.
	block bool
}

func (s *scriptedLLM) Generate(ctx context.Context, _ []*protocol.Message, _ []llms.ToolDefinition) (*llms.Result, error) {
	if s.block {
		<-ctx.Done()
		return nil, protocol.NewError(protocol.KindTimeout, "generation cancelled", ctx.Err())
	}
	if s.calls >= len(s.results) {
		return s.results[len(s.results)-1], nil
	}
	result := s.results[s.calls]
	s.calls++
	return result, nil
}

func (s *scriptedLLM) GenerateStreaming(ctx context.Context, messages []*protocol.Message, defs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	result, err := s.Generate(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	out := make(chan llms.StreamChunk, 2)
	out <- llms.StreamChunk{Type: "text", Text: result.Text}
	out <- llms.StreamChunk{Type: "done"}
	close(out)
	return out, nil
}

func (s *scriptedLLM) GetModelName() string { return "scripted" }

type fixture struct {
	orchestrator *Orchestrator
	workspace    string
	toolsCfg     config.ToolsConfig
}

func newFixture(t *testing.T, llm agent.LLM, mutate func(*config.ToolsConfig, *config.OrchestratorConfig)) *fixture {
	t.Helper()
	workspace := t.TempDir()

	toolsCfg := config.ToolsConfig{}
	toolsCfg.SetDefaults()
	orchCfg := config.OrchestratorConfig{}
	orchCfg.SetDefaults()
	if mutate != nil {
		mutate(&toolsCfg, &orchCfg)
	}

	sandboxCfg := config.SandboxConfig{}
	sandboxCfg.SetDefaults()
	registry, err := tools.NewLocalRegistry(toolsCfg, workspace, sandbox.NewProcessRunner(sandboxCfg, workspace), nil)
	require.NoError(t, err)

	roles, err := agent.NewLibrary(nil)
	require.NoError(t, err)
	composer := agent.NewComposer(agent.ContextSources{Sessions: session.NewMemoryStore()}, nil, 20, nil)

	return &fixture{
		orchestrator: New(orchCfg, roles, llm, registry, composer, nil),
		workspace:    workspace,
		toolsCfg:     toolsCfg,
	}
}

func TestRunSingleReturnsRoleOutput(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{{Text: "the answer"}}}
	f := newFixture(t, llm, nil)

	result, err := f.orchestrator.RunSingle(context.Background(), "developer", "s1", "question", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "the answer", result.Text)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "developer", result.Steps[0].Role)
}

func TestRunSingleUnknownRole(t *testing.T) {
	f := newFixture(t, &scriptedLLM{results: []*llms.Result{{Text: "x"}}}, nil)

	_, err := f.orchestrator.RunSingle(context.Background(), "wizard", "s1", "question", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestRunSingleStreaming(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{{Text: "streamed"}}}
	f := newFixture(t, llm, nil)

	chunks := make(chan string, 8)
	result, err := f.orchestrator.RunSingle(context.Background(), "developer", "s1", "question", nil, chunks)
	close(chunks)
	require.NoError(t, err)
	assert.Equal(t, "streamed", result.Text)

	var got string
	for c := range chunks {
		got += c
	}
	assert.Equal(t, "streamed", got)
}

func TestRunPipelineOrderAndHandoff(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{
		{Text: "the plan"},
		{Text: "the change"},
		{Text: "looks good"},
	}}
	f := newFixture(t, llm, nil)

	result, err := f.orchestrator.RunPipeline(context.Background(), "s1", "do the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "looks good", result.Text)

	require.Len(t, result.Steps, 3)
	assert.Equal(t, "planner", result.Steps[0].Role)
	assert.Equal(t, "coder", result.Steps[1].Role)
	assert.Equal(t, "reviewer", result.Steps[2].Role)
	assert.Equal(t, "the plan", result.Steps[0].Output)
}

func TestRunPipelineContinuesDegradedOnHardDeadline(t *testing.T) {
	llm := &scriptedLLM{block: true}
	f := newFixture(t, llm, func(_ *config.ToolsConfig, orch *config.OrchestratorConfig) {
		orch.SoftDeadline = 10 * time.Millisecond
		orch.HardDeadline = 50 * time.Millisecond
	})

	result, err := f.orchestrator.RunPipeline(context.Background(), "s1", "do the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, result.Outcome)
	require.Len(t, result.Steps, 3)
	for _, step := range result.Steps {
		assert.NotEmpty(t, step.Err)
	}
}

func TestRunPipelineStopsWhenTaskCancelled(t *testing.T) {
	llm := &scriptedLLM{block: true}
	f := newFixture(t, llm, func(_ *config.ToolsConfig, orch *config.OrchestratorConfig) {
		orch.SoftDeadline = 50 * time.Millisecond
		orch.HardDeadline = 5 * time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := f.orchestrator.RunPipeline(ctx, "s1", "do the thing", nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Len(t, result.Steps, 1)
}

// writeAutofixWorkspace seeds a buggy function and a check script the
// test runner executes. The check passes once the bug is repaired.
func writeAutofixWorkspace(t *testing.T, workspace string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "f.py"),
		[]byte("def f(a, b):\n    return a - b\n"), 0644))
	check := "import sys\n" +
		"src = open('f.py').read()\n" +
		"sys.exit(0 if 'a + b' in src else 1)\n"
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "check.py"), []byte(check), 0644))
}

func TestTestAndFixRepairsAndStops(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{
		{ToolCalls: []*protocol.ToolCall{{
			ID:   "fix-1",
			Name: "write_file",
			Args: map[string]any{"path": "f.py", "content": "def f(a, b):\n    return a + b\n"},
		}}},
		{Text: "replaced subtraction with addition"},
	}}
	f := newFixture(t, llm, func(toolsCfg *config.ToolsConfig, _ *config.OrchestratorConfig) {
		toolsCfg.TestCommand = []string{"python3", "check.py"}
	})
	writeAutofixWorkspace(t, f.workspace)

	result, err := f.orchestrator.RunTestAndFix(context.Background(), "s1", AutofixOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	data, err := os.ReadFile(filepath.Join(f.workspace, "f.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a + b")

	// Two test runs: the failing one and the passing one.
	testRuns := 0
	commits := 0
	for _, step := range result.Steps {
		switch step.Role {
		case "run_tests":
			testRuns++
		case "git_commit":
			commits++
		}
	}
	assert.Equal(t, 2, testRuns)
	assert.Zero(t, commits, "auto-commit is opt-in")
}

func TestTestAndFixExhaustsCap(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{{Text: "I cannot fix this"}}}
	f := newFixture(t, llm, func(toolsCfg *config.ToolsConfig, orch *config.OrchestratorConfig) {
		toolsCfg.TestCommand = []string{"python3", "check.py"}
		orch.TestFixIterations = 2
	})
	writeAutofixWorkspace(t, f.workspace)

	result, err := f.orchestrator.RunTestAndFix(context.Background(), "s1", AutofixOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnfixed, result.Outcome)
	assert.NotEmpty(t, result.Text, "latest failing output is surfaced")
}

func TestTestAndFixAutoCommit(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{{Text: "nothing to do"}}}
	f := newFixture(t, llm, func(toolsCfg *config.ToolsConfig, _ *config.OrchestratorConfig) {
		// Tests pass immediately; only the commit path is exercised.
		toolsCfg.TestCommand = []string{"python3", "-c", "pass"}
	})

	require.NoError(t, os.WriteFile(filepath.Join(f.workspace, "a.txt"), []byte("x\n"), 0644))

	result, err := f.orchestrator.RunTestAndFix(context.Background(), "s1", AutofixOptions{AutoCommit: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)

	committed := false
	for _, step := range result.Steps {
		if step.Role == "git_commit" {
			committed = true
		}
	}
	assert.True(t, committed)
}
