package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/sandbox"
)

// PythonTool executes Python code through the configured sandbox.
// Every run gets a throwaway scratch directory as its working
// directory, removed when the run finishes.
type PythonTool struct {
	runner    sandbox.Runner
	workspace string
}

func NewPythonTool(runner sandbox.Runner, workspace string) *PythonTool {
	return &PythonTool{runner: runner, workspace: workspace}
}

func (t *PythonTool) Name() string { return "run_python" }

func (t *PythonTool) Definition() Definition {
	return Definition{
		Name:        "run_python",
		Description: "Execute a Python snippet in a sandbox and return its output. Each run works in a scratch directory that is deleted afterwards.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":            map[string]any{"type": "string", "description": "Python source to execute"},
				"stdin":           map[string]any{"type": "string", "description": "Text piped to the program's stdin"},
				"timeout_seconds": map[string]any{"type": "number", "description": "Override the default timeout"},
			},
			"required": []string{"code"},
		},
		Capabilities: []Capability{CapExec},
	}
}

func (t *PythonTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Code           string  `json:"code"`
		Stdin          string  `json:"stdin"`
		TimeoutSeconds float64 `json:"timeout_seconds"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Code == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "code cannot be empty", nil)
	}

	scratch := filepath.Join(t.workspace, ".scratch", uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	result, err := t.runner.Run(ctx, sandbox.Spec{
		Command: []string{"python3", "-c", params.Code},
		Dir:     scratch,
		Stdin:   params.Stdin,
		Timeout: time.Duration(params.TimeoutSeconds * float64(time.Second)),
	})
	if err != nil {
		return nil, err
	}

	return shellResult(result, start), nil
}

// TestTool runs the project's configured test command. The autofix
// loop calls it between patch attempts; the model can call it too.
type TestTool struct {
	runner  sandbox.Runner
	command []string
}

func NewTestTool(runner sandbox.Runner, command []string) *TestTool {
	return &TestTool{runner: runner, command: command}
}

func (t *TestTool) Name() string { return "run_tests" }

func (t *TestTool) Definition() Definition {
	return Definition{
		Name:        "run_tests",
		Description: "Run the project's test suite and return the output.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Capabilities: []Capability{CapExec},
	}
}

func (t *TestTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	if len(t.command) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidInput, "no test command configured", nil)
	}

	result, err := t.runner.Run(ctx, sandbox.Spec{Command: t.command})
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}
