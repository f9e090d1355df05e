package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/sandbox"
)

// ShellTool runs a whitelisted binary with an argv vector. Commands
// are executed directly, never through a shell interpreter, so pipes,
// redirects, and substitutions in arguments carry no meaning.
type ShellTool struct {
	runner    sandbox.Runner
	whitelist []string
	cfg       config.ToolsConfig
}

func NewShellTool(runner sandbox.Runner, cfg config.ToolsConfig) *ShellTool {
	return &ShellTool{runner: runner, whitelist: cfg.ShellWhitelist, cfg: cfg}
}

func (t *ShellTool) Name() string { return "run_shell" }

func (t *ShellTool) Definition() Definition {
	return Definition{
		Name: "run_shell",
		Description: fmt.Sprintf(
			"Run a command in the workspace. 'command' is an argv list, e.g. [\"git\", \"status\"]. Shell syntax (pipes, redirects, &&) is not interpreted. Allowed binaries: %s.",
			strings.Join(t.whitelist, ", ")),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command and arguments as separate list items",
				},
				"timeout_seconds": map[string]any{"type": "number", "description": "Override the default timeout"},
			},
			"required": []string{"command"},
		},
		Capabilities: []Capability{CapExec},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Command []string `json:"command"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if len(params.Command) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidInput, "command cannot be empty", nil)
	}

	if err := t.checkWhitelist(params.Command[0]); err != nil {
		return nil, err
	}

	result, err := t.runner.Run(ctx, sandbox.Spec{Command: params.Command})
	if err != nil {
		return nil, err
	}

	return shellResult(result, start), nil
}

func (t *ShellTool) checkWhitelist(binary string) error {
	base := filepath.Base(binary)
	if base != binary {
		return protocol.Errorf(protocol.KindNotPermitted,
			"command must be a bare binary name, got path: %s", binary)
	}
	for _, allowed := range t.whitelist {
		if base == allowed {
			return nil
		}
	}
	return protocol.Errorf(protocol.KindNotPermitted,
		"binary not in whitelist: %s (allowed: %s)", base, strings.Join(t.whitelist, ", "))
}

// shellResult formats a sandbox result for the model.
func shellResult(result *sandbox.Result, start time.Time) *Result {
	var sb strings.Builder
	if result.Stdout != "" {
		sb.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(result.Stderr)
	}

	out := &Result{
		Content:  sb.String(),
		Duration: time.Since(start),
		Metadata: map[string]any{"exit_code": result.ExitCode},
	}

	switch {
	case result.TimedOut:
		out.Error = "execution timed out"
	case result.ExitCode != 0:
		out.Error = fmt.Sprintf("exit code %d", result.ExitCode)
	default:
		out.Success = true
	}
	return out
}
