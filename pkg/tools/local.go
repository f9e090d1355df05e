package tools

import (
	"fmt"

	"github.com/maestro-dev/maestro/pkg/audit"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/sandbox"
)

// NewLocalRegistry builds the full built-in tool set. The tool set is
// closed: models cannot register or discover tools at runtime.
func NewLocalRegistry(cfg config.ToolsConfig, workspace string, runner sandbox.Runner, auditLog *audit.Logger) (*Registry, error) {
	ws, err := NewWorkspace(workspace, cfg.SensitivePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	registry := NewRegistry(cfg, auditLog)

	toolSet := []Tool{
		NewReadFileTool(ws),
		NewWriteFileTool(ws),
		NewListDirTool(ws),
		NewSearchFilesTool(ws),
		NewShellTool(runner, cfg),
		NewPythonTool(runner, ws.Root()),
		NewTestTool(runner, cfg.TestCommand),
		NewGitStatusTool(runner, ws.Root()),
		NewGitDiffTool(runner, ws.Root()),
		NewGitCommitTool(runner, ws.Root()),
		NewGitCreateBranchTool(runner, ws.Root()),
		NewGitLogTool(runner, ws.Root()),
		NewGitBranchesTool(runner, ws.Root()),
		NewHTTPTool(cfg),
	}

	for _, tool := range toolSet {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}
