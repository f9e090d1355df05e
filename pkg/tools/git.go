package tools

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/sandbox"
)

// gitRunner executes git with an argv vector inside the workspace,
// initializing the repository on first use.
type gitRunner struct {
	runner    sandbox.Runner
	workspace string
}

func (g *gitRunner) run(ctx context.Context, args ...string) (*sandbox.Result, error) {
	if err := g.ensureRepo(ctx); err != nil {
		return nil, err
	}
	return g.runner.Run(ctx, sandbox.Spec{Command: append([]string{"git"}, args...)})
}

func (g *gitRunner) ensureRepo(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.workspace, ".git")); err == nil {
		return nil
	}
	result, err := g.runner.Run(ctx, sandbox.Spec{Command: []string{"git", "init"}})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return protocol.Errorf(protocol.KindToolError, "git init failed: %s", result.Stderr)
	}
	return nil
}

// GitStatusTool reports the working tree status.
type GitStatusTool struct {
	git *gitRunner
}

func NewGitStatusTool(runner sandbox.Runner, workspace string) *GitStatusTool {
	return &GitStatusTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitStatusTool) Name() string { return "git_status" }

func (t *GitStatusTool) Definition() Definition {
	return Definition{
		Name:        "git_status",
		Description: "Show the git working tree status of the workspace.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Capabilities: []Capability{CapVCS},
	}
}

func (t *GitStatusTool) Execute(ctx context.Context, _ map[string]any) (*Result, error) {
	start := time.Now()
	result, err := t.git.run(ctx, "status", "--short", "--branch")
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}

// GitDiffTool shows pending changes.
type GitDiffTool struct {
	git *gitRunner
}

func NewGitDiffTool(runner sandbox.Runner, workspace string) *GitDiffTool {
	return &GitDiffTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitDiffTool) Name() string { return "git_diff" }

func (t *GitDiffTool) Definition() Definition {
	return Definition{
		Name:        "git_diff",
		Description: "Show uncommitted changes in the workspace. Pass staged=true for the index diff.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"staged": map[string]any{"type": "boolean", "description": "Diff the staged changes instead of the working tree"},
				"path":   map[string]any{"type": "string", "description": "Limit the diff to one path"},
			},
		},
		Capabilities: []Capability{CapVCS},
	}
}

func (t *GitDiffTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Staged bool   `json:"staged"`
		Path   string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	gitArgs := []string{"diff"}
	if params.Staged {
		gitArgs = append(gitArgs, "--staged")
	}
	if params.Path != "" {
		gitArgs = append(gitArgs, "--", params.Path)
	}

	result, err := t.git.run(ctx, gitArgs...)
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}

// GitCommitTool stages everything and commits.
type GitCommitTool struct {
	git *gitRunner
}

func NewGitCommitTool(runner sandbox.Runner, workspace string) *GitCommitTool {
	return &GitCommitTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitCommitTool) Name() string { return "git_commit" }

func (t *GitCommitTool) Definition() Definition {
	return Definition{
		Name:        "git_commit",
		Description: "Stage all changes and create a commit with the given message.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string", "description": "Commit message"},
			},
			"required": []string{"message"},
		},
		Capabilities: []Capability{CapVCS, CapWriteFS},
	}
}

func (t *GitCommitTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Message string `json:"message"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Message == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "commit message cannot be empty", nil)
	}

	addResult, err := t.git.run(ctx, "add", "-A")
	if err != nil {
		return nil, err
	}
	if addResult.ExitCode != 0 {
		return shellResult(addResult, start), nil
	}

	result, err := t.git.run(ctx, "commit", "-m", params.Message)
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}

// branchNamePattern keeps branch names to plain ref-safe characters.
var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// GitCreateBranchTool creates and checks out a new branch.
type GitCreateBranchTool struct {
	git *gitRunner
}

func NewGitCreateBranchTool(runner sandbox.Runner, workspace string) *GitCreateBranchTool {
	return &GitCreateBranchTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitCreateBranchTool) Name() string { return "git_create_branch" }

func (t *GitCreateBranchTool) Definition() Definition {
	return Definition{
		Name:        "git_create_branch",
		Description: "Create a new git branch and switch to it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "Branch name"},
			},
			"required": []string{"name"},
		},
		Capabilities: []Capability{CapVCS},
	}
}

func (t *GitCreateBranchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, protocol.NewError(protocol.KindInvalidInput, "branch name cannot be empty", nil)
	}
	if !branchNamePattern.MatchString(params.Name) || strings.HasPrefix(params.Name, "-") {
		return nil, protocol.Errorf(protocol.KindInvalidInput, "invalid branch name: %s", params.Name)
	}

	result, err := t.git.run(ctx, "checkout", "-b", params.Name)
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}

// GitLogTool shows recent commits.
type GitLogTool struct {
	git *gitRunner
}

func NewGitLogTool(runner sandbox.Runner, workspace string) *GitLogTool {
	return &GitLogTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitLogTool) Name() string { return "git_log" }

func (t *GitLogTool) Definition() Definition {
	return Definition{
		Name:        "git_log",
		Description: "Show recent commits, newest first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"n": map[string]any{"type": "integer", "description": "Number of commits to show (default 10)"},
			},
		},
		Capabilities: []Capability{CapVCS},
	}
}

func (t *GitLogTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		N int `json:"n"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}
	if params.N <= 0 {
		params.N = 10
	}

	result, err := t.git.run(ctx, "log", "--oneline", "-n", strconv.Itoa(params.N))
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}

// GitBranchesTool lists local branches.
type GitBranchesTool struct {
	git *gitRunner
}

func NewGitBranchesTool(runner sandbox.Runner, workspace string) *GitBranchesTool {
	return &GitBranchesTool{git: &gitRunner{runner: runner, workspace: workspace}}
}

func (t *GitBranchesTool) Name() string { return "git_branches" }

func (t *GitBranchesTool) Definition() Definition {
	return Definition{
		Name:        "git_branches",
		Description: "List local branches; the current branch is starred.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Capabilities: []Capability{CapVCS},
	}
}

func (t *GitBranchesTool) Execute(ctx context.Context, _ map[string]any) (*Result, error) {
	start := time.Now()
	result, err := t.git.run(ctx, "branch", "--list")
	if err != nil {
		return nil, err
	}
	return shellResult(result, start), nil
}
