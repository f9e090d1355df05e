// Package agent implements the role-agent library: a closed set of
// personas sharing one execution loop, each parameterized by a system
// instruction, a tool whitelist, and a sampling profile.
package agent

import (
	"fmt"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/registry"
)

// Role is a configured persona. The role set is closed: roles are
// declared here, not registered at runtime.
type Role struct {
	Name         string
	Description  string
	SystemPrompt string

	// Tools is the whitelist of tool names this role may invoke.
	Tools []string

	Temperature       float64
	MaxTokens         int
	MaxToolIterations int
}

// AllowsTool reports whether a tool name is on the role's whitelist.
func (r *Role) AllowsTool(name string) bool {
	for _, t := range r.Tools {
		if t == name {
			return true
		}
	}
	return false
}

var readOnlyTools = []string{
	"read_file", "list_dir", "search_files",
	"git_status", "git_diff", "git_log", "git_branches",
}

var fullToolSet = []string{
	"read_file", "write_file", "list_dir", "search_files",
	"run_shell", "run_python", "run_tests",
	"git_status", "git_diff", "git_commit", "git_create_branch",
	"git_log", "git_branches",
	"http_request",
}

// builtinRoles declares the closed role set with default sampling
// profiles. Config can override temperature, token budget, and the
// tool-iteration cap, but not the tool whitelist.
func builtinRoles() []*Role {
	return []*Role{
		{
			Name:        "planner",
			Description: "Breaks a request into a concrete, ordered plan.",
			SystemPrompt: "You are a senior software planner. Read the request and the " +
				"provided context, then produce a short numbered plan of concrete steps. " +
				"Identify which files are involved and what each change does. Do not " +
				"write code; describe the work precisely enough for another engineer " +
				"to implement it.",
			Tools:             readOnlyTools,
			Temperature:       0.3,
			MaxTokens:         1000,
			MaxToolIterations: 4,
		},
		{
			Name:        "coder",
			Description: "Implements changes in the workspace.",
			SystemPrompt: "You are an expert software engineer. Implement the requested " +
				"change using the available tools. Read the relevant files before " +
				"editing them, keep edits minimal and consistent with the surrounding " +
				"code, and run the tests when a test runner is available. Reply with a " +
				"summary of what you changed.",
			Tools:             fullToolSet,
			Temperature:       0.1,
			MaxTokens:         2000,
			MaxToolIterations: 4,
		},
		{
			Name:        "reviewer",
			Description: "Reviews a proposed change for defects.",
			SystemPrompt: "You are a meticulous code reviewer. Examine the change under " +
				"review for correctness, edge cases, and style drift. Point at concrete " +
				"lines and explain the problem; approve explicitly when the change is " +
				"sound. Never modify files.",
			Tools:             readOnlyTools,
			Temperature:       0.2,
			MaxTokens:         1500,
			MaxToolIterations: 4,
		},
		{
			Name:        "pr_reviewer",
			Description: "Reviews a pull request diff end to end.",
			SystemPrompt: "You are reviewing a pull request. Summarize the intent of the " +
				"change, flag risks and missing tests, and give a verdict: approve, " +
				"request changes, or comment. Keep feedback actionable. Never modify " +
				"files.",
			Tools:             readOnlyTools,
			Temperature:       0.2,
			MaxTokens:         1500,
			MaxToolIterations: 4,
		},
		{
			Name:        "test_generator",
			Description: "Writes tests for existing code.",
			SystemPrompt: "You are a test engineer. Read the code under test and write " +
				"focused tests covering its behavior and edge cases, in the project's " +
				"existing test style. Run the tests to confirm they pass before " +
				"replying.",
			Tools: []string{
				"read_file", "write_file", "list_dir", "search_files",
				"run_tests", "run_python",
			},
			Temperature:       0.2,
			MaxTokens:         1500,
			MaxToolIterations: 4,
		},
		{
			Name:        "completer",
			Description: "Completes code at a cursor position.",
			SystemPrompt: "You complete code. Given a fragment, reply with only the " +
				"continuation, no prose and no markdown fences. Match the surrounding " +
				"style exactly.",
			Tools:             []string{"read_file", "search_files"},
			Temperature:       0.1,
			MaxTokens:         500,
			MaxToolIterations: 2,
		},
		{
			Name:        "developer",
			Description: "General-purpose interactive assistant.",
			SystemPrompt: "You are a helpful software development assistant working " +
				"inside the user's repository. Answer questions, investigate code, and " +
				"make changes when asked, using the available tools. Prefer reading the " +
				"actual code over guessing.",
			Tools:             fullToolSet,
			Temperature:       0.2,
			MaxTokens:         2000,
			MaxToolIterations: 4,
		},
	}
}

// Library holds the role set for lookup by name.
type Library struct {
	roles *registry.BaseRegistry[*Role]
}

// NewLibrary builds the built-in role set with per-role config
// overrides applied.
func NewLibrary(overrides map[string]config.RoleConfig) (*Library, error) {
	lib := &Library{roles: registry.NewBaseRegistry[*Role]()}

	for _, role := range builtinRoles() {
		if override, ok := overrides[role.Name]; ok {
			if override.Temperature != nil {
				role.Temperature = *override.Temperature
			}
			if override.MaxTokens > 0 {
				role.MaxTokens = override.MaxTokens
			}
			if override.MaxToolIterations > 0 {
				role.MaxToolIterations = override.MaxToolIterations
			}
		}
		if err := lib.roles.Register(role.Name, role); err != nil {
			return nil, fmt.Errorf("failed to register role %s: %w", role.Name, err)
		}
	}

	for name := range overrides {
		if _, ok := lib.roles.Get(name); !ok {
			return nil, fmt.Errorf("unknown role in config: %s", name)
		}
	}
	return lib, nil
}

// Get resolves a role by name.
func (l *Library) Get(name string) (*Role, error) {
	role, ok := l.roles.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown role: %s", name)
	}
	return role, nil
}

// Names returns the role names in sorted order.
func (l *Library) Names() []string {
	return l.roles.Names()
}
