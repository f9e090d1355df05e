package gateway

import (
	"context"
	"strings"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/orchestrator"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/tools"
)

const helpText = `Available commands:
  /help                      show this help
  /autofix [path]            run the test-and-fix loop
  /test                      run the test suite
  /git_status                show working tree status
  /git_commit "message"      stage everything and commit
  /git_create_branch name    create and switch to a branch
Anything else is sent to the assistant.`

// handleCommand routes a slash command straight to the tool layer.
// The LLM is never consulted, so commands work even when every
// provider is down. The result is one chunk followed by an end frame.
func (g *Gateway) handleCommand(ctx, connCtx context.Context, c *conn, sessionID, content string) {
	fields := strings.Fields(content)
	command := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]

	var output string
	var uses []agent.ToolUse
	var err error

	switch command {
	case "help":
		output = helpText

	case "autofix":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		var result *orchestrator.TaskResult
		result, err = g.orchestrator.RunTestAndFix(ctx, sessionID, orchestrator.AutofixOptions{Target: target})
		if result != nil {
			output = result.Text
			uses = result.ToolUses
			if result.Outcome == orchestrator.OutcomeUnfixed {
				output = "tests still failing after the configured fix attempts:\n" + result.Text
			}
		}

	case "test":
		output, uses, err = g.runCommandTool(ctx, sessionID, "run_tests", nil)

	case "git_status":
		output, uses, err = g.runCommandTool(ctx, sessionID, "git_status", nil)

	case "git_commit":
		message := strings.Trim(strings.TrimSpace(strings.TrimPrefix(content, fields[0])), `"`)
		output, uses, err = g.runCommandTool(ctx, sessionID, "git_commit", map[string]any{"message": message})

	case "git_create_branch":
		if len(args) != 1 {
			err = protocol.NewError(protocol.KindInvalidInput, "usage: /git_create_branch name", nil)
			break
		}
		output, uses, err = g.runCommandTool(ctx, sessionID, "git_create_branch", map[string]any{"name": args[0]})

	default:
		err = protocol.Errorf(protocol.KindInvalidInput, "unknown command: /%s (try /help)", command)
	}

	if err != nil {
		g.sendError(connCtx, c, err)
		return
	}

	if !c.send(connCtx, protocol.ServerFrame{Type: protocol.FrameStart, SessionID: sessionID}) {
		return
	}
	c.send(connCtx, protocol.ServerFrame{Type: protocol.FrameChunk, Content: output})
	g.finishTurn(ctx, connCtx, c, sessionID, content, output, uses)
}

// runCommandTool executes one tool on behalf of the session principal.
func (g *Gateway) runCommandTool(ctx context.Context, sessionID, name string, args map[string]any) (string, []agent.ToolUse, error) {
	result, err := g.tools.Execute(ctx, "session:"+sessionID, name, args)
	if err != nil {
		return "", nil, err
	}

	output := result.Content
	if !result.Success && result.Error != "" {
		output = strings.TrimSpace(output + "\n" + result.Error)
	}
	return output, []agent.ToolUse{{Name: name, Digest: tools.Digest(result)}}, nil
}
