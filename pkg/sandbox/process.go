package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// ProcessRunner executes commands as local subprocesses with a trimmed
// environment. It offers timeout and output capping but no kernel-level
// isolation; use the docker runner for untrusted code.
type ProcessRunner struct {
	cfg       config.SandboxConfig
	workspace string
}

func NewProcessRunner(cfg config.SandboxConfig, workspace string) *ProcessRunner {
	return &ProcessRunner{cfg: cfg, workspace: workspace}
}

func (r *ProcessRunner) Name() string { return "process" }

func (r *ProcessRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if len(spec.Command) == 0 {
		return nil, protocol.NewError(protocol.KindInvalidInput, "command cannot be empty", nil)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	if cmd.Dir == "" {
		cmd.Dir = r.workspace
	}
	cmd.Env = r.buildEnv(spec.Env)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	stdout := &limitWriter{max: maxOutputBytes}
	stderr := &limitWriter{max: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			return result, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run %s: %w", spec.Command[0], err)
	}

	return result, nil
}

// buildEnv keeps the subprocess environment minimal. Host secrets in
// the server's environment must not leak into executed code.
func (r *ProcessRunner) buildEnv(extra []string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"LANG=en_US.UTF-8",
	}
	return append(env, extra...)
}

var _ Runner = (*ProcessRunner)(nil)
