package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
)

// maxOutputBytes caps captured stdout/stderr per stream.
const maxOutputBytes = 256 << 10

// Spec describes one command execution. Command is an argv vector and
// is executed directly, never through a shell.
type Spec struct {
	Command []string
	Dir     string
	Env     []string
	Stdin   string
	Timeout time.Duration
}

// Result is the outcome of a sandboxed execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes commands in an isolation boundary.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
	Name() string
}

// NewRunner builds the runner selected by configuration.
func NewRunner(cfg config.SandboxConfig, workspace string) (Runner, error) {
	switch cfg.Mode {
	case "process", "":
		return NewProcessRunner(cfg, workspace), nil
	case "docker":
		return NewDockerRunner(cfg, workspace)
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s (supported: process, docker)", cfg.Mode)
	}
}

// limitWriter discards bytes beyond max while reporting full writes,
// so a chatty process is not blocked on a full pipe.
type limitWriter struct {
	buf []byte
	max int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if len(w.buf) < w.max {
		remaining := w.max - len(w.buf)
		if len(p) > remaining {
			w.buf = append(w.buf, p[:remaining]...)
		} else {
			w.buf = append(w.buf, p...)
		}
	}
	return len(p), nil
}

func (w *limitWriter) String() string {
	if len(w.buf) >= w.max {
		return string(w.buf) + "\n... (truncated)"
	}
	return string(w.buf)
}
