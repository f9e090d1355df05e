// Package orchestrator composes role agents into tasks: a single-role
// call for interactive chat, the planner-coder-reviewer pipeline, and
// the test-and-fix loop used by autofix and the autonomous PR
// pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// Task outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
	OutcomeUnfixed  = "unfixed"
)

// Orchestration modes, used as metric labels.
const (
	ModeSingle     = "single"
	ModePipeline   = "pipeline"
	ModeTestAndFix = "test_and_fix"
)

// pipelineRoles is the fixed pipeline order.
var pipelineRoles = []string{"planner", "coder", "reviewer"}

// RoleStep records one role's run within a task.
type RoleStep struct {
	Role     string
	Output   string
	Duration time.Duration
	Degraded bool
	Err      string
}

// TaskResult is the outcome of an orchestrated task.
type TaskResult struct {
	TaskID   string
	Text     string
	Outcome  string
	Steps    []RoleStep
	ToolUses []agent.ToolUse
}

// Degraded reports whether any step ran past its budget or was cut
// short.
func (r *TaskResult) Degraded() bool {
	for _, s := range r.Steps {
		if s.Degraded {
			return true
		}
	}
	return r.Outcome == OutcomeDegraded
}

// Orchestrator builds agents on demand and runs them under the
// configured deadlines and iteration caps.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	roles    *agent.Library
	llm      agent.LLM
	tools    *tools.Registry
	composer *agent.Composer
	logger   *slog.Logger
}

func New(cfg config.OrchestratorConfig, roles *agent.Library, llm agent.LLM, toolRegistry *tools.Registry, composer *agent.Composer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		roles:    roles,
		llm:      llm,
		tools:    toolRegistry,
		composer: composer,
		logger:   logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) newAgent(roleName string) (*agent.Agent, error) {
	role, err := o.roles.Get(roleName)
	if err != nil {
		return nil, err
	}
	return agent.New(role, o.llm, o.tools, o.composer, o.logger), nil
}

// RunSingle executes one role against the session's context. chunks
// may be nil for a non-streaming call; the orchestrator never closes
// it.
func (o *Orchestrator) RunSingle(ctx context.Context, roleName, sessionID, input string, attachments []agent.AttachmentSnippet, chunks chan<- string) (*TaskResult, error) {
	a, err := o.newAgent(roleName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SingleRoleDeadline)
	defer cancel()

	ctx, span := observability.GetTracer("maestro.orchestrator").Start(ctx, "orchestrator.single",
		trace.WithAttributes(attribute.String("role", roleName)))
	defer span.End()

	result := &TaskResult{TaskID: uuid.NewString()}
	start := time.Now()

	var output *agent.Output
	if chunks != nil {
		output, err = a.ExecuteStreaming(ctx, sessionID, input, attachments, chunks)
	} else {
		output, err = a.Execute(ctx, sessionID, input, attachments)
	}

	step := RoleStep{Role: roleName, Duration: time.Since(start)}
	if err != nil {
		step.Err = err.Error()
		result.Steps = append(result.Steps, step)
		result.Outcome = OutcomeFailed
		o.recordOutcome(ctx, ModeSingle, result.Outcome)
		return result, err
	}

	step.Output = output.Text
	step.Degraded = output.Degraded
	result.Steps = append(result.Steps, step)
	result.Text = output.Text
	result.ToolUses = output.ToolUses
	result.Outcome = OutcomeSuccess
	if output.Degraded {
		result.Outcome = OutcomeDegraded
	}
	o.recordOutcome(ctx, ModeSingle, result.Outcome)
	return result, nil
}

// RunPipeline runs planner, coder, and reviewer in order. Each role
// sees the previous role's final message as its input. A role that
// overruns the soft deadline logs a warning; one that hits the hard
// deadline is cancelled and the pipeline continues with whatever
// partial output is in hand, marking the task degraded.
func (o *Orchestrator) RunPipeline(ctx context.Context, sessionID, input string, attachments []agent.AttachmentSnippet) (*TaskResult, error) {
	ctx, span := observability.GetTracer("maestro.orchestrator").Start(ctx, "orchestrator.pipeline")
	defer span.End()

	result := &TaskResult{TaskID: uuid.NewString()}
	stepInput := input
	stepAttachments := attachments
	degraded := false

	for i, roleName := range pipelineRoles {
		step, output, err := o.runPipelineStep(ctx, roleName, sessionID, stepInput, stepAttachments)
		result.Steps = append(result.Steps, *step)

		if err != nil {
			if ctx.Err() != nil {
				// The whole task was cancelled; stop rather than feed
				// empty input to the next role.
				result.Outcome = OutcomeFailed
				o.recordOutcome(ctx, ModePipeline, result.Outcome)
				return result, err
			}
			// Hard deadline or provider failure on one step: advance
			// degraded with the best output so far.
			o.logger.Warn("pipeline step failed, continuing degraded",
				"role", roleName, "error", err)
			degraded = true
			continue
		}

		if output.Degraded {
			degraded = true
		}
		result.ToolUses = append(result.ToolUses, output.ToolUses...)
		result.Text = output.Text

		if i < len(pipelineRoles)-1 {
			stepInput = fmt.Sprintf("Original request:\n%s\n\nOutput from %s:\n%s",
				input, roleName, output.Text)
			// Attachments are consumed by the first role only.
			stepAttachments = nil
		}
	}

	result.Outcome = OutcomeSuccess
	if degraded {
		result.Outcome = OutcomeDegraded
	}
	o.recordOutcome(ctx, ModePipeline, result.Outcome)
	return result, nil
}

func (o *Orchestrator) runPipelineStep(ctx context.Context, roleName, sessionID, input string, attachments []agent.AttachmentSnippet) (*RoleStep, *agent.Output, error) {
	a, err := o.newAgent(roleName)
	if err != nil {
		return &RoleStep{Role: roleName, Err: err.Error()}, nil, err
	}

	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.HardDeadline)
	defer cancel()

	start := time.Now()
	softTimer := time.AfterFunc(o.cfg.SoftDeadline, func() {
		o.logger.Warn("pipeline step exceeded soft deadline",
			"role", roleName, "soft_deadline", o.cfg.SoftDeadline)
	})
	defer softTimer.Stop()

	output, err := a.Execute(stepCtx, sessionID, input, attachments)
	duration := time.Since(start)

	step := &RoleStep{Role: roleName, Duration: duration}
	if duration > o.cfg.SoftDeadline {
		step.Degraded = true
	}
	if err != nil {
		step.Err = err.Error()
		return step, nil, err
	}
	step.Output = output.Text
	step.Degraded = step.Degraded || output.Degraded
	return step, output, nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, mode, outcome string) {
	observability.GetGlobalMetrics().RecordTaskOutcome(ctx, mode, outcome)
}
