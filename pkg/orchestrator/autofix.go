package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/observability"
)

// AutofixOptions tunes one test-and-fix run.
type AutofixOptions struct {
	// Target narrows the fix to a path or hint passed to the coder.
	Target string

	// AutoCommit commits after a passing run. Off unless asked for.
	AutoCommit bool
}

// RunTestAndFix runs the test runner and, while it fails, hands the
// failing output to the coder role to repair, up to the configured
// iteration cap. Exhausting the cap yields outcome "unfixed" with the
// latest failing output as the result text.
func (o *Orchestrator) RunTestAndFix(ctx context.Context, sessionID string, opts AutofixOptions) (*TaskResult, error) {
	ctx, span := observability.GetTracer("maestro.orchestrator").Start(ctx, "orchestrator.test_and_fix",
		trace.WithAttributes(attribute.Int("iteration_cap", o.cfg.TestFixIterations)))
	defer span.End()

	result := &TaskResult{TaskID: uuid.NewString()}
	var lastFailure string

	for iteration := 1; iteration <= o.cfg.TestFixIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			result.Outcome = OutcomeFailed
			o.recordOutcome(ctx, ModeTestAndFix, result.Outcome)
			return result, err
		}

		passed, transcript, err := o.runTests(ctx, result)
		if err != nil {
			result.Outcome = OutcomeFailed
			o.recordOutcome(ctx, ModeTestAndFix, result.Outcome)
			return result, err
		}

		if passed {
			result.Text = transcript
			result.Outcome = OutcomeSuccess
			if opts.AutoCommit {
				if err := o.autoCommit(ctx, result, iteration); err != nil {
					o.logger.Warn("auto-commit failed", "error", err)
				}
			}
			o.recordOutcome(ctx, ModeTestAndFix, result.Outcome)
			return result, nil
		}

		lastFailure = transcript
		o.logger.Info("tests failing, dispatching coder",
			"iteration", iteration, "cap", o.cfg.TestFixIterations)

		step, output, err := o.runFixStep(ctx, sessionID, opts.Target, transcript, iteration)
		result.Steps = append(result.Steps, *step)
		if err != nil {
			result.Outcome = OutcomeFailed
			o.recordOutcome(ctx, ModeTestAndFix, result.Outcome)
			return result, err
		}
		result.ToolUses = append(result.ToolUses, output.ToolUses...)
	}

	result.Text = lastFailure
	result.Outcome = OutcomeUnfixed
	o.recordOutcome(ctx, ModeTestAndFix, result.Outcome)
	return result, nil
}

// runTests invokes the configured test runner tool. A non-zero exit
// is data, not an error: it feeds the next fix iteration.
func (o *Orchestrator) runTests(ctx context.Context, result *TaskResult) (bool, string, error) {
	start := time.Now()
	testResult, err := o.tools.Execute(ctx, "orchestrator", "run_tests", nil)
	if err != nil {
		return false, "", fmt.Errorf("test runner failed to start: %w", err)
	}

	result.Steps = append(result.Steps, RoleStep{
		Role:     "run_tests",
		Output:   testResult.Content,
		Duration: time.Since(start),
	})

	transcript := testResult.Content
	if testResult.Error != "" {
		transcript = strings.TrimSpace(transcript + "\n" + testResult.Error)
	}
	return testResult.Success, transcript, nil
}

func (o *Orchestrator) runFixStep(ctx context.Context, sessionID, target, transcript string, iteration int) (*RoleStep, *agent.Output, error) {
	a, err := o.newAgent("coder")
	if err != nil {
		return &RoleStep{Role: "coder", Err: err.Error()}, nil, err
	}

	var prompt strings.Builder
	prompt.WriteString("The test suite is failing. Fix the code so the tests pass.\n")
	if target != "" {
		fmt.Fprintf(&prompt, "Focus on: %s\n", target)
	}
	fmt.Fprintf(&prompt, "\nFailing output (iteration %d):\n%s", iteration, transcript)

	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.SingleRoleDeadline)
	defer cancel()

	start := time.Now()
	output, err := a.Execute(stepCtx, sessionID, prompt.String(), nil)
	step := &RoleStep{Role: "coder", Duration: time.Since(start)}
	if err != nil {
		step.Err = err.Error()
		return step, nil, err
	}
	step.Output = output.Text
	step.Degraded = output.Degraded
	return step, output, nil
}

func (o *Orchestrator) autoCommit(ctx context.Context, result *TaskResult, iterations int) error {
	message := fmt.Sprintf("fix: repair failing tests (%d autofix iteration(s))", iterations)
	commitResult, err := o.tools.Execute(ctx, "orchestrator", "git_commit", map[string]any{"message": message})
	if err != nil {
		return err
	}
	result.Steps = append(result.Steps, RoleStep{Role: "git_commit", Output: commitResult.Content})
	return nil
}
