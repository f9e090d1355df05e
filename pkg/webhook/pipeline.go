package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-dev/maestro/pkg/audit"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/orchestrator"
	"github.com/maestro-dev/maestro/pkg/sandbox"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// Event is a parsed webhook delivery.
type Event struct {
	Kind       string
	DeliveryID string
	Repository string
	CloneURL   string
	Principal  string
	Number     int
	Title      string
	Body       string
}

// WorkspaceFactory builds an orchestrator, tool registry, and sandbox
// runner rooted at a scratch checkout. The pipeline works on cloned
// repositories, never on the interactive workspace. The context bounds
// any indexing the factory performs over the checkout.
type WorkspaceFactory func(ctx context.Context, workspace string) (*orchestrator.Orchestrator, *tools.Registry, sandbox.Runner, error)

// Pipeline runs the autonomous clone-analyze-patch-test-PR flow off
// the webhook hot path.
type Pipeline struct {
	cfg        config.WebhookConfig
	toolsCfg   config.ToolsConfig
	sandboxCfg config.SandboxConfig
	dataRoot   string
	factory    WorkspaceFactory
	jobs       *Store
	audit      *audit.Logger
	logger     *slog.Logger
	httpClient *http.Client
}

func NewPipeline(cfg config.WebhookConfig, toolsCfg config.ToolsConfig, sandboxCfg config.SandboxConfig, dataRoot string, factory WorkspaceFactory, jobs *Store, auditLog *audit.Logger, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		toolsCfg:   toolsCfg,
		sandboxCfg: sandboxCfg,
		dataRoot:   dataRoot,
		factory:    factory,
		jobs:       jobs,
		audit:      auditLog,
		logger:     logger.With("component", "webhook.pipeline"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Run executes the pipeline for one job. It is called on its own
// goroutine; every outcome lands in the job snapshot and audit log.
func (p *Pipeline) Run(job *Job, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	outcome := p.run(ctx, job, event)
	observability.GetGlobalMetrics().RecordWebhookJob(ctx, outcome)
}

func (p *Pipeline) run(ctx context.Context, job *Job, event *Event) string {
	workDir := filepath.Join(p.dataRoot, "work", uuid.NewString())
	defer os.RemoveAll(workDir)

	p.transition(job, StatusAnalyzing, "")

	if err := p.clone(ctx, event.CloneURL, workDir); err != nil {
		return p.fail(job, fmt.Sprintf("clone failed: %v", err))
	}

	orch, registry, runner, err := p.factory(ctx, workDir)
	if err != nil {
		return p.fail(job, fmt.Sprintf("workspace setup failed: %v", err))
	}

	sessionID := "webhook:" + job.DeliveryID

	diagnosis, err := orch.RunSingle(ctx, "planner", sessionID, diagnosisPrompt(event), nil, nil)
	if err != nil {
		return p.fail(job, fmt.Sprintf("diagnosis failed: %v", err))
	}
	scope := parseScope(diagnosis.Text)

	p.transition(job, StatusPatching, "")

	patchReply, err := orch.RunSingle(ctx, "coder", sessionID, patchPrompt(event, diagnosis.Text), nil, nil)
	if err != nil {
		return p.fail(job, fmt.Sprintf("patch generation failed: %v", err))
	}

	patch := ExtractPatch(patchReply.Text)
	if err := CheckPatch(patch, p.cfg.MaxPatchBytes, p.toolsCfg.SensitivePatterns, scope); err != nil {
		return p.reject(job, err)
	}

	if err := p.applyPatch(ctx, runner, patch); err != nil {
		return p.fail(job, fmt.Sprintf("patch apply failed: %v", err))
	}

	p.transition(job, StatusTesting, "")

	testResult, err := orch.RunTestAndFix(ctx, sessionID, orchestrator.AutofixOptions{})
	if err != nil {
		return p.fail(job, fmt.Sprintf("test run failed: %v", err))
	}
	if testResult.Outcome != orchestrator.OutcomeSuccess {
		return p.fail(job, "tests still failing after the fix loop")
	}

	p.transition(job, StatusPosting, "")

	prURL, err := p.openDraftPR(ctx, registry, runner, job, event, diagnosis.Text, testResult.Text)
	if err != nil {
		return p.fail(job, fmt.Sprintf("pull request creation failed: %v", err))
	}

	job.Outcome = prURL
	job.FinishedAt = time.Now()
	p.transition(job, StatusDone, prURL)
	return string(StatusDone)
}

func (p *Pipeline) clone(ctx context.Context, cloneURL, workDir string) error {
	if cloneURL == "" {
		return fmt.Errorf("event carries no clone URL")
	}
	if err := os.MkdirAll(filepath.Dir(workDir), 0755); err != nil {
		return err
	}

	runner := sandbox.NewProcessRunner(p.sandboxCfg, filepath.Dir(workDir))
	result, err := runner.Run(ctx, sandbox.Spec{
		Command: []string{"git", "clone", "--depth", "1", cloneURL, workDir},
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git clone exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (p *Pipeline) applyPatch(ctx context.Context, runner sandbox.Runner, patch string) error {
	result, err := runner.Run(ctx, sandbox.Spec{
		Command: []string{"git", "apply", "--whitespace=nowarn"},
		Stdin:   patch,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git apply exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

// openDraftPR pushes the fix branch and opens a draft pull request.
// The PR is always draft; the pipeline never merges.
func (p *Pipeline) openDraftPR(ctx context.Context, registry *tools.Registry, runner sandbox.Runner, job *Job, event *Event, diagnosis, transcript string) (string, error) {
	branch := "maestro/fix-" + shortID(job.DeliveryID)
	actor := "webhook:" + job.DeliveryID

	if _, err := registry.Execute(ctx, actor, "git_create_branch", map[string]any{"name": branch}); err != nil {
		return "", err
	}
	commitResult, err := registry.Execute(ctx, actor, "git_commit", map[string]any{
		"message": fmt.Sprintf("fix: automated patch for %s #%d", event.Repository, event.Number),
	})
	if err != nil {
		return "", err
	}
	if !commitResult.Success {
		return "", fmt.Errorf("commit failed: %s", commitResult.Error)
	}

	pushResult, err := runner.Run(ctx, sandbox.Spec{Command: []string{"git", "push", "origin", branch}})
	if err != nil {
		return "", err
	}
	if pushResult.ExitCode != 0 {
		return "", fmt.Errorf("git push exited %d: %s", pushResult.ExitCode, pushResult.Stderr)
	}

	body := fmt.Sprintf("## Diagnosis\n\n%s\n\n## Test transcript\n\n```\n%s\n```\n\nOpened automatically; review before merging.",
		diagnosis, transcript)
	payload, err := json.Marshal(map[string]any{
		"title": fmt.Sprintf("Automated fix: %s", event.Title),
		"head":  branch,
		"base":  "main",
		"body":  body,
		"draft": true,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/repos/%s/pulls", strings.TrimRight(p.cfg.APIBase, "/"), event.Repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")
	if p.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("forge API returned %d: %s", resp.StatusCode, respBody)
	}

	var created struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("failed to parse PR response: %w", err)
	}
	return created.HTMLURL, nil
}

func (p *Pipeline) transition(job *Job, status Status, detail string) {
	job.Status = status
	if err := p.jobs.Save(job); err != nil {
		p.logger.Error("failed to save job snapshot", "delivery_id", job.DeliveryID, "error", err)
	}

	entry := audit.Entry{
		Actor:   "webhook:" + job.DeliveryID,
		Action:  "pipeline:" + string(status),
		Target:  job.Repository,
		Outcome: audit.OutcomeAllowed,
	}
	switch status {
	case StatusFailed:
		entry.Outcome = audit.OutcomeFailed
	case StatusRejected:
		entry.Outcome = audit.OutcomeDenied
	}
	if detail != "" {
		entry.Detail = map[string]any{"detail": detail}
	}
	p.audit.Record(entry)

	p.logger.Info("job transition",
		"delivery_id", job.DeliveryID, "status", status, "detail", detail)
}

func (p *Pipeline) fail(job *Job, reason string) string {
	job.Outcome = reason
	job.FinishedAt = time.Now()
	p.transition(job, StatusFailed, reason)
	return string(StatusFailed)
}

func (p *Pipeline) reject(job *Job, err error) string {
	reason := err.Error()
	if ge, ok := err.(*GuardrailError); ok {
		reason = ge.Reason
		job.Outcome = ge.Reason + ": " + ge.Detail
	} else {
		job.Outcome = reason
	}
	job.FinishedAt = time.Now()
	p.transition(job, StatusRejected, reason)
	return string(StatusRejected)
}

func diagnosisPrompt(event *Event) string {
	return fmt.Sprintf(
		"A %s event arrived for %s (#%d): %s\n\n%s\n\n"+
			"Diagnose the problem in this checkout. End your reply with a "+
			"'Files:' section listing, one per line, the files a fix should touch.",
		event.Kind, event.Repository, event.Number, event.Title, event.Body)
}

func patchPrompt(event *Event, diagnosis string) string {
	return fmt.Sprintf(
		"Produce a fix for %s based on this diagnosis:\n\n%s\n\n"+
			"Reply with a single unified diff in a ```diff fence and nothing else. "+
			"Touch only the files the diagnosis names.",
		event.Repository, diagnosis)
}

// parseScope reads the file list out of a diagnosis 'Files:' section.
func parseScope(diagnosis string) []string {
	idx := strings.LastIndex(diagnosis, "Files:")
	if idx < 0 {
		return nil
	}

	var scope []string
	for _, line := range strings.Split(diagnosis[idx+len("Files:"):], "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-* \t"))
		if line == "" {
			continue
		}
		if strings.ContainsAny(line, " :") {
			// The list ended and prose resumed.
			break
		}
		scope = append(scope, line)
	}
	return scope
}

func shortID(deliveryID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, deliveryID)
	if len(cleaned) > 12 {
		cleaned = cleaned[:12]
	}
	if cleaned == "" {
		cleaned = uuid.NewString()[:8]
	}
	return cleaned
}
