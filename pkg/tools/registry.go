package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/maestro-dev/maestro/pkg/audit"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/llms"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/registry"
)

// Registry holds the closed tool set and wraps every execution with
// timeout enforcement, tracing, metrics, and the audit trail.
type Registry struct {
	tools  *registry.BaseRegistry[Tool]
	cfg    config.ToolsConfig
	audit  *audit.Logger
	logger *slog.Logger
	sem    *semaphore.Weighted
}

func NewRegistry(cfg config.ToolsConfig, auditLog *audit.Logger) *Registry {
	return &Registry{
		tools:  registry.NewBaseRegistry[Tool](),
		cfg:    cfg,
		audit:  auditLog,
		logger: slog.Default().With("component", "tools"),
	}
}

// SetConcurrencyLimit caps simultaneous tool executions process-wide.
// Call before serving traffic; the registry is read-only afterwards.
func (r *Registry) SetConcurrencyLimit(n int64) {
	if n > 0 {
		r.sem = semaphore.NewWeighted(n)
	}
}

func (r *Registry) Register(tool Tool) error {
	return r.tools.Register(tool.Name(), tool)
}

func (r *Registry) Get(name string) (Tool, bool) {
	return r.tools.Get(name)
}

func (r *Registry) Names() []string {
	return r.tools.Names()
}

// Definitions converts the registered tools into the form the LLM
// providers expect.
func (r *Registry) Definitions() []llms.ToolDefinition {
	names := r.tools.Names()
	defs := make([]llms.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool, ok := r.tools.Get(name)
		if !ok {
			continue
		}
		def := tool.Definition()
		defs = append(defs, llms.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return defs
}

// Execute runs a named tool. The call is bounded by the configured
// timeout and recorded in the audit log whether it succeeds, fails,
// or is denied.
func (r *Registry) Execute(ctx context.Context, actor, name string, args map[string]any) (*Result, error) {
	tool, ok := r.tools.Get(name)
	if !ok {
		r.recordAudit(actor, name, args, audit.OutcomeDenied, "unknown tool")
		return nil, protocol.Errorf(protocol.KindInvalidInput, "unknown tool: %s", name)
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
	}

	timeout := r.cfg.DefaultTimeout
	if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	if timeout > r.cfg.MaxTimeout {
		timeout = r.cfg.MaxTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracer := observability.GetTracer("maestro.tools")
	execCtx, span := tracer.Start(execCtx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	start := time.Now()
	result, err := tool.Execute(execCtx, args)
	duration := time.Since(start)

	observability.GetGlobalMetrics().RecordToolExecution(ctx, name, duration, err)

	switch {
	case err != nil:
		outcome := audit.OutcomeFailed
		if protocol.KindOf(err) == protocol.KindNotPermitted {
			outcome = audit.OutcomeDenied
		}
		r.recordAudit(actor, name, args, outcome, err.Error())
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, protocol.Errorf(protocol.KindTimeout, "tool %s timed out after %s", name, timeout)
		}
		return nil, err

	case result != nil && !result.Success:
		r.recordAudit(actor, name, args, audit.OutcomeFailed, result.Error)

	default:
		r.recordAudit(actor, name, args, audit.OutcomeAllowed, "")
	}

	return result, nil
}

func (r *Registry) recordAudit(actor, name string, args map[string]any, outcome audit.Outcome, detail string) {
	entry := audit.Entry{
		Actor:   actor,
		Action:  "tool:" + name,
		Target:  argsTarget(args),
		Outcome: outcome,
	}
	if detail != "" {
		entry.Detail = map[string]any{"error": detail}
	}
	r.audit.Record(entry)
}

// argsTarget produces a stable short reference for the audit log
// without copying full tool arguments into it.
func argsTarget(args map[string]any) string {
	if path, ok := args["path"].(string); ok {
		return path
	}
	if url, ok := args["url"].(string); ok {
		return url
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "args:" + hex.EncodeToString(sum[:6])
}

// Digest summarizes a tool result for turn records.
func Digest(result *Result) string {
	if result == nil {
		return ""
	}
	status := "ok"
	if !result.Success {
		status = "error"
	}
	sum := sha256.Sum256([]byte(result.Content + result.Error))
	return fmt.Sprintf("%s:%s", status, hex.EncodeToString(sum[:6]))
}
