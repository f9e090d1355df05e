// Package runtime wires configuration into a running system: storage,
// retrieval, the LLM chain, tools, roles, the orchestrator, and the
// HTTP surface.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/audit"
	"github.com/maestro-dev/maestro/pkg/auth"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/embedders"
	"github.com/maestro-dev/maestro/pkg/gateway"
	"github.com/maestro-dev/maestro/pkg/llms"
	"github.com/maestro-dev/maestro/pkg/memory"
	"github.com/maestro-dev/maestro/pkg/observability"
	"github.com/maestro-dev/maestro/pkg/orchestrator"
	"github.com/maestro-dev/maestro/pkg/rag"
	"github.com/maestro-dev/maestro/pkg/ratelimit"
	"github.com/maestro-dev/maestro/pkg/sandbox"
	"github.com/maestro-dev/maestro/pkg/server"
	"github.com/maestro-dev/maestro/pkg/session"
	"github.com/maestro-dev/maestro/pkg/tools"
	"github.com/maestro-dev/maestro/pkg/utils"
	"github.com/maestro-dev/maestro/pkg/vector"
	"github.com/maestro-dev/maestro/pkg/webhook"
)

// Runtime is the fully wired system.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	obs      *observability.Manager
	auditLog *audit.Logger
	vectors  vector.Provider
	embedder embedders.Embedder
	memory   *memory.Memory
	indexer  *rag.Indexer
	watcher  *rag.Watcher
	sessions session.Store
	manager  *session.Manager
	llm      *llms.LimitedProvider
	tools    *tools.Registry
	server   *server.Server
}

// New builds the runtime from configuration. Nothing is listening yet;
// call Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:     cfg.Observability.TracingEnabled,
			ServiceName: cfg.Observability.ServiceName,
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.MetricsEnabled},
	})
	if err := obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	auditLog, err := audit.NewLogger(cfg.Audit.Path)
	if err != nil {
		return nil, err
	}

	vectors, err := vector.NewProvider(&cfg.Vector, cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}

	embedder, err := embedders.CreateEmbedder(&cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	mem := memory.New(vectors, embedder, cfg.Memory)
	indexer := rag.NewIndexer(cfg.Workspace, cfg.DataRoot, vectors, embedder, cfg.Indexer, cfg.Tools.SensitivePatterns)
	searcher := rag.NewSearcher(vectors, embedder, cfg.Memory.CodebaseK)

	var watcher *rag.Watcher
	if cfg.Indexer.Watch {
		watcher, err = rag.NewWatcher(indexer)
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
	}

	sessions, err := session.NewStore(cfg.Memory.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	manager := session.NewManager()

	chain, err := llms.BuildChain(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM chain: %w", err)
	}
	llm := llms.NewLimitedProvider(chain, cfg.Orchestrator.MaxInflightLLM)

	runner, err := sandbox.NewRunner(cfg.Sandbox, cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox runner: %w", err)
	}

	registry, err := tools.NewLocalRegistry(cfg.Tools, cfg.Workspace, runner, auditLog)
	if err != nil {
		return nil, err
	}
	registry.SetConcurrencyLimit(cfg.Orchestrator.MaxInflightTools)

	roles, err := agent.NewLibrary(cfg.Roles)
	if err != nil {
		return nil, err
	}

	counter, err := utils.NewTokenCounter(chain.GetModelName())
	if err != nil {
		logger.Warn("token counter unavailable, falling back to estimates", "error", err)
		counter = nil
	}

	composer := agent.NewComposer(agent.ContextSources{
		Memory:   mem,
		Codebase: searcher,
		Sessions: sessions,
	}, counter, cfg.Memory.RecentTurns, logger)

	orch := orchestrator.New(cfg.Orchestrator, roles, llm, registry, composer, logger)
	gw := gateway.New(cfg.Gateway, sessions, manager, mem, orch, registry, logger)

	jobs, err := webhook.NewStore(cfg.DataRoot)
	if err != nil {
		return nil, err
	}
	factory := checkoutFactory(cfg, llm, embedder, mem, sessions, counter, auditLog, logger)
	pipeline := webhook.NewPipeline(cfg.Webhook, cfg.Tools, cfg.Sandbox, cfg.DataRoot, factory, jobs, auditLog, logger)
	webhookHandler := webhook.NewHandler(cfg.Webhook, jobs, pipeline, auditLog, logger)

	authn, err := auth.NewAuthenticator(ctx, cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter(cfg.RateLimit, logger)

	health := server.NewHealthChecker(30 * time.Second)
	health.Register("llm", func(context.Context) error {
		return chain.Healthy()
	})
	health.Register("embedder", func(ctx context.Context) error {
		_, err := embedder.Embed(ctx, "ping")
		return err
	})
	health.Register("sessions", func(ctx context.Context) error {
		_, err := sessions.TurnCount(ctx, "healthcheck")
		return err
	})

	srv := server.New(cfg.Server, server.Deps{
		Session:   gw.HandleSession,
		Webhook:   webhookHandler,
		Tools:     registry,
		Auth:      authn,
		RateLimit: limiter,
		Health:    health,
		Logger:    logger,
	})

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		obs:      obs,
		auditLog: auditLog,
		vectors:  vectors,
		embedder: embedder,
		memory:   mem,
		indexer:  indexer,
		watcher:  watcher,
		sessions: sessions,
		manager:  manager,
		llm:      llm,
		tools:    registry,
		server:   srv,
	}, nil
}

// checkoutFactory builds the per-checkout stack the webhook pipeline
// runs against. Tools, the orchestrator, and a throwaway codebase
// index are rooted at the scratch clone; the LLM chain, embedder, and
// session store are shared.
func checkoutFactory(cfg *config.Config, llm agent.LLM, embedder embedders.Embedder, mem *memory.Memory, sessions session.Store, counter *utils.TokenCounter, auditLog *audit.Logger, logger *slog.Logger) webhook.WorkspaceFactory {
	return func(ctx context.Context, workspace string) (*orchestrator.Orchestrator, *tools.Registry, sandbox.Runner, error) {
		if logger == nil {
			logger = slog.Default()
		}

		runner, err := sandbox.NewRunner(cfg.Sandbox, workspace)
		if err != nil {
			return nil, nil, nil, err
		}
		registry, err := tools.NewLocalRegistry(cfg.Tools, workspace, runner, auditLog)
		if err != nil {
			return nil, nil, nil, err
		}
		registry.SetConcurrencyLimit(cfg.Orchestrator.MaxInflightTools)

		roles, err := agent.NewLibrary(cfg.Roles)
		if err != nil {
			return nil, nil, nil, err
		}

		// The shared index covers the interactive workspace; this clone
		// gets its own in-memory index, discarded with the checkout.
		checkoutVectors, err := vector.NewChromemProvider(vector.ChromemConfig{})
		if err != nil {
			return nil, nil, nil, err
		}
		indexer := rag.NewIndexer(workspace, filepath.Join(workspace, ".maestro"), checkoutVectors, embedder, cfg.Indexer, cfg.Tools.SensitivePatterns)
		if _, err := indexer.IndexAll(ctx, true); err != nil {
			logger.Warn("checkout indexing failed, retrieval will be partial",
				"workspace", workspace, "error", err)
		}
		searcher := rag.NewSearcher(checkoutVectors, embedder, cfg.Memory.CodebaseK)

		composer := agent.NewComposer(agent.ContextSources{
			Memory:   mem,
			Codebase: searcher,
			Sessions: sessions,
		}, counter, cfg.Memory.RecentTurns, logger)

		return orchestrator.New(cfg.Orchestrator, roles, llm, registry, composer, logger), registry, runner, nil
	}
}

// Indexer exposes the codebase indexer for CLI-driven runs.
func (r *Runtime) Indexer() *rag.Indexer { return r.indexer }

// Start brings up the watcher (when configured) and blocks serving
// HTTP until Shutdown.
func (r *Runtime) Start(ctx context.Context) error {
	if _, err := r.indexer.IndexAll(ctx, false); err != nil {
		r.logger.Warn("initial index failed, retrieval will be stale", "error", err)
	}
	if r.watcher != nil {
		if err := r.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
	}
	return r.server.Start()
}

// Shutdown stops the listener and releases every held resource.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(r.server.Shutdown(ctx))
	if r.watcher != nil {
		keep(r.watcher.Close())
	}
	keep(r.llm.Close())
	keep(r.sessions.Close())
	keep(r.vectors.Close())
	keep(r.auditLog.Close())
	keep(r.obs.Shutdown(ctx))
	return firstErr
}
