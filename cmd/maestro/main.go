// Command maestro runs the coding-assistant backend: the HTTP/websocket
// server, webhook ingress, and the codebase indexer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/embedders"
	"github.com/maestro-dev/maestro/pkg/logger"
	"github.com/maestro-dev/maestro/pkg/rag"
	"github.com/maestro-dev/maestro/pkg/runtime"
	"github.com/maestro-dev/maestro/pkg/vector"
)

// version is injected at build time.
var version = "dev"

const shutdownGrace = 15 * time.Second

type cli struct {
	Config string `help:"Path to the YAML config file." short:"c" default:"maestro.yaml" type:"path"`

	Serve   serveCmd   `cmd:"" help:"Run the server." default:"withargs"`
	Index   indexCmd   `cmd:"" help:"Index the workspace for retrieval."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

func main() {
	// A missing .env is fine; explicit environment wins either way.
	_ = godotenv.Load()

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("maestro"),
		kong.Description("AI coding-assistant backend"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c))
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Format)
	return cfg, nil
}

type serveCmd struct{}

func (s *serveCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rt.Start(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

type indexCmd struct {
	Full bool `help:"Re-embed every file instead of only changed ones."`
}

func (i *indexCmd) Run(c *cli) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	vectors, err := vector.NewProvider(&cfg.Vector, cfg.DataRoot)
	if err != nil {
		return err
	}
	defer vectors.Close()

	embedder, err := embedders.CreateEmbedder(&cfg.Embedder)
	if err != nil {
		return err
	}

	indexer := rag.NewIndexer(cfg.Workspace, cfg.DataRoot, vectors, embedder, cfg.Indexer, cfg.Tools.SensitivePatterns)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := indexer.IndexAll(ctx, i.Full)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d files (%d chunks, %d skipped) in %s\n",
		stats.Files, stats.Chunks, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return nil
}

type versionCmd struct{}

func (v *versionCmd) Run(*cli) error {
	fmt.Println("maestro", version)
	return nil
}
