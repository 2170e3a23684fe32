// server wires the memory engine's components together and keeps the
// process alive. The MCP wire transport that would dispatch tool calls into
// this engine is out of scope here (spec.md §1); this binary only proves the
// components construct, migrate their stores, and shut down cleanly.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"agent-memory-core/internal/backend"
	"agent-memory-core/internal/config"
	"agent-memory-core/internal/embeddings"
	"agent-memory-core/internal/logging"
	"agent-memory-core/internal/project"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.LogLevel))

	projects, err := project.NewManager(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open project registry: %v", err)
	}
	defer func() {
		if err := projects.Close(); err != nil {
			logger.Error("failed to close project registry", "error", err)
		}
	}()

	embedder := embeddings.NewCachedEmbedder(
		embeddings.NewFallbackEmbedder(256),
		cfg.EmbeddingCacheSize,
		cfg.EmbeddingCacheTTL(),
		true,
	)

	mem := backend.New(cfg, logger, projects, embedder, nil)
	defer func() {
		if err := mem.Close(); err != nil {
			logger.Error("failed to close memory backend", "error", err)
		}
	}()

	logger.Info("memory engine ready", "data_dir", cfg.DataDir, "vector_backend", string(cfg.VectorBackend))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutting down")
}
