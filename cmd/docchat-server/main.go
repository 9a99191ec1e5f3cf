// Package main provides the answering backend server for docchat.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docchat/internal/answer"
	"github.com/raphaelgruber/docchat/internal/config"
	"github.com/raphaelgruber/docchat/internal/db"
	"github.com/raphaelgruber/docchat/internal/llm"
	"github.com/raphaelgruber/docchat/internal/metrics"
	"github.com/raphaelgruber/docchat/internal/server"
)

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger("docchat-server", cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *wipeDB || os.Getenv("DOCCHAT_WIPE_DB") == "true"); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	logger.Info("starting docchat-server", "port", cfg.ServerPort, "llm", cfg.LLMProvider, "embedder", cfg.EmbedProvider)

	mc := metrics.NewCollector()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger, mc)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if wipe {
		if err := client.WipeData(ctx); err != nil {
			return err
		}
	}
	if err := client.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		return err
	}

	model, err := llm.NewModel(ctx, cfg, mc)
	if err != nil {
		return err
	}
	embedder, err := llm.NewEmbedder(ctx, cfg, mc)
	if err != nil {
		return err
	}

	tracker := answer.NewTracker(client)
	ingestor := answer.NewIngestor(embedder, client, tracker, answer.IngestOptions{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Concurrency:  cfg.IngestConcurrency,
	}, logger, mc)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ingestor.Close(shutdownCtx); err != nil {
			logger.Warn("ingestions still running at shutdown", "error", err)
		}
	}()

	handler := server.NewHandler(server.Deps{
		Chat:    answer.NewService(model, embedder, client, cfg.RetrievalK, logger),
		Upload:  ingestor,
		Status:  tracker,
		Metrics: mc,
		Logger:  logger,
	})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.New(":"+cfg.ServerPort, handler, logger).Run(sigCtx)
}
