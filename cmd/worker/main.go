/**
 * QuickCuts Worker - Main Entry Point
 *
 * Consumes alignment batches from Redis and writes aligned frames.
 *
 * Architecture:
 * - Redis LIST consumer (TypeScript RedisQueue compatible) or Asynq server,
 *   selected by QUEUE_BACKEND
 * - Tesseract word location, k-means background sampling, centred compositing
 * - PostgreSQL run records and a Qdrant index of frame background colours
 * - gRPC health service on HEALTH_ADDR
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/quickcuts-worker/internal/app"
	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/config"
	"github.com/adverant/nexus/quickcuts-worker/internal/health"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/queue"
	"github.com/adverant/nexus/quickcuts-worker/internal/storage"
)

// consumer is implemented by both queue backends.
type consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	cfg, err := app.Bootstrap(os.Stderr)
	if err != nil {
		logging.NewLogger("worker").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("worker")

	logger.Info("QuickCuts worker starting",
		"queue", cfg.QueueName, "backend", cfg.QueueBackend,
		"concurrency", cfg.WorkerConcurrency, "align_workers", cfg.AlignWorkers,
		"postgres", cfg.DatabaseURL != "", "qdrant", cfg.QdrantURL != "")

	hs := health.New(cfg.HealthAddr)
	if err := hs.Listen(); err != nil {
		logger.Error("Failed to start health server", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := hs.Start(); err != nil {
			logger.Error("Health server stopped", "error", err)
		}
	}()
	logger.Info("Health server listening", "addr", hs.Addr())

	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		hs.Stop()
		os.Exit(1)
	}

	aligner, err := app.NewAligner(cfg)
	if err != nil {
		logger.Error("Failed to initialize aligner", "error", err)
		os.Exit(1)
	}
	defaults, err := app.Defaults(cfg, 0)
	if err != nil {
		logger.Error("Invalid alignment defaults", "error", err)
		os.Exit(1)
	}

	runner, err := queue.NewRunner(&queue.RunnerConfig{
		Orchestrator:      batch.NewOrchestrator(aligner),
		Recorder:          storageManager,
		Defaults:          defaults,
		ProcessingTimeout: cfg.Timeout(),
	})
	if err != nil {
		logger.Error("Failed to initialize job runner", "error", err)
		os.Exit(1)
	}

	qc, err := newConsumer(cfg, runner)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := qc.Start(ctx); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	hs.SetServing(true)

	if rc, ok := qc.(*queue.RedisConsumer); ok {
		if stats, err := rc.GetStats(ctx); err == nil {
			logger.Info("Queue state", "waiting", stats["waiting"], "processing", stats["processing"],
				"completed", stats["completed"], "failed", stats["failed"])
		}
	}
	logger.Info("Worker ready, waiting for jobs")

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	hs.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := qc.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	if err := storageManager.Close(); err != nil {
		logger.Error("Error closing storage manager", "error", err)
	}
	hs.Stop()

	logger.Info("Shutdown complete")
}

func newConsumer(cfg *config.Config, runner *queue.Runner) (consumer, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Runner:      runner,
		})
	}
	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.MaxRetries,
		Runner:      runner,
	})
}
