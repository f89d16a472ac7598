/**
 * QuickCuts Backend - IPC entry point for the desktop front end
 *
 * Speaks the JSON line protocol on stdin/stdout. Logs go to stderr so they
 * never interleave with protocol output.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/adverant/nexus/quickcuts-worker/internal/app"
	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/ipc"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
)

func main() {
	cfg, err := app.Bootstrap(os.Stderr)
	if err != nil {
		logging.NewLogger("backend").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("backend")

	aligner, err := app.NewAligner(cfg)
	if err != nil {
		logger.Error("Failed to initialize aligner", "error", err)
		os.Exit(1)
	}
	// Sequential unless the request asks for workers.
	defaults, err := app.Defaults(cfg, 1)
	if err != nil {
		logger.Error("Invalid alignment defaults", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := ipc.NewService(batch.NewOrchestrator(aligner), defaults, os.Stdout)
	if err := svc.Serve(ctx, os.Stdin); err != nil {
		logger.Error("Backend service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Backend service stopped")
}
