package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apresai/conceptlab/internal/mcpserver"
	"github.com/apresai/conceptlab/internal/observability"
)

var version = "dev"

func main() {
	logger := observability.InitLogger(observability.LogOptions{
		Level:  os.Getenv("CONCEPTLAB_LOG_LEVEL"),
		Format: "json",
	})

	logger.Info("Conceptlab MCP Server starting...", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracer(ctx, "conceptlab-mcp", version, os.Getenv("DEPLOY_ENV"))
	if err != nil {
		logger.Warn("Failed to init tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("Tracer shutdown error", "error", err)
			}
		}()
	}

	srv, err := mcpserver.New(context.Background(), ctx, mcpserver.DefaultConfig(), version, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received, waiting for active tasks...")
		// Leave room for FailJob writes before the platform sends SIGKILL.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer drainCancel()
		if err := srv.Drain(drainCtx); err != nil {
			logger.Warn("Drain timed out", "error", err)
		}
		logger.Info("Shutdown complete")
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
