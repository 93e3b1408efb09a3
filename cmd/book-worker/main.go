// Package main 书籍生成执行器入口（book-worker），消费 Redis Stream 中的运行命令
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"pustakam-api/internal/config"
	einoobs "pustakam-api/internal/observability/eino"
	"pustakam-api/internal/wire"
	"pustakam-api/pkg/logger"
	"pustakam-api/pkg/tracer"
)

// dlqAlertThreshold 死信队列告警阈值
const dlqAlertThreshold = 10

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: "book-worker",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	einoobs.Init()

	w, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.FromContext(ctx)
	log.Info("book-worker started")

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return w.Consumer.Run(gctx)
	})
	g.Go(func() error {
		w.Consumer.MonitorDLQ(gctx, dlqAlertThreshold)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("book-worker stopped with error", "error", err)
	}

	log.Info("book-worker shutting down")
	w.Consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	w.Orchestrator.Shutdown(shutdownCtx)
}
