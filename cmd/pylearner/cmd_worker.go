package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/daemon"
	"github.com/felixgeelhaar/pylearner/internal/queue"
)

// cmdWorker consumes run jobs from the broker and executes them with the
// local runtime.
func cmdWorker() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.URL == "" {
		return errors.New("no queue configured (set queue.url or PYLEARNER_QUEUE_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, closeEngine := daemon.NewEngine(cfg, nil)
	defer closeEngine(context.Background())
	engine.Start(ctx)
	readyCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := engine.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("python runtime not ready: %w", err)
	}

	conn, err := queue.NewConnection(cfg.Queue.URL)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumerCfg := queue.DefaultConsumerConfig()
	if cfg.Runner.MaxConcurrent > 0 {
		consumerCfg.Workers = cfg.Runner.MaxConcurrent
	}
	consumer := queue.NewConsumer(conn, queue.EngineHandler(engine), consumerCfg)
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	slog.Info("worker started", "strategy", engine.Status().Strategy, "workers", consumerCfg.Workers)
	<-ctx.Done()
	slog.Info("worker stopping")
	consumer.Stop()
	return nil
}
