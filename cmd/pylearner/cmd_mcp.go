package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/pylearner/internal/catalog"
	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/daemon"
	mcpserver "github.com/felixgeelhaar/pylearner/internal/mcp"
)

// cmdMCP serves the tutorial tools on stdio for coding agents.
func cmdMCP() error {
	// stdout carries the protocol.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, closeEngine := daemon.NewEngine(cfg, nil)
	defer closeEngine(context.Background())
	engine.Start(ctx)

	srv := mcpserver.NewServer(mcpserver.Config{
		Catalog: reg,
		Runner:  engine,
		Version: Version,
	})
	return srv.ServeStdio(ctx)
}
