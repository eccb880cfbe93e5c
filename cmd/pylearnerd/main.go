// Command pylearnerd serves the tutorial API on the configured address until
// it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/daemon"
)

// Version is stamped by the linker.
var Version = "dev"

const (
	pidFileName = "pylearnerd.pid"
	logFileName = "pylearnerd.log"
	gracePeriod = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("pylearnerd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := config.EnsurePylearnerDir(); err != nil {
		return err
	}
	cfg, dir, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logs := installLogger(dir, cfg.Log, parseLogLevel(cfg.Daemon.LogLevel))
	defer logs.Close()

	generated, err := config.EnsureJWTSecret(dir, cfg)
	if err != nil {
		return fmt.Errorf("jwt secret: %w", err)
	}
	if generated {
		slog.Info("generated jwt signing secret", "dir", dir)
	}

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := daemon.OpenServices(ctx, cfg, dir)
	if err != nil {
		return fmt.Errorf("open services: %w", err)
	}
	if cfg.Admin.Email != "" {
		migrated, err := svc.Admin.MigrateLegacyAdmins(ctx, cfg.Admin.Email)
		if err != nil {
			slog.Warn("legacy admin migration failed", "error", err)
		} else if migrated > 0 {
			slog.Info("migrated legacy admins", "count", migrated)
		}
	}

	daemon.Version = Version
	server := daemon.NewServer(svc)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start(ctx) }()

	select {
	case err := <-serveErr:
		// The listener failed before any signal arrived.
		_ = svc.Close(context.Background())
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("signal received, draining requests", "grace", gracePeriod)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	slog.Info("pylearnerd stopped")
	return nil
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// installLogger sends JSON records to a size-rotated file in dir/logs and
// text records to stderr.
func installLogger(dir string, lc config.LogConfig, level slog.Level) io.Closer {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "logs", logFileName),
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
	opts := &slog.HandlerOptions{Level: level}
	slog.SetDefault(slog.New(fanout{
		slog.NewJSONHandler(file, opts),
		slog.NewTextHandler(os.Stderr, opts),
	}))
	return file
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintln(os.Getpid())), 0o644)
}

// fanout passes each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
