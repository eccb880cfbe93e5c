package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/pylearner/internal/admin"
	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/backend"
	"github.com/felixgeelhaar/pylearner/internal/cache"
	"github.com/felixgeelhaar/pylearner/internal/catalog"
	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/metrics"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/queue"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/sandbox"
	"github.com/felixgeelhaar/pylearner/internal/session"
	"github.com/felixgeelhaar/pylearner/internal/storage"
	"github.com/felixgeelhaar/pylearner/internal/storage/local"
	"github.com/felixgeelhaar/pylearner/internal/storage/postgres"
	"github.com/felixgeelhaar/pylearner/internal/storage/sqlite"
)

// Services is the wired application: storage, identity, catalog, the
// execution engine and everything built on them.
type Services struct {
	Config *config.LocalConfig
	Dir    string

	Store    storage.DocumentStore
	Auth     *auth.Service
	Backend  *backend.Service
	Catalog  *catalog.Registry
	Engine   *runner.Engine
	Progress *progress.Service
	Sessions *session.Manager
	Admin    *admin.Service
	Metrics  *metrics.Metrics

	// Runs is set when a queue URL is configured; standalone runs are then
	// handed to remote workers.
	Runs *queue.Dispatcher

	closers []func(context.Context) error
}

// OpenServices wires the application from cfg. dir is the data directory
// holding the database, cache and logs.
func OpenServices(ctx context.Context, cfg *config.LocalConfig, dir string) (_ *Services, err error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("open services: %w", auth.ErrMissingSecret)
	}

	s := &Services{Config: cfg, Dir: dir, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	authRepo, sandboxStore, err := s.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	s.Auth, err = auth.NewService(authRepo, auth.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		SessionTTL: cfg.Auth.SessionTTL,
	})
	if err != nil {
		return nil, err
	}
	s.Backend = backend.NewService(s.Auth, s.Store, nil, backend.DefaultConfig())

	s.Catalog, err = catalog.Default()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	engine, closeEngine := NewEngine(cfg, sandboxStore)
	s.Engine = engine
	s.closers = append(s.closers, closeEngine)

	s.Progress = progress.NewService(s.Backend, s.Catalog,
		progress.WithEvents(s.Backend.Events()),
		progress.WithMetrics(s.Metrics),
	)

	editorCache, err := cache.OpenFile(filepath.Join(dir, "cache", "editor.json"))
	if err != nil {
		return nil, fmt.Errorf("open editor cache: %w", err)
	}
	s.Sessions = session.NewManager(s.Backend, s.Progress, s.Catalog, s.Engine, cache.NewEditor(editorCache),
		session.WithMetrics(s.Metrics),
	)
	s.Admin = admin.NewService(s.Backend)

	if cfg.Queue.URL != "" {
		s.openQueue(ctx)
	}
	return s, nil
}

// openStorage opens the document store for the configured driver and picks
// the matching credentials repository and sandbox record store.
func (s *Services) openStorage(ctx context.Context) (auth.Repository, sandbox.Store, error) {
	cfg := s.Config
	dsn := cfg.StorageDSN(s.Dir)

	switch cfg.Storage.Driver {
	case config.DriverLocal:
		store, err := local.NewStore(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open local store: %w", err)
		}
		s.Store = store
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		return auth.NewDocumentRepository(store), sandbox.NewMemoryStore(), nil

	case config.DriverSQLite:
		store, err := sqlite.OpenDocumentStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		s.Store = store
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })
		return auth.NewDocumentRepository(store), sqlite.NewSandboxStore(store.DB()), nil

	case config.DriverPostgres:
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		s.Store = store
		s.closers = append(s.closers, func(context.Context) error { return store.Close() })

		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres pool: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { pool.Close(); return nil })
		repo := auth.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return repo, sandbox.NewMemoryStore(), nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// NewEngine builds the execution engine for cfg. The full-runtime
// candidates are tried in preference order: local Python, then the Docker
// sandbox. The returned func releases the engine and its sandboxes.
func NewEngine(cfg *config.LocalConfig, store sandbox.Store) (*runner.Engine, func(context.Context) error) {
	rc := cfg.Runner
	strategy := runner.Strategy(rc.Strategy)
	var (
		candidates []runner.Executor
		closers    []func(context.Context) error
	)

	if strategy == runner.StrategyAuto || strategy == runner.StrategyPython {
		candidates = append(candidates, runner.NewPythonExecutor(rc.PythonPath))
	}
	if strategy == runner.StrategyAuto || strategy == runner.StrategyDocker {
		if docker, err := sandbox.NewDocker(); err != nil {
			slog.Warn("docker sandbox unavailable", "error", err)
		} else {
			if store == nil {
				store = sandbox.NewMemoryStore()
			}
			mgr := sandbox.NewManager(store, docker, sandbox.Limits{
				Image:     rc.Image,
				MemoryMB:  rc.MemoryMB,
				CPUs:      rc.CPULimit,
				NoNetwork: rc.NetworkOff,
				MaxLive:   rc.MaxConcurrent * 4,
			})
			closers = append(closers, func(ctx context.Context) error {
				return errors.Join(mgr.Close(ctx), docker.Close())
			})
			candidates = append(candidates, runner.NewSandboxExecutor(mgr, rc.Timeout()))
		}
	}

	engine := runner.NewEngine(runner.Config{
		Strategy:      strategy,
		Timeout:       rc.Timeout(),
		MaxConcurrent: rc.MaxConcurrent,
		RunsPerMinute: cfg.RateLimit.RunsPerMinute,
	}, candidates...)

	return engine, func(ctx context.Context) error {
		errs := []error{engine.Close()}
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
}

// openQueue connects the run queue. A broker outage is not fatal: runs
// then execute in-process.
func (s *Services) openQueue(ctx context.Context) {
	conn, err := queue.NewConnection(s.Config.Queue.URL)
	if err != nil {
		slog.Warn("run queue unavailable, executing runs locally", "error", err)
		return
	}
	results := queue.NewResultConsumer(conn)
	if err := results.Start(ctx); err != nil {
		slog.Warn("run queue unavailable, executing runs locally", "error", err)
		conn.Close()
		return
	}
	s.Runs = queue.NewDispatcher(conn, results, 0)
	s.closers = append(s.closers, func(context.Context) error {
		results.Stop()
		return conn.Close()
	})
}

// Jobs returns the maintenance jobs the daemon schedules.
func (s *Services) Jobs() []admin.Job {
	cfg := s.Config.Admin
	return []admin.Job{
		s.Admin.CleanupJob(cfg.CleanupSchedule),
		{
			Name:     "expired-auth-sessions",
			Schedule: cfg.CleanupSchedule,
			Run: func(ctx context.Context) error {
				n, err := s.Auth.DeleteExpiredSessions(ctx)
				if err == nil && n > 0 {
					slog.Info("expired auth sessions deleted", "count", n)
				}
				return err
			},
		},
		{
			Name:     "idle-sessions",
			Schedule: cfg.SessionSchedule,
			Run: func(ctx context.Context) error {
				s.Sessions.Sweep(ctx, s.Config.Daemon.SessionIdle)
				return nil
			},
		},
	}
}

// Close releases everything in reverse order of opening.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// WaitReady blocks until the execution runtime has bootstrapped.
func (s *Services) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Engine.WaitReady(ctx)
}
