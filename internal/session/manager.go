// Package session holds signed-in sessions and their exercise editors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/backend"
	"github.com/felixgeelhaar/pylearner/internal/cache"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/metrics"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/runner"
)

var (
	ErrEditorNotOpen      = errors.New("editor is not open")
	ErrEditorBusy         = errors.New("code is already running")
	ErrSubmitNotAllowed   = errors.New("this editor has nothing to submit")
	ErrRequirementsNotMet = errors.New("code does not meet the exercise requirements")
)

// Manager tracks sessions by access token.
type Manager struct {
	backend backend.Repository
	tracker progress.Tracker
	catalog Catalog
	runner  Runner
	cache   *cache.Editor
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Context
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records runs and the session count on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager creates a session manager.
func NewManager(b backend.Repository, tracker progress.Tracker, catalog Catalog, r Runner, editorCache *cache.Editor, opts ...Option) *Manager {
	m := &Manager{
		backend:  b,
		tracker:  tracker,
		catalog:  catalog,
		runner:   r,
		cache:    editorCache,
		now:      time.Now,
		sessions: make(map[string]*Context),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignUp creates an account and starts its session.
func (m *Manager) SignUp(ctx context.Context, req auth.SignUpRequest) (*Context, error) {
	acct, err := m.backend.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, acct.Token, acct.User), nil
}

// SignIn authenticates and starts a session.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Context, error) {
	acct, err := m.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, acct.Token, acct.User), nil
}

// start clears other accounts' cached work, loads progress and registers
// the session. Progress failures become notices; the session still starts
// with default progress so the user can keep working.
func (m *Manager) start(ctx context.Context, token string, user *domain.User) *Context {
	if n, err := m.cache.ClearOtherUsers(user.UID); err != nil {
		slog.Warn("clear cached work of other users", "error", err)
	} else if n > 0 {
		slog.Debug("cleared cached work of other users", "entries", n)
	}

	p, err := m.tracker.Load(ctx, user.UID)
	var notices []progress.Notice
	var se *progress.SaveError
	switch {
	case errors.As(err, &se):
		notices = append(notices, progress.Notice{Kind: progress.NoticeError, Message: se.Notice()})
	case err != nil:
		p = domain.NewUserProgress(m.now())
		notices = append(notices, progress.Notice{Kind: progress.NoticeError, Message: progress.MsgLoadFailed})
	}

	sc := newContext(m, token, user, p)
	sc.notices = notices

	m.mu.Lock()
	m.sessions[token] = sc
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(n)

	slog.Info("session started", "user", user.UID, "streak", p.Streak, "level", p.Level)
	return sc
}

// Get returns the session of a token. Tokens are validated on every call so
// revoked sessions stop working at once; a valid token without an in-memory
// session (after a restart) gets a fresh one.
func (m *Manager) Get(ctx context.Context, token string) (*Context, error) {
	user, err := m.backend.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			m.drop(token)
		}
		return nil, err
	}

	m.mu.RLock()
	sc, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return m.start(ctx, token, user), nil
	}

	sc.mu.Lock()
	sc.user = user
	sc.touch()
	sc.mu.Unlock()
	return sc, nil
}

// SignOut revokes the token, drops the session and clears the user's
// cached work.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	uid := ""
	if sc := m.drop(token); sc != nil {
		uid = sc.UID()
	} else if user, err := m.backend.CurrentUser(ctx, token); err == nil {
		uid = user.UID
	}

	if err := m.backend.SignOut(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	if uid == "" {
		return nil
	}

	if n, err := m.cache.ClearUser(uid); err != nil {
		slog.Warn("clear cached work", "user", uid, "error", err)
	} else {
		slog.Debug("cleared cached work", "user", uid, "entries", n)
	}
	m.runner.CloseSession(ctx, uid)
	slog.Info("session ended", "user", uid)
	return nil
}

func (m *Manager) drop(token string) *Context {
	m.mu.Lock()
	sc, ok := m.sessions[token]
	delete(m.sessions, token)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.metrics.SetActiveSessions(n)
	}
	return sc
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep forgets sessions idle for longer than maxIdle and releases their
// runtime resources. Their tokens stay valid and resume on the next request.
func (m *Manager) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*Context
	for token, sc := range m.sessions {
		if sc.idleSince().Before(cutoff) {
			idle = append(idle, sc)
			delete(m.sessions, token)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, sc := range idle {
		m.runner.CloseSession(ctx, sc.UID())
	}
	if len(idle) > 0 {
		m.metrics.SetActiveSessions(n)
		slog.Info("idle sessions swept", "count", len(idle))
	}
	return len(idle)
}

func (m *Manager) startingCode(id string) (string, error) {
	switch KindOf(id) {
	case KindFree:
		return FreeEditorCode, nil
	case KindProject:
		p, err := m.catalog.Project(id)
		if err != nil {
			return "", err
		}
		return p.StartingCode, nil
	}
	ex, err := m.catalog.Exercise(id)
	if err != nil {
		return "", err
	}
	return ex.StartingCode, nil
}

func (m *Manager) execute(ctx context.Context, uid, editor, code string, input runner.InputProvider) (*runner.Result, error) {
	start := m.now()
	res, err := m.runner.Run(ctx, runner.Request{SessionID: uid, Editor: editor, Code: code, Input: input})
	if err != nil {
		if !errors.Is(err, runner.ErrRuntimeLoading) && !errors.Is(err, runner.ErrRateLimited) {
			m.metrics.ObserveRun(string(m.runner.Status().Strategy), "error", m.now().Sub(start))
		}
		return nil, err
	}
	outcome := "ok"
	if res.Failed {
		outcome = "failed"
	}
	m.metrics.ObserveRun(string(res.Strategy), outcome, res.Duration)
	return res, nil
}
