package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/google/uuid"
)

var (
	ErrRuntimeLoading = errors.New("python runtime is still loading")
	ErrRateLimited    = errors.New("too many runs, try again shortly")
	ErrRunNotFound    = errors.New("no run in progress")
)

// Config holds engine configuration.
type Config struct {
	Strategy      Strategy
	Timeout       time.Duration
	MaxConcurrent int
	MaxQueue      int
	RunsPerMinute int // per session; 0 disables limiting
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyAuto,
		Timeout:       10 * time.Second,
		MaxConcurrent: 4,
		MaxQueue:      16,
		RunsPerMinute: 30,
	}
}

// Status describes the engine's runtime selection.
type Status struct {
	Strategy Strategy `json:"strategy,omitempty"`
	Loading  bool     `json:"loading"`
	Degraded bool     `json:"degraded"`
	Reason   string   `json:"reason,omitempty"`
}

// Engine selects an execution strategy by runtime availability and runs code
// through it. The runtime bootstraps in the background; until it is ready,
// Run returns ErrRuntimeLoading.
type Engine struct {
	config     Config
	candidates []Executor
	fallback   Executor

	startOnce sync.Once
	ready     chan struct{}

	mu     sync.RWMutex
	active Executor
	reason string

	bulkhead bulkhead.Bulkhead[*Result]
	limiter  ratelimit.RateLimiter

	runMu   sync.Mutex
	running map[string]map[*runState]struct{}
}

type runState struct {
	id     uuid.UUID
	editor string
	cancel context.CancelCauseFunc
	doneCh chan struct{}
}

// NewEngine creates an engine. Candidates are tried in order when the
// strategy is auto; the fallback interpreter is always the last resort.
func NewEngine(cfg Config, candidates ...Executor) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyAuto
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	maxQueue := cfg.MaxQueue
	if maxQueue <= 0 {
		maxQueue = maxConcurrent * 4
	}

	e := &Engine{
		config:     cfg,
		candidates: candidates,
		fallback:   NewFallbackExecutor(),
		ready:      make(chan struct{}),
		running:    make(map[string]map[*runState]struct{}),
		bulkhead: bulkhead.New[*Result](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxQueue,
			QueueTimeout:  30 * time.Second,
		}),
	}
	if cfg.RunsPerMinute > 0 {
		e.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RunsPerMinute,
			Burst:    cfg.RunsPerMinute,
			Interval: time.Minute,
		})
	}
	return e
}

// Start bootstraps the runtime in the background. Later calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.bootstrap(ctx)
	})
}

func (e *Engine) bootstrap(ctx context.Context) {
	defer close(e.ready)

	var reasons []string
	for _, ex := range e.candidates {
		if e.config.Strategy != StrategyAuto && ex.Strategy() != e.config.Strategy {
			continue
		}
		start := time.Now()
		err := ex.Ready(ctx)
		if err == nil {
			slog.Info("runtime ready", "strategy", ex.Strategy(), "duration", time.Since(start))
			e.setActive(ex, "")
			return
		}
		slog.Warn("runtime unavailable", "strategy", ex.Strategy(), "error", err)
		reasons = append(reasons, fmt.Sprintf("%s: %v", ex.Strategy(), err))
	}

	reason := "fallback interpreter selected"
	if len(reasons) > 0 {
		reason = "full runtime unavailable (" + strings.Join(reasons, "; ") + ")"
	}
	if e.config.Strategy == StrategyFallback {
		reason = ""
	}
	slog.Info("runtime ready", "strategy", StrategyFallback)
	e.setActive(e.fallback, reason)
}

func (e *Engine) setActive(ex Executor, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = ex
	e.reason = reason
}

// WaitReady blocks until bootstrap finishes or ctx is done.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loading reports whether the runtime is still bootstrapping.
func (e *Engine) Loading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active == nil
}

// Status returns the current runtime selection.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.active == nil {
		return Status{Loading: true}
	}
	return Status{
		Strategy: e.active.Strategy(),
		Degraded: e.active.Strategy() == StrategyFallback && e.reason != "",
		Reason:   e.reason,
	}
}

// Run executes code with the active strategy. Runs with an input provider
// bypass the bulkhead since they may wait on the operator indefinitely; the
// execution timeout is suspended while an input request is pending.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	e.mu.RLock()
	ex := e.active
	e.mu.RUnlock()
	if ex == nil {
		return nil, ErrRuntimeLoading
	}

	key := req.SessionID
	if key == "" {
		key = "anonymous"
	}
	if e.limiter != nil && !e.limiter.Allow(ctx, key) {
		return nil, ErrRateLimited
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	state := &runState{id: uuid.New(), editor: req.Editor, cancel: cancel, doneCh: make(chan struct{})}
	e.track(key, state)
	defer e.untrack(key, state)

	var timer *runTimer
	if e.config.Timeout > 0 {
		timer = newRunTimer(e.config.Timeout, func() { cancel(context.DeadlineExceeded) })
		defer timer.stop()
		if req.Input != nil {
			req.Input = &idleInput{provider: req.Input, timer: timer}
		}
	}

	slog.Debug("run started", "run_id", state.id, "session", key, "editor", req.Editor, "strategy", ex.Strategy())

	var (
		res *Result
		err error
	)
	if req.Input != nil {
		res, err = ex.Execute(ctx, req)
	} else {
		res, err = e.bulkhead.Execute(ctx, func(ctx context.Context) (*Result, error) {
			return ex.Execute(ctx, req)
		})
	}
	if err != nil {
		slog.Warn("run failed", "run_id", state.id, "strategy", ex.Strategy(), "error", err)
		return nil, err
	}
	res.RunID = state.id.String()
	slog.Debug("run finished", "run_id", state.id, "failed", res.Failed, "duration", res.Duration)
	return res, nil
}

func (e *Engine) track(key string, state *runState) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	runs := e.running[key]
	if runs == nil {
		runs = make(map[*runState]struct{})
		e.running[key] = runs
	}
	runs[state] = struct{}{}
}

func (e *Engine) untrack(key string, state *runState) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if runs, ok := e.running[key]; ok {
		delete(runs, state)
		if len(runs) == 0 {
			delete(e.running, key)
		}
	}
	close(state.doneCh)
}

// runs returns the session's in-flight runs. An empty editor matches all.
func (e *Engine) runs(sessionID, editor string) []*runState {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	var out []*runState
	for state := range e.running[sessionID] {
		if editor == "" || state.editor == editor {
			out = append(out, state)
		}
	}
	return out
}

// Cancel stops every in-flight run of the session, including runs waiting
// on input.
func (e *Engine) Cancel(sessionID string) error {
	return e.cancelRuns(sessionID, "")
}

// CancelEditor stops the session's runs started from one editor.
func (e *Engine) CancelEditor(sessionID, editor string) error {
	if editor == "" {
		return ErrRunNotFound
	}
	return e.cancelRuns(sessionID, editor)
}

func (e *Engine) cancelRuns(sessionID, editor string) error {
	runs := e.runs(sessionID, editor)
	if len(runs) == 0 {
		return ErrRunNotFound
	}
	for _, state := range runs {
		state.cancel(context.Canceled)
	}
	return nil
}

// IsRunning reports whether the session has a run in progress.
func (e *Engine) IsRunning(sessionID string) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return len(e.running[sessionID]) > 0
}

// Wait waits for all of the session's in-flight runs to complete.
func (e *Engine) Wait(ctx context.Context, sessionID string) error {
	for _, state := range e.runs(sessionID, "") {
		select {
		case <-state.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CloseSession cancels the session's run and releases executor resources.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) {
	_ = e.Cancel(sessionID)
	for _, ex := range e.candidates {
		if c, ok := ex.(Closer); ok {
			if err := c.CloseSession(ctx, sessionID); err != nil {
				slog.Warn("close runtime session", "session", sessionID, "strategy", ex.Strategy(), "error", err)
			}
		}
	}
}

// Close releases the rate limiter.
func (e *Engine) Close() error {
	if e.limiter != nil {
		return e.limiter.Close()
	}
	return nil
}

// runTimer is a one-shot timer that can be paused and resumed.
type runTimer struct {
	mu        sync.Mutex
	timer     *time.Timer
	remaining time.Duration
	started   time.Time
	fire      func()
	stopped   bool
}

func newRunTimer(d time.Duration, fire func()) *runTimer {
	t := &runTimer{remaining: d, fire: fire}
	t.resume()
	return t
}

func (t *runTimer) pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return
	}
	if t.timer.Stop() {
		t.remaining -= time.Since(t.started)
	}
	t.timer = nil
}

func (t *runTimer) resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil || t.stopped {
		return
	}
	t.started = time.Now()
	t.timer = time.AfterFunc(t.remaining, t.fire)
}

func (t *runTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// idleInput suspends the run timer while the operator answers.
type idleInput struct {
	provider InputProvider
	timer    *runTimer
}

func (in *idleInput) RequestInput(ctx context.Context, req InputRequest) (string, error) {
	in.timer.pause()
	defer in.timer.resume()
	return in.provider.RequestInput(ctx, req)
}
