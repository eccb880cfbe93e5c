package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// reapEvery is the minimum gap between sweeps for idle containers.
const reapEvery = time.Minute

// Manager hands out one container per editor. A container is started on the
// editor's first run and reused until it idles past Limits.IdleTTL or the
// editor is closed.
type Manager struct {
	store   Store
	backend Backend
	limits  Limits
	now     func() time.Time

	mu       sync.Mutex
	lastReap time.Time
}

// NewManager creates a manager. Zero limits take DefaultLimits values.
func NewManager(store Store, backend Backend, limits Limits) *Manager {
	return &Manager{
		store:   store,
		backend: backend,
		limits:  limits.withDefaults(),
		now:     time.Now,
	}
}

// Ready checks the daemon, removes containers recorded by an earlier process
// and pulls the image. The pull may take a while on first use.
func (m *Manager) Ready(ctx context.Context) error {
	if err := m.backend.Ping(ctx); err != nil {
		return err
	}
	if n := m.removeWhere(ctx, func(*Sandbox) bool { return true }); n > 0 {
		slog.Info("removed leftover sandboxes", "count", n)
	}
	return m.backend.Pull(ctx, m.limits.Image)
}

// Run writes files into the editor's container and executes cmd there.
func (m *Manager) Run(ctx context.Context, editorID string, files map[string]string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	sb, err := m.acquire(ctx, editorID)
	if err != nil {
		return nil, err
	}
	if err := m.backend.Write(ctx, sb.ContainerID, files); err != nil {
		return nil, fmt.Errorf("copy code: %w", err)
	}

	m.mark(sb, StateBusy)
	res, err := m.backend.Exec(ctx, sb.ContainerID, cmd, timeout)

	at := m.now()
	sb.Runs++
	sb.LastRunAt = &at
	sb.ExpiresAt = at.Add(m.limits.IdleTTL)
	m.mark(sb, StateIdle)
	return res, err
}

// Release removes the editor's container, if it has one.
func (m *Manager) Release(ctx context.Context, editorID string) error {
	sb, err := m.store.ForEditor(editorID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.remove(ctx, sb)
}

// Reap removes containers idle past their expiry and reports how many went.
func (m *Manager) Reap(ctx context.Context) int {
	now := m.now()
	return m.removeWhere(ctx, func(sb *Sandbox) bool {
		return sb.State != StateBusy && sb.Expired(now)
	})
}

// Close removes every container. The backend connection stays open.
func (m *Manager) Close(ctx context.Context) error {
	m.removeWhere(ctx, func(*Sandbox) bool { return true })
	return nil
}

func (m *Manager) acquire(ctx context.Context, editorID string) (*Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastReap) >= reapEvery {
		m.lastReap = now
		m.Reap(ctx)
	}

	if sb, err := m.store.ForEditor(editorID); err == nil {
		if !sb.Expired(now) {
			return sb, nil
		}
		_ = m.remove(ctx, sb)
	}

	all, err := m.store.All()
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	if len(all) >= m.limits.MaxLive {
		return nil, ErrAtCapacity
	}

	sb := &Sandbox{
		ID:        uuid.NewString(),
		EditorID:  editorID,
		Image:     m.limits.Image,
		State:     StateStarting,
		ExpiresAt: now.Add(m.limits.IdleTTL),
		CreatedAt: now,
	}
	if err := m.store.Put(sb); err != nil {
		return nil, fmt.Errorf("record sandbox: %w", err)
	}
	id, err := m.backend.Start(ctx, m.limits)
	if err != nil {
		_ = m.store.Remove(sb.ID)
		return nil, err
	}
	sb.ContainerID = id
	m.mark(sb, StateIdle)
	slog.Info("sandbox started", "editor", editorID, "container", short(id))
	return sb, nil
}

func (m *Manager) mark(sb *Sandbox, state State) {
	sb.State = state
	if err := m.store.Put(sb); err != nil {
		slog.Warn("record sandbox state", "sandbox", sb.ID, "error", err)
	}
}

func (m *Manager) remove(ctx context.Context, sb *Sandbox) error {
	if sb.ContainerID != "" {
		if err := m.backend.Remove(ctx, sb.ContainerID); err != nil {
			slog.Warn("remove container", "container", short(sb.ContainerID), "error", err)
		}
	}
	if err := m.store.Remove(sb.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) removeWhere(ctx context.Context, match func(*Sandbox) bool) int {
	all, err := m.store.All()
	if err != nil {
		slog.Warn("list sandboxes", "error", err)
		return 0
	}
	n := 0
	for _, sb := range all {
		if !match(sb) {
			continue
		}
		if err := m.remove(ctx, sb); err != nil {
			slog.Warn("forget sandbox", "sandbox", sb.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
