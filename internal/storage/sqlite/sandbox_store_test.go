package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/sandbox"
)

func record(id, editor string, created time.Time) *sandbox.Sandbox {
	return &sandbox.Sandbox{
		ID:          id,
		EditorID:    editor,
		ContainerID: "container-" + id,
		Image:       "python:3.12-alpine",
		State:       sandbox.StateIdle,
		ExpiresAt:   created.Add(30 * time.Minute),
		CreatedAt:   created,
	}
}

func TestSandboxStore_PutAndFind(t *testing.T) {
	store := NewSandboxStore(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	sb := record("a", "dt-1", now)
	if err := store.Put(sb); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ran := now.Add(time.Minute)
	sb.State = sandbox.StateBusy
	sb.Runs = 3
	sb.LastRunAt = &ran
	if err := store.Put(sb); err != nil {
		t.Fatalf("Put() update error = %v", err)
	}

	got, err := store.ForEditor("dt-1")
	if err != nil {
		t.Fatalf("ForEditor() error = %v", err)
	}
	if got.State != sandbox.StateBusy || got.Runs != 3 || got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
		t.Errorf("ForEditor() = %+v", got)
	}
	if _, err := store.ForEditor("dt-2"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("ForEditor(unknown) error = %v", err)
	}
}

func TestSandboxStore_NewestPerEditor(t *testing.T) {
	store := NewSandboxStore(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)
	_ = store.Put(record("old", "dt-1", now.Add(-time.Hour)))
	_ = store.Put(record("new", "dt-1", now))

	got, err := store.ForEditor("dt-1")
	if err != nil || got.ID != "new" {
		t.Errorf("ForEditor() = %+v, %v", got, err)
	}
}

func TestSandboxStore_RemoveAndAll(t *testing.T) {
	store := NewSandboxStore(openTestDB(t))
	now := time.Now().UTC()
	_ = store.Put(record("a", "dt-1", now))
	_ = store.Put(record("b", "dt-2", now.Add(time.Second)))

	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove("a"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}
	all, err := store.All()
	if err != nil || len(all) != 1 || all[0].ID != "b" {
		t.Errorf("All() = %+v, %v", all, err)
	}
}

type nopBackend struct{ removed []string }

func (nopBackend) Ping(context.Context) error         { return nil }
func (nopBackend) Pull(context.Context, string) error { return nil }
func (nopBackend) Start(context.Context, sandbox.Limits) (string, error) {
	return "fresh", nil
}
func (nopBackend) Write(context.Context, string, map[string]string) error { return nil }
func (nopBackend) Exec(context.Context, string, []string, time.Duration) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{}, nil
}
func (b *nopBackend) Remove(_ context.Context, id string) error {
	b.removed = append(b.removed, id)
	return nil
}

func TestSandboxStore_RestartRemovesLeftovers(t *testing.T) {
	db := openTestDB(t)
	_ = NewSandboxStore(db).Put(record("a", "dt-1", time.Now()))

	backend := &nopBackend{}
	m := sandbox.NewManager(NewSandboxStore(db), backend, sandbox.Limits{})
	if err := m.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if len(backend.removed) != 1 || backend.removed[0] != "container-a" {
		t.Errorf("removed = %v", backend.removed)
	}
	if all, _ := NewSandboxStore(db).All(); len(all) != 0 {
		t.Errorf("records left = %d", len(all))
	}
}
