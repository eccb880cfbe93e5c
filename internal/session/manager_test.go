package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/backend"
	"github.com/felixgeelhaar/pylearner/internal/cache"
	"github.com/felixgeelhaar/pylearner/internal/catalog"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/progress"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/storage/memory"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	backend *backend.Service
	tracker *progress.Service
	catalog *catalog.Registry
	engine  *runner.Engine
	kv      *cache.Memory
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authSvc, err := auth.NewService(auth.NewDocumentRepository(memory.NewStore()), auth.Config{
		Secret: []byte("secret"), SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}

	engine := runner.NewEngine(runner.Config{Strategy: runner.StrategyFallback, Timeout: 5 * time.Second})
	engine.Start(context.Background())
	if err := engine.WaitReady(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })

	f := &fixture{
		backend: backend.NewService(authSvc, memory.NewStore(), nil, backend.DefaultConfig()),
		catalog: reg,
		engine:  engine,
		kv:      cache.NewMemory(),
	}
	f.tracker = progress.NewService(f.backend, reg)
	f.manager = f.newManager()
	return f
}

func (f *fixture) newManager() *Manager {
	return NewManager(f.backend, f.tracker, f.catalog, f.engine, cache.NewEditor(f.kv))
}

func (f *fixture) signUp(t *testing.T, email string) *Context {
	t.Helper()
	sc, err := f.manager.SignUp(context.Background(), auth.SignUpRequest{
		Email: email, Password: "secret1", ConfirmPassword: "secret1", DisplayName: "Sam",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return sc
}

func TestExerciseLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := f.signUp(t, "sam@example.com")

	if p := sc.Progress(); p.XP != 0 || p.Streak != 1 {
		t.Fatalf("initial progress = %+v", p)
	}

	view, err := sc.OpenEditor("dt-1")
	if err != nil {
		t.Fatalf("OpenEditor() error = %v", err)
	}
	ex, _ := f.catalog.Exercise("dt-1")
	if view.Code != ex.StartingCode || view.State != StateIdle {
		t.Errorf("opened view = %+v", view)
	}
	if view.CanSubmit || view.Status != MsgRequirementsHint {
		t.Errorf("starting code should not be submittable: %+v", view)
	}

	view, err = sc.Edit("dt-1", "name = \"Sam\"\nprint(name)")
	if err != nil {
		t.Fatal(err)
	}
	if !view.CanSubmit || view.Status != MsgRequirementsMet || !view.Saved {
		t.Errorf("edited view = %+v", view)
	}
	if code, ok, _ := cache.NewEditor(f.kv).Code(sc.UID(), "dt-1"); !ok || code != "name = \"Sam\"\nprint(name)" {
		t.Errorf("cached code = %q, %v", code, ok)
	}

	view, res, err := sc.Run(ctx, "dt-1", nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Output != "Sam\n" || view.State != StateEligible {
		t.Errorf("run = %q, state %s", res.Output, view.State)
	}

	view, out, err := sc.Submit(ctx, "dt-1", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !out.Awarded || out.XP != 10 || view.State != StateSubmitted || view.Status != MsgSubmitted {
		t.Errorf("submit = %+v, view %+v", out, view)
	}
	if p := sc.Progress(); p.XP != 10 || !p.HasCompletedExercise("dt-1") {
		t.Errorf("progress after submit = %+v", p)
	}

	_, again, err := sc.Submit(ctx, "dt-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.Awarded || sc.Progress().XP != 10 {
		t.Errorf("resubmission awarded XP: %+v", again)
	}

	view, err = sc.OpenEditor("dt-1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Code != "name = \"Sam\"\nprint(name)" || view.Output != "Sam\n" {
		t.Errorf("reopened editor = %+v", view)
	}
	if !view.Completed || view.Status != MsgAlreadyCompleted {
		t.Errorf("reopened status = %q completed=%v", view.Status, view.Completed)
	}
}

func TestSubmitRequiresRequirements(t *testing.T) {
	ctx := context.Background()
	sc := newFixture(t).signUp(t, "sam@example.com")

	if _, err := sc.OpenEditor("dt-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Edit("dt-1", `print("hi")`); err != nil {
		t.Fatal(err)
	}
	view, _, err := sc.Run(ctx, "dt-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if view.State != StateIneligible {
		t.Errorf("state = %s, want ineligible", view.State)
	}
	if _, _, err := sc.Submit(ctx, "dt-1", nil); !errors.Is(err, ErrRequirementsNotMet) {
		t.Errorf("Submit() error = %v, want ErrRequirementsNotMet", err)
	}
	if _, _, err := sc.Run(ctx, "dt-2", nil); !errors.Is(err, ErrEditorNotOpen) {
		t.Errorf("Run() on closed editor error = %v", err)
	}
	if _, err := sc.OpenEditor("nope-1"); !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("OpenEditor(unknown) error = %v", err)
	}
}

func TestFreeEditor(t *testing.T) {
	ctx := context.Background()
	sc := newFixture(t).signUp(t, "sam@example.com")

	view, err := sc.OpenEditor(domain.FreeEditorID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Code != FreeEditorCode || view.Status != "" || view.Kind != KindFree {
		t.Errorf("free editor = %+v", view)
	}
	_, res, err := sc.Run(ctx, domain.FreeEditorID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "Hello, Python!\n" {
		t.Errorf("output = %q", res.Output)
	}
	if _, _, err := sc.Submit(ctx, domain.FreeEditorID, nil); !errors.Is(err, ErrSubmitNotAllowed) {
		t.Errorf("Submit() error = %v, want ErrSubmitNotAllowed", err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := f.signUp(t, "sam@example.com")

	if _, err := sc.OpenEditor("print-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Edit("print-1", `print("changed")`); err != nil {
		t.Fatal(err)
	}
	if _, _, err := sc.Run(ctx, "print-1", nil); err != nil {
		t.Fatal(err)
	}

	view, err := sc.Reset("print-1")
	if err != nil {
		t.Fatal(err)
	}
	ex, _ := f.catalog.Exercise("print-1")
	if view.Code != ex.StartingCode || view.Output != "" || view.State != StateIdle {
		t.Errorf("reset view = %+v", view)
	}
	if keys, _ := f.kv.Keys(); len(keys) != 0 {
		t.Errorf("cache keys after reset = %v", keys)
	}
}

func TestProjectEditor(t *testing.T) {
	ctx := context.Background()
	sc := newFixture(t).signUp(t, "sam@example.com")

	if _, err := sc.OpenEditor("project-madlibs"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Edit("project-madlibs", `print("Once upon a time")`); err != nil {
		t.Fatal(err)
	}
	view, out, err := sc.Submit(ctx, "project-madlibs", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !out.Awarded || out.XP != 50 || view.State != StateSubmitted {
		t.Errorf("project submit = %+v", out)
	}
	p := sc.Progress()
	if !p.HasCompletedProject("madlibs") {
		t.Error("project not completed")
	}
	if sub, ok := p.LastSubmission("project-madlibs"); !ok || sub.Output != "Once upon a time\n" {
		t.Errorf("project submission = %+v, %v", sub, ok)
	}

	again, err := sc.CompleteProject(ctx, "madlibs")
	if err != nil {
		t.Fatal(err)
	}
	if again.Awarded {
		t.Error("project awarded twice")
	}
}

func TestSignOutClearsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := f.signUp(t, "sam@example.com")
	if _, err := sc.OpenEditor("dt-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Edit("dt-1", "x = 1"); err != nil {
		t.Fatal(err)
	}
	_ = f.kv.Set("exercise_code_someone-else_dt-1", "stale")

	if err := f.manager.SignOut(ctx, sc.Token); err != nil {
		t.Fatal(err)
	}
	keys, _ := f.kv.Keys()
	if len(keys) != 1 || keys[0] != "exercise_code_someone-else_dt-1" {
		t.Errorf("keys after sign-out = %v", keys)
	}
	if _, err := f.manager.Get(ctx, sc.Token); !errors.Is(err, backend.ErrUnauthorized) {
		t.Errorf("Get() after sign-out error = %v", err)
	}

	if _, err := f.manager.SignIn(ctx, "sam@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if keys, _ := f.kv.Keys(); len(keys) != 0 {
		t.Errorf("other users' keys survived sign-in: %v", keys)
	}
}

func TestGetRestoresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sc := f.signUp(t, "sam@example.com")
	if _, err := sc.OpenEditor("dt-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Edit("dt-1", "name = \"Sam\"\nprint(name)"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := sc.Submit(ctx, "dt-1", nil); err != nil {
		t.Fatal(err)
	}

	restarted := f.newManager()
	restored, err := restarted.Get(ctx, sc.Token)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if restored.UID() != sc.UID() || restored.Progress().XP != 10 {
		t.Errorf("restored session = %s xp %d", restored.UID(), restored.Progress().XP)
	}
	if restarted.Count() != 1 {
		t.Errorf("Count() = %d, want 1", restarted.Count())
	}

	same, err := restarted.Get(ctx, sc.Token)
	if err != nil || same != restored {
		t.Errorf("second Get() = %p, %v; want the same session", same, err)
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	f.manager = NewManager(f.backend, f.tracker, f.catalog, f.engine, cache.NewEditor(f.kv),
		WithClock(func() time.Time { return now }))
	f.signUp(t, "a@example.com")

	if n := f.manager.Sweep(ctx, time.Hour); n != 0 {
		t.Errorf("Sweep() removed %d fresh sessions", n)
	}
	now = now.Add(2 * time.Hour)
	if n := f.manager.Sweep(ctx, time.Hour); n != 1 {
		t.Errorf("Sweep() removed %d, want 1", n)
	}
	if f.manager.Count() != 0 {
		t.Errorf("Count() = %d after sweep", f.manager.Count())
	}
}

func TestCancelWithoutRun(t *testing.T) {
	f := newFixture(t)
	sc := f.signUp(t, "sam@example.com")
	if _, err := sc.OpenEditor("dt-1"); err != nil {
		t.Fatal(err)
	}
	if err := sc.Cancel("dt-1"); !errors.Is(err, runner.ErrRunNotFound) {
		t.Errorf("Cancel() error = %v, want ErrRunNotFound", err)
	}
}
