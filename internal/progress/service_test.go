package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/storage"
)

type fakeCatalog struct{}

func (fakeCatalog) Exercise(id string) (*domain.Exercise, error) {
	switch id {
	case "dt-1":
		return &domain.Exercise{ID: id, XPReward: 10}, nil
	case "dt-2":
		return &domain.Exercise{ID: id, XPReward: 95}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
}

func (fakeCatalog) ProjectReward(id string) int {
	if id == "wordle" {
		return 100
	}
	return 50
}

func (fakeCatalog) ExerciseCount() int { return 120 }
func (fakeCatalog) ProjectCount() int  { return 3 }

type docStore struct {
	docs    map[string][]byte
	setErr  error
	getErr  error
	setHits int
}

func newDocStore() *docStore { return &docStore{docs: map[string][]byte{}} }

func (d *docStore) GetDocument(_ context.Context, c, id string, dst any) error {
	if d.getErr != nil {
		return d.getErr
	}
	data, ok := d.docs[c+"/"+id]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(data, dst)
}

func (d *docStore) SetDocument(_ context.Context, c, id string, doc any, _ bool) error {
	d.setHits++
	if d.setErr != nil {
		return d.setErr
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	d.docs[c+"/"+id] = data
	return nil
}

func (d *docStore) load(t *testing.T, uid string) *domain.UserProgress {
	t.Helper()
	var p domain.UserProgress
	if err := d.GetDocument(context.Background(), domain.CollectionProgress, uid, &p); err != nil {
		t.Fatalf("stored progress: %v", err)
	}
	return &p
}

func fixedClock(day string) func() time.Time {
	t, err := time.ParseInLocation(domain.DateLayout, day, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t.Add(10 * time.Hour) }
}

func TestLoad_FirstSignIn(t *testing.T) {
	store := newDocStore()
	svc := NewService(store, fakeCatalog{}, WithClock(fixedClock("2026-10-19")))

	p, err := svc.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.XP != 0 || p.Streak != 1 || p.Level != 1 || p.LastLoginDate != "2026-10-19" {
		t.Errorf("defaults = %+v", p)
	}
	if store.setHits != 1 {
		t.Errorf("defaults saved %d times, want 1", store.setHits)
	}
	if got := store.load(t, "u1"); got.LastLoginDate != "2026-10-19" {
		t.Errorf("stored lastLoginDate = %q", got.LastLoginDate)
	}
}

func TestLoad_Streak(t *testing.T) {
	tests := []struct {
		name       string
		last       string
		streak     int
		wantStreak int
		wantSave   bool
	}{
		{"yesterday", "2026-10-18", 4, 5, true},
		{"same day", "2026-10-19", 4, 4, false},
		{"gap", "2026-10-10", 4, 1, true},
		{"legacy date", "Sun Oct 18 2026", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newDocStore()
			stored := &domain.UserProgress{
				XP: 250, Level: 1, Streak: tt.streak, LastLoginDate: tt.last,
				CompletedExercises: []string{"dt-1"}, CompletedProjects: []string{},
				SubmittedResponses: map[string]domain.Submission{},
			}
			if err := store.SetDocument(context.Background(), domain.CollectionProgress, "u1", stored, false); err != nil {
				t.Fatal(err)
			}
			store.setHits = 0

			svc := NewService(store, fakeCatalog{}, WithClock(fixedClock("2026-10-19")))
			p, err := svc.Load(context.Background(), "u1")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if p.Streak != tt.wantStreak {
				t.Errorf("streak = %d, want %d", p.Streak, tt.wantStreak)
			}
			if p.Level != 3 {
				t.Errorf("level = %d, want 3 (recomputed from xp)", p.Level)
			}
			if saved := store.setHits > 0; saved != tt.wantSave {
				t.Errorf("saved = %v, want %v", saved, tt.wantSave)
			}
		})
	}
}

func TestLoad_MissingResponsesIsSaved(t *testing.T) {
	store := newDocStore()
	store.docs[domain.CollectionProgress+"/u1"] = []byte(`{"xp":10,"streak":1,"level":1,"completedExercises":[],"completedProjects":[],"lastLoginDate":"2026-10-19"}`)

	svc := NewService(store, fakeCatalog{}, WithClock(fixedClock("2026-10-19")))
	p, err := svc.Load(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p.SubmittedResponses == nil {
		t.Error("submittedResponses should be initialized")
	}
	if store.setHits != 1 {
		t.Errorf("saved %d times, want 1", store.setHits)
	}
}

func TestLoad_BackendError(t *testing.T) {
	store := newDocStore()
	store.getErr = errors.New("unavailable")
	svc := NewService(store, fakeCatalog{})
	if _, err := svc.Load(context.Background(), "u1"); err == nil {
		t.Fatal("Load() should fail when the backend is down")
	}
}

func TestSubmitExercise(t *testing.T) {
	ctx := context.Background()
	store := newDocStore()
	svc := NewService(store, fakeCatalog{}, WithClock(fixedClock("2026-10-19")))
	p, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.SubmitExercise(ctx, "u1", p, "dt-1", domain.Submission{Code: "x = 1", Output: "a"})
	if err != nil {
		t.Fatalf("SubmitExercise() error = %v", err)
	}
	if !first.Awarded || first.XP != 10 || p.XP != 10 {
		t.Errorf("first submission = %+v, xp %d", first, p.XP)
	}
	if !strings.Contains(first.Notices[0].Message, "+10 XP earned") {
		t.Errorf("notice = %q", first.Notices[0].Message)
	}

	second, err := svc.SubmitExercise(ctx, "u1", p, "dt-1", domain.Submission{Code: "x = 2", Output: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Awarded || p.XP != 10 || len(p.CompletedExercises) != 1 {
		t.Errorf("resubmission changed xp or completions: %+v", p)
	}
	if second.Notices[0].Message != "Exercise resubmitted! (No additional XP - already completed)" {
		t.Errorf("notice = %q", second.Notices[0].Message)
	}

	stored := store.load(t, "u1")
	if sub := stored.SubmittedResponses["dt-1"]; sub.Code != "x = 2" || sub.Output != "b" || sub.SubmittedAt.IsZero() {
		t.Errorf("stored submission = %+v", sub)
	}

	if _, err := svc.SubmitExercise(ctx, "u1", p, "nope", domain.Submission{}); !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("unknown exercise error = %v", err)
	}
}

func TestSubmitExercise_LevelUp(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newDocStore(), fakeCatalog{})
	p := domain.NewUserProgress(time.Now())
	p.XP = 10

	var levels []int
	svc.events.Subscribe(domain.EventLevelUp, func(e domain.Event) {
		levels = append(levels, e.(domain.LevelUpEvent).Level)
	})

	out, err := svc.SubmitExercise(ctx, "u1", p, "dt-2", domain.Submission{Code: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.LeveledUp || out.Level != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := out.Notices[len(out.Notices)-1].Message; got != "Level up! You're now level 2" {
		t.Errorf("notice = %q", got)
	}
	if !reflect.DeepEqual(levels, []int{2}) {
		t.Errorf("level up events = %v", levels)
	}
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	store := newDocStore()
	svc := NewService(store, fakeCatalog{})
	p := domain.NewUserProgress(time.Now())

	var failed int
	svc.events.Subscribe(domain.EventSaveFailed, func(domain.Event) { failed++ })

	store.setErr = errors.New("offline")
	out, err := svc.SubmitExercise(ctx, "u1", p, "dt-1", domain.Submission{Code: "c"})
	if !IsSaveError(err) {
		t.Fatalf("error = %v, want SaveError", err)
	}
	var se *SaveError
	errors.As(err, &se)
	if se.Notice() != MsgSaveFailed {
		t.Errorf("notice = %q", se.Notice())
	}
	if out == nil || p.XP != 10 || !p.HasCompletedExercise("dt-1") {
		t.Errorf("memory state reverted: %+v", p)
	}
	if failed != 1 {
		t.Errorf("save_failed events = %d, want 1", failed)
	}
}

func TestCompleteProject(t *testing.T) {
	ctx := context.Background()
	store := newDocStore()
	svc := NewService(store, fakeCatalog{})
	p := domain.NewUserProgress(time.Now())

	out, err := svc.CompleteProject(ctx, "u1", p, "wordle")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Awarded || p.XP != 100 || !out.LeveledUp {
		t.Errorf("outcome = %+v", out)
	}
	if out.Notices[0].Message != "Project completed! +100 XP" {
		t.Errorf("notice = %q", out.Notices[0].Message)
	}

	hits := store.setHits
	again, err := svc.CompleteProject(ctx, "u1", p, "wordle")
	if err != nil {
		t.Fatal(err)
	}
	if again.Awarded || p.XP != 100 || store.setHits != hits {
		t.Errorf("repeated completion changed state: %+v", again)
	}

	if _, err := svc.CompleteProject(ctx, "u1", p, "unknown"); err != nil {
		t.Fatal(err)
	}
	if p.XP != 150 {
		t.Errorf("unknown project should earn the default 50 XP, xp = %d", p.XP)
	}
}

func TestSubmitProject(t *testing.T) {
	ctx := context.Background()
	store := newDocStore()
	svc := NewService(store, fakeCatalog{})
	p := domain.NewUserProgress(time.Now())

	sub := domain.Submission{Code: "print('story')", Output: "story\n"}
	out, err := svc.SubmitProject(ctx, "u1", p, "madlibs", sub)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Awarded || out.XP != 50 || !p.HasCompletedProject("madlibs") {
		t.Errorf("outcome = %+v", out)
	}
	if got, ok := store.load(t, "u1").LastSubmission("project-madlibs"); !ok || got.Code != sub.Code || got.SubmittedAt.IsZero() {
		t.Errorf("stored submission = %+v, %v", got, ok)
	}

	sub.Code = "print('another story')"
	again, err := svc.SubmitProject(ctx, "u1", p, "madlibs", sub)
	if err != nil {
		t.Fatal(err)
	}
	if again.Awarded || p.XP != 50 {
		t.Errorf("resubmission awarded XP: %+v", again)
	}
	if len(again.Notices) != 1 || again.Notices[0].Message != "Project resubmitted! (No additional XP - already completed)" {
		t.Errorf("notices = %+v", again.Notices)
	}
	if got, _ := store.load(t, "u1").LastSubmission("project-madlibs"); got.Code != sub.Code {
		t.Errorf("resubmission not saved, code = %q", got.Code)
	}
}

func TestAddXP(t *testing.T) {
	svc := NewService(newDocStore(), fakeCatalog{})
	p := domain.NewUserProgress(time.Now())

	if _, err := svc.AddXP(context.Background(), "u1", p, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("AddXP(0) error = %v", err)
	}
	out, err := svc.AddXP(context.Background(), "u1", p, 120)
	if err != nil {
		t.Fatal(err)
	}
	if p.XP != 120 || p.Level != 2 || !out.LeveledUp {
		t.Errorf("progress = %+v", p)
	}
	if out.Notices[0].Message != "+120 XP earned" {
		t.Errorf("notice = %q", out.Notices[0].Message)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newDocStore()
	svc := NewService(store, fakeCatalog{}, WithClock(fixedClock("2026-10-19")))

	p, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitExercise(ctx, "u1", p, "dt-1", domain.Submission{Code: "x", Output: "y", SubmittedAt: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteProject(ctx, "u1", p, "quiz"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := svc.Load(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p, reloaded) {
		t.Errorf("reloaded = %+v\nwant      %+v", reloaded, p)
	}
}
