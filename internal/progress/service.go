// Package progress keeps the XP, level, streak and completion record of each
// account and persists it after every change.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/metrics"
	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// NoticeKind classifies a notice for display.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeError   NoticeKind = "error"
)

// Notice is a short message for the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Outcome describes the effect of one progress change.
type Outcome struct {
	Progress  *domain.UserProgress `json:"progress"`
	Awarded   bool                 `json:"awarded"`
	XP        int                  `json:"xp"`
	LeveledUp bool                 `json:"leveled_up"`
	Level     int                  `json:"level"`
	Notices   []Notice             `json:"notices"`
}

func (o *Outcome) notify(kind NoticeKind, format string, args ...any) {
	o.Notices = append(o.Notices, Notice{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Service handles progress business logic
type Service struct {
	store   Store
	catalog Catalog
	events  *domain.EventDispatcher
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes progress events on d.
func WithEvents(d *domain.EventDispatcher) Option {
	return func(s *Service) { s.events = d }
}

// WithMetrics records submissions and save failures on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for streaks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new progress service
func NewService(store Store, catalog Catalog, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: catalog,
		events:  domain.NewEventDispatcher(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the stored record, creating the defaults on first sign-in. The
// daily streak transition is applied and the level recomputed; the record is
// saved when that changed it. A failed save still returns the record along
// with a *SaveError.
func (s *Service) Load(ctx context.Context, uid string) (*domain.UserProgress, error) {
	now := s.now()

	var p domain.UserProgress
	err := s.store.GetDocument(ctx, domain.CollectionProgress, uid, &p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fresh := domain.NewUserProgress(now)
		slog.Info("created progress", "user", uid)
		return fresh, s.Save(ctx, uid, fresh)
	case err != nil:
		slog.Error("failed to load progress", "user", uid, "error", err)
		return nil, fmt.Errorf("load progress: %w", err)
	}

	if p.RecordLogin(now) {
		slog.Debug("login recorded", "user", uid, "streak", p.Streak)
		return &p, s.Save(ctx, uid, &p)
	}
	return &p, nil
}

// Save writes the whole record.
func (s *Service) Save(ctx context.Context, uid string, p *domain.UserProgress) error {
	if err := s.store.SetDocument(ctx, domain.CollectionProgress, uid, p, false); err != nil {
		slog.Error("failed to save progress", "user", uid, "error", err)
		s.metrics.ObserveSaveFailure()
		s.events.Publish(domain.NewSaveFailedEvent(uid, err))
		return &SaveError{UID: uid, Err: err}
	}
	return nil
}

// SubmitExercise stores the submission and awards the exercise's XP the first
// time only.
func (s *Service) SubmitExercise(ctx context.Context, uid string, p *domain.UserProgress, exerciseID string, sub domain.Submission) (*Outcome, error) {
	ex, err := s.catalog.Exercise(exerciseID)
	if err != nil {
		return nil, err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}

	awarded, leveledUp := p.SubmitExercise(ex.ID, ex.XPReward, sub)
	out := &Outcome{Progress: p, Awarded: awarded, LeveledUp: leveledUp, Level: p.Level}
	if awarded {
		out.XP = ex.XPReward
		out.notify(NoticeSuccess, "Exercise completed! Great job! +%d XP earned", ex.XPReward)
	} else {
		out.notify(NoticeInfo, "Exercise resubmitted! (No additional XP - already completed)")
	}
	s.levelUp(uid, out)

	s.metrics.ObserveSubmission("exercise", awarded, out.XP)
	s.events.Publish(domain.NewExerciseCompletedEvent(uid, ex.ID, out.XP))
	slog.Info("exercise submitted", "user", uid, "exercise", ex.ID, "xp", out.XP)

	return out, s.Save(ctx, uid, p)
}

// CompleteProject marks a project complete and awards its XP once.
// Repeated completions change nothing and are not saved.
func (s *Service) CompleteProject(ctx context.Context, uid string, p *domain.UserProgress, projectID string) (*Outcome, error) {
	reward := s.catalog.ProjectReward(projectID)
	awarded, leveledUp := p.CompleteProject(projectID, reward)
	out := &Outcome{Progress: p, Awarded: awarded, LeveledUp: leveledUp, Level: p.Level}
	if !awarded {
		return out, nil
	}

	out.XP = reward
	out.notify(NoticeSuccess, "Project completed! +%d XP", reward)
	s.levelUp(uid, out)

	s.metrics.ObserveSubmission("project", true, reward)
	s.events.Publish(domain.NewProjectCompletedEvent(uid, projectID, reward))
	slog.Info("project completed", "user", uid, "project", projectID, "xp", reward)

	return out, s.Save(ctx, uid, p)
}

// SubmitProject stores a project editor submission under the project's editor
// id and completes the project the first time.
func (s *Service) SubmitProject(ctx context.Context, uid string, p *domain.UserProgress, projectID string, sub domain.Submission) (*Outcome, error) {
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}
	p.RecordSubmission(domain.ProjectEditorPrefix+projectID, sub)

	out, err := s.CompleteProject(ctx, uid, p, projectID)
	if err != nil || out.Awarded {
		return out, err
	}
	out.notify(NoticeInfo, "Project resubmitted! (No additional XP - already completed)")
	s.metrics.ObserveSubmission("project", false, 0)
	return out, s.Save(ctx, uid, p)
}

// AddXP grants XP outside of exercise and project completion.
func (s *Service) AddXP(ctx context.Context, uid string, p *domain.UserProgress, amount int) (*Outcome, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	leveledUp := p.AddXP(amount)
	out := &Outcome{Progress: p, Awarded: true, XP: amount, LeveledUp: leveledUp, Level: p.Level}
	out.notify(NoticeSuccess, "+%d XP earned", amount)
	s.levelUp(uid, out)
	return out, s.Save(ctx, uid, p)
}

func (s *Service) levelUp(uid string, out *Outcome) {
	if !out.LeveledUp {
		return
	}
	out.notify(NoticeSuccess, "Level up! You're now level %d", out.Level)
	s.events.Publish(domain.NewLevelUpEvent(uid, out.Level))
}
