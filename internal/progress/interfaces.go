package progress

import (
	"context"

	"github.com/felixgeelhaar/pylearner/internal/domain"
)

// Catalog is the part of the content catalog progress bookkeeping needs.
type Catalog interface {
	Exercise(id string) (*domain.Exercise, error)
	ProjectReward(id string) int
	ExerciseCount() int
	ProjectCount() int
}

// Store persists progress documents. backend.Service satisfies it.
type Store interface {
	GetDocument(ctx context.Context, collection, id string, dst any) error
	SetDocument(ctx context.Context, collection, id string, doc any, merge bool) error
}

// Tracker is the progress service surface used by sessions and handlers.
type Tracker interface {
	Load(ctx context.Context, uid string) (*domain.UserProgress, error)
	Save(ctx context.Context, uid string, p *domain.UserProgress) error
	SubmitExercise(ctx context.Context, uid string, p *domain.UserProgress, exerciseID string, sub domain.Submission) (*Outcome, error)
	SubmitProject(ctx context.Context, uid string, p *domain.UserProgress, projectID string, sub domain.Submission) (*Outcome, error)
	CompleteProject(ctx context.Context, uid string, p *domain.UserProgress, projectID string) (*Outcome, error)
	AddXP(ctx context.Context, uid string, p *domain.UserProgress, amount int) (*Outcome, error)
	Stats(p *domain.UserProgress) Stats
}

var _ Tracker = (*Service)(nil)
