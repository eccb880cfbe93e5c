package session

import (
	"context"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/runner"
)

// Runner executes code for editors. runner.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
	Status() runner.Status
	Cancel(sessionID string) error
	CancelEditor(sessionID, editor string) error
	CloseSession(ctx context.Context, sessionID string)
}

// Catalog resolves editor ids to their content.
type Catalog interface {
	Exercise(id string) (*domain.Exercise, error)
	Project(id string) (*domain.Project, error)
}

// Ensure the engine satisfies Runner
var _ Runner = (*runner.Engine)(nil)
