// Package backend is the identity and document service the rest of the
// application persists through. Callers depend on Repository only.
package backend

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/storage"
)

var (
	ErrNotFound     = storage.ErrNotFound
	ErrNotSignedIn  = errors.New("not signed in")
	ErrUnauthorized = domain.ErrUnauthorized
)

// Account is a signed-in user with their access token.
type Account struct {
	User    *domain.User    `json:"user"`
	Token   string          `json:"token"`
	Session *domain.Session `json:"session"`
}

// AuthStateFunc observes sign-in and sign-out. User is nil on sign-out.
type AuthStateFunc func(uid string, user *domain.User)

// Repository is the narrow backend surface: accounts plus collection/id
// keyed documents.
type Repository interface {
	SignUp(ctx context.Context, req auth.SignUpRequest) (*Account, error)
	SignIn(ctx context.Context, email, password string) (*Account, error)
	SignOut(ctx context.Context, token string) error
	// CurrentUser resolves a token to its account; errors match ErrUnauthorized.
	CurrentUser(ctx context.Context, token string) (*domain.User, error)

	// GetDocument decodes the document into dst or returns ErrNotFound.
	GetDocument(ctx context.Context, collection, id string, dst any) error
	SetDocument(ctx context.Context, collection, id string, doc any, merge bool) error
	ListDocuments(ctx context.Context, collection string) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error

	OnAuthStateChanged(fn AuthStateFunc) (unsubscribe func())
}
