package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/storage"
	"github.com/google/uuid"
)

// Credentials is the login record of an account. It never leaves the auth
// package's repositories except to check a password.
type Credentials struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repository defines the interface for auth data access
type Repository interface {
	// CreateCredentials returns ErrEmailExists when the email is taken.
	CreateCredentials(ctx context.Context, creds *Credentials) error
	// GetCredentials returns domain.ErrUserNotFound for unknown emails.
	GetCredentials(ctx context.Context, email string) (*Credentials, error)

	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteUserSessions(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// Collections used by DocumentRepository.
const (
	CollectionCredentials = "credentials"
	CollectionSessions    = "authSessions"
)

// DocumentRepository keeps credentials and sessions in a document store next
// to the profile documents. Credentials are keyed by normalized email.
type DocumentRepository struct {
	store storage.DocumentStore
	mu    sync.Mutex // serializes email uniqueness checks
}

// NewDocumentRepository creates a repository over the store.
func NewDocumentRepository(store storage.DocumentStore) *DocumentRepository {
	return &DocumentRepository{store: store}
}

func (r *DocumentRepository) CreateCredentials(ctx context.Context, creds *Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizeEmail(creds.Email)
	_, err := r.store.Get(ctx, CollectionCredentials, key)
	switch {
	case err == nil:
		return ErrEmailExists
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("check credentials: %w", err)
	}
	return r.put(ctx, CollectionCredentials, key, creds)
}

func (r *DocumentRepository) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	key := NormalizeEmail(email)
	if key == "" {
		return nil, domain.ErrUserNotFound
	}
	var creds Credentials
	if err := r.get(ctx, CollectionCredentials, key, &creds); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &creds, nil
}

func (r *DocumentRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.put(ctx, CollectionSessions, session.ID.String(), session)
}

func (r *DocumentRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var session domain.Session
	if err := r.get(ctx, CollectionSessions, id.String(), &session); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *DocumentRepository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	patch, err := json.Marshal(map[string]time.Time{"revoked_at": at})
	if err != nil {
		return err
	}
	if _, err := r.GetSession(ctx, id); err != nil {
		return err
	}
	return r.store.Set(ctx, CollectionSessions, id.String(), patch, true)
}

func (r *DocumentRepository) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := r.deleteSessions(ctx, func(s *domain.Session) bool { return s.UserID == userID })
	return err
}

func (r *DocumentRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	return r.deleteSessions(ctx, func(s *domain.Session) bool {
		return s.RevokedAt != nil || !now.Before(s.ExpiresAt)
	})
}

func (r *DocumentRepository) deleteSessions(ctx context.Context, match func(*domain.Session) bool) (int, error) {
	docs, err := r.store.List(ctx, CollectionSessions)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	n := 0
	for _, doc := range docs {
		var s domain.Session
		if err := json.Unmarshal(doc.Data, &s); err != nil {
			continue
		}
		if !match(&s) {
			continue
		}
		if err := r.store.Delete(ctx, CollectionSessions, doc.ID); err != nil {
			return n, fmt.Errorf("delete session %s: %w", doc.ID, err)
		}
		n++
	}
	return n, nil
}

func (r *DocumentRepository) put(ctx context.Context, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, collection, id, data, false)
}

func (r *DocumentRepository) get(ctx context.Context, collection, id string, v any) error {
	data, err := r.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

var _ Repository = (*DocumentRepository)(nil)
