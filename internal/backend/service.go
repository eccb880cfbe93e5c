package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// Config holds resilience settings for document access.
type Config struct {
	// FailureThreshold consecutive write failures open the breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open.
	OpenTimeout time.Duration
	// ReadAttempts bounds retries of idempotent reads.
	ReadAttempts int
	ReadDelay    time.Duration
}

// DefaultConfig returns the default resilience settings.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		ReadAttempts:     3,
		ReadDelay:        100 * time.Millisecond,
	}
}

// Service implements Repository over the auth service and a document store.
type Service struct {
	auth   *auth.Service
	store  storage.DocumentStore
	events *domain.EventDispatcher

	writes circuitbreaker.CircuitBreaker[struct{}]
	reads  retry.Retry[json.RawMessage]
	lists  retry.Retry[[]storage.Document]
}

// NewService creates a backend. A nil dispatcher gets a private one.
func NewService(authSvc *auth.Service, store storage.DocumentStore, events *domain.EventDispatcher, cfg Config) *Service {
	if events == nil {
		events = domain.NewEventDispatcher()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = 1
	}
	if cfg.ReadDelay <= 0 {
		cfg.ReadDelay = 100 * time.Millisecond
	}

	threshold := cfg.FailureThreshold
	return &Service{
		auth:   authSvc,
		store:  store,
		events: events,
		writes: circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= threshold
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				slog.Warn("document store circuit breaker state change",
					"from", from.String(), "to", to.String())
			},
		}),
		reads: retry.New[json.RawMessage](retryConfig(cfg)),
		lists: retry.New[[]storage.Document](retryConfig(cfg)),
	}
}

func retryConfig(cfg Config) retry.Config {
	return retry.Config{
		MaxAttempts:   cfg.ReadAttempts,
		InitialDelay:  cfg.ReadDelay,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   isRetryable,
	}
}

// isRetryable excludes answers that a retry cannot change.
func isRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, storage.ErrNotFound) &&
		!errors.Is(err, storage.ErrInvalidID) &&
		!errors.Is(err, storage.ErrNotObject) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Events returns the dispatcher auth state changes are published on.
func (s *Service) Events() *domain.EventDispatcher { return s.events }

// SignUp creates the account and its profile document, then signs it in.
func (s *Service) SignUp(ctx context.Context, req auth.SignUpRequest) (*Account, error) {
	creds, grant, err := s.auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		UID:         creds.UID,
		Email:       creds.Email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		CreatedAt:   creds.CreatedAt,
		Role:        domain.RoleUser,
	}
	if err := s.SetDocument(ctx, domain.CollectionUsers, user.UID, user, false); err != nil {
		slog.Error("failed to store profile", "user", user.UID, "error", err)
		return nil, fmt.Errorf("store profile: %w", err)
	}

	s.events.Publish(domain.NewSignedInEvent(user))
	return &Account{User: user, Token: grant.Token, Session: grant.Session}, nil
}

// SignIn authenticates and loads the profile.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Account, error) {
	creds, grant, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	user, err := s.profile(ctx, creds.UID, creds.Email)
	if err != nil {
		return nil, err
	}
	s.events.Publish(domain.NewSignedInEvent(user))
	return &Account{User: user, Token: grant.Token, Session: grant.Session}, nil
}

// SignOut revokes the token. Unknown or expired tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	session, err := s.auth.SignOut(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session != nil {
		s.events.Publish(domain.NewSignedOutEvent(session.UserID))
	}
	return nil
}

// CurrentUser validates the token and returns the account's profile.
func (s *Service) CurrentUser(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNotSignedIn)
	}
	session, err := s.auth.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrSessionNotFound) ||
			errors.Is(err, auth.ErrSessionExpired) || errors.Is(err, auth.ErrSessionRevoked) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}
	return s.profile(ctx, session.UserID, "")
}

// profile loads the users document. A missing document or display name is
// filled from the email so a half-created account can still sign in.
func (s *Service) profile(ctx context.Context, uid, email string) (*domain.User, error) {
	var user domain.User
	err := s.GetDocument(ctx, domain.CollectionUsers, uid, &user)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Warn("profile document missing", "user", uid)
		user = domain.User{UID: uid, Email: email}
	case err != nil:
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if user.UID == "" {
		user.UID = uid
	}
	if user.Email == "" {
		user.Email = email
	}
	if user.DisplayName == "" {
		user.DisplayName = domain.DisplayNameFromEmail(user.Email)
	}
	user.Role = user.EffectiveRole()
	return &user, nil
}

func (s *Service) GetDocument(ctx context.Context, collection, id string, dst any) error {
	data, err := s.reads.Do(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return s.store.Get(ctx, collection, id)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Service) SetDocument(ctx context.Context, collection, id string, doc any, merge bool) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = s.writes.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Set(ctx, collection, id, data, merge)
	})
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Service) ListDocuments(ctx context.Context, collection string) ([]storage.Document, error) {
	docs, err := s.lists.Do(ctx, func(ctx context.Context) ([]storage.Document, error) {
		return s.store.List(ctx, collection)
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

func (s *Service) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.writes.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, collection, id)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// OnAuthStateChanged subscribes fn to sign-in and sign-out events.
func (s *Service) OnAuthStateChanged(fn AuthStateFunc) func() {
	handler := func(e domain.Event) {
		if ev, ok := e.(domain.AuthStateEvent); ok {
			fn(ev.UserID(), ev.User)
		}
	}
	unsubIn := s.events.Subscribe(domain.EventSignedIn, handler)
	unsubOut := s.events.Subscribe(domain.EventSignedOut, handler)
	return func() {
		unsubIn()
		unsubOut()
	}
}

var _ Repository = (*Service)(nil)
