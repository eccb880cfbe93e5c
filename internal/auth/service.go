// Package auth implements email/password accounts with revocable JWT access
// tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Issuer is the iss claim of every token.
const Issuer = "pylearner"

// Config holds auth service configuration.
type Config struct {
	Secret     []byte
	SessionTTL time.Duration
	BcryptCost int
}

// Grant is the result of a successful sign-in.
type Grant struct {
	Token   string          `json:"token"`
	Session *domain.Session `json:"session"`
}

// Service handles authentication operations
type Service struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewService creates a new auth service
func NewService(repo Repository, cfg Config) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:   repo,
		secret: cfg.Secret,
		ttl:    cfg.SessionTTL,
		cost:   cfg.BcryptCost,
		now:    time.Now,
	}, nil
}

// SignUp validates the form, stores credentials under a fresh uid and signs
// the new account in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Credentials, *Grant, error) {
	req.Email = NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	creds := &Credentials{
		UID:          uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateCredentials(ctx, creds); err != nil {
		return nil, nil, err
	}

	grant, err := s.issue(ctx, creds.UID)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("account created", "user", creds.UID)
	return creds, grant, nil
}

// SignIn checks the password and issues a new session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Credentials, *Grant, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, nil, err
	}

	creds, err := s.repo.GetCredentials(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	grant, err := s.issue(ctx, creds.UID)
	if err != nil {
		return nil, nil, err
	}
	return creds, grant, nil
}

func (s *Service) issue(ctx context.Context, uid string) (*Grant, error) {
	now := s.now()
	session := &domain.Session{
		ID:        uuid.New(),
		UserID:    uid,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   uid,
		ID:        session.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Grant{Token: signed, Session: session}, nil
}

// Validate checks the token signature and expiry and that its session has
// not been revoked.
func (s *Service) Validate(ctx context.Context, token string) (*domain.Session, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// SignOut revokes the token's session. Tokens that are already expired are
// accepted silently.
func (s *Service) SignOut(ctx context.Context, token string) (*domain.Session, error) {
	session, err := s.Validate(ctx, token)
	switch {
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionRevoked):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if err := s.repo.RevokeSession(ctx, session.ID, s.now()); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return session, nil
}

// SignOutAll removes every session of the user.
func (s *Service) SignOutAll(ctx context.Context, uid string) error {
	return s.repo.DeleteUserSessions(ctx, uid)
}

// DeleteExpiredSessions removes expired and revoked sessions.
func (s *Service) DeleteExpiredSessions(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("expired sessions removed", "count", n)
	}
	return n, nil
}

func (s *Service) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
