package auth

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	uid           TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_sessions (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_auth_sessions_user ON auth_sessions(user_id);
`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the auth tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresSchema)
	return err
}

// CreateCredentials inserts a login record
func (r *PostgresRepository) CreateCredentials(ctx context.Context, creds *Credentials) error {
	query := `
		INSERT INTO credentials (uid, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query,
		creds.UID, NormalizeEmail(creds.Email), creds.PasswordHash, creds.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailExists
	}
	return err
}

// GetCredentials retrieves a login record by email
func (r *PostgresRepository) GetCredentials(ctx context.Context, email string) (*Credentials, error) {
	query := `
		SELECT uid, email, password_hash, created_at
		FROM credentials WHERE email = $1
	`
	creds := &Credentials{}
	err := r.pool.QueryRow(ctx, query, NormalizeEmail(email)).Scan(
		&creds.UID, &creds.Email, &creds.PasswordHash, &creds.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// CreateSession inserts a new session
func (r *PostgresRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO auth_sessions (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	return err
}

// GetSession retrieves a session by ID
func (r *PostgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, expires_at, created_at, revoked_at
		FROM auth_sessions WHERE id = $1
	`
	session := &domain.Session{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt, &session.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RevokeSession marks a session revoked
func (r *PostgresRepository) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE auth_sessions SET revoked_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteUserSessions deletes all sessions for a user
func (r *PostgresRepository) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE user_id = $1`, userID)
	return err
}

// DeleteExpiredSessions deletes expired and revoked sessions
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM auth_sessions WHERE expires_at <= $1 OR revoked_at IS NOT NULL`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ Repository = (*PostgresRepository)(nil)
