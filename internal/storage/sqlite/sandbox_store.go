package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/pylearner/internal/sandbox"
)

const sandboxColumns = `id, editor_id, container_id, image, state, runs, last_run_at, expires_at, created_at`

// SandboxStore records running containers so a restarted daemon can remove
// the ones it left behind.
type SandboxStore struct {
	db *DB
}

func NewSandboxStore(db *DB) *SandboxStore {
	return &SandboxStore{db: db}
}

func (s *SandboxStore) Put(sb *sandbox.Sandbox) error {
	var lastRun sql.NullTime
	if sb.LastRunAt != nil {
		lastRun = sql.NullTime{Time: *sb.LastRunAt, Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO sandboxes (`+sandboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			container_id = excluded.container_id,
			state = excluded.state,
			runs = excluded.runs,
			last_run_at = excluded.last_run_at,
			expires_at = excluded.expires_at`,
		sb.ID, sb.EditorID, sb.ContainerID, sb.Image, string(sb.State),
		sb.Runs, lastRun, sb.ExpiresAt, sb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put sandbox: %w", err)
	}
	return nil
}

// ForEditor returns the newest record for the editor.
func (s *SandboxStore) ForEditor(editorID string) (*sandbox.Sandbox, error) {
	row := s.db.QueryRow(`SELECT `+sandboxColumns+` FROM sandboxes
		WHERE editor_id = ? ORDER BY created_at DESC LIMIT 1`, editorID)
	return scanSandbox(row)
}

func (s *SandboxStore) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM sandboxes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove sandbox: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sandbox.ErrNotFound
	}
	return nil
}

func (s *SandboxStore) All() ([]*sandbox.Sandbox, error) {
	rows, err := s.db.Query(`SELECT ` + sandboxColumns + ` FROM sandboxes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	var out []*sandbox.Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSandbox(row scanner) (*sandbox.Sandbox, error) {
	var (
		sb      sandbox.Sandbox
		state   string
		lastRun sql.NullTime
	)
	err := row.Scan(&sb.ID, &sb.EditorID, &sb.ContainerID, &sb.Image, &state,
		&sb.Runs, &lastRun, &sb.ExpiresAt, &sb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sandbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sandbox: %w", err)
	}
	sb.State = sandbox.State(state)
	if lastRun.Valid {
		t := lastRun.Time
		sb.LastRunAt = &t
	}
	return &sb, nil
}

var _ sandbox.Store = (*SandboxStore)(nil)
