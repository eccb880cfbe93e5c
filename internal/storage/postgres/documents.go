// Package postgres stores documents in a PostgreSQL jsonb table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/pylearner/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// DocumentStore implements storage.DocumentStore on PostgreSQL.
type DocumentStore struct {
	db *sql.DB
}

// Open connects with the lib/pq driver and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*DocumentStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewDocumentStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewDocumentStore wraps an open database.
func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// DB exposes the underlying database.
func (s *DocumentStore) DB() *sql.DB { return s.db }

// EnsureSchema creates the documents table if needed.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// Get retrieves a document.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := storage.ValidateKey(collection, id); err != nil {
		return nil, err
	}
	var data pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return data.RawMessage, nil
}

// Set upserts a document. Merging uses jsonb concatenation, which is a
// shallow top-level merge.
func (s *DocumentStore) Set(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	if err := storage.CheckObject(data); err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if merge {
		query = `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()`
	}

	doc := pqtype.NullRawMessage{RawMessage: data, Valid: true}
	if _, err := s.db.ExecContext(ctx, query, collection, id, doc); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// List returns all documents in a collection ordered by id.
func (s *DocumentStore) List(ctx context.Context, collection string) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []storage.Document{}
	for rows.Next() {
		var id string
		var data pqtype.NullRawMessage
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, storage.Document{ID: id, Data: data.RawMessage})
	}
	return docs, rows.Err()
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	return s.db.Close()
}

var _ storage.DocumentStore = (*DocumentStore)(nil)
