package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// DocumentStore implements storage.DocumentStore backed by SQLite.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a SQLite-backed document store. The database must
// be migrated.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// OpenDocumentStore opens path, applies migrations and returns the store.
func OpenDocumentStore(path string) (*DocumentStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return NewDocumentStore(db), nil
}

// DB exposes the underlying database so other stores can share it.
func (s *DocumentStore) DB() *DB { return s.db }

// Get retrieves a document.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := storage.ValidateKey(collection, id); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?", collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return json.RawMessage(data), nil
}

// Set upserts a document. Merging reads and writes inside one transaction.
func (s *DocumentStore) Set(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	if err := storage.CheckObject(data); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if merge {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT data FROM documents WHERE collection = ? AND id = ?", collection, id,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read document: %w", err)
		default:
			if data, err = storage.MergeJSON(json.RawMessage(existing), data); err != nil {
				return err
			}
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data=excluded.data, updated_at=excluded.updated_at`,
		collection, id, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return tx.Commit()
}

// List returns all documents in a collection ordered by id.
func (s *DocumentStore) List(ctx context.Context, collection string) ([]storage.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []storage.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, storage.Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id,
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
