// Package local stores documents as JSON files under a base directory, one
// directory per collection.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// Store provides thread-safe JSON file storage
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates a new local JSON store
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) path(collection, id string) string {
	return filepath.Join(s.basePath, collection, id+".json")
}

// Get reads a document.
func (s *Store) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	if err := storage.ValidateKey(collection, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(collection, id)
}

func (s *Store) read(collection, id string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.path(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Set writes a document, merging into the stored one when merge is set.
func (s *Store) Set(_ context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	if err := storage.CheckObject(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if merge {
		existing, err := s.read(collection, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if data, err = storage.MergeJSON(existing, data); err != nil {
			return err
		}
	}

	dir := filepath.Join(s.basePath, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial document.
	tmp, err := os.CreateTemp(dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(collection, id)); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// List returns all documents in a collection.
func (s *Store) List(_ context.Context, collection string) ([]storage.Document, error) {
	if err := storage.ValidateKey(collection, "_"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.basePath, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return []storage.Document{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	docs := make([]storage.Document, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		data, err := s.read(collection, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, storage.Document{ID: id, Data: data})
	}
	return docs, nil
}

// Delete removes a document file.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(collection, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ storage.DocumentStore = (*Store)(nil)
