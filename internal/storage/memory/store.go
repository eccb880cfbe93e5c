// Package memory keeps documents in process memory. It backs tests and
// ephemeral daemons started with the memory storage driver.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// Store is an in-memory storage.DocumentStore.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]json.RawMessage
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[string]map[string]json.RawMessage)}
}

func (s *Store) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	if err := storage.ValidateKey(collection, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[collection][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append(json.RawMessage(nil), data...), nil
}

func (s *Store) Set(_ context.Context, collection, id string, data json.RawMessage, merge bool) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	if err := storage.CheckObject(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]json.RawMessage)
		s.docs[collection] = coll
	}
	if merge {
		merged, err := storage.MergeJSON(coll[id], data)
		if err != nil {
			return err
		}
		data = merged
	}
	coll[id] = append(json.RawMessage(nil), data...)
	return nil
}

func (s *Store) List(_ context.Context, collection string) ([]storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]storage.Document, 0, len(s.docs[collection]))
	for id, data := range s.docs[collection] {
		docs = append(docs, storage.Document{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
	return nil
}

func (s *Store) Close() error { return nil }

var _ storage.DocumentStore = (*Store)(nil)
