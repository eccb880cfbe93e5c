package sandbox

import (
	"sync"
)

// Store remembers which containers exist. A persistent store lets a
// restarted daemon find and remove containers it left behind.
type Store interface {
	Put(sb *Sandbox) error
	ForEditor(editorID string) (*Sandbox, error)
	Remove(id string) error
	All() ([]*Sandbox, error)
}

// MemoryStore keeps sandbox records in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Sandbox
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Sandbox)}
}

func (s *MemoryStore) Put(sb *Sandbox) error {
	s.mu.Lock()
	s.byID[sb.ID] = *sb
	s.mu.Unlock()
	return nil
}

// ForEditor returns the newest record for the editor.
func (s *MemoryStore) ForEditor(editorID string) (*Sandbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Sandbox
	for _, sb := range s.byID {
		if sb.EditorID != editorID {
			continue
		}
		if found == nil || sb.CreatedAt.After(found.CreatedAt) {
			c := sb
			found = &c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) All() ([]*Sandbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Sandbox, 0, len(s.byID))
	for _, sb := range s.byID {
		c := sb
		out = append(out, &c)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
