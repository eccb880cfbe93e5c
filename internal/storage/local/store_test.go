package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/felixgeelhaar/pylearner/internal/storage"
	"github.com/felixgeelhaar/pylearner/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.DocumentStore {
		s, err := NewStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewStore() error = %v", err)
		}
		return s
	})
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	newDir := filepath.Join(t.TempDir(), "subdir", "nested")

	if _, err := NewStore(newDir); err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	info, err := os.Stat(newDir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(dir)

	if err := s.Set(context.Background(), "users", "u1", json.RawMessage(`{"a":1}`), false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "users", "u1.json")); err != nil {
		t.Errorf("document file missing: %v", err)
	}

	// Stray files are not documents.
	os.WriteFile(filepath.Join(dir, "users", "notes.txt"), []byte("x"), 0644)
	docs, err := s.List(context.Background(), "users")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("List() = %d docs, want 1", len(docs))
	}
}

func TestStore_ConcurrentMerge(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			_ = s.Set(ctx, "users", "u1", json.RawMessage(`{"`+key+`":1}`), true)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var m map[string]int
	if err := json.Unmarshal(got, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != 20 {
		t.Errorf("merged %d fields, want 20", len(m))
	}
}
