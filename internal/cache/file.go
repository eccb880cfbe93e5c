package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File is a KV persisted as a single JSON object. The whole map is
// rewritten on every change through a temp file and rename.
type File struct {
	path   string
	mu     sync.Mutex
	values map[string]string
}

// OpenFile loads the cache at path, starting empty if it does not exist.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.values); err != nil {
			return nil, fmt.Errorf("decode cache %s: %w", path, err)
		}
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.values[key]; ok && cur == value {
		return nil
	}
	f.values[key] = value
	return f.flush()
}

func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.flush()
}

func (f *File) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// flush must be called with mu held.
func (f *File) flush() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cache-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

var (
	_ KV = (*Memory)(nil)
	_ KV = (*File)(nil)
)
