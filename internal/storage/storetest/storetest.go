// Package storetest holds behaviour tests shared by every DocumentStore.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/felixgeelhaar/pylearner/internal/storage"
)

// Run exercises a DocumentStore implementation. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.DocumentStore) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "users", "nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		doc := json.RawMessage(`{"email":"a@b.c","displayName":"A"}`)
		if err := s.Set(ctx, "users", "u1", doc, false); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := s.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		assertJSON(t, got, `{"email":"a@b.c","displayName":"A"}`)
	})

	t.Run("overwrite without merge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "users", "u1", json.RawMessage(`{"a":1,"b":2}`), false)
		if err := s.Set(ctx, "users", "u1", json.RawMessage(`{"a":3}`), false); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, _ := s.Get(ctx, "users", "u1")
		assertJSON(t, got, `{"a":3}`)
	})

	t.Run("merge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "users", "u1", json.RawMessage(`{"a":1,"b":2}`), false)
		if err := s.Set(ctx, "users", "u1", json.RawMessage(`{"b":5,"c":6}`), true); err != nil {
			t.Fatalf("Set(merge) error = %v", err)
		}
		got, _ := s.Get(ctx, "users", "u1")
		assertJSON(t, got, `{"a":1,"b":5,"c":6}`)

		if err := s.Set(ctx, "users", "u2", json.RawMessage(`{"x":1}`), true); err != nil {
			t.Fatalf("Set(merge, new) error = %v", err)
		}
		got, _ = s.Get(ctx, "users", "u2")
		assertJSON(t, got, `{"x":1}`)
	})

	t.Run("rejects non-object", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(context.Background(), "users", "u1", json.RawMessage(`[1]`), false)
		if !errors.Is(err, storage.ErrNotObject) {
			t.Errorf("Set() error = %v, want ErrNotObject", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		docs, err := s.List(ctx, "userProgress")
		if err != nil {
			t.Fatalf("List(empty) error = %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("List(empty) = %d docs", len(docs))
		}

		_ = s.Set(ctx, "userProgress", "u1", json.RawMessage(`{"xp":10}`), false)
		_ = s.Set(ctx, "userProgress", "u2", json.RawMessage(`{"xp":20}`), false)
		_ = s.Set(ctx, "users", "u3", json.RawMessage(`{"xp":30}`), false)

		docs, err = s.List(ctx, "userProgress")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		sort.Strings(ids)
		if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
			t.Errorf("List() ids = %v, want [u1 u2]", ids)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_ = s.Set(ctx, "users", "u1", json.RawMessage(`{"a":1}`), false)
		if err := s.Delete(ctx, "users", "u1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := s.Get(ctx, "users", "u1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() after Delete error = %v", err)
		}
		if err := s.Delete(ctx, "users", "u1"); err != nil {
			t.Errorf("Delete(missing) error = %v, want nil", err)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		s := newStore(t)
		err := s.Set(context.Background(), "users", "../x", json.RawMessage(`{}`), false)
		if !errors.Is(err, storage.ErrInvalidID) {
			t.Errorf("Set() error = %v, want ErrInvalidID", err)
		}
	})
}

func assertJSON(t *testing.T, got json.RawMessage, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("document = %s, want %s", gb, wb)
	}
}
