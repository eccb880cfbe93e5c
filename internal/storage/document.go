// Package storage defines the document store the backend persists users and
// progress through, plus helpers shared by its implementations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrInvalidID = errors.New("invalid document id")
	ErrNotObject = errors.New("document is not a JSON object")
)

// Document is one stored record.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// DocumentStore is a byte-level collection/id keyed JSON document store.
type DocumentStore interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	// Set writes a document. With merge, top-level fields of data replace
	// those of the stored document and other fields are kept.
	Set(ctx context.Context, collection, id string, data json.RawMessage, merge bool) error
	List(ctx context.Context, collection string) ([]Document, error)
	// Delete is a no-op for absent documents.
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// ValidateKey rejects collection names and ids that could escape a
// directory or collide with storage internals.
func ValidateKey(collection, id string) error {
	for _, k := range []string{collection, id} {
		if k == "" || k == "." || k == ".." || strings.ContainsAny(k, `/\`) || strings.ContainsRune(k, 0) {
			return fmt.Errorf("%w: %q", ErrInvalidID, k)
		}
	}
	return nil
}

// MergeJSON performs a shallow merge of update into existing. Both must be
// JSON objects; a nil existing document is treated as empty.
func MergeJSON(existing, update json.RawMessage) (json.RawMessage, error) {
	var upd map[string]json.RawMessage
	if err := json.Unmarshal(update, &upd); err != nil || upd == nil {
		return nil, ErrNotObject
	}
	if len(existing) == 0 {
		return update, nil
	}

	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil || base == nil {
		return nil, ErrNotObject
	}
	for k, v := range upd {
		base[k] = v
	}
	return json.Marshal(base)
}

// CheckObject verifies data is a JSON object.
func CheckObject(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return ErrNotObject
	}
	return nil
}
