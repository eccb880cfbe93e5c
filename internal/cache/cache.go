// Package cache is the operator-local key/value cache of editor buffers and
// outputs. Values are last-write-wins strings.
package cache

import (
	"strings"
)

// Key prefixes.
const (
	CodePrefix   = "exercise_code_"
	OutputPrefix = "exercise_output_"
)

// KV is a string key/value store.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
	Keys() ([]string, error)
}

// CodeKey returns the key of a user's editor buffer.
func CodeKey(uid, exerciseID string) string {
	return CodePrefix + uid + "_" + exerciseID
}

// OutputKey returns the key of a user's last output.
func OutputKey(uid, exerciseID string) string {
	return OutputPrefix + uid + "_" + exerciseID
}

// Editor reads and writes editor entries through a KV.
type Editor struct {
	kv KV
}

// NewEditor wraps kv.
func NewEditor(kv KV) *Editor {
	return &Editor{kv: kv}
}

// Code returns the cached buffer, if any.
func (e *Editor) Code(uid, exerciseID string) (string, bool, error) {
	return e.kv.Get(CodeKey(uid, exerciseID))
}

// SaveCode caches the editor buffer.
func (e *Editor) SaveCode(uid, exerciseID, code string) error {
	return e.kv.Set(CodeKey(uid, exerciseID), code)
}

// Output returns the cached output, if any.
func (e *Editor) Output(uid, exerciseID string) (string, bool, error) {
	return e.kv.Get(OutputKey(uid, exerciseID))
}

// SaveOutput caches the last output.
func (e *Editor) SaveOutput(uid, exerciseID, output string) error {
	return e.kv.Set(OutputKey(uid, exerciseID), output)
}

// Reset drops both entries of one exercise.
func (e *Editor) Reset(uid, exerciseID string) error {
	return e.kv.Delete(CodeKey(uid, exerciseID), OutputKey(uid, exerciseID))
}

// ClearUser removes every entry of the user. Used on sign-out.
func (e *Editor) ClearUser(uid string) (int, error) {
	return e.clear(func(key string) bool {
		return strings.HasPrefix(key, CodePrefix+uid+"_") || strings.HasPrefix(key, OutputPrefix+uid+"_")
	})
}

// ClearOtherUsers removes entries that do not mention uid. Used on sign-in so
// a shared machine does not leak another account's work.
func (e *Editor) ClearOtherUsers(uid string) (int, error) {
	return e.clear(func(key string) bool {
		return (strings.HasPrefix(key, CodePrefix) || strings.HasPrefix(key, OutputPrefix)) &&
			!strings.Contains(key, uid)
	})
}

func (e *Editor) clear(match func(string) bool) (int, error) {
	keys, err := e.kv.Keys()
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, k := range keys {
		if match(k) {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	return len(doomed), e.kv.Delete(doomed...)
}
