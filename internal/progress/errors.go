package progress

import (
	"errors"
	"fmt"
)

// User-facing notices for backend failures.
const (
	MsgLoadFailed = "Failed to load your progress. Please try again."
	MsgSaveFailed = "Failed to save progress. Please check your connection."
)

var ErrInvalidAmount = errors.New("xp amount must be positive")

// SaveError reports that progress could not be persisted. The in-memory
// record the caller holds is already updated and stays that way.
type SaveError struct {
	UID string
	Err error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save progress for %s: %v", e.UID, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Notice returns the message shown to the user.
func (e *SaveError) Notice() string { return MsgSaveFailed }

// IsSaveError reports whether err is a SaveError.
func IsSaveError(err error) bool {
	var se *SaveError
	return errors.As(err, &se)
}
