package auth

import (
	"errors"

	"github.com/felixgeelhaar/pylearner/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = domain.ErrUserAlreadyExists
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionExpired     = domain.ErrAuthSessionExpired
	ErrSessionNotFound    = domain.ErrAuthSessionNotFound
	ErrSessionRevoked     = domain.ErrAuthSessionRevoked
	ErrMissingSecret      = errors.New("auth secret is not configured")
)

// Validation messages shown to the user as-is.
const (
	MsgPasswordMismatch = "Passwords do not match!"
	MsgPasswordTooShort = "Password must be at least 6 characters long!"
	MsgNameRequired     = "Please enter your name!"
	MsgInvalidEmail     = "Invalid email address"
)

// ValidationError is a user-facing input error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches domain.ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
