package domain

import "errors"

// Sentinel errors shared across services. Callers match them with errors.Is
// and the HTTP layer maps them to status codes.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("email already registered")

	ErrAuthSessionNotFound = errors.New("auth session not found")
	ErrAuthSessionExpired  = errors.New("auth session expired")
	ErrAuthSessionRevoked  = errors.New("auth session revoked")

	ErrExerciseNotFound = errors.New("exercise not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrTopicNotFound    = errors.New("topic not found")

	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
