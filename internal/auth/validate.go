package auth

import (
	"net/mail"
	"strings"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

// SignUpRequest holds the sign-up form.
type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	DisplayName     string `json:"displayName"`
}

// Validate checks the form in the order the sign-up screen reports problems.
func (r SignUpRequest) Validate() error {
	if r.Password != r.ConfirmPassword {
		return &ValidationError{Field: "confirmPassword", Message: MsgPasswordMismatch}
	}
	if len(r.Password) < MinPasswordLength {
		return &ValidationError{Field: "password", Message: MsgPasswordTooShort}
	}
	if strings.TrimSpace(r.DisplayName) == "" {
		return &ValidationError{Field: "displayName", Message: MsgNameRequired}
	}
	return ValidateEmail(r.Email)
}

// ValidateEmail accepts a bare address with a dotted domain.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return &ValidationError{Field: "email", Message: MsgInvalidEmail}
	}
	_, domainPart, _ := strings.Cut(email, "@")
	if !strings.Contains(domainPart, ".") || strings.HasSuffix(domainPart, ".") {
		return &ValidationError{Field: "email", Message: MsgInvalidEmail}
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
