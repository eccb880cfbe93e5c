package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the stored authorization role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Backend collection names.
const (
	CollectionUsers    = "users"
	CollectionProgress = "userProgress"
)

// User is the profile document stored in the users collection.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	Role        Role      `json:"role,omitempty"`
}

// NewUser creates a profile with a fresh uid and the default role.
func NewUser(email, displayName string) *User {
	return &User{
		UID:         uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
		Role:        RoleUser,
	}
}

// IsAdmin reports whether the stored role grants admin access.
// The email address plays no part here.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// EffectiveRole returns the stored role, defaulting to RoleUser.
func (u *User) EffectiveRole() Role {
	if u.Role == "" {
		return RoleUser
	}
	return u.Role
}

// Valid reports whether the record has the required email and display name.
func (u *User) Valid() bool {
	return strings.TrimSpace(u.Email) != "" && strings.TrimSpace(u.DisplayName) != ""
}

// DisplayNameFromEmail derives a display name from the local part of an email.
func DisplayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// Initials returns up to two upper-case initials of a display name.
func Initials(name string) string {
	var out []rune
	for _, part := range strings.Fields(name) {
		out = append(out, []rune(strings.ToUpper(part))[0])
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

// Session represents an authenticated session
type Session struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired checks if the session has expired or was revoked
func (s *Session) IsExpired() bool {
	return s.RevokedAt != nil || time.Now().After(s.ExpiresAt)
}

// Revoke marks the session as revoked
func (s *Session) Revoke() {
	now := time.Now()
	s.RevokedAt = &now
}
