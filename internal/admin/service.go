// Package admin implements the operator dashboard: aggregate statistics,
// cleanup of incomplete records and admin account management.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/backend"
	"github.com/felixgeelhaar/pylearner/internal/domain"
)

const (
	// ActiveWindowDays is how recent a login must be for a user to count as active.
	ActiveWindowDays = 7
	// TopUsers is the size of the XP leaderboard.
	TopUsers = 5
)

var ErrForbidden = domain.ErrForbidden

// RequireAdmin fails unless the stored role of u is admin.
func RequireAdmin(u *domain.User) error {
	if !u.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// UserRow is one user with their progress as shown on the dashboard.
type UserRow struct {
	User     domain.User         `json:"user"`
	Progress domain.UserProgress `json:"progress"`
	Active   bool                `json:"active"`
}

// Overview aggregates all valid users.
type Overview struct {
	TotalUsers     int       `json:"totalUsers"`
	ActiveUsers    int       `json:"activeUsers"`
	TotalXP        int       `json:"totalXp"`
	TotalExercises int       `json:"totalExercises"`
	TotalProjects  int       `json:"totalProjects"`
	TopUsers       []UserRow `json:"topUsers"`
	Users          []UserRow `json:"users"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// CleanupReport lists the documents removed by Cleanup.
type CleanupReport struct {
	InvalidUsers   []string `json:"invalidUsers"`
	OrphanProgress []string `json:"orphanProgress"`
}

// Removed returns the number of deleted user and progress pairs.
func (r *CleanupReport) Removed() int {
	return len(r.InvalidUsers) + len(r.OrphanProgress)
}

// Service runs admin operations against the backend.
type Service struct {
	backend backend.Repository
	now     func() time.Time
}

// NewService creates an admin service.
func NewService(b backend.Repository) *Service {
	return &Service{backend: b, now: time.Now}
}

// Overview loads every user and progress document and aggregates them.
// Users missing an email or display name are left out, as is progress
// without a matching user.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	users, invalid, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		slog.Warn("incomplete user records skipped", "count", len(invalid))
	}
	progress, err := s.progress(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ov := &Overview{GeneratedAt: now.UTC(), Users: make([]UserRow, 0, len(users))}
	for _, u := range users {
		row := UserRow{User: *u, Progress: emptyProgress()}
		if p, ok := progress[u.UID]; ok {
			row.Progress = *p
		}
		row.Active = activeSince(row.Progress.LastLoginDate, now)

		ov.TotalUsers++
		ov.TotalXP += row.Progress.XP
		ov.TotalExercises += len(row.Progress.CompletedExercises)
		ov.TotalProjects += len(row.Progress.CompletedProjects)
		if row.Active {
			ov.ActiveUsers++
		}
		ov.Users = append(ov.Users, row)
	}

	ranked := make([]UserRow, len(ov.Users))
	copy(ranked, ov.Users)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Progress.XP > ranked[j].Progress.XP
	})
	if len(ranked) > TopUsers {
		ranked = ranked[:TopUsers]
	}
	ov.TopUsers = ranked
	return ov, nil
}

// emptyProgress is shown for users that never opened the app.
func emptyProgress() domain.UserProgress {
	return domain.UserProgress{
		Level:              1,
		CompletedExercises: []string{},
		CompletedProjects:  []string{},
		SubmittedResponses: map[string]domain.Submission{},
	}
}

func activeSince(lastLogin string, now time.Time) bool {
	if lastLogin == "" {
		return false
	}
	t, ok := domain.ParseDate(lastLogin)
	if !ok {
		return false
	}
	return domain.DaysBetween(t, now) <= ActiveWindowDays
}

// Cleanup deletes user documents missing an email or display name together
// with their progress, and progress documents that have no user document.
// Individual delete failures are logged and skipped.
func (s *Service) Cleanup(ctx context.Context) (*CleanupReport, error) {
	users, invalid, err := s.users(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.backend.ListDocuments(ctx, domain.CollectionProgress)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	report := &CleanupReport{InvalidUsers: []string{}, OrphanProgress: []string{}}
	for _, uid := range invalid {
		if err := s.deletePair(ctx, uid); err != nil {
			slog.Error("failed to delete incomplete user", "user", uid, "error", err)
			continue
		}
		report.InvalidUsers = append(report.InvalidUsers, uid)
	}

	known := make(map[string]bool, len(users)+len(invalid))
	for _, u := range users {
		known[u.UID] = true
	}
	for _, uid := range invalid {
		known[uid] = true
	}
	for _, d := range docs {
		if known[d.ID] {
			continue
		}
		if err := s.backend.DeleteDocument(ctx, domain.CollectionProgress, d.ID); err != nil {
			slog.Error("failed to delete orphan progress", "user", d.ID, "error", err)
			continue
		}
		report.OrphanProgress = append(report.OrphanProgress, d.ID)
	}

	slog.Info("cleanup finished", "invalid_users", len(report.InvalidUsers), "orphan_progress", len(report.OrphanProgress))
	return report, nil
}

func (s *Service) deletePair(ctx context.Context, uid string) error {
	if err := s.backend.DeleteDocument(ctx, domain.CollectionUsers, uid); err != nil {
		return err
	}
	return s.backend.DeleteDocument(ctx, domain.CollectionProgress, uid)
}

// MigrateLegacyAdmins grants the admin role to accounts registered with the
// configured admin email. Access checks afterwards read the role only.
func (s *Service) MigrateLegacyAdmins(ctx context.Context, email string) (int, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return 0, fmt.Errorf("%w: admin email is empty", domain.ErrInvalidInput)
	}
	users, _, err := s.users(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, u := range users {
		if u.IsAdmin() || auth.NormalizeEmail(u.Email) != email {
			continue
		}
		if err := s.setRole(ctx, u.UID, domain.RoleAdmin); err != nil {
			return migrated, err
		}
		slog.Info("granted admin role", "user", u.UID)
		migrated++
	}
	return migrated, nil
}

// CreateAdmin registers a new account with the admin role. The sign-up
// session is revoked straight away.
func (s *Service) CreateAdmin(ctx context.Context, req auth.SignUpRequest) (*domain.User, error) {
	acct, err := s.backend.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.setRole(ctx, acct.User.UID, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.backend.SignOut(ctx, acct.Token); err != nil {
		slog.Warn("failed to revoke admin sign-up session", "user", acct.User.UID, "error", err)
	}

	u := *acct.User
	u.Role = domain.RoleAdmin
	slog.Info("admin account created", "user", u.UID)
	return &u, nil
}

func (s *Service) setRole(ctx context.Context, uid string, role domain.Role) error {
	if err := s.backend.SetDocument(ctx, domain.CollectionUsers, uid, map[string]any{"role": role}, true); err != nil {
		return fmt.Errorf("set role of %s: %w", uid, err)
	}
	return nil
}

// users returns the valid user documents and the ids of incomplete ones.
func (s *Service) users(ctx context.Context) ([]*domain.User, []string, error) {
	docs, err := s.backend.ListDocuments(ctx, domain.CollectionUsers)
	if err != nil {
		return nil, nil, fmt.Errorf("list users: %w", err)
	}
	var (
		valid   []*domain.User
		invalid []string
	)
	for _, d := range docs {
		var u domain.User
		if err := json.Unmarshal(d.Data, &u); err != nil || !u.Valid() {
			invalid = append(invalid, d.ID)
			continue
		}
		u.UID = d.ID
		u.Email = strings.TrimSpace(u.Email)
		valid = append(valid, &u)
	}
	return valid, invalid, nil
}

func (s *Service) progress(ctx context.Context) (map[string]*domain.UserProgress, error) {
	docs, err := s.backend.ListDocuments(ctx, domain.CollectionProgress)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make(map[string]*domain.UserProgress, len(docs))
	for _, d := range docs {
		var p domain.UserProgress
		if err := json.Unmarshal(d.Data, &p); err != nil {
			slog.Warn("unreadable progress record", "user", d.ID, "error", err)
			continue
		}
		out[d.ID] = &p
	}
	return out, nil
}
