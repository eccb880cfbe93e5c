package domain

import (
	"slices"
	"time"
)

// XPPerLevel is the amount of XP separating two levels.
const XPPerLevel = 100

// DateLayout is the calendar-date format used for lastLoginDate.
const DateLayout = "2006-01-02"

// legacyDateLayout matches dates written by the earlier web client
// (e.g. "Mon Oct 19 2026").
const legacyDateLayout = "Mon Jan 02 2006"

// Level maps XP to a level: floor(xp/100) + 1.
func Level(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/XPPerLevel + 1
}

// XPForNextLevel returns the XP threshold of the level after the given one.
func XPForNextLevel(level int) int {
	return level * XPPerLevel
}

// Submission is the last code/output pair submitted for an exercise or project.
type Submission struct {
	Code        string    `json:"code"`
	Output      string    `json:"output"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// UserProgress is the gamification record kept per account.
type UserProgress struct {
	XP                 int                   `json:"xp"`
	Streak             int                   `json:"streak"`
	Level              int                   `json:"level"`
	CompletedExercises []string              `json:"completedExercises"`
	CompletedProjects  []string              `json:"completedProjects"`
	LastLoginDate      string                `json:"lastLoginDate"`
	SubmittedResponses map[string]Submission `json:"submittedResponses"`
}

// NewUserProgress returns the defaults for an account without a stored record.
func NewUserProgress(now time.Time) *UserProgress {
	return &UserProgress{
		XP:                 0,
		Streak:             1,
		Level:              1,
		CompletedExercises: []string{},
		CompletedProjects:  []string{},
		LastLoginDate:      now.Format(DateLayout),
		SubmittedResponses: map[string]Submission{},
	}
}

// ParseDate parses a stored lastLoginDate in either the current or the legacy layout.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range []string{DateLayout, legacyDateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

// RecordLogin applies the daily streak transition and refreshes the cached
// level. It reports whether the record changed in a way that must be saved.
//
// A gap of exactly one day extends the streak, a larger gap resets it to 1
// and a same-day login leaves it alone. An unreadable date counts as a gap.
func (p *UserProgress) RecordLogin(now time.Time) bool {
	changed := false
	last, ok := ParseDate(p.LastLoginDate)
	days := 2
	if ok {
		days = DaysBetween(last, now)
	}

	switch {
	case days == 1:
		p.Streak++
		changed = true
	case days > 1:
		p.Streak = 1
		changed = true
	}

	if p.Streak < 1 {
		p.Streak = 1
	}
	p.LastLoginDate = now.Format(DateLayout)
	p.Level = Level(p.XP)

	if p.SubmittedResponses == nil {
		p.SubmittedResponses = map[string]Submission{}
		changed = true
	}
	if p.CompletedExercises == nil {
		p.CompletedExercises = []string{}
	}
	if p.CompletedProjects == nil {
		p.CompletedProjects = []string{}
	}
	return changed
}

// AddXP adds a positive amount of XP and reports whether the level increased.
func (p *UserProgress) AddXP(amount int) bool {
	if amount <= 0 {
		return false
	}
	before := Level(p.XP)
	p.XP += amount
	p.Level = Level(p.XP)
	return p.Level > before
}

// HasCompletedExercise reports whether the exercise id was already awarded.
func (p *UserProgress) HasCompletedExercise(id string) bool {
	return slices.Contains(p.CompletedExercises, id)
}

// HasCompletedProject reports whether the project id was already awarded.
func (p *UserProgress) HasCompletedProject(id string) bool {
	return slices.Contains(p.CompletedProjects, id)
}

// SubmitExercise stores the submission and awards XP on the first completion
// of the id only. The stored submission is overwritten on every call.
func (p *UserProgress) SubmitExercise(id string, reward int, sub Submission) (awarded, leveledUp bool) {
	p.RecordSubmission(id, sub)

	if p.HasCompletedExercise(id) {
		return false, false
	}
	p.CompletedExercises = append(p.CompletedExercises, id)
	return true, p.AddXP(reward)
}

// RecordSubmission stores a submission without touching completion state.
func (p *UserProgress) RecordSubmission(id string, sub Submission) {
	if p.SubmittedResponses == nil {
		p.SubmittedResponses = map[string]Submission{}
	}
	p.SubmittedResponses[id] = sub
}

// CompleteProject marks a project complete and awards its XP once.
func (p *UserProgress) CompleteProject(id string, reward int) (awarded, leveledUp bool) {
	if p.HasCompletedProject(id) {
		return false, false
	}
	p.CompletedProjects = append(p.CompletedProjects, id)
	return true, p.AddXP(reward)
}

// LastSubmission returns the stored submission for an id, if any.
func (p *UserProgress) LastSubmission(id string) (Submission, bool) {
	sub, ok := p.SubmittedResponses[id]
	return sub, ok
}

// Clone returns a deep copy of the record.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	c.CompletedExercises = slices.Clone(p.CompletedExercises)
	c.CompletedProjects = slices.Clone(p.CompletedProjects)
	if p.SubmittedResponses != nil {
		c.SubmittedResponses = make(map[string]Submission, len(p.SubmittedResponses))
		for k, v := range p.SubmittedResponses {
			c.SubmittedResponses[k] = v
		}
	}
	return &c
}

// ProgressToNextLevel returns the percentage of the next-level threshold reached.
func (p *UserProgress) ProgressToNextLevel() float64 {
	next := XPForNextLevel(Level(p.XP))
	return float64(p.XP) / float64(next) * 100
}
