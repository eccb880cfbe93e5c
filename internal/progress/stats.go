package progress

import (
	"math"

	"github.com/felixgeelhaar/pylearner/internal/domain"
)

// Achievement badge names.
const (
	AchievementFirstSteps    = "First Steps"
	AchievementLevelUp       = "Level Up!"
	AchievementProjectMaster = "Project Master"
	AchievementOnFire        = "On Fire!"
	AchievementXPHunter      = "XP Hunter"
	AchievementHalfWay       = "Half Way!"
)

// Stats is the profile summary derived from a progress record.
type Stats struct {
	XP                   int      `json:"xp"`
	Level                int      `json:"level"`
	Streak               int      `json:"streak"`
	NextLevelXP          int      `json:"next_level_xp"`
	ProgressToNextLevel  float64  `json:"progress_to_next_level"`
	CompletedExercises   int      `json:"completed_exercises"`
	TotalExercises       int      `json:"total_exercises"`
	CompletedProjects    int      `json:"completed_projects"`
	TotalProjects        int      `json:"total_projects"`
	CompletionPercentage int      `json:"completion_percentage"`
	LastExercise         string   `json:"last_exercise,omitempty"`
	LastProject          string   `json:"last_project,omitempty"`
	LastLoginDate        string   `json:"last_login_date"`
	Achievements         []string `json:"achievements"`
}

// Stats summarizes a record against the catalog totals.
func (s *Service) Stats(p *domain.UserProgress) Stats {
	level := domain.Level(p.XP)
	st := Stats{
		XP:                  p.XP,
		Level:               level,
		Streak:              p.Streak,
		NextLevelXP:         domain.XPForNextLevel(level),
		ProgressToNextLevel: p.ProgressToNextLevel(),
		CompletedExercises:  len(p.CompletedExercises),
		TotalExercises:      s.catalog.ExerciseCount(),
		CompletedProjects:   len(p.CompletedProjects),
		TotalProjects:       s.catalog.ProjectCount(),
		LastLoginDate:       p.LastLoginDate,
	}
	if n := len(p.CompletedExercises); n > 0 {
		st.LastExercise = p.CompletedExercises[n-1]
	}
	if n := len(p.CompletedProjects); n > 0 {
		st.LastProject = p.CompletedProjects[n-1]
	}
	st.CompletionPercentage = CompletionPercentage(
		st.CompletedExercises+st.CompletedProjects,
		st.TotalExercises+st.TotalProjects,
	)
	st.Achievements = achievements(st)
	return st
}

// CompletionPercentage rounds done/total to a whole percentage.
func CompletionPercentage(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func achievements(st Stats) []string {
	out := []string{}
	if st.CompletedExercises > 0 {
		out = append(out, AchievementFirstSteps)
	}
	if st.Level >= 2 {
		out = append(out, AchievementLevelUp)
	}
	if st.CompletedProjects > 0 {
		out = append(out, AchievementProjectMaster)
	}
	if st.Streak >= 7 {
		out = append(out, AchievementOnFire)
	}
	if st.XP >= 500 {
		out = append(out, AchievementXPHunter)
	}
	if st.CompletionPercentage >= 50 {
		out = append(out, AchievementHalfWay)
	}
	return out
}
