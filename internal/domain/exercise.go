package domain

// Difficulty represents exercise difficulty level
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "Beginner"
	DifficultyIntermediate Difficulty = "Intermediate"
	DifficultyAdvanced     Difficulty = "Advanced"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Exercise is a single graded coding task tied to a topic.
type Exercise struct {
	ID           string     `json:"id"`
	TopicID      string     `json:"topic_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Difficulty   Difficulty `json:"difficulty"`
	XPReward     int        `json:"xp_reward"`
	StartingCode string     `json:"starting_code"`
	Solution     string     `json:"solution,omitempty"` // reference only, never graded
	Hint         string     `json:"hint"`
}

// Topic groups the exercises of one lesson.
type Topic struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Order       int         `json:"order"`
	Exercises   []*Exercise `json:"exercises,omitempty"`
}

// Project is a larger, multi-requirement task without a canonical solution.
type Project struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description"`
	Difficulty   Difficulty `json:"difficulty"`
	XPReward     int        `json:"xp_reward"`
	Requirements []string   `json:"requirements"`
	Hints        []string   `json:"hints"`
	StartingCode string     `json:"starting_code"`
}

// ProjectEditorPrefix prefixes project ids in editor and submission ids.
const ProjectEditorPrefix = "project-"

// FreeEditorID is the scratch editor that has no exercise behind it.
const FreeEditorID = "free-editor"

// EditorID returns the id used for the project's editor and submissions.
func (p *Project) EditorID() string {
	return ProjectEditorPrefix + p.ID
}
