// Package catalog loads the tutorial's topics, exercises and mini-projects.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/felixgeelhaar/pylearner/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed data
var embedded embed.FS

// Embedded returns the catalog shipped with the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

var (
	ErrDuplicateID       = errors.New("duplicate catalog id")
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

// TopicFile represents the YAML structure for a topic.
type TopicFile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Order       int    `yaml:"order"`
	Exercises   []struct {
		ID           string `yaml:"id"`
		Title        string `yaml:"title"`
		Description  string `yaml:"description"`
		Difficulty   string `yaml:"difficulty"`
		XPReward     int    `yaml:"xp_reward"`
		StartingCode string `yaml:"starting_code"`
		Solution     string `yaml:"solution"`
		Hint         string `yaml:"hint"`
	} `yaml:"exercises"`
}

// ProjectsFile represents the YAML structure for the project list.
type ProjectsFile struct {
	Projects []struct {
		ID           string   `yaml:"id"`
		Title        string   `yaml:"title"`
		Summary      string   `yaml:"summary"`
		Description  string   `yaml:"description"`
		Difficulty   string   `yaml:"difficulty"`
		XPReward     int      `yaml:"xp_reward"`
		Requirements []string `yaml:"requirements"`
		Hints        []string `yaml:"hints"`
		StartingCode string   `yaml:"starting_code"`
	} `yaml:"projects"`
}

// Loader reads catalog YAML from a filesystem laid out as
// topics/*.yaml plus projects.yaml.
type Loader struct {
	fsys fs.FS
}

// NewLoader creates a loader over fsys. Use Embedded() for the built-in
// catalog or os.DirFS for a local override.
func NewLoader(fsys fs.FS) *Loader {
	return &Loader{fsys: fsys}
}

// LoadTopics loads all topics ordered by their order field.
func (l *Loader) LoadTopics() ([]*domain.Topic, error) {
	files, err := fs.Glob(l.fsys, "topics/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list topic files: %w", err)
	}

	topics := make([]*domain.Topic, 0, len(files))
	for _, name := range files {
		topic, err := l.LoadTopic(name)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}

	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Order < topics[j].Order
	})
	return topics, nil
}

// LoadTopic loads one topic file.
func (l *Loader) LoadTopic(name string) (*domain.Topic, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read topic file: %w", err)
	}

	var tf TopicFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse topic file %s: %w", path.Base(name), err)
	}
	if tf.ID == "" {
		return nil, fmt.Errorf("topic file %s: missing id", path.Base(name))
	}

	topic := &domain.Topic{
		ID:          tf.ID,
		Name:        tf.Name,
		Description: tf.Description,
		Order:       tf.Order,
		Exercises:   make([]*domain.Exercise, 0, len(tf.Exercises)),
	}
	for _, ef := range tf.Exercises {
		d := domain.Difficulty(ef.Difficulty)
		if !d.Valid() {
			return nil, fmt.Errorf("exercise %s: %w: %q", ef.ID, ErrInvalidDifficulty, ef.Difficulty)
		}
		topic.Exercises = append(topic.Exercises, &domain.Exercise{
			ID:           ef.ID,
			TopicID:      tf.ID,
			Title:        ef.Title,
			Description:  ef.Description,
			Difficulty:   d,
			XPReward:     ef.XPReward,
			StartingCode: ef.StartingCode,
			Solution:     ef.Solution,
			Hint:         ef.Hint,
		})
	}
	return topic, nil
}

// LoadProjects loads projects.yaml. A missing file yields no projects.
func (l *Loader) LoadProjects() ([]*domain.Project, error) {
	data, err := fs.ReadFile(l.fsys, "projects.yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}

	var pf ProjectsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse projects file: %w", err)
	}

	projects := make([]*domain.Project, 0, len(pf.Projects))
	for _, p := range pf.Projects {
		d := domain.Difficulty(p.Difficulty)
		if !d.Valid() {
			return nil, fmt.Errorf("project %s: %w: %q", p.ID, ErrInvalidDifficulty, p.Difficulty)
		}
		projects = append(projects, &domain.Project{
			ID:           p.ID,
			Title:        p.Title,
			Summary:      p.Summary,
			Description:  p.Description,
			Difficulty:   d,
			XPReward:     p.XPReward,
			Requirements: p.Requirements,
			Hints:        p.Hints,
			StartingCode: p.StartingCode,
		})
	}
	return projects, nil
}
