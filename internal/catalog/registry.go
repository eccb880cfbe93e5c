package catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/pylearner/internal/domain"
)

// DefaultProjectReward is awarded for projects the catalog does not know.
const DefaultProjectReward = 50

// Registry provides access to topics, exercises and projects.
type Registry struct {
	loader *Loader

	mu        sync.RWMutex
	topics    []*domain.Topic
	topicByID map[string]*domain.Topic
	exercises map[string]*domain.Exercise
	projects  []*domain.Project
	projectBy map[string]*domain.Project
}

// NewRegistry creates a registry backed by loader. Call Load before use.
func NewRegistry(loader *Loader) *Registry {
	return &Registry{
		loader:    loader,
		topicByID: make(map[string]*domain.Topic),
		exercises: make(map[string]*domain.Exercise),
		projectBy: make(map[string]*domain.Project),
	}
}

// Default loads the embedded catalog.
func Default() (*Registry, error) {
	r := NewRegistry(NewLoader(Embedded()))
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the whole catalog into memory, replacing what was loaded before.
func (r *Registry) Load() error {
	topics, err := r.loader.LoadTopics()
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	projects, err := r.loader.LoadProjects()
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}

	topicByID := make(map[string]*domain.Topic, len(topics))
	exercises := make(map[string]*domain.Exercise)
	for _, t := range topics {
		if _, dup := topicByID[t.ID]; dup {
			return fmt.Errorf("topic %s: %w", t.ID, ErrDuplicateID)
		}
		topicByID[t.ID] = t
		for _, ex := range t.Exercises {
			if _, dup := exercises[ex.ID]; dup {
				return fmt.Errorf("exercise %s: %w", ex.ID, ErrDuplicateID)
			}
			exercises[ex.ID] = ex
		}
	}
	projectBy := make(map[string]*domain.Project, len(projects))
	for _, p := range projects {
		if _, dup := projectBy[p.ID]; dup {
			return fmt.Errorf("project %s: %w", p.ID, ErrDuplicateID)
		}
		projectBy[p.ID] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = topics
	r.topicByID = topicByID
	r.exercises = exercises
	r.projects = projects
	r.projectBy = projectBy
	return nil
}

// Topics returns all topics in lesson order.
func (r *Registry) Topics() []*domain.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*domain.Topic(nil), r.topics...)
}

// Topic returns a topic by ID.
func (r *Registry) Topic(id string) (*domain.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topicByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTopicNotFound, id)
	}
	return t, nil
}

// Exercise returns an exercise by ID.
func (r *Registry) Exercise(id string) (*domain.Exercise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exercises[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrExerciseNotFound, id)
	}
	return ex, nil
}

// ExercisesForTopic returns a topic's exercises in order.
func (r *Registry) ExercisesForTopic(topicID string) ([]*domain.Exercise, error) {
	t, err := r.Topic(topicID)
	if err != nil {
		return nil, err
	}
	return append([]*domain.Exercise(nil), t.Exercises...), nil
}

// NextExercise returns the exercise after id within its topic, or nil when
// id is the last one.
func (r *Registry) NextExercise(id string) (*domain.Exercise, error) {
	ex, err := r.Exercise(id)
	if err != nil {
		return nil, err
	}
	t, err := r.Topic(ex.TopicID)
	if err != nil {
		return nil, err
	}
	for i, e := range t.Exercises {
		if e.ID == id && i+1 < len(t.Exercises) {
			return t.Exercises[i+1], nil
		}
	}
	return nil, nil
}

// Projects returns all mini-projects.
func (r *Registry) Projects() []*domain.Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*domain.Project(nil), r.projects...)
}

// Project returns a project by ID. The editor form "project-<id>" is
// accepted too.
func (r *Registry) Project(id string) (*domain.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projectBy[strings.TrimPrefix(id, domain.ProjectEditorPrefix)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, id)
	}
	return p, nil
}

// ProjectReward returns the XP for completing a project, or
// DefaultProjectReward when the project is unknown.
func (r *Registry) ProjectReward(id string) int {
	p, err := r.Project(id)
	if err != nil || p.XPReward <= 0 {
		return DefaultProjectReward
	}
	return p.XPReward
}

// ExerciseCount returns the number of exercises across all topics.
func (r *Registry) ExerciseCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.exercises)
}

// ProjectCount returns the number of projects.
func (r *Registry) ProjectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// TotalItems is the denominator of the completion percentage.
func (r *Registry) TotalItems() int {
	return r.ExerciseCount() + r.ProjectCount()
}
