// Package sandbox keeps one throwaway Python container per editor so the
// docker run strategy can execute learner code without touching the host.
package sandbox

import (
	"errors"
	"time"
)

// State is where a container is in its life.
type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateBusy     State = "busy"
)

// Sandbox is the record of a container owned by one editor. Records are
// removed when the container is, so every stored record is live.
type Sandbox struct {
	ID          string     `json:"id"`
	EditorID    string     `json:"editor_id"`
	ContainerID string     `json:"container_id"`
	Image       string     `json:"image"`
	State       State      `json:"state"`
	Runs        int        `json:"runs"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the sandbox outlived its idle window at now.
func (s *Sandbox) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ExecResult is what one program run produced.
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Limits bound what a learner's container may use.
type Limits struct {
	Image     string
	MemoryMB  int
	CPUs      float64
	PIDs      int64
	NoNetwork bool
	// IdleTTL is how long a container survives without runs.
	IdleTTL time.Duration
	// MaxLive caps the containers alive at once across all editors.
	MaxLive int
}

// DefaultLimits suit short beginner programs.
func DefaultLimits() Limits {
	return Limits{
		Image:     "python:3.12-alpine",
		MemoryMB:  128,
		CPUs:      0.5,
		PIDs:      64,
		NoNetwork: true,
		IdleTTL:   30 * time.Minute,
		MaxLive:   10,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.Image == "" {
		l.Image = d.Image
	}
	if l.MemoryMB <= 0 {
		l.MemoryMB = d.MemoryMB
	}
	if l.CPUs <= 0 {
		l.CPUs = d.CPUs
	}
	if l.PIDs <= 0 {
		l.PIDs = d.PIDs
	}
	if l.IdleTTL <= 0 {
		l.IdleTTL = d.IdleTTL
	}
	if l.MaxLive <= 0 {
		l.MaxLive = d.MaxLive
	}
	return l
}

var (
	ErrNotFound    = errors.New("sandbox not found")
	ErrAtCapacity  = errors.New("too many sandboxes running")
	ErrUnavailable = errors.New("docker is not available")
)
