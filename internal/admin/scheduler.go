package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs maintenance jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler in the local time zone.
func NewScheduler() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Add registers a job. An empty schedule disables it.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Schedule == "" {
		slog.Debug("job disabled", "job", job.Name)
		return nil
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		slog.Debug("job started", "job", job.Name)
		if err := job.Run(ctx); err != nil {
			slog.Error("job failed", "job", job.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name, job.Schedule, err)
	}
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", s.Len())
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// CleanupJob runs Cleanup.
func (s *Service) CleanupJob(schedule string) Job {
	return Job{
		Name:     "cleanup",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := s.Cleanup(ctx)
			return err
		},
	}
}
