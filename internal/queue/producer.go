package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Publisher sends a JSON message to a named queue. *Connection is one.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer writes jobs to the run queue and results to the result queue.
type Producer struct {
	pub Publisher
}

func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// CreateRunJob builds a job with a fresh id. Timeouts are carried in whole
// seconds.
func CreateRunJob(sessionID, code string, inputs []string, timeout time.Duration) *RunJob {
	return &RunJob{
		ID:             uuid.New(),
		SessionID:      sessionID,
		Code:           code,
		Inputs:         inputs,
		TimeoutSeconds: int(timeout / time.Second),
		CreatedAt:      time.Now(),
	}
}

// PublishRunJob fills in a missing id or creation time and queues the job.
func (p *Producer) PublishRunJob(ctx context.Context, job *RunJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if err := p.pub.PublishJSON(ctx, RunQueueName, job); err != nil {
		return fmt.Errorf("queue run job: %w", err)
	}
	slog.Debug("run job queued", "job", job.ID, "session", job.SessionID, "inputs", len(job.Inputs))
	return nil
}

// PublishResult queues a worker's result.
func (p *Producer) PublishResult(ctx context.Context, res *RunResult) error {
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	if err := p.pub.PublishJSON(ctx, ResultQueueName, res); err != nil {
		return fmt.Errorf("queue run result: %w", err)
	}
	return nil
}
