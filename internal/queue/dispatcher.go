package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoResult is returned when a worker does not answer before the deadline.
var ErrNoResult = errors.New("no result from worker")

// Subscriber delivers results for a job. *ResultConsumer satisfies it.
type Subscriber interface {
	Subscribe(jobID string, handler ResultHandler)
	Unsubscribe(jobID string)
}

// Dispatcher hands runs to remote workers and waits for the answer.
type Dispatcher struct {
	producer *Producer
	results  Subscriber
	wait     time.Duration
}

// NewDispatcher creates a dispatcher. wait bounds how long Dispatch blocks
// beyond the job's own timeout.
func NewDispatcher(pub Publisher, results Subscriber, wait time.Duration) *Dispatcher {
	if wait <= 0 {
		wait = 15 * time.Second
	}
	return &Dispatcher{producer: NewProducer(pub), results: results, wait: wait}
}

// Dispatch publishes job and blocks until its result arrives.
func (d *Dispatcher) Dispatch(ctx context.Context, job *RunJob) (*RunResult, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	id := job.ID.String()

	done := make(chan *RunResult, 1)
	d.results.Subscribe(id, func(r *RunResult) {
		select {
		case done <- r:
		default:
		}
	})
	defer d.results.Unsubscribe(id)

	if err := d.producer.PublishRunJob(ctx, job); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(job.TimeoutSeconds)*time.Second + d.wait)
	defer timer.Stop()

	select {
	case r := <-done:
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("job %s: %w", id, ErrNoResult)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
