package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JobHandler runs one job.
type JobHandler func(ctx context.Context, job *RunJob) (*RunResult, error)

// ConsumerConfig sizes the worker pool.
type ConsumerConfig struct {
	Workers  int
	Prefetch int
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{Workers: 3, Prefetch: 1}
}

// Consumer takes jobs off the run queue, runs them and publishes results.
// Deliveries are acked after the result is published.
type Consumer struct {
	conn    *Connection
	handler JobHandler
	results *Producer
	cfg     ConsumerConfig

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	return &Consumer{conn: conn, handler: handler, results: NewProducer(conn), cfg: cfg}
}

// Start subscribes to the run queue and starts the workers.
func (c *Consumer) Start(ctx context.Context) error {
	ch := c.conn.Channel()
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	deliveries, err := ch.Consume(RunQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", RunQueueName, err)
	}

	ctx, c.stop = context.WithCancel(ctx)
	for i := range c.cfg.Workers {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.work(ctx, i, deliveries)
		}()
	}
	slog.Info("run worker started", "workers", c.cfg.Workers, "prefetch", c.cfg.Prefetch)
	return nil
}

func (c *Consumer) work(ctx context.Context, worker int, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				slog.Warn("run queue delivery channel closed", "worker", worker)
				return
			}
			c.handle(ctx, worker, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, d amqp.Delivery) {
	var job RunJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		slog.Error("dropping malformed job", "worker", worker, "error", err)
		_ = d.Reject(false)
		return
	}

	res := c.process(ctx, &job)
	log := slog.With("worker", worker, "job", job.ID, "session", job.SessionID)
	log.Info("run job done", "status", res.Status, "duration", res.Duration)

	if err := c.results.PublishResult(ctx, res); err != nil {
		log.Error("publish run result", "error", err)
	}
	if err := d.Ack(false); err != nil {
		log.Error("ack run job", "error", err)
	}
}

// process runs job under its deadline and always yields a result.
func (c *Consumer) process(ctx context.Context, job *RunJob) *RunResult {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout(job))
	defer cancel()

	started := time.Now()
	res, err := c.handler(ctx, job)
	took := time.Since(started)
	if err != nil {
		return failedResult(job, err, ctx.Err(), took)
	}
	res.JobID = job.ID
	res.Duration = took
	res.CompletedAt = time.Now()
	if res.Status == "" {
		res.Status = StatusCompleted
	}
	return res
}

// Stop cancels the workers and waits for in-flight jobs.
func (c *Consumer) Stop() {
	if c.stop != nil {
		c.stop()
	}
	c.wg.Wait()
}

// jobTimeout gives the engine five seconds over the run's own timeout so it,
// and not the consumer, reports a slow program.
func jobTimeout(job *RunJob) time.Duration {
	if job.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(job.TimeoutSeconds)*time.Second + 5*time.Second
}

func failedResult(job *RunJob, err, deadline error, took time.Duration) *RunResult {
	res := &RunResult{
		JobID:       job.ID,
		Status:      StatusFailed,
		Failed:      true,
		Error:       err.Error(),
		Duration:    took,
		CompletedAt: time.Now(),
	}
	if errors.Is(deadline, context.DeadlineExceeded) {
		res.Status = StatusTimeout
		res.Error = "execution timed out"
	}
	return res
}

// ResultHandler receives the result of one job.
type ResultHandler func(result *RunResult)

// ResultConsumer reads the results queue and hands each result to the
// handler subscribed for its job. Results without a subscriber are dropped.
type ResultConsumer struct {
	conn *Connection

	mu      sync.RWMutex
	waiting map[string]ResultHandler

	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{conn: conn, waiting: make(map[string]ResultHandler)}
}

func (rc *ResultConsumer) Subscribe(jobID string, h ResultHandler) {
	rc.mu.Lock()
	rc.waiting[jobID] = h
	rc.mu.Unlock()
}

func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.mu.Lock()
	delete(rc.waiting, jobID)
	rc.mu.Unlock()
}

// Start consumes the results queue with auto-ack.
func (rc *ResultConsumer) Start(ctx context.Context) error {
	deliveries, err := rc.conn.Channel().Consume(ResultQueueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", ResultQueueName, err)
	}
	ctx, rc.stop = context.WithCancel(ctx)
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		rc.route(ctx, deliveries)
	}()
	return nil
}

func (rc *ResultConsumer) route(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var res RunResult
			if err := json.Unmarshal(d.Body, &res); err != nil {
				slog.Warn("dropping malformed run result", "error", err)
				continue
			}
			rc.mu.RLock()
			h := rc.waiting[res.JobID.String()]
			rc.mu.RUnlock()
			if h != nil {
				h(&res)
			}
		}
	}
}

func (rc *ResultConsumer) Stop() {
	if rc.stop != nil {
		rc.stop()
	}
	rc.wg.Wait()
}
