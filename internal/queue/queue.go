// Package queue moves program runs to remote workers over RabbitMQ. The
// daemon publishes RunJobs and waits for the matching RunResult; `pylearner
// worker` consumes jobs and runs them on its own engine.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RunQueueName    = "pylearner.runs"
	ResultQueueName = "pylearner.results"
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// RunJob is one program execution handed to a worker. Workers have no
// operator to ask, so answers to input() travel with the job.
type RunJob struct {
	ID             uuid.UUID `json:"id"`
	SessionID      string    `json:"session_id"`
	Code           string    `json:"code"`
	Inputs         []string  `json:"inputs,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunResult is the worker's answer to a RunJob.
type RunResult struct {
	JobID       uuid.UUID     `json:"job_id"`
	Status      string        `json:"status"`
	Output      string        `json:"output"`
	Strategy    string        `json:"strategy,omitempty"`
	Failed      bool          `json:"failed"`
	Inputs      int           `json:"inputs"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// queueSpec is a durable queue and how long its messages live.
type queueSpec struct {
	name string
	ttl  time.Duration
}

// Unclaimed jobs expire after five minutes and results after one.
var topology = []queueSpec{
	{name: RunQueueName, ttl: 5 * time.Minute},
	{name: ResultQueueName, ttl: time.Minute},
}

// Connection is an AMQP connection and channel that redial after the broker
// drops them.
type Connection struct {
	url    string
	policy retry.Retry[struct{}]

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewConnection dials the broker and declares the queues.
func NewConnection(rawURL string) (*Connection, error) {
	c := &Connection{
		url: rawURL,
		policy: retry.New[struct{}](retry.Config{
			MaxAttempts:   10,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
		}),
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", redactURL(c.url), err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	for _, q := range topology {
		args := amqp.Table{"x-message-ttl": int32(q.ttl / time.Millisecond)}
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, args); err != nil {
			_ = conn.Close()
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	slog.Info("connected to run queue", "url", redactURL(c.url))
	return nil
}

// watch redials when the broker closes the connection. A nil error means the
// close was ours.
func (c *Connection) watch(closed <-chan *amqp.Error) {
	reason, ok := <-closed
	if !ok || reason == nil {
		return
	}
	c.mu.RLock()
	shutting := c.closed
	c.mu.RUnlock()
	if shutting {
		return
	}

	slog.Warn("run queue connection lost", "error", reason)
	attempt := 0
	_, err := c.policy.Do(context.Background(), func(context.Context) (struct{}, error) {
		attempt++
		return struct{}{}, c.dial()
	})
	if err != nil {
		slog.Error("run queue reconnect gave up", "attempts", attempt, "error", err)
		return
	}
	slog.Info("run queue reconnected", "attempts", attempt)
}

// Channel returns the current channel. It changes after a reconnect.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// IsConnected reports whether the underlying connection is open.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON sends data as a persistent JSON message to the named queue.
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	return c.Channel().PublishWithContext(ctx, "", queue, false, false, msg)
}

// Close stops reconnecting and closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// redactURL hides the password of an AMQP URL for logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	return u.Redacted()
}
