package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/pylearner/internal/queue"
	"github.com/felixgeelhaar/pylearner/internal/runner"
)

func TestCreateRunJob(t *testing.T) {
	job := queue.CreateRunJob("sess-1", `print("hi")`, []string{"Ada"}, 10*time.Second)

	if job.ID == uuid.Nil {
		t.Error("Job ID should be generated")
	}
	if job.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", job.SessionID)
	}
	if job.TimeoutSeconds != 10 {
		t.Errorf("TimeoutSeconds = %d; want 10", job.TimeoutSeconds)
	}
	if len(job.Inputs) != 1 || job.Inputs[0] != "Ada" {
		t.Errorf("Inputs = %v", job.Inputs)
	}
	if job.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	other := queue.CreateRunJob("sess-1", "", nil, 0)
	if other.ID == job.ID {
		t.Error("job IDs should be unique")
	}
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := queue.DefaultConsumerConfig()
	if cfg.Workers != 3 {
		t.Errorf("Default Workers = %d; want 3", cfg.Workers)
	}
	if cfg.Prefetch != 1 {
		t.Errorf("Default Prefetch = %d; want 1", cfg.Prefetch)
	}
}

type stubRunner struct {
	req runner.Request
	res *runner.Result
	err error
}

func (s *stubRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	s.req = req
	return s.res, s.err
}

func TestEngineHandler(t *testing.T) {
	tests := []struct {
		name       string
		res        *runner.Result
		wantStatus string
	}{
		{"completed", &runner.Result{Output: "hi\n", Strategy: runner.StrategyPython, Inputs: 1}, queue.StatusCompleted},
		{"program error", &runner.Result{Output: "Error: boom", Strategy: runner.StrategyPython, Failed: true}, queue.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubRunner{res: tt.res}
			job := queue.CreateRunJob("sess-1", "print(input())", []string{"hi"}, time.Second)

			got, err := queue.EngineHandler(stub)(context.Background(), job)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q; want %q", got.Status, tt.wantStatus)
			}
			if got.Output != tt.res.Output || got.Failed != tt.res.Failed || got.Strategy != string(tt.res.Strategy) {
				t.Errorf("result = %+v", got)
			}
			if stub.req.Code != job.Code || stub.req.Input == nil {
				t.Errorf("runner request = %+v", stub.req)
			}
			answer, err := stub.req.Input.RequestInput(context.Background(), runner.InputRequest{Index: 0})
			if err != nil || answer != "hi" {
				t.Errorf("input = %q, %v", answer, err)
			}
		})
	}
}

func TestEngineHandler_Error(t *testing.T) {
	stub := &stubRunner{err: runner.ErrRuntimeLoading}
	_, err := queue.EngineHandler(stub)(context.Background(), queue.CreateRunJob("s", "x", nil, time.Second))
	if !errors.Is(err, runner.ErrRuntimeLoading) {
		t.Errorf("err = %v", err)
	}
	if stub.req.Input != nil {
		t.Error("jobs without inputs should not get a provider")
	}
}

// loopback answers every published job through the subscribed handler.
type loopback struct {
	mu       sync.Mutex
	handlers map[string]queue.ResultHandler
	answer   func(*queue.RunJob) *queue.RunResult
	queues   []string
}

func newLoopback(answer func(*queue.RunJob) *queue.RunResult) *loopback {
	return &loopback{handlers: make(map[string]queue.ResultHandler), answer: answer}
}

func (l *loopback) Subscribe(id string, h queue.ResultHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[id] = h
}

func (l *loopback) Unsubscribe(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
}

func (l *loopback) PublishJSON(_ context.Context, q string, data any) error {
	l.mu.Lock()
	l.queues = append(l.queues, q)
	job := data.(*queue.RunJob)
	h := l.handlers[job.ID.String()]
	l.mu.Unlock()
	if res := l.answer(job); res != nil && h != nil {
		go h(res)
	}
	return nil
}

func TestDispatcher_Dispatch(t *testing.T) {
	lb := newLoopback(func(job *queue.RunJob) *queue.RunResult {
		return &queue.RunResult{JobID: job.ID, Status: queue.StatusCompleted, Output: "ok\n"}
	})
	d := queue.NewDispatcher(lb, lb, time.Second)

	res, err := d.Dispatch(context.Background(), &queue.RunJob{SessionID: "s", Code: "print('ok')"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Output != "ok\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if len(lb.queues) != 1 || lb.queues[0] != queue.RunQueueName {
		t.Errorf("published to %v", lb.queues)
	}
	if len(lb.handlers) != 0 {
		t.Error("subscription should be removed after dispatch")
	}
}

func TestDispatcher_NoResult(t *testing.T) {
	lb := newLoopback(func(*queue.RunJob) *queue.RunResult { return nil })
	d := queue.NewDispatcher(lb, lb, 20*time.Millisecond)

	_, err := d.Dispatch(context.Background(), &queue.RunJob{Code: "x"})
	if !errors.Is(err, queue.ErrNoResult) {
		t.Errorf("err = %v; want ErrNoResult", err)
	}
}

func TestDispatcher_ContextCancelled(t *testing.T) {
	lb := newLoopback(func(*queue.RunJob) *queue.RunResult { return nil })
	d := queue.NewDispatcher(lb, lb, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Dispatch(ctx, &queue.RunJob{Code: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}
