package queue

import (
	"context"

	"github.com/felixgeelhaar/pylearner/internal/runner"
)

// Runner executes code. *runner.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Result, error)
}

// EngineHandler returns a JobHandler that runs each job through r. Jobs carry
// their input answers up front; a program asking for more sees end of input.
func EngineHandler(r Runner) JobHandler {
	return func(ctx context.Context, job *RunJob) (*RunResult, error) {
		req := runner.Request{
			SessionID: "queue-" + job.ID.String(),
			Code:      job.Code,
		}
		if len(job.Inputs) > 0 {
			req.Input = runner.StaticInputs(job.Inputs)
		}
		res, err := r.Run(ctx, req)
		if err != nil {
			return nil, err
		}
		status := StatusCompleted
		if res.Failed {
			status = StatusFailed
		}
		return &RunResult{
			JobID:    job.ID,
			Status:   status,
			Output:   res.Output,
			Strategy: string(res.Strategy),
			Failed:   res.Failed,
			Inputs:   res.Inputs,
		}, nil
	}
}
