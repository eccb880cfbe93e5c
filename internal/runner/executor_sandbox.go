package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/sandbox"
)

// SandboxManager is the subset of sandbox.Manager the executor needs.
type SandboxManager interface {
	Ready(ctx context.Context) error
	Run(ctx context.Context, editorID string, files map[string]string, cmd []string, timeout time.Duration) (*sandbox.ExecResult, error)
	Release(ctx context.Context, editorID string) error
}

// SandboxExecutor runs code inside a per-session Docker container. Containers
// have no interactive stdin, so input() calls are resolved before the run by
// textual substitution, one at a time in source order.
type SandboxExecutor struct {
	manager SandboxManager
	timeout time.Duration
	parser  *Parser
}

// NewSandboxExecutor creates an executor backed by the sandbox manager.
func NewSandboxExecutor(manager SandboxManager, timeout time.Duration) *SandboxExecutor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SandboxExecutor{
		manager: manager,
		timeout: timeout,
		parser:  NewParser(mainFile),
	}
}

// Strategy returns StrategyDocker.
func (e *SandboxExecutor) Strategy() Strategy { return StrategyDocker }

// Ready pings Docker and pulls the image if needed.
func (e *SandboxExecutor) Ready(ctx context.Context) error {
	return e.manager.Ready(ctx)
}

// Execute substitutes inputs and runs main.py in the session's container.
func (e *SandboxExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	code, resolved, err := SubstituteInputs(ctx, req.Code, req.Input)
	if err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "anonymous"
	}
	start := time.Now()
	res, err := e.manager.Run(ctx, sessionID, map[string]string{mainFile: code}, []string{"python3", "-u", mainFile}, e.timeout)
	result := &Result{
		Strategy: StrategyDocker,
		Inputs:   resolved,
		Duration: time.Since(start),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(context.Cause(ctx), context.DeadlineExceeded):
		result.Failed = true
		result.Output = appendError("", "Execution timed out")
		return result, nil
	case errors.Is(err, context.Canceled):
		result.Failed = true
		result.Output = appendError("", "Execution cancelled")
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("execute in sandbox: %w", err)
	}

	if res.ExitCode != 0 {
		result.Failed = true
		if diag, ok := e.parser.ParseTraceback(res.Stderr); ok {
			result.Diagnostics = []Diagnostic{diag}
			result.Output = appendError(res.Stdout, diag.Summary())
		} else {
			msg := strings.TrimSpace(res.Stderr)
			if msg == "" {
				msg = fmt.Sprintf("exit status %d", res.ExitCode)
			}
			result.Output = appendError(res.Stdout, msg)
		}
		return result, nil
	}
	result.Output = withNoOutput(res.Stdout)
	return result, nil
}

// CloseSession destroys the session's container.
func (e *SandboxExecutor) CloseSession(ctx context.Context, sessionID string) error {
	return e.manager.Release(ctx, sessionID)
}

var (
	_ Executor = (*SandboxExecutor)(nil)
	_ Closer   = (*SandboxExecutor)(nil)
)
