package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Output conventions shared by every strategy.
const (
	NoOutputMessage   = "Code executed successfully (no output)"
	ErrorPrefix       = "Error: "
	SyntaxErrorPrefix = "Syntax Error: "
)

// Strategy names an execution strategy.
type Strategy string

const (
	StrategyAuto     Strategy = "auto"
	StrategyPython   Strategy = "python"
	StrategyDocker   Strategy = "docker"
	StrategyFallback Strategy = "fallback"
)

// ParseStrategy converts a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyPython, StrategyDocker, StrategyFallback:
		return st, nil
	}
	return "", errors.New("unknown runner strategy: " + s)
}

// ErrNoInput is returned by input providers that have nothing left to give.
var ErrNoInput = errors.New("no input available")

// InputRequest asks the operator for one line of input.
type InputRequest struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
}

// InputProvider resolves input requests raised by running code. Requests are
// issued one at a time in the order the program asks for them; the call may
// block until the operator answers.
type InputProvider interface {
	RequestInput(ctx context.Context, req InputRequest) (string, error)
}

// InputFunc adapts a function to InputProvider.
type InputFunc func(ctx context.Context, req InputRequest) (string, error)

// RequestInput calls f.
func (f InputFunc) RequestInput(ctx context.Context, req InputRequest) (string, error) {
	return f(ctx, req)
}

// StaticInputs answers requests from a fixed list.
type StaticInputs []string

// RequestInput returns the answer at the request index.
func (s StaticInputs) RequestInput(_ context.Context, req InputRequest) (string, error) {
	if req.Index < 0 || req.Index >= len(s) {
		return "", ErrNoInput
	}
	return s[req.Index], nil
}

// Request describes one execution.
type Request struct {
	SessionID string
	// Editor names the editor the run belongs to so it can be cancelled
	// on its own. Empty for runs outside an editor.
	Editor string
	Code   string
	Input  InputProvider // nil means the program sees end of input
}

// Result is the outcome of one execution. Program errors are part of Output;
// the error return of Execute is reserved for infrastructure failures.
type Result struct {
	RunID       string        `json:"run_id,omitempty"`
	Output      string        `json:"output"`
	Strategy    Strategy      `json:"strategy"`
	Failed      bool          `json:"failed"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
	Inputs      int           `json:"inputs"`
	Duration    time.Duration `json:"duration"`
}

// Executor runs code with one strategy.
type Executor interface {
	Strategy() Strategy
	// Ready reports whether the strategy's runtime is usable. It may take a
	// while the first time (image pulls, interpreter probes).
	Ready(ctx context.Context) error
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Closer is implemented by executors that hold per-session resources.
type Closer interface {
	CloseSession(ctx context.Context, sessionID string) error
}

func withNoOutput(out string) string {
	if out == "" {
		return NoOutputMessage
	}
	return out
}

// appendError joins program output and an error line.
func appendError(stdout, msg string) string {
	if stdout != "" && !strings.HasSuffix(stdout, "\n") {
		stdout += "\n"
	}
	return stdout + ErrorPrefix + msg
}

// Helper functions
func createTempCodeDir(code map[string]string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pylearner-run-*")
	if err != nil {
		return "", err
	}

	for filename, content := range code {
		filePath := filepath.Join(tmpDir, filename)
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			removeTempDir(tmpDir)
			return "", err
		}
	}

	return tmpDir, nil
}

func removeTempDir(dir string) {
	os.RemoveAll(dir)
}
