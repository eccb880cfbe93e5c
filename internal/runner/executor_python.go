package runner

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	mainFile    = "main.py"
	harnessFile = "_pylearner_harness.py"
	inputMarker = "__pylearner_input__:"

	defaultMaxOutput = 1 << 20
	maxStderr        = 64 << 10
)

// harnessSource replaces builtins.input with a hook that announces each
// request on stderr and blocks on stdin until the daemon answers.
//
//go:embed harness.py
var harnessSource string

// PythonExecutor runs code with a local CPython interpreter. input() calls
// suspend the program until the InputProvider answers, so inputs inside loops
// and conditionals behave exactly as in Python.
type PythonExecutor struct {
	pythonPath string
	maxOutput  int
	parser     *Parser

	once     sync.Once
	readyErr error
}

// NewPythonExecutor creates a new Python executor
func NewPythonExecutor(pythonPath string) *PythonExecutor {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &PythonExecutor{
		pythonPath: pythonPath,
		maxOutput:  defaultMaxOutput,
		parser:     NewParser(mainFile),
	}
}

// Strategy returns StrategyPython.
func (e *PythonExecutor) Strategy() Strategy { return StrategyPython }

// Ready probes the interpreter once and caches the answer.
func (e *PythonExecutor) Ready(ctx context.Context) error {
	e.once.Do(func() {
		path, err := exec.LookPath(e.pythonPath)
		if err != nil {
			e.readyErr = fmt.Errorf("python interpreter not found: %w", err)
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		out, err := exec.CommandContext(probeCtx, path, "-c", "import sys; sys.exit(0 if sys.version_info[0] == 3 else 1)").CombinedOutput()
		if err != nil {
			e.readyErr = fmt.Errorf("python probe failed: %w: %s", err, strings.TrimSpace(string(out)))
			return
		}
		e.pythonPath = path
	})
	return e.readyErr
}

// Execute runs the code and returns everything written to stdout.
func (e *PythonExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	tmpDir, err := createTempCodeDir(map[string]string{
		mainFile:    req.Code,
		harnessFile: harnessSource,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	defer removeTempDir(tmpDir)

	cmd := exec.CommandContext(ctx, e.pythonPath, "-u", filepath.Join(tmpDir, harnessFile), filepath.Join(tmpDir, mainFile))
	cmd.Dir = tmpDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1")

	stdout := &limitedBuffer{limit: e.maxOutput}
	cmd.Stdout = stdout
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start python: %w", err)
	}

	input := req.Input
	if input == nil {
		stdin.Close()
	}

	stderr := &tailBuffer{limit: maxStderr}
	requests := 0
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		encoded, ok := strings.CutPrefix(line, inputMarker)
		if !ok {
			_, _ = io.WriteString(stderr, line+"\n")
			continue
		}
		if input == nil {
			continue
		}

		var prompt string
		_ = json.Unmarshal([]byte(encoded), &prompt)
		answer, err := input.RequestInput(ctx, InputRequest{Index: requests, Prompt: prompt})
		requests++
		if err != nil {
			// The program sees end of input and raises EOFError.
			stdin.Close()
			input = nil
			continue
		}
		answer, _, _ = strings.Cut(answer, "\n")
		if _, err := io.WriteString(stdin, answer+"\n"); err != nil {
			input = nil
		}
	}
	if err := scanner.Err(); err != nil {
		// A line too long to scan ends the prompt protocol; keep the pipe
		// drained so the program can finish.
		slog.Debug("stderr scan stopped", "error", err)
		_, _ = io.Copy(stderr, stderrPipe)
	}
	if input != nil {
		stdin.Close()
	}
	waitErr := cmd.Wait()

	result := &Result{
		Strategy: StrategyPython,
		Inputs:   requests,
		Duration: time.Since(start),
	}
	out := stdout.String()

	switch {
	case errors.Is(context.Cause(ctx), context.DeadlineExceeded):
		result.Failed = true
		result.Output = appendError(out, "Execution timed out")
	case ctx.Err() != nil:
		result.Failed = true
		result.Output = appendError(out, "Execution cancelled")
	case waitErr != nil:
		result.Failed = true
		if diag, ok := e.parser.ParseTraceback(stderr.String()); ok {
			result.Diagnostics = []Diagnostic{diag}
			result.Output = appendError(out, diag.Summary())
		} else {
			result.Output = appendError(out, strings.TrimSpace(stderr.String()+" "+waitErr.Error()))
		}
	default:
		result.Output = withNoOutput(out)
	}
	if stdout.truncated {
		result.Output += "\n[output truncated]"
	}
	return result, nil
}

// limitedBuffer keeps at most limit bytes and drops the rest.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// tailBuffer keeps the last limit bytes written. Tracebacks end a stream, so
// the tail is the part worth keeping.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > 2*b.limit {
		b.buf = append(b.buf[:0:0], b.buf[len(b.buf)-b.limit:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	if len(b.buf) > b.limit {
		return string(b.buf[len(b.buf)-b.limit:])
	}
	return string(b.buf)
}

// Ensure PythonExecutor implements Executor
var _ Executor = (*PythonExecutor)(nil)
