package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/daemon"
	"github.com/felixgeelhaar/pylearner/internal/runner"
	"github.com/felixgeelhaar/pylearner/internal/syntax"
)

// cmdCheck reports bracket and quote problems in a file.
func cmdCheck(args []string) error {
	code, err := readSource(args)
	if err != nil {
		return err
	}
	errs := syntax.Check(code)
	if len(errs) == 0 {
		fmt.Println("✓ No syntax problems found")
		return nil
	}
	for _, e := range errs {
		fmt.Printf("✗ %s\n", e)
	}
	return fmt.Errorf("%d syntax problem(s)", len(errs))
}

// cmdRun executes a file with the configured runtime. Prompts from input()
// are answered on the terminal.
func cmdRun(args []string) error {
	code, err := readSource(args)
	if err != nil {
		return err
	}

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, closeEngine := daemon.NewEngine(cfg, nil)
	defer closeEngine(context.Background())

	engine.Start(ctx)
	readyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := engine.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("python runtime not ready: %w", err)
	}
	if st := engine.Status(); st.Degraded {
		fmt.Fprintf(os.Stderr, "Note: running with the built-in interpreter (%s)\n", st.Reason)
	}

	res, err := engine.Run(ctx, runner.Request{
		SessionID: "cli",
		Code:      code,
		Input:     terminalInput(os.Stdin, os.Stdout),
	})
	if err != nil {
		return err
	}

	fmt.Print(res.Output)
	if res.Failed {
		for _, d := range res.Diagnostics {
			fmt.Fprintln(os.Stderr, d.Summary())
		}
		return errors.New("program failed")
	}
	return nil
}

// terminalInput answers input requests by prompting on out and reading a
// line from in.
func terminalInput(in io.Reader, out io.Writer) runner.InputProvider {
	reader := bufio.NewReader(in)
	return runner.InputFunc(func(ctx context.Context, req runner.InputRequest) (string, error) {
		fmt.Fprint(out, req.Prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	})
}

func readSource(args []string) (string, error) {
	if len(args) < 1 {
		return "", errors.New("file required (use - for stdin)")
	}
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}
