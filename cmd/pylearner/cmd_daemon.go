package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/config"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// daemonURL is the base URL of the configured daemon. Wildcard binds are
// reached over loopback.
func daemonURL() string {
	cfg, _, err := config.Load()
	if err != nil {
		cfg = config.DefaultLocalConfig()
	}
	host := cfg.Daemon.Bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Daemon.Port)
}

// cmdStart starts the daemon in the background
func cmdStart() error {
	base := daemonURL()
	if isRunning(base) {
		fmt.Println("✓ Daemon is already running")
		return nil
	}

	dir, err := config.EnsurePylearnerDir()
	if err != nil {
		return fmt.Errorf("setup pylearner directory: %w", err)
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil

	// Detach from parent process (platform-specific)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if isRunning(base) {
			fmt.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", base)
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon failed to start (see %s)", filepath.Join(dir, "logs", "pylearnerd.log"))
}

// cmdStop stops the daemon
func cmdStop() error {
	base := daemonURL()
	if !isRunning(base) {
		fmt.Println("Daemon is not running")
		return nil
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dir, pidFile))
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(base) {
			fmt.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	fmt.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

type daemonStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Storage  string `json:"storage"`
	Queue    bool   `json:"queue"`
	Sessions int    `json:"sessions"`
	Runtime  struct {
		Strategy string `json:"strategy"`
		Loading  bool   `json:"loading"`
		Degraded bool   `json:"degraded"`
		Reason   string `json:"reason"`
	} `json:"runtime"`
}

// cmdStatus shows daemon status
func cmdStatus() error {
	base := daemonURL()
	if !isRunning(base) {
		fmt.Println("Status: stopped")
		return nil
	}

	resp, err := httpClient.Get(base + "/v1/status")
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}

	fmt.Print(formatStatus(base, status))
	return nil
}

func formatStatus(base string, s daemonStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status:    %s\n", s.Status)
	fmt.Fprintf(&b, "Version:   %s\n", s.Version)
	fmt.Fprintf(&b, "Uptime:    %s\n", s.Uptime)
	runtime := s.Runtime.Strategy
	switch {
	case s.Runtime.Loading:
		runtime = "loading"
	case s.Runtime.Degraded:
		runtime += " (degraded: " + s.Runtime.Reason + ")"
	}
	fmt.Fprintf(&b, "Runtime:   %s\n", runtime)
	fmt.Fprintf(&b, "Storage:   %s\n", s.Storage)
	queue := "local"
	if s.Queue {
		queue = "remote workers"
	}
	fmt.Fprintf(&b, "Runs:      %s\n", queue)
	fmt.Fprintf(&b, "Sessions:  %d\n", s.Sessions)
	fmt.Fprintf(&b, "Address:   %s\n", base)
	return b.String()
}

// isRunning checks if the daemon is running by calling the health endpoint
func isRunning(base string) bool {
	resp, err := httpClient.Get(base + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates the pylearnerd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("pylearnerd"); err == nil {
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "pylearnerd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{
		"/usr/local/bin/pylearnerd",
		"./pylearnerd",
		"./cmd/pylearnerd/pylearnerd",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("pylearnerd binary not found (build with 'go build ./cmd/pylearnerd')")
}
