package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/config"
	"github.com/felixgeelhaar/pylearner/internal/daemon"
	"github.com/felixgeelhaar/pylearner/internal/runner"
)

// openServices wires storage for one-shot admin commands. Runs are never
// executed, so the built-in interpreter stands in for the runtime and the
// queue is left closed.
func openServices(ctx context.Context) (*daemon.Services, error) {
	if _, err := config.EnsurePylearnerDir(); err != nil {
		return nil, err
	}
	cfg, dir, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := config.EnsureJWTSecret(dir, cfg); err != nil {
		return nil, err
	}
	cfg.Runner.Strategy = string(runner.StrategyFallback)
	cfg.Queue.URL = ""
	return daemon.OpenServices(ctx, cfg, dir)
}

// cmdCreateAdmin creates an admin account. The password is read from the
// first line of stdin.
func cmdCreateAdmin(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: pylearner create-admin <email> <display name>")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := readLine(os.Stdin)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	ctx := context.Background()
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	u, err := svc.Admin.CreateAdmin(ctx, auth.SignUpRequest{
		Email:           args[0],
		Password:        password,
		ConfirmPassword: password,
		DisplayName:     strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Admin %s created (%s)\n", u.Email, u.UID)
	return nil
}

// cmdMigrateAdmins grants the admin role to accounts registered with the
// given or configured admin email.
func cmdMigrateAdmins(args []string) error {
	ctx := context.Background()
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	email := svc.Config.Admin.Email
	if len(args) > 0 {
		email = args[0]
	}
	n, err := svc.Admin.MigrateLegacyAdmins(ctx, email)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %d account(s) granted the admin role\n", n)
	return nil
}

func cmdCleanup() error {
	ctx := context.Background()
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	report, err := svc.Admin.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Removed %d record(s)\n", report.Removed())
	for _, uid := range report.InvalidUsers {
		fmt.Printf("  incomplete account: %s\n", uid)
	}
	for _, uid := range report.OrphanProgress {
		fmt.Printf("  orphan progress:    %s\n", uid)
	}
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
