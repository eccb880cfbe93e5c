package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("PYLEARNER_PORT", "9100")
	t.Setenv("PYLEARNER_STORAGE_DRIVER", "postgres")
	t.Setenv("PYLEARNER_STORAGE_DSN", "postgres://db/pylearner")
	t.Setenv("PYLEARNER_JWT_SECRET", "from-env")
	t.Setenv("PYLEARNER_SESSION_TTL", "12h")
	t.Setenv("PYLEARNER_CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("PYLEARNER_ADMIN_EMAIL", "boss@example.com")
	t.Setenv(LegacyAdminEmailVar, "legacy@example.com")

	cfg := DefaultLocalConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Daemon.Port != 9100 || cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.DSN != "postgres://db/pylearner" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Auth.SessionTTL != 12*time.Hour {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("CORS = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Admin.Email != "boss@example.com" {
		t.Errorf("Admin.Email = %q, the prefixed variable should win", cfg.Admin.Email)
	}
}

func TestApplyEnv_LegacyAdminEmail(t *testing.T) {
	t.Setenv(LegacyAdminEmailVar, " legacy@example.com ")

	cfg := DefaultLocalConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Admin.Email != "legacy@example.com" {
		t.Errorf("Admin.Email = %q", cfg.Admin.Email)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("PYLEARNER_PORT", "not-a-number")
	if err := ApplyEnv(DefaultLocalConfig()); err == nil {
		t.Error("expected error for malformed port")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write(".env", "PYLEARNER_TEST_A=from-env\nPYLEARNER_TEST_B=from-env\n")
	t.Setenv("PYLEARNER_TEST_C", "real")
	write(".env.local", "PYLEARNER_TEST_A=from-local\nPYLEARNER_TEST_C=from-local\n")

	// Registered so the variables set by godotenv are cleared afterwards.
	t.Setenv("PYLEARNER_TEST_A", "")
	t.Setenv("PYLEARNER_TEST_B", "")
	os.Unsetenv("PYLEARNER_TEST_A")
	os.Unsetenv("PYLEARNER_TEST_B")

	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("PYLEARNER_TEST_A"); got != "from-local" {
		t.Errorf("A = %q, want from-local", got)
	}
	if got := os.Getenv("PYLEARNER_TEST_B"); got != "from-env" {
		t.Errorf("B = %q, want from-env", got)
	}
	if got := os.Getenv("PYLEARNER_TEST_C"); got != "real" {
		t.Errorf("C = %q, real environment should win", got)
	}
}

func TestLoadDotEnv_NoFiles(t *testing.T) {
	if err := LoadDotEnv(t.TempDir()); err != nil {
		t.Errorf("LoadDotEnv() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PYLEARNER_HOME", home)
	t.Setenv("PYLEARNER_RUNNER_STRATEGY", "fallback")
	t.Chdir(t.TempDir())

	cfg, dir, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if dir != home {
		t.Errorf("dir = %q, want %q", dir, home)
	}
	if cfg.Runner.Strategy != "fallback" {
		t.Errorf("Runner.Strategy = %q", cfg.Runner.Strategy)
	}

	t.Setenv("PYLEARNER_STORAGE_DRIVER", "mongo")
	if _, _, err := Load(); err == nil {
		t.Error("Load() should validate the result")
	}
}
