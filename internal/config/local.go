package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalConfig holds configuration for the local daemon and CLI.
type LocalConfig struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Log       LogConfig       `yaml:"log"`
	Runner    RunnerConfig    `yaml:"runner"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Queue     QueueConfig     `yaml:"queue"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`
	// SessionIdle is how long an unused session keeps its editors in memory.
	SessionIdle time.Duration `yaml:"session_idle"`
}

// LogConfig controls rotation of the daemon log file.
type LogConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// RunnerConfig holds code execution settings
type RunnerConfig struct {
	Strategy       string  `yaml:"strategy"`
	PythonPath     string  `yaml:"python_path"`
	Image          string  `yaml:"image"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MemoryMB       int     `yaml:"memory_mb"`
	CPULimit       float64 `yaml:"cpu_limit"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	NetworkOff     bool    `yaml:"network_off"`
}

// Timeout returns the execution timeout.
func (r RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// StorageConfig selects the document store.
type StorageConfig struct {
	// Driver is local, sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is the sqlite file, postgres URL or local directory. Empty picks a
	// path under the config directory.
	DSN string `yaml:"dsn"`
}

// AuthConfig holds session settings. The signing secret lives in secrets.yaml.
type AuthConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
	JWTSecret  string        `yaml:"-"`
}

// AdminConfig holds admin bootstrap and maintenance settings.
type AdminConfig struct {
	Email           string `yaml:"email"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	SessionSchedule string `yaml:"session_schedule"`
}

// QueueConfig configures the run queue. An empty URL disables it.
type QueueConfig struct {
	URL string `yaml:"url"`
}

// CORSConfig lists the browser origins allowed to call the daemon.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig bounds runs per user.
type RateLimitConfig struct {
	RunsPerMinute int `yaml:"runs_per_minute"`
}

// SecretsConfig holds values kept out of config.yaml.
type SecretsConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Storage drivers.
const (
	DriverLocal    = "local"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultAdminEmail is the admin address used when none is configured.
const DefaultAdminEmail = "admin@pythonlearner.com"

// PylearnerDir returns the path to ~/.pylearner
func PylearnerDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".pylearner"), nil
}

// EnsurePylearnerDir creates the configuration directory (see Dir) and its
// subdirectories if they don't exist
func EnsurePylearnerDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data", "cache"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:        7433,
			Bind:        "127.0.0.1",
			LogLevel:    "info",
			SessionIdle: 2 * time.Hour,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Runner: RunnerConfig{
			Strategy:       "auto",
			PythonPath:     "python3",
			Image:          "python:3.12-alpine",
			TimeoutSeconds: 10,
			MemoryMB:       128,
			CPULimit:       0.5,
			MaxConcurrent:  4,
			NetworkOff:     true,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
		},
		Auth: AuthConfig{
			SessionTTL: 7 * 24 * time.Hour,
		},
		Admin: AdminConfig{
			Email:           DefaultAdminEmail,
			CleanupSchedule: "@daily",
			SessionSchedule: "@hourly",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		RateLimit: RateLimitConfig{
			RunsPerMinute: 30,
		},
	}
}

// Validate rejects settings the daemon cannot start with.
func (c *LocalConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverLocal, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: postgres driver requires a dsn")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	switch c.Runner.Strategy {
	case "auto", "python", "docker", "fallback":
	default:
		return fmt.Errorf("runner: unknown strategy %q", c.Runner.Strategy)
	}
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon: invalid port %d", c.Daemon.Port)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth: session_ttl must be positive")
	}
	return nil
}

// Addr returns the daemon listen address.
func (c *LocalConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Daemon.Bind, c.Daemon.Port)
}

// StorageDSN returns the configured DSN or the default location under dir.
func (c *LocalConfig) StorageDSN(dir string) string {
	if c.Storage.DSN != "" {
		return c.Storage.DSN
	}
	switch c.Storage.Driver {
	case DriverLocal:
		return filepath.Join(dir, "data")
	default:
		return filepath.Join(dir, "data", "pylearner.db")
	}
}

// LoadLocalConfig loads configuration from ~/.pylearner/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := PylearnerDir()
	if err != nil {
		return nil, err
	}
	return LoadLocalConfigFrom(dir)
}

// LoadLocalConfigFrom loads config.yaml and secrets.yaml from dir. A missing
// config file yields the defaults.
func LoadLocalConfigFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	secrets, err := LoadSecrets(dir)
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	cfg.Auth.JWTSecret = secrets.JWTSecret

	return cfg, nil
}

// LoadSecrets reads secrets.yaml from dir. A missing file is not an error.
func LoadSecrets(dir string) (*SecretsConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if os.IsNotExist(err) {
		return &SecretsConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parse secrets: %w", err)
	}
	return &secrets, nil
}

// SaveLocalConfig saves configuration to dir/config.yaml
func SaveLocalConfig(dir string, cfg *LocalConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves secrets to dir/secrets.yaml, readable by the owner only.
func SaveSecrets(dir string, secrets *SecretsConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}

// EnsureJWTSecret makes sure cfg has a signing secret. When none is
// configured a random one is generated and persisted to dir/secrets.yaml.
func EnsureJWTSecret(dir string, cfg *LocalConfig) (generated bool, err error) {
	if cfg.Auth.JWTSecret != "" {
		return false, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return false, fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	secrets, err := LoadSecrets(dir)
	if err != nil {
		return false, err
	}
	secrets.JWTSecret = secret
	if err := SaveSecrets(dir, secrets); err != nil {
		return false, err
	}

	cfg.Auth.JWTSecret = secret
	return true, nil
}
