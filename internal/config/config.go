// Package config loads pylearner settings: ~/.pylearner/config.yaml and
// secrets.yaml, then .env files, then PYLEARNER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PYLEARNER"

// LegacyAdminEmailVar is the variable the browser build read the admin
// address from. It is honored when PYLEARNER_ADMIN_EMAIL is unset.
const LegacyAdminEmailVar = "VITE_ADMIN_EMAIL"

// DotEnvFiles are loaded from the working directory. Earlier files win and
// real environment variables win over both.
var DotEnvFiles = []string{".env.local", ".env"}

// Env holds the environment overrides, PYLEARNER_PORT, PYLEARNER_STORAGE_DRIVER
// and so on. Fields left unset keep the value from the config files.
type Env struct {
	Port     int    `split_words:"true"`
	Bind     string `split_words:"true"`
	LogLevel string `split_words:"true"`

	StorageDriver string `split_words:"true"`
	StorageDSN    string `split_words:"true"`

	RunnerStrategy string `split_words:"true"`
	PythonPath     string `split_words:"true"`
	RunnerImage    string `split_words:"true"`
	RunnerTimeout  int    `split_words:"true"`

	JWTSecret  string        `split_words:"true"`
	SessionTTL time.Duration `split_words:"true"`

	AdminEmail      string `split_words:"true"`
	CleanupSchedule string `split_words:"true"`

	QueueURL      string   `split_words:"true"`
	CORSOrigins   []string `split_words:"true"`
	RunsPerMinute int      `split_words:"true"`
}

// LoadDotEnv loads the .env files found in dir. Missing files are skipped.
func LoadDotEnv(dir string) error {
	var files []string
	for _, name := range DotEnvFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

// Dir returns the configuration directory: PYLEARNER_HOME when set,
// otherwise ~/.pylearner.
func Dir() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home, nil
	}
	return PylearnerDir()
}

// Load reads .env files from the working directory, the config files from
// Dir and the environment overrides, then validates the result.
func Load() (*LocalConfig, string, error) {
	if err := LoadDotEnv("."); err != nil {
		return nil, "", err
	}
	dir, err := Dir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		return nil, "", err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, dir, nil
}

// ApplyEnv overlays PYLEARNER_* variables onto cfg.
func ApplyEnv(cfg *LocalConfig) error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env.AdminEmail == "" {
		env.AdminEmail = strings.TrimSpace(os.Getenv(LegacyAdminEmailVar))
	}

	setString(&cfg.Daemon.Bind, env.Bind)
	setString(&cfg.Daemon.LogLevel, env.LogLevel)
	setInt(&cfg.Daemon.Port, env.Port)
	setString(&cfg.Storage.Driver, env.StorageDriver)
	setString(&cfg.Storage.DSN, env.StorageDSN)
	setString(&cfg.Runner.Strategy, env.RunnerStrategy)
	setString(&cfg.Runner.PythonPath, env.PythonPath)
	setString(&cfg.Runner.Image, env.RunnerImage)
	setInt(&cfg.Runner.TimeoutSeconds, env.RunnerTimeout)
	setString(&cfg.Auth.JWTSecret, env.JWTSecret)
	if env.SessionTTL > 0 {
		cfg.Auth.SessionTTL = env.SessionTTL
	}
	setString(&cfg.Admin.Email, env.AdminEmail)
	setString(&cfg.Admin.CleanupSchedule, env.CleanupSchedule)
	setString(&cfg.Queue.URL, env.QueueURL)
	if len(env.CORSOrigins) > 0 {
		cfg.CORS.AllowedOrigins = env.CORSOrigins
	}
	setInt(&cfg.RateLimit.RunsPerMinute, env.RunsPerMinute)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
