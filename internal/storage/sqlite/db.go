// Package sqlite is the single-file storage driver: a document table for
// accounts and progress plus the sandbox records.
package sqlite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/pylearner/internal/storage/migrations"
)

// DB is a SQLite handle that knows how to migrate itself.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database file at path. Writers are
// serialized through one connection and wait up to five seconds on a lock.
func Open(file string) (*DB, error) {
	params := "_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", "file:"+file+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", file, err)
	}
	return &DB{DB: db}, nil
}

type migration struct {
	version int
	name    string
}

// Migrate applies the embedded migrations newer than the recorded version,
// each in its own transaction.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		return fmt.Errorf("schema_migrations: %w", err)
	}

	current, err := db.Version()
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	pending, err := pendingMigrations(current)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := db.apply(m); err != nil {
			return err
		}
		slog.Info("applied migration", "name", m.name, "version", m.version)
	}
	return nil
}

func (db *DB) apply(m migration) error {
	body, err := fs.ReadFile(migrations.FS, m.name)
	if err != nil {
		return fmt.Errorf("read %s: %w", m.name, err)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate %s: %w", m.name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return fmt.Errorf("migrate %s: %w", m.name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return fmt.Errorf("migrate %s: %w", m.name, err)
	}
	return tx.Commit()
}

// Version is the highest applied migration, 0 on a fresh database.
func (db *DB) Version() (int, error) {
	var v int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// pendingMigrations lists the embedded migrations above current in order.
func pendingMigrations(current int) ([]migration, error) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, name := range names {
		v, err := parseVersion(name)
		if err != nil {
			slog.Warn("ignoring migration file", "name", name, "error", err)
			continue
		}
		if v > current {
			out = append(out, migration{version: v, name: name})
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	return out, nil
}

// parseVersion reads the numeric prefix of names like 002_sandboxes.sql.
func parseVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(path.Base(name), "_")
	if !ok {
		return 0, fmt.Errorf("migration %q has no version prefix", name)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %q: %w", name, err)
	}
	return v, nil
}
