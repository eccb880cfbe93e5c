package migrations

import "embed"

// FS holds the numbered SQLite schema files, applied in order by sqlite.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
