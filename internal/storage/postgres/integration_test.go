//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/felixgeelhaar/pylearner/internal/storage"
	"github.com/felixgeelhaar/pylearner/internal/storage/postgres"
	"github.com/felixgeelhaar/pylearner/internal/storage/storetest"
)

// setupPostgres starts a PostgreSQL container and returns its DSN.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pylearner"),
		tcpostgres.WithUsername("pylearner"),
		tcpostgres.WithPassword("pylearner"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return dsn
}

func TestIntegration_DocumentStore(t *testing.T) {
	dsn := setupPostgres(t)

	storetest.Run(t, func(t *testing.T) storage.DocumentStore {
		s, err := postgres.Open(context.Background(), dsn)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		// Each subtest starts from an empty table.
		if _, err := s.DB().ExecContext(context.Background(), "TRUNCATE documents"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
