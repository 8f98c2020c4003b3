//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for wait.ForSQL
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/platform/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresUser  = "snippets"
	postgresPass  = "secret"
	postgresDB    = "snippets"

	startupTimeout = 2 * time.Minute
)

func postgresDSN(host string, port nat.Port) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPass, host, port.Port(), postgresDB)
}

// GetTestDatabaseURL returns SNIPPETS_TEST_DB_URL when set, otherwise the
// URL of a PostgreSQL container terminated at test cleanup.
func GetTestDatabaseURL(t *testing.T) string {
	t.Helper()
	skipShort(t)
	if url := os.Getenv(DatabaseURLEnv); url != "" {
		return url
	}

	ctx := context.Background()
	port := nat.Port("5432/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPass,
				"POSTGRES_DB":       postgresDB,
			},
			WaitingFor: wait.ForSQL(port, "pgx", postgresDSN).WithStartupTimeout(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		unavailable(t, "postgres", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return postgresDSN(host, mapped)
}

// GetTestDBWithT opens a migrated database and closes it at test cleanup.
// Engine tables are emptied first so a shared SNIPPETS_TEST_DB_URL starts
// every test from the same state.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DatabaseConfig{
		URL:             GetTestDatabaseURL(t),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnectAttempts: 5,
	}

	db, err := postgres.Open(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { CleanupDB(t, db) })

	require.NoError(t, postgres.Migrate(db, logger))
	ResetTables(t, db)
	return db
}

// ResetTables removes every row from the engine tables.
func ResetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec("TRUNCATE redo_queue, records, entities RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

// CleanupDB safely closes a database connection.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}
