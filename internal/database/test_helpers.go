package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupSQLiteDB(t *testing.T) (*DB, func()) {
	t.Helper()

	config := Config{
		Type:       TypeSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "smilegame_test.db"),
	}

	db, err := NewDB(config, testLogger())
	if err != nil {
		t.Fatalf("Failed to open SQLite database: %v", err)
	}

	return db, func() { db.Close() }
}

func setupPostgresDB(t *testing.T) (*DB, func()) {
	t.Helper()
	if testing.Short() || os.Getenv("SMILEGAME_CONTAINER_TESTS") == "" {
		t.Skip("set SMILEGAME_CONTAINER_TESTS to run container tests")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("smilegame_test"),
		postgres.WithUsername("smilegame_test"),
		postgres.WithPassword("smilegame_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	config := Config{
		Type:     TypePostgres,
		Host:     host,
		Port:     port.Int(),
		User:     "smilegame_test",
		Password: "smilegame_test_password",
		Name:     "smilegame_test",
	}

	db, err := NewDB(config, testLogger())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.RunMigrations(filepath.Join("..", "..", "migrations")); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()

		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// forEachBackend runs fn against SQLite, and against Postgres when container
// tests are enabled.
func forEachBackend(t *testing.T, fn func(t *testing.T, db *DB)) {
	backends := map[string]func(*testing.T) (*DB, func()){
		TypeSQLite:   setupSQLiteDB,
		TypePostgres: setupPostgresDB,
	}

	for _, name := range []string{TypeSQLite, TypePostgres} {
		t.Run(name, func(t *testing.T) {
			db, cleanup := backends[name](t)
			defer cleanup()
			fn(t, db)
		})
	}
}
