package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// RunMigrations executes the schema migration on a database connection.
// Integration tests use it against a local PostgreSQL instance.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, filename, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(filename), "..", "..", "migrations")

	migrationFile := filepath.Join(migrationsPath, "001_create_schema.sql")
	sqlBytes, err := os.ReadFile(migrationFile)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}

	if _, execErr := db.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return fmt.Errorf("execute migration: %w", execErr)
	}
	return nil
}
