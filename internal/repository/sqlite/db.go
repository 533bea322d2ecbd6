// Package sqlite opens the embedded SQLite store and owns its schema
package sqlite

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sadewadee/mystic-shorts/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const driverName = "sqlite"

const trackingDDL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

// OpenConnection opens a SQLite database. Pragmas are passed through the DSN
// so every pooled connection gets them.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations applies the embedded SQLite migrations
func RunMigrations(db *sqlx.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	return repository.RunMigrations(db, sub, trackingDDL)
}

// MigrationStatus reports which embedded SQLite migrations are applied
func MigrationStatus(db *sqlx.DB) ([]repository.MigrationState, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	return repository.MigrationStatus(db, sub, trackingDDL)
}

func buildDSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite://")
	params := "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + params
}
