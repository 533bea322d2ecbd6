// Package postgres opens the PostgreSQL store and owns its schema
package postgres

import (
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sadewadee/mystic-shorts/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const trackingDDL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Drivers accepted by OpenConnection
const (
	DriverPgx = "pgx"
	DriverPq  = "postgres"
)

// IsDSN reports whether dsn points at PostgreSQL
func IsDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenConnection opens a PostgreSQL connection with the given driver
// (pgx by default, lib/pq when driver is "postgres").
func OpenConnection(dsn, driver string) (*sqlx.DB, error) {
	// Try to parse and re-encode the DSN to handle special characters in password
	parsedDSN, err := sanitizeDSN(dsn)
	if err != nil {
		parsedDSN = dsn
	}

	if driver == "" {
		driver = DriverPgx
	}
	if driver != DriverPgx && driver != DriverPq {
		return nil, fmt.Errorf("unsupported postgres driver %q", driver)
	}

	db, err := sqlx.Open(driver, parsedDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// RunMigrations applies the embedded PostgreSQL migrations
func RunMigrations(db *sqlx.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	return repository.RunMigrations(db, sub, trackingDDL)
}

// MigrationStatus reports which embedded PostgreSQL migrations are applied
func MigrationStatus(db *sqlx.DB) ([]repository.MigrationState, error) {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	return repository.MigrationStatus(db, sub, trackingDDL)
}

// sanitizeDSN attempts to parse and properly encode the DSN
func sanitizeDSN(dsn string) (string, error) {
	if !IsDSN(dsn) {
		// key-value format, return as-is
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}

	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), password)
		}
	}

	return u.String(), nil
}
