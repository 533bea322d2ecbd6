// Package repository implements the domain repositories on top of sqlx.
// The same queries serve PostgreSQL and SQLite; placeholders are written as
// '?' and rebound for the driver in use.
package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// Repositories holds all repository instances
type Repositories struct {
	Accounts     *AccountRepository
	AccountLogs  *AccountLogRepository
	Videos       *VideoRepository
	Proxies      *ProxyRepository
	ProxySources *ProxySourceRepository
	CaptchaTasks *CaptchaTaskRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Accounts:     NewAccountRepository(db),
		AccountLogs:  NewAccountLogRepository(db),
		Videos:       NewVideoRepository(db),
		Proxies:      NewProxyRepository(db),
		ProxySources: NewProxySourceRepository(db),
		CaptchaTasks: NewCaptchaTaskRepository(db),
	}
}

// isUniqueViolation reports whether err is a unique constraint failure on
// any of the supported drivers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}

	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// page normalizes limit/offset
func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// whereClause joins conditions with AND
func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
