// Package dialect holds the few places where SQLite and PostgreSQL differ.
package dialect

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// sqlx driver names.
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

const pgUniqueViolation = "23505"

// IsPostgres reports whether driver is the pgx driver.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt stores booleans as 0/1 on both backends.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// IsUniqueViolation reports whether err is a unique or primary key conflict.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
