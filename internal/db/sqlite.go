// Package db opens the SQL connections the repositories run on.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBusyTimeout = 5 * time.Second
	sqliteReaderConns  = 4
)

// sqliteDSN builds a go-sqlite3 file DSN. mode is "rwc" for the writer, "ro" for readers.
func sqliteDSN(path, mode string, busy time.Duration) string {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_mode", mode)
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	q.Set("_cache", "shared")
	if mode != "ro" {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens the single writer connection, creating the file and its
// directory when missing. Approval resolution relies on writes being serialized.
func OpenSQLite(dbPath string, busyTimeout time.Duration) (*sql.DB, error) {
	path, err := prepareSQLiteFile(dbPath)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", sqliteDSN(path, "rwc", busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}

// OpenSQLiteReader opens a read-only pool that reads alongside the writer under WAL.
func OpenSQLiteReader(dbPath string, busyTimeout time.Duration) (*sql.DB, error) {
	path := dbPath
	if abs, err := filepath.Abs(dbPath); err == nil {
		path = abs
	}
	conn, err := sql.Open("sqlite3", sqliteDSN(path, "ro", busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	conn.SetMaxOpenConns(sqliteReaderConns)
	conn.SetMaxIdleConns(sqliteReaderConns)
	return conn, nil
}

func prepareSQLiteFile(dbPath string) (string, error) {
	if dbPath == "" {
		return "", fmt.Errorf("sqlite path is empty")
	}
	path, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare database path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	return path, f.Close()
}
