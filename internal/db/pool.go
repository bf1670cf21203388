package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/db/dialect"
)

// Pool provides separate read and write database connections.
//
// For SQLite the writer is a single connection and the reader a small
// read-only pool. For PostgreSQL both return the same *sqlx.DB.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection pool used for INSERT, UPDATE, DELETE.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the sqlx driver name of the pool.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

// Open builds the pool for the configured SQL driver ("sqlite" or "postgres").
func Open(cfg config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case "sqlite":
		busy := time.Duration(cfg.BusyTimeoutMs) * time.Millisecond
		writer, err := OpenSQLite(cfg.Path, busy)
		if err != nil {
			return nil, err
		}
		reader, err := OpenSQLiteReader(cfg.Path, busy)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return NewPool(sqlx.NewDb(writer, dialect.SQLite3), sqlx.NewDb(reader, dialect.SQLite3)), nil
	case "postgres":
		conn, err := OpenPostgres(cfg.DSN(), cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		x := sqlx.NewDb(conn, dialect.PGX)
		return NewPool(x, x), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
