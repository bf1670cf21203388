package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/db/dialect"
)

func TestOpen_SQLiteWriterAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gate.db")
	pool, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	assert.Equal(t, dialect.SQLite3, pool.Driver())
	_, err = pool.Writer().Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = pool.Writer().Exec(`INSERT INTO t (v) VALUES ('a')`)
	require.NoError(t, err)

	var v string
	require.NoError(t, pool.Reader().Get(&v, `SELECT v FROM t`))
	assert.Equal(t, "a", v)

	_, err = pool.Reader().Exec(`INSERT INTO t (v) VALUES ('b')`)
	assert.Error(t, err, "reader pool must be read-only")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
