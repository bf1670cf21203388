package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/db"
	"github.com/kandev/agentgate/internal/store"
	"github.com/kandev/agentgate/internal/store/storetest"
)

func newTestRepository(t *testing.T) store.Store {
	pool, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "gate.db")})
	require.NoError(t, err)
	repo, err := NewOwned(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository_Contract(t *testing.T) {
	storetest.Run(t, newTestRepository)
}

func TestRepository_SchemaIsIdempotent(t *testing.T) {
	pool, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "gate.db")})
	require.NoError(t, err)
	defer func() { _ = pool.Close() }()

	_, err = NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	_, err = NewWithDB(pool.Writer(), pool.Reader())
	require.NoError(t, err)
}
