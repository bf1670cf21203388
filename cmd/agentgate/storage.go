package main

import (
	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/db"
	"github.com/kandev/agentgate/internal/store"
	"github.com/kandev/agentgate/internal/store/memory"
	"github.com/kandev/agentgate/internal/store/sqlite"
)

// provideStore opens the configured backend. The memory driver keeps nothing
// across restarts.
func provideStore(cfg config.DatabaseConfig, log *logger.Logger) (store.Store, func() error, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store; approvals and diffs are lost on restart")
		st := memory.New()
		return st, st.Close, nil
	}

	pool, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := sqlite.NewOwned(pool.Writer(), pool.Reader())
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	log.Info("Database initialized",
		zap.String("driver", cfg.Driver),
		zap.String("sql_driver", pool.Driver()))
	return repo, repo.Close, nil
}
