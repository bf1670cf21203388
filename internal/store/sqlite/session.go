package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/db/dialect"
	"github.com/kandev/agentgate/internal/models"
)

const sessionColumns = `id, task_id, agent_id, parent_session_id, forked, status, provider, model,
	process_handle, external_session_id, working_dir, permission_mode, hook_mode,
	input_tokens, output_tokens, cost_usd, error_message, summary, created_at, started_at, ended_at`

// CreateSession inserts a new session
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.PermissionMode == "" {
		s.PermissionMode = models.PermissionModeDefault
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.TaskID, s.AgentID, s.ParentSessionID, dialect.BoolToInt(s.Forked), s.Status, s.Provider, s.Model,
		s.ProcessHandle, s.ExternalSessionID, s.WorkingDir, s.PermissionMode, dialect.BoolToInt(s.HookMode),
		s.InputTokens, s.OutputTokens, s.CostUSD, s.ErrorMessage, s.Summary, s.CreatedAt, s.StartedAt, s.EndedAt)
	return err
}

// GetSession retrieves a session by ID
func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s := &models.Session{}
	err := r.ro.GetContext(ctx, s, r.ro.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessionsByTask returns every session of a task, oldest first
func (r *Repository) ListSessionsByTask(ctx context.Context, taskID string) ([]*models.Session, error) {
	var out []*models.Session
	err := r.ro.SelectContext(ctx, &out, r.ro.Rebind(`
		SELECT `+sessionColumns+` FROM sessions WHERE task_id = ? ORDER BY created_at ASC
	`), taskID)
	return out, err
}

// ListRecentSessionsByAgent returns the newest ended sessions of an agent that carry a summary
func (r *Repository) ListRecentSessionsByAgent(ctx context.Context, agentID string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 3
	}
	var out []*models.Session
	err := r.ro.SelectContext(ctx, &out, r.ro.Rebind(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE agent_id = ? AND summary <> '' AND status IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC LIMIT ?
	`), agentID, limit)
	return out, err
}

// UpdateSession saves every mutable session field
func (r *Repository) UpdateSession(ctx context.Context, s *models.Session) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET
			status = ?, provider = ?, model = ?, process_handle = ?, external_session_id = ?,
			working_dir = ?, permission_mode = ?, hook_mode = ?, input_tokens = ?, output_tokens = ?,
			cost_usd = ?, error_message = ?, summary = ?, started_at = ?, ended_at = ?
		WHERE id = ?
	`), s.Status, s.Provider, s.Model, s.ProcessHandle, s.ExternalSessionID,
		s.WorkingDir, s.PermissionMode, dialect.BoolToInt(s.HookMode), s.InputTokens, s.OutputTokens,
		s.CostUSD, s.ErrorMessage, s.Summary, s.StartedAt, s.EndedAt, s.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "session", s.ID)
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}
