package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
)

const diffColumns = `id, session_id, approval_id, file_path, old_content, new_content, full_text, status, created_at, updated_at`

// CreateDiff inserts a staged file change
func (r *Repository) CreateDiff(ctx context.Context, d *models.Diff) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DiffPending
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO diffs (`+diffColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.ID, d.SessionID, d.ApprovalID, d.FilePath, d.OldContent, d.NewContent, d.FullText, string(d.Status), d.CreatedAt, d.UpdatedAt)
	return err
}

// GetDiff retrieves a diff by ID
func (r *Repository) GetDiff(ctx context.Context, id string) (*models.Diff, error) {
	d := &models.Diff{}
	err := r.ro.GetContext(ctx, d, r.ro.Rebind(`SELECT `+diffColumns+` FROM diffs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("diff", id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListDiffsByStatus returns diffs in the given status, oldest first
func (r *Repository) ListDiffsByStatus(ctx context.Context, status models.DiffStatus) ([]*models.Diff, error) {
	var out []*models.Diff
	err := r.ro.SelectContext(ctx, &out, r.ro.Rebind(`
		SELECT `+diffColumns+` FROM diffs WHERE status = ? ORDER BY created_at ASC
	`), string(status))
	return out, err
}

// ListDiffsBySession returns every diff of a session, oldest first
func (r *Repository) ListDiffsBySession(ctx context.Context, sessionID string) ([]*models.Diff, error) {
	var out []*models.Diff
	err := r.ro.SelectContext(ctx, &out, r.ro.Rebind(`
		SELECT `+diffColumns+` FROM diffs WHERE session_id = ? ORDER BY created_at ASC
	`), sessionID)
	return out, err
}

// UpdateDiffStatus moves a diff to a new status
func (r *Repository) UpdateDiffStatus(ctx context.Context, id string, status models.DiffStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE diffs SET status = ?, updated_at = ? WHERE id = ?
	`), string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "diff", id)
}

// ClearDiffContent drops the large text fields of a diff
func (r *Repository) ClearDiffContent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE diffs SET old_content = NULL, new_content = NULL, full_text = NULL, updated_at = ? WHERE id = ?
	`), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "diff", id)
}
