package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/db/dialect"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

const approvalColumns = `id, session_id, kind, tool_name, input, call_id, risk, reasons, status,
	timeout_at, default_on_timeout, decided_by, decided_at, decision_reason, created_at`

type approvalRow struct {
	ID               string       `db:"id"`
	SessionID        string       `db:"session_id"`
	Kind             string       `db:"kind"`
	ToolName         string       `db:"tool_name"`
	Input            string       `db:"input"`
	CallID           string       `db:"call_id"`
	Risk             string       `db:"risk"`
	Reasons          string       `db:"reasons"`
	Status           string       `db:"status"`
	TimeoutAt        time.Time    `db:"timeout_at"`
	DefaultOnTimeout string       `db:"default_on_timeout"`
	DecidedBy        string       `db:"decided_by"`
	DecidedAt        sql.NullTime `db:"decided_at"`
	DecisionReason   string       `db:"decision_reason"`
	CreatedAt        time.Time    `db:"created_at"`
}

func (row *approvalRow) toModel() (*models.Approval, error) {
	a := &models.Approval{
		ID:        row.ID,
		SessionID: row.SessionID,
		Kind:      models.ApprovalKind(row.Kind),
		Payload: models.ApprovalPayload{
			ToolName: row.ToolName,
			CallID:   row.CallID,
		},
		Risk:             models.RiskCategory(row.Risk),
		Status:           models.ApprovalStatus(row.Status),
		TimeoutAt:        row.TimeoutAt.UTC(),
		DefaultOnTimeout: models.TimeoutAction(row.DefaultOnTimeout),
		DecidedBy:        row.DecidedBy,
		DecisionReason:   row.DecisionReason,
		CreatedAt:        row.CreatedAt.UTC(),
	}
	if row.DecidedAt.Valid {
		t := row.DecidedAt.Time.UTC()
		a.DecidedAt = &t
	}
	if row.Input != "" && row.Input != "{}" {
		if err := json.Unmarshal([]byte(row.Input), &a.Payload.Input); err != nil {
			return nil, fmt.Errorf("failed to deserialize approval input: %w", err)
		}
	}
	if row.Reasons != "" && row.Reasons != "[]" {
		if err := json.Unmarshal([]byte(row.Reasons), &a.Reasons); err != nil {
			return nil, fmt.Errorf("failed to deserialize approval reasons: %w", err)
		}
	}
	return a, nil
}

func rowsToApprovals(rows []approvalRow) ([]*models.Approval, error) {
	out := make([]*models.Approval, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// CreateApproval inserts a new approval. A second pending record for the same
// (session, call id) violates idx_approvals_pending_call and yields ErrDuplicatePending.
func (r *Repository) CreateApproval(ctx context.Context, a *models.Approval) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = models.ApprovalPending
	}

	inputJSON := "{}"
	if a.Payload.Input != nil {
		b, err := json.Marshal(a.Payload.Input)
		if err != nil {
			return fmt.Errorf("failed to serialize approval input: %w", err)
		}
		inputJSON = string(b)
	}
	reasonsJSON := "[]"
	if len(a.Reasons) > 0 {
		b, err := json.Marshal(a.Reasons)
		if err != nil {
			return fmt.Errorf("failed to serialize approval reasons: %w", err)
		}
		reasonsJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO approvals (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.SessionID, string(a.Kind), a.Payload.ToolName, inputJSON, a.Payload.CallID, string(a.Risk), reasonsJSON,
		string(a.Status), a.TimeoutAt.UTC(), string(a.DefaultOnTimeout), a.DecidedBy, a.DecidedAt, a.DecisionReason, a.CreatedAt)
	if dialect.IsUniqueViolation(err) {
		return store.ErrDuplicatePending
	}
	return err
}

// GetApproval retrieves an approval by ID
func (r *Repository) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	return r.getApproval(ctx, r.ro, id)
}

// getter is satisfied by *sqlx.DB and *sqlx.Tx.
type getter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

// getApproval reads through the given pool; post-write reads use the writer so they see the commit.
func (r *Repository) getApproval(ctx context.Context, q getter, id string) (*models.Approval, error) {
	var row approvalRow
	err := q.GetContext(ctx, &row, q.Rebind(`SELECT `+approvalColumns+` FROM approvals WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("approval", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// FindPendingByCallID returns the pending approval for (session, call id)
func (r *Repository) FindPendingByCallID(ctx context.Context, sessionID, callID string) (*models.Approval, error) {
	var row approvalRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT `+approvalColumns+` FROM approvals
		WHERE session_id = ? AND call_id = ? AND status = 'pending'
	`), sessionID, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("pending approval for call", callID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListPendingBySession returns the pending approvals of one session
func (r *Repository) ListPendingBySession(ctx context.Context, sessionID string) ([]*models.Approval, error) {
	return r.ListApprovals(ctx, models.ApprovalFilter{SessionID: sessionID, Status: models.ApprovalPending})
}

// ListStalePending returns pending approvals created before cutoff
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Approval, error) {
	var rows []approvalRow
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT `+approvalColumns+` FROM approvals
		WHERE status = 'pending' AND created_at < ?
		ORDER BY created_at ASC
	`), cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return rowsToApprovals(rows)
}

// ListApprovals returns approvals matching the filter, oldest first
func (r *Repository) ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.Approval, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []approvalRow
	if err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(query), args...); err != nil {
		return nil, err
	}
	return rowsToApprovals(rows)
}

// ResolveApproval applies the terminal transition with a conditional update, so
// exactly one of several concurrent resolvers succeeds.
func (r *Repository) ResolveApproval(ctx context.Context, id string, res models.Resolution) (*models.Approval, error) {
	decidedAt := res.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE approvals
		SET status = ?, decided_by = ?, decided_at = ?, decision_reason = ?
		WHERE id = ? AND status = 'pending'
	`), string(res.Status), res.DecidedBy, decidedAt.UTC(), res.Reason, id)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, getErr := r.getApproval(ctx, r.db, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrAlreadyResolved
	}
	return r.getApproval(ctx, r.db, id)
}
