package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/db/dialect"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

const hookColumns = `id, name, scope, project_id, task_id, event_type, transport, command, url, filter,
	priority, blocking, enabled, timeout_seconds, created_at, updated_at`

type hookRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	Scope          string    `db:"scope"`
	ProjectID      string    `db:"project_id"`
	TaskID         string    `db:"task_id"`
	EventType      string    `db:"event_type"`
	Transport      string    `db:"transport"`
	Command        string    `db:"command"`
	URL            string    `db:"url"`
	Filter         string    `db:"filter"`
	Priority       int       `db:"priority"`
	Blocking       bool      `db:"blocking"`
	Enabled        bool      `db:"enabled"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row *hookRow) toModel() (*models.Hook, error) {
	h := &models.Hook{
		ID:             row.ID,
		Name:           row.Name,
		Scope:          models.HookScope(row.Scope),
		ProjectID:      row.ProjectID,
		TaskID:         row.TaskID,
		EventType:      models.HookEventType(row.EventType),
		Transport:      models.HookTransport(row.Transport),
		Command:        row.Command,
		URL:            row.URL,
		Priority:       row.Priority,
		Blocking:       row.Blocking,
		Enabled:        row.Enabled,
		TimeoutSeconds: row.TimeoutSeconds,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.Filter != "" && row.Filter != "{}" {
		if err := json.Unmarshal([]byte(row.Filter), &h.Filter); err != nil {
			return nil, fmt.Errorf("failed to deserialize hook filter: %w", err)
		}
	}
	return h, nil
}

func marshalFilter(f models.HookFilter) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to serialize hook filter: %w", err)
	}
	return string(b), nil
}

// CreateHook inserts a hook
func (r *Repository) CreateHook(ctx context.Context, h *models.Hook) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	filterJSON, err := marshalFilter(h.Filter)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO hooks (`+hookColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), h.ID, h.Name, string(h.Scope), h.ProjectID, h.TaskID, string(h.EventType), string(h.Transport), h.Command, h.URL,
		filterJSON, h.Priority, dialect.BoolToInt(h.Blocking), dialect.BoolToInt(h.Enabled), h.TimeoutSeconds, h.CreatedAt, h.UpdatedAt)
	return err
}

// UpdateHook saves every mutable hook field
func (r *Repository) UpdateHook(ctx context.Context, h *models.Hook) error {
	h.UpdatedAt = time.Now().UTC()
	filterJSON, err := marshalFilter(h.Filter)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE hooks SET name = ?, scope = ?, project_id = ?, task_id = ?, event_type = ?, transport = ?,
			command = ?, url = ?, filter = ?, priority = ?, blocking = ?, enabled = ?, timeout_seconds = ?, updated_at = ?
		WHERE id = ?
	`), h.Name, string(h.Scope), h.ProjectID, h.TaskID, string(h.EventType), string(h.Transport),
		h.Command, h.URL, filterJSON, h.Priority, dialect.BoolToInt(h.Blocking), dialect.BoolToInt(h.Enabled),
		h.TimeoutSeconds, h.UpdatedAt, h.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "hook", h.ID)
}

// DeleteHook removes a hook
func (r *Repository) DeleteHook(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM hooks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "hook", id)
}

// GetHook retrieves a hook by ID
func (r *Repository) GetHook(ctx context.Context, id string) (*models.Hook, error) {
	var row hookRow
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`SELECT `+hookColumns+` FROM hooks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("hook", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListHooks returns hooks for a query, highest priority first
func (r *Repository) ListHooks(ctx context.Context, query models.HookQuery) ([]*models.Hook, error) {
	var rows []hookRow
	var err error
	if query.EventType != "" {
		err = r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`SELECT `+hookColumns+` FROM hooks WHERE event_type = ?`), string(query.EventType))
	} else {
		err = r.ro.SelectContext(ctx, &rows, `SELECT `+hookColumns+` FROM hooks`)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*models.Hook, 0, len(rows))
	for i := range rows {
		h, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		if store.MatchesHookQuery(h, query) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
