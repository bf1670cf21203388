package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// CreateProject inserts a project
func (r *Repository) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO projects (id, name, path, system_prompt, created_at) VALUES (?, ?, ?, ?, ?)
	`), p.ID, p.Name, p.Path, p.SystemPrompt, p.CreatedAt)
	return err
}

// GetProject retrieves a project by ID
func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := &models.Project{}
	err := r.ro.GetContext(ctx, p, r.ro.Rebind(`
		SELECT id, name, path, system_prompt, created_at FROM projects WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("project", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateTask inserts a task
func (r *Repository) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO tasks (id, project_id, title, description, agent_id, working_dir, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.ProjectID, t.Title, t.Description, t.AgentID, t.WorkingDir, t.CreatedAt)
	return err
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t := &models.Task{}
	err := r.ro.GetContext(ctx, t, r.ro.Rebind(`
		SELECT id, project_id, title, description, agent_id, working_dir, created_at FROM tasks WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateAgent inserts an agent
func (r *Repository) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agents (id, name, role, provider, model, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`), a.ID, a.Name, a.Role, a.Provider, a.Model, a.CreatedAt)
	return err
}

// GetAgent retrieves an agent by ID
func (r *Repository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a := &models.Agent{}
	err := r.ro.GetContext(ctx, a, r.ro.Rebind(`
		SELECT id, name, role, provider, model, created_at FROM agents WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetSettings returns the global settings, or defaults when none were saved
func (r *Repository) GetSettings(ctx context.Context) (*models.Settings, error) {
	s := &models.Settings{}
	err := r.ro.GetContext(ctx, s, `
		SELECT default_provider, default_model, fallback_model, system_prompt, max_budget_usd, summary_limit
		FROM settings WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultSettings(), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SaveSettings upserts the global settings row
func (r *Repository) SaveSettings(ctx context.Context, s *models.Settings) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO settings (id, default_provider, default_model, fallback_model, system_prompt, max_budget_usd, summary_limit)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			default_provider = excluded.default_provider,
			default_model = excluded.default_model,
			fallback_model = excluded.fallback_model,
			system_prompt = excluded.system_prompt,
			max_budget_usd = excluded.max_budget_usd,
			summary_limit = excluded.summary_limit
	`), s.DefaultProvider, s.DefaultModel, s.FallbackModel, s.SystemPrompt, s.MaxBudgetUSD, s.SummaryLimit)
	return err
}
