// Package store defines the repository ports the governance engine reads and writes.
package store

import (
	"context"
	"time"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
)

var (
	// ErrAlreadyResolved is returned when a terminal transition loses the race to another one.
	ErrAlreadyResolved = apperrors.Conflict("approval already resolved")
	// ErrDuplicatePending is returned when a pending approval for the same (session, call id) exists.
	ErrDuplicatePending = apperrors.Conflict("pending approval already exists for this call")
)

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessionsByTask(ctx context.Context, taskID string) ([]*models.Session, error)
	// ListRecentSessionsByAgent returns ended sessions with a summary, newest first.
	ListRecentSessionsByAgent(ctx context.Context, agentID string, limit int) ([]*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
}

// ApprovalStore persists approvals. Records are never deleted.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	// FindPendingByCallID returns a NotFound error when no pending record matches.
	FindPendingByCallID(ctx context.Context, sessionID, callID string) (*models.Approval, error)
	ListPendingBySession(ctx context.Context, sessionID string) ([]*models.Approval, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Approval, error)
	ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.Approval, error)
	// ResolveApproval applies the single terminal transition. Losers get ErrAlreadyResolved.
	ResolveApproval(ctx context.Context, id string, res models.Resolution) (*models.Approval, error)
}

// DiffStore persists staged file changes.
type DiffStore interface {
	CreateDiff(ctx context.Context, diff *models.Diff) error
	GetDiff(ctx context.Context, id string) (*models.Diff, error)
	ListDiffsByStatus(ctx context.Context, status models.DiffStatus) ([]*models.Diff, error)
	ListDiffsBySession(ctx context.Context, sessionID string) ([]*models.Diff, error)
	UpdateDiffStatus(ctx context.Context, id string, status models.DiffStatus) error
	// ClearDiffContent nulls the large text fields and keeps the metadata.
	ClearDiffContent(ctx context.Context, id string) error
}

// TaskStore reads and writes tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

// ProjectStore reads and writes projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// AgentStore reads and writes agents.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// SettingsStore holds the single global settings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// HookStore persists hook configuration.
type HookStore interface {
	CreateHook(ctx context.Context, hook *models.Hook) error
	UpdateHook(ctx context.Context, hook *models.Hook) error
	DeleteHook(ctx context.Context, id string) error
	GetHook(ctx context.Context, id string) (*models.Hook, error)
	ListHooks(ctx context.Context, query models.HookQuery) ([]*models.Hook, error)
}

// Store bundles every repository port.
type Store interface {
	SessionStore
	ApprovalStore
	DiffStore
	TaskStore
	ProjectStore
	AgentStore
	SettingsStore
	HookStore
	Close() error
}

// DefaultSettings are returned when no settings row exists yet.
func DefaultSettings() *models.Settings {
	return &models.Settings{
		DefaultProvider: "claude",
		SummaryLimit:    3,
	}
}

// MatchesHookQuery reports whether a hook belongs in the pass described by q.
// Global hooks always match; project and task hooks match their owner only.
func MatchesHookQuery(h *models.Hook, q models.HookQuery) bool {
	if q.EnabledOnly && !h.Enabled {
		return false
	}
	if q.EventType != "" && h.EventType != q.EventType {
		return false
	}
	switch h.Scope {
	case models.HookScopeProject:
		return (q.ProjectID == "" && q.TaskID == "") || h.ProjectID == q.ProjectID
	case models.HookScopeTask:
		return (q.ProjectID == "" && q.TaskID == "") || h.TaskID == q.TaskID
	}
	return true
}
