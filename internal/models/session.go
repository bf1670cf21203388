// Package models holds the persisted and transient records of the governance engine.
package models

import "time"

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	SessionQueued    SessionStatus = "queued"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionQueued:  {SessionRunning, SessionFailed, SessionCancelled},
	SessionRunning: {SessionPaused, SessionCompleted, SessionFailed, SessionCancelled},
	SessionPaused:  {SessionRunning, SessionCompleted, SessionFailed, SessionCancelled},
}

// IsTerminal reports whether no transition may leave this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// IsActive reports whether the session still owns its task.
func (s SessionStatus) IsActive() bool {
	return s == SessionQueued || s == SessionRunning || s == SessionPaused
}

// CanTransition reports whether moving from s to next is allowed.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PermissionMode controls how much auto-approval applies to a session.
type PermissionMode string

const (
	PermissionModeDefault     PermissionMode = "default"
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	PermissionModeBypass      PermissionMode = "bypassPermissions"
)

// Valid reports whether m is a known mode.
func (m PermissionMode) Valid() bool {
	switch m {
	case PermissionModeDefault, PermissionModeAcceptEdits, PermissionModeBypass:
		return true
	}
	return false
}

// Session is one spawned agent process tied to a task.
type Session struct {
	ID                string         `json:"id" db:"id"`
	TaskID            string         `json:"task_id" db:"task_id"`
	AgentID           *string        `json:"agent_id,omitempty" db:"agent_id"`
	ParentSessionID   *string        `json:"parent_session_id,omitempty" db:"parent_session_id"`
	Forked            bool           `json:"forked" db:"forked"`
	Status            SessionStatus  `json:"status" db:"status"`
	Provider          string         `json:"provider" db:"provider"`
	Model             string         `json:"model" db:"model"`
	ProcessHandle     string         `json:"process_handle,omitempty" db:"process_handle"`
	ExternalSessionID string         `json:"external_session_id,omitempty" db:"external_session_id"`
	WorkingDir        string         `json:"working_dir" db:"working_dir"`
	PermissionMode    PermissionMode `json:"permission_mode" db:"permission_mode"`
	HookMode          bool           `json:"hook_mode" db:"hook_mode"`
	InputTokens       int64          `json:"input_tokens" db:"input_tokens"`
	OutputTokens      int64          `json:"output_tokens" db:"output_tokens"`
	CostUSD           float64        `json:"cost_usd" db:"cost_usd"`
	ErrorMessage      string         `json:"error_message,omitempty" db:"error_message"`
	Summary           string         `json:"summary,omitempty" db:"summary"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty" db:"started_at"`
	EndedAt           *time.Time     `json:"ended_at,omitempty" db:"ended_at"`
}
