// Package approval gates agent tool calls behind policy and human decisions.
package approval

import (
	"slices"
	"sort"
	"time"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/models"
)

// Config holds the gate's timing and defaults.
type Config struct {
	Timeout          time.Duration
	DefaultOnTimeout models.TimeoutAction
	HookModeDefault  bool
}

// ConfigFrom maps the approval config section.
func ConfigFrom(cfg config.ApprovalConfig) Config {
	action := models.TimeoutDeny
	if cfg.DefaultOnTimeout == string(models.TimeoutAllow) {
		action = models.TimeoutAllow
	}
	return Config{
		Timeout:          cfg.Timeout(),
		DefaultOnTimeout: action,
		HookModeDefault:  cfg.HookModeDefault,
	}
}

// CheckOptions carries caller-side risk input, e.g. the hook safety check.
type CheckOptions struct {
	ForceDangerous bool
	Reasons        []string
}

// Decision is the outcome of the interactive check.
type Decision struct {
	Allowed    bool                `json:"allowed"`
	Reason     string              `json:"reason"`
	ApprovalID string              `json:"approval_id,omitempty"`
	Risk       models.RiskCategory `json:"risk"`
	Source     DecisionSource      `json:"source"`
}

// PollDecision is the polling protocol verdict.
type PollDecision string

const (
	PollAllow   PollDecision = "allow"
	PollDeny    PollDecision = "deny"
	PollPending PollDecision = "pending"
)

// PollRequest is a hook process asking whether a tool call may run.
type PollRequest struct {
	SessionID string         `json:"session_id" binding:"required"`
	ToolName  string         `json:"tool_name" binding:"required"`
	Input     map[string]any `json:"input"`
	CallID    string         `json:"call_id"`
}

// PollResponse is returned by RequestApproval and Status.
type PollResponse struct {
	Decision   PollDecision          `json:"decision"`
	ApprovalID string                `json:"approval_id,omitempty"`
	Status     models.ApprovalStatus `json:"status,omitempty"`
	TimeoutAt  *time.Time            `json:"timeout_at,omitempty"`
	Risk       models.RiskCategory   `json:"risk"`
	Reason     string                `json:"reason,omitempty"`
}

// SafetyCheck returns reasons a tool call is destructive regardless of policy.
type SafetyCheck func(toolName string, input map[string]any) []string

// Notifier pushes approval requests to interactive clients of a session.
type Notifier interface {
	NotifyApprovalRequest(sessionID string, approval *models.Approval) error
}

// SessionState is a snapshot of a session's approval state.
type SessionState struct {
	AllowedTools []string              `json:"allowed_tools"`
	Mode         models.PermissionMode `json:"mode"`
	HookMode     bool                  `json:"hook_mode"`
}

func (s SessionState) allows(tool string) bool {
	return slices.Contains(s.AllowedTools, tool)
}

// sessionState lives from the first tool call until the session ends.
type sessionState struct {
	allowed  map[string]bool
	mode     models.PermissionMode
	hookMode bool
}

func newSessionState(hookMode bool) *sessionState {
	return &sessionState{
		allowed:  make(map[string]bool),
		mode:     models.PermissionModeDefault,
		hookMode: hookMode,
	}
}

func (s *sessionState) snapshot() SessionState {
	tools := make([]string, 0, len(s.allowed))
	for tool := range s.allowed {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return SessionState{AllowedTools: tools, Mode: s.mode, HookMode: s.hookMode}
}
