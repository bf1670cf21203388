package models

import "time"

// ApprovalKind says what the gated action touches.
type ApprovalKind string

const (
	ApprovalKindTool    ApprovalKind = "tool"
	ApprovalKindDiff    ApprovalKind = "diff"
	ApprovalKindCommand ApprovalKind = "command"
)

// RiskCategory is the classifier verdict for a tool call.
type RiskCategory string

const (
	RiskSafe             RiskCategory = "safe"
	RiskRequiresApproval RiskCategory = "requires-approval"
	RiskDangerous        RiskCategory = "dangerous"
)

// ApprovalStatus is pending until its single terminal transition.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// IsTerminal reports whether the approval has been decided.
func (s ApprovalStatus) IsTerminal() bool {
	return s != ApprovalPending
}

// TimeoutAction is applied when nobody answers in time.
type TimeoutAction string

const (
	TimeoutAllow TimeoutAction = "allow"
	TimeoutDeny  TimeoutAction = "deny"
)

// ToolCallRequest is an intercepted tool invocation. Never persisted on its own.
type ToolCallRequest struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	Input     map[string]any `json:"input"`
	CallID    string         `json:"call_id,omitempty"`
}

// ApprovalPayload is what the agent asked to do.
type ApprovalPayload struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	CallID   string         `json:"call_id,omitempty"`
}

// Approval is the persisted decision record for an escalated tool call.
type Approval struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	Kind             ApprovalKind    `json:"kind"`
	Payload          ApprovalPayload `json:"payload"`
	Risk             RiskCategory    `json:"risk"`
	Reasons          []string        `json:"reasons,omitempty"`
	Status           ApprovalStatus  `json:"status"`
	TimeoutAt        time.Time       `json:"timeout_at"`
	DefaultOnTimeout TimeoutAction   `json:"default_on_timeout"`
	DecidedBy        string          `json:"decided_by,omitempty"`
	DecidedAt        *time.Time      `json:"decided_at,omitempty"`
	DecisionReason   string          `json:"decision_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// TimeoutAllows reports whether an unanswered approval lets the call through.
func (a *Approval) TimeoutAllows() bool {
	return a.DefaultOnTimeout == TimeoutAllow
}

// Resolution is the single terminal transition applied to a pending approval.
type Resolution struct {
	Status    ApprovalStatus
	DecidedBy string
	Reason    string
	DecidedAt time.Time
}

// ApprovalFilter narrows approval listings.
type ApprovalFilter struct {
	SessionID string
	Status    ApprovalStatus
	Limit     int
}
