// Package events provides event types and subject builders for the agentgate event system.
package events

// Event types for sessions
const (
	SessionStarted   = "session.started"
	SessionCompleted = "session.completed"
	SessionFailed    = "session.failed"
	SessionCancelled = "session.cancelled"
	SessionPaused    = "session.paused"
	SessionResumed   = "session.resumed"
	SessionOutput    = "session.output"
)

// Event types for approvals
const (
	ApprovalPending  = "approval.pending"
	ApprovalResolved = "approval.resolved"
)

// Event types for hooks
const (
	HookExecuted = "hook.executed"
	HookBlocked  = "hook.blocked"
)

// Event types for the reconciler
const (
	ReconcilerRun = "reconciler.run"
)

// SessionSubject returns a per-session subject, e.g. "session.output.<id>".
func SessionSubject(eventType, sessionID string) string {
	return eventType + "." + sessionID
}

// SessionWildcardSubject matches one event type across all sessions.
func SessionWildcardSubject(eventType string) string {
	return eventType + ".*"
}
