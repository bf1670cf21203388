package models

import "time"

// HookEventType names the engine event a hook is bound to.
type HookEventType string

const (
	HookToolBefore      HookEventType = "tool:before"
	HookToolAfter       HookEventType = "tool:after"
	HookSessionStart    HookEventType = "session:start"
	HookSessionEnd      HookEventType = "session:end"
	HookApprovalPending HookEventType = "approval:pending"
)

// Valid reports whether t is a known event type.
func (t HookEventType) Valid() bool {
	switch t {
	case HookToolBefore, HookToolAfter, HookSessionStart, HookSessionEnd, HookApprovalPending:
		return true
	}
	return false
}

// HookTransport is how a hook is executed.
type HookTransport string

const (
	HookTransportShell     HookTransport = "shell"
	HookTransportHTTP      HookTransport = "http"
	HookTransportWebsocket HookTransport = "websocket"
)

// HookScope is the owner of a hook.
type HookScope string

const (
	HookScopeGlobal  HookScope = "global"
	HookScopeProject HookScope = "project"
	HookScopeTask    HookScope = "task"
)

// HookFilter restricts which events trigger a hook. Empty lists match everything.
type HookFilter struct {
	ToolNames []string `json:"tool_names,omitempty" yaml:"tools,omitempty"`
	Statuses  []string `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Providers []string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Hook is a user-configured extension.
type Hook struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Scope          HookScope     `json:"scope"`
	ProjectID      string        `json:"project_id,omitempty"`
	TaskID         string        `json:"task_id,omitempty"`
	EventType      HookEventType `json:"event_type"`
	Transport      HookTransport `json:"transport"`
	Command        string        `json:"command,omitempty"`
	URL            string        `json:"url,omitempty"`
	Filter         HookFilter    `json:"filter"`
	Priority       int           `json:"priority"`
	Blocking       bool          `json:"blocking"`
	Enabled        bool          `json:"enabled"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// HookResult is the recorded outcome of one hook execution.
type HookResult struct {
	HookID     string        `json:"hook_id"`
	HookName   string        `json:"hook_name"`
	Transport  HookTransport `json:"transport"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Blocking   bool          `json:"blocking"`
	DurationMs int64         `json:"duration_ms"`
}

// HookQuery selects hooks for one execution pass.
type HookQuery struct {
	EventType HookEventType
	ProjectID string
	TaskID    string
	// EnabledOnly drops disabled hooks.
	EnabledOnly bool
}
