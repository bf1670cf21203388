// Package hooks runs user-configured extensions on engine events.
package hooks

import (
	"context"

	"github.com/kandev/agentgate/internal/models"
)

// Context is the event a hook pass runs for. Every transport receives the same shape.
type Context struct {
	EventType  models.HookEventType `json:"event_type"`
	SessionID  string               `json:"session_id,omitempty"`
	TaskID     string               `json:"task_id,omitempty"`
	ProjectID  string               `json:"project_id,omitempty"`
	Provider   string               `json:"provider,omitempty"`
	WorkingDir string               `json:"working_dir,omitempty"`
	ToolName   string               `json:"tool_name,omitempty"`
	ToolInput  map[string]any       `json:"tool_input,omitempty"`
	ToolOutput string               `json:"tool_output,omitempty"`
	CallID     string               `json:"call_id,omitempty"`
	Status     string               `json:"status,omitempty"`
	Data       map[string]any       `json:"data,omitempty"`
}

// Report is the outcome of one pass.
type Report struct {
	Results     []models.HookResult `json:"results"`
	Blocked     bool                `json:"blocked"`
	BlockedBy   string              `json:"blocked_by,omitempty"`
	BlockReason string              `json:"block_reason,omitempty"`
}

// Runner executes one hook through its transport and returns its textual output.
type Runner interface {
	Run(ctx context.Context, hook *models.Hook, hctx Context) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, hook *models.Hook, hctx Context) (string, error)

func (f RunnerFunc) Run(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
	return f(ctx, hook, hctx)
}

// Invocation is a hook call delivered over a session's socket.
type Invocation struct {
	ID       string  `json:"id"`
	HookID   string  `json:"hook_id"`
	HookName string  `json:"hook_name"`
	Context  Context `json:"context"`
}

// SocketSender delivers invocations to clients connected for a session and waits
// for their result.
type SocketSender interface {
	InvokeHook(ctx context.Context, sessionID string, inv Invocation) (string, error)
}
