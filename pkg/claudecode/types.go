// Package claudecode provides the wire types of the Claude Code CLI stream-json protocol.
// Claude Code streams JSON lines over stdin/stdout and asks for tool permission with control requests.
package claudecode

import (
	"encoding/json"
	"strings"
)

// Message types from Claude Code CLI
const (
	MessageTypeSystem          = "system"
	MessageTypeAssistant       = "assistant"
	MessageTypeUser            = "user"
	MessageTypeResult          = "result"
	MessageTypeControlRequest  = "control_request"
	MessageTypeControlResponse = "control_response"
)

// Control request subtypes
const (
	SubtypeCanUseTool        = "can_use_tool"
	SubtypeHookCallback      = "hook_callback"
	SubtypeInterrupt         = "interrupt"
	SubtypeSetPermissionMode = "set_permission_mode"
	SubtypeInit              = "init"
	SubtypeSuccess           = "success"
)

// Common tool names that require permission
const (
	ToolBash         = "Bash"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolNotebookEdit = "NotebookEdit"
	ToolRead         = "Read"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolTask         = "Task"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
)

// Permission behaviors
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// CLIMessage represents messages from Claude Code CLI stdout.
// The message type determines which fields are populated.
type CLIMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// control_request
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`

	// system/init and most later messages
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// assistant and user
	Message *AssistantMessage `json:"message,omitempty"`

	// result: a string on success, sometimes an object
	Result       json.RawMessage `json:"result,omitempty"`
	CostUSD      float64         `json:"cost_usd,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	NumTurns     int             `json:"num_turns,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// Cost returns whichever cost field the CLI version populated.
func (m *CLIMessage) Cost() float64 {
	if m.TotalCostUSD > 0 {
		return m.TotalCostUSD
	}
	return m.CostUSD
}

// ResultText returns the result as text whether it was sent as a string or an object with "text".
func (m *CLIMessage) ResultText() string {
	if len(m.Result) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Result, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Result, &obj); err == nil {
		return obj.Text
	}
	return ""
}

// AssistantMessage contains message content for assistant and user records.
type AssistantMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// ContentBlock is one block of message content (text, thinking, tool_use, tool_result).
type ContentBlock struct {
	Type string `json:"type"`

	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result; Content is a string or a list of text blocks
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentText flattens a tool_result content payload to text.
func (b *ContentBlock) ContentText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(b.Content)
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ControlRequest is a control request from Claude Code CLI (permission or hook callback).
type ControlRequest struct {
	Subtype string `json:"subtype"`

	// can_use_tool
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`

	// hook_callback
	CallbackID string         `json:"callback_id,omitempty"`
	HookInput  map[string]any `json:"input_data,omitempty"`
}

// ControlResponseMessage is sent to answer a control request.
type ControlResponseMessage struct {
	Type     string           `json:"type"` // "control_response"
	Response *ControlResponse `json:"response"`
}

// ControlResponse is the response to a control request.
type ControlResponse struct {
	Subtype   string            `json:"subtype"` // success, error
	RequestID string            `json:"request_id"`
	Response  *PermissionResult `json:"response,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// PermissionResult is the result for tool approval responses.
type PermissionResult struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	// Message is shown to the model on deny.
	Message   string `json:"message,omitempty"`
	Interrupt *bool  `json:"interrupt,omitempty"`
}

// UserMessage is sent to provide a prompt to Claude Code.
type UserMessage struct {
	Type    string          `json:"type"` // "user"
	Message UserMessageBody `json:"message"`
}

// UserMessageBody contains the user message content.
type UserMessageBody struct {
	Role    string `json:"role"` // "user"
	Content string `json:"content"`
}

// NewUserMessage builds a user prompt record.
func NewUserMessage(text string) UserMessage {
	return UserMessage{
		Type:    MessageTypeUser,
		Message: UserMessageBody{Role: "user", Content: text},
	}
}

// NewPermissionResponse builds the control_response answering a can_use_tool request.
func NewPermissionResponse(requestID string, allow bool, input map[string]any, message string) ControlResponseMessage {
	result := &PermissionResult{Behavior: BehaviorDeny, Message: message}
	if allow {
		result = &PermissionResult{Behavior: BehaviorAllow, UpdatedInput: input}
		if result.UpdatedInput == nil {
			result.UpdatedInput = map[string]any{}
		}
	}
	return ControlResponseMessage{
		Type: MessageTypeControlResponse,
		Response: &ControlResponse{
			Subtype:   SubtypeSuccess,
			RequestID: requestID,
			Response:  result,
		},
	}
}
