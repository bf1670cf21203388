package agentproc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/pkg/claudecode"
)

// ProviderClaude is the Claude Code CLI provider name.
const ProviderClaude = "claude"

var claudeToolNames = map[string]string{
	claudecode.ToolBash:         models.ToolBash,
	claudecode.ToolWrite:        models.ToolWrite,
	claudecode.ToolEdit:         models.ToolEdit,
	claudecode.ToolMultiEdit:    models.ToolMultiEdit,
	claudecode.ToolNotebookEdit: models.ToolNotebookEdit,
	claudecode.ToolRead:         models.ToolRead,
	claudecode.ToolGlob:         models.ToolGlob,
	claudecode.ToolGrep:         models.ToolGrep,
	claudecode.ToolTask:         models.ToolTask,
	claudecode.ToolWebFetch:     models.ToolWebFetch,
	claudecode.ToolWebSearch:    models.ToolWebSearch,
}

// Claude drives `claude -p` in bidirectional stream-json mode. Tool permission
// is requested over stdio as control_request/can_use_tool records. The CLI always
// runs in its default permission mode so every tool call reaches the gate; the
// session's mode is applied there.
type Claude struct {
	binary string
}

// NewClaude creates the Claude provider for the given binary.
func NewClaude(binary string) *Claude {
	if binary == "" {
		binary = "claude"
	}
	return &Claude{binary: binary}
}

func (c *Claude) Name() string        { return ProviderClaude }
func (c *Claude) SupportsPause() bool { return true }
func (c *Claude) SupportsInput() bool { return true }

func (c *Claude) BuildCommand(cfg SpawnConfig) (*Command, error) {
	b := newCmd(c.binary,
		"-p", "--output-format", "stream-json", "--input-format", "stream-json",
		"--verbose", "--permission-prompt-tool", "stdio").
		Opt("--model", cfg.Model).
		Opt("--fallback-model", cfg.FallbackModel).
		Opt("--append-system-prompt", cfg.SystemPrompt).
		Opt("--resume", cfg.ResumeSessionID).
		If(cfg.ResumeSessionID != "" && cfg.Fork, "--fork-session").
		List("--disallowedTools", cfg.DisallowedTools).
		Float("--max-budget-usd", cfg.MaxBudgetUSD)

	cmd := b.Build()
	if cfg.Prompt != "" {
		data, err := c.EncodeUserMessage(cfg.Prompt)
		if err != nil {
			return nil, err
		}
		cmd.Stdin = data
	}
	return cmd, nil
}

func (c *Claude) EncodeUserMessage(text string) ([]byte, error) {
	return encodeLine(claudecode.NewUserMessage(text))
}

func (c *Claude) EncodeApprovalResponse(requestID string, approved bool, input map[string]any, reason string) ([]byte, error) {
	if requestID == "" {
		return nil, fmt.Errorf("approval response requires a request id")
	}
	if !approved && reason == "" {
		reason = "denied"
	}
	return encodeLine(claudecode.NewPermissionResponse(requestID, approved, input, reason))
}

func (c *Claude) ParseLine(line []byte) []Event {
	var msg claudecode.CLIMessage
	if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
		return []Event{rawEvent(line, SubtypeParse)}
	}
	now := time.Now().UTC()
	base := Event{SessionID: msg.SessionID, Raw: string(line), Timestamp: now}

	switch msg.Type {
	case claudecode.MessageTypeSystem:
		ev := base
		ev.Kind = EventSystem
		ev.Subtype = msg.Subtype
		ev.Text = msg.Model
		return []Event{ev}

	case claudecode.MessageTypeAssistant:
		return c.assistantEvents(base, msg.Message)

	case claudecode.MessageTypeUser:
		return c.toolResultEvents(base, msg.Message)

	case claudecode.MessageTypeResult:
		ev := base
		ev.Kind = EventSystem
		ev.Subtype = SubtypeResult
		ev.Text = msg.ResultText()
		ev.IsError = msg.IsError
		ev.Usage = &Usage{CostUSD: msg.Cost()}
		if msg.Usage != nil {
			ev.Usage.InputTokens = msg.Usage.InputTokens
			ev.Usage.OutputTokens = msg.Usage.OutputTokens
		}
		return []Event{ev}

	case claudecode.MessageTypeControlRequest:
		if msg.Request == nil || msg.Request.Subtype != claudecode.SubtypeCanUseTool {
			ev := base
			ev.Kind = EventSystem
			ev.Subtype = msg.Type
			ev.RequestID = msg.RequestID
			return []Event{ev}
		}
		ev := base
		ev.Kind = EventToolUse
		ev.RawToolName = msg.Request.ToolName
		ev.ToolName = mapToolName(claudeToolNames, msg.Request.ToolName)
		ev.ToolInput = msg.Request.Input
		ev.CallID = msg.Request.ToolUseID
		ev.RequestID = msg.RequestID
		ev.NeedsPermission = true
		return []Event{ev}
	}

	ev := base
	ev.Kind = EventSystem
	ev.Subtype = msg.Type
	return []Event{ev}
}

func (c *Claude) assistantEvents(base Event, m *claudecode.AssistantMessage) []Event {
	if m == nil {
		return nil
	}
	var events []Event
	for _, block := range m.Content {
		ev := base
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			ev.Kind = EventMessage
			ev.Text = block.Text
		case "thinking":
			ev.Kind = EventSystem
			ev.Subtype = SubtypeReasoning
			ev.Text = block.Thinking
		case "tool_use":
			ev.Kind = EventToolUse
			ev.RawToolName = block.Name
			ev.ToolName = mapToolName(claudeToolNames, block.Name)
			ev.ToolInput = block.Input
			ev.CallID = block.ID
		default:
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (c *Claude) toolResultEvents(base Event, m *claudecode.AssistantMessage) []Event {
	if m == nil {
		return nil
	}
	var events []Event
	for _, block := range m.Content {
		if block.Type != "tool_result" {
			continue
		}
		ev := base
		ev.Kind = EventToolResult
		ev.CallID = block.ToolUseID
		ev.Text = block.ContentText()
		ev.IsError = block.IsError
		events = append(events, ev)
	}
	return events
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(data, '\n'), nil
}
