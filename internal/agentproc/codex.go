package agentproc

import (
	"encoding/json"
	"time"

	"github.com/kandev/agentgate/internal/models"
)

// ProviderCodex is the Codex CLI provider name.
const ProviderCodex = "codex"

// Codex exec event types.
const (
	codexThreadStarted = "thread.started"
	codexTurnStarted   = "turn.started"
	codexTurnCompleted = "turn.completed"
	codexTurnFailed    = "turn.failed"
	codexItemStarted   = "item.started"
	codexItemUpdated   = "item.updated"
	codexItemCompleted = "item.completed"
	codexError         = "error"
)

// Codex item types.
const (
	codexItemCommand   = "command_execution"
	codexItemFile      = "file_change"
	codexItemMCP       = "mcp_tool_call"
	codexItemMessage   = "agent_message"
	codexItemReasoning = "reasoning"
	codexItemWebSearch = "web_search"
	codexItemTodo      = "todo_list"
)

var codexToolNames = map[string]string{
	codexItemCommand:   models.ToolBash,
	codexItemFile:      models.ToolEdit,
	codexItemMCP:       models.ToolMCP,
	codexItemWebSearch: models.ToolWebSearch,
	codexItemTodo:      models.ToolTodoWrite,
}

type codexEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id,omitempty"`
	Item     *codexItem `json:"item,omitempty"`
	Usage    *struct {
		InputTokens       int64 `json:"input_tokens"`
		CachedInputTokens int64 `json:"cached_input_tokens"`
		OutputTokens      int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type codexItem struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Text             string `json:"text,omitempty"`
	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         *int   `json:"exit_code,omitempty"`
	Status           string `json:"status,omitempty"`
	Changes          []struct {
		Path string `json:"path"`
		Kind string `json:"kind"`
	} `json:"changes,omitempty"`
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Query  string         `json:"query,omitempty"`
	Args   map[string]any `json:"arguments,omitempty"`
}

// Codex drives `codex exec --json`. The prompt is an argument and the CLI
// applies its own sandbox policy, so it takes no input after start.
type Codex struct {
	binary string
}

// NewCodex creates the Codex provider for the given binary.
func NewCodex(binary string) *Codex {
	if binary == "" {
		binary = "codex"
	}
	return &Codex{binary: binary}
}

func (c *Codex) Name() string        { return ProviderCodex }
func (c *Codex) SupportsPause() bool { return true }
func (c *Codex) SupportsInput() bool { return false }

func (c *Codex) BuildCommand(cfg SpawnConfig) (*Command, error) {
	prompt := cfg.Prompt
	if cfg.SystemPrompt != "" {
		prompt = cfg.SystemPrompt + "\n\n" + prompt
	}
	b := newCmd(c.binary, "exec")
	if cfg.ResumeSessionID != "" {
		b.Flag("resume", cfg.ResumeSessionID)
	}
	b.Flag("--json", "--skip-git-repo-check").
		Opt("--model", cfg.Model).
		Opt("--cd", cfg.WorkingDir).
		If(cfg.PermissionMode == string(models.PermissionModeBypass), "--dangerously-bypass-approvals-and-sandbox").
		If(cfg.PermissionMode == string(models.PermissionModeAcceptEdits), "--full-auto").
		Flag(prompt)
	cmd := b.Build()
	cmd.CloseStdin = true
	return cmd, nil
}

func (c *Codex) EncodeUserMessage(string) ([]byte, error) {
	return nil, ErrInputUnsupported
}

func (c *Codex) EncodeApprovalResponse(string, bool, map[string]any, string) ([]byte, error) {
	return nil, ErrInputUnsupported
}

func (c *Codex) ParseLine(line []byte) []Event {
	var msg codexEvent
	if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
		return []Event{rawEvent(line, SubtypeParse)}
	}
	base := Event{Raw: string(line), Timestamp: time.Now().UTC()}

	switch msg.Type {
	case codexThreadStarted:
		ev := base
		ev.Kind = EventSystem
		ev.Subtype = SubtypeInit
		ev.SessionID = msg.ThreadID
		return []Event{ev}

	case codexTurnCompleted:
		ev := base
		ev.Kind = EventSystem
		ev.Subtype = SubtypeResult
		ev.Usage = &Usage{}
		if msg.Usage != nil {
			ev.Usage.InputTokens = msg.Usage.InputTokens + msg.Usage.CachedInputTokens
			ev.Usage.OutputTokens = msg.Usage.OutputTokens
		}
		return []Event{ev}

	case codexTurnFailed, codexError:
		ev := base
		ev.Kind = EventSystem
		ev.Subtype = SubtypeError
		ev.IsError = true
		ev.Text = msg.Message
		if msg.Error != nil {
			ev.Text = msg.Error.Message
		}
		return []Event{ev}

	case codexItemStarted, codexItemUpdated, codexItemCompleted:
		if msg.Item == nil {
			return nil
		}
		return c.itemEvents(base, msg.Type, msg.Item)
	}

	ev := base
	ev.Kind = EventSystem
	ev.Subtype = msg.Type
	return []Event{ev}
}

func (c *Codex) itemEvents(base Event, phase string, item *codexItem) []Event {
	ev := base
	switch item.Type {
	case codexItemMessage:
		if phase != codexItemCompleted {
			return nil
		}
		ev.Kind = EventMessage
		ev.Text = item.Text
		return []Event{ev}

	case codexItemReasoning:
		if phase != codexItemCompleted {
			return nil
		}
		ev.Kind = EventSystem
		ev.Subtype = SubtypeReasoning
		ev.Text = item.Text
		return []Event{ev}
	}

	ev.CallID = item.ID
	ev.RawToolName = item.Type
	ev.ToolName = mapToolName(codexToolNames, item.Type)
	if item.Type == codexItemMCP && item.Tool != "" {
		ev.RawToolName = item.Server + "/" + item.Tool
	}

	if phase == codexItemStarted {
		ev.Kind = EventToolUse
		ev.ToolInput = codexToolInput(item)
		return []Event{ev}
	}
	if phase != codexItemCompleted {
		return nil
	}
	ev.Kind = EventToolResult
	ev.Text = item.AggregatedOutput
	ev.IsError = item.Status == "failed" || (item.ExitCode != nil && *item.ExitCode != 0)
	return []Event{ev}
}

func codexToolInput(item *codexItem) map[string]any {
	switch item.Type {
	case codexItemCommand:
		return map[string]any{"command": item.Command}
	case codexItemFile:
		input := map[string]any{}
		if len(item.Changes) > 0 {
			input["file_path"] = item.Changes[0].Path
		}
		changes := make([]any, 0, len(item.Changes))
		for _, ch := range item.Changes {
			changes = append(changes, map[string]any{"path": ch.Path, "kind": ch.Kind})
		}
		input["changes"] = changes
		return input
	case codexItemWebSearch:
		return map[string]any{"query": item.Query}
	}
	if item.Args != nil {
		return item.Args
	}
	return map[string]any{}
}
