// Package agentproc spawns agent CLI processes and normalizes their line-delimited output.
package agentproc

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventKind is the closed set of normalized output kinds.
type EventKind string

const (
	EventMessage    EventKind = "message"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventSystem     EventKind = "system"
)

// System subtypes emitted by the adapter itself.
const (
	SubtypeInit      = "init"
	SubtypeSessionID = "session_id"
	SubtypeResult    = "result"
	SubtypeParse     = "parse_error"
	SubtypeError     = "error"
	SubtypeReasoning = "reasoning"
)

// Usage is token and cost accounting reported by a provider.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Event is one normalized record from an agent process.
type Event struct {
	Kind      EventKind `json:"kind"`
	Handle    string    `json:"handle"`
	SessionID string    `json:"session_id,omitempty"`
	Subtype   string    `json:"subtype,omitempty"`
	Text      string    `json:"text,omitempty"`

	// Tool fields. ToolName is canonical, RawToolName is what the provider sent.
	ToolName        string         `json:"tool_name,omitempty"`
	RawToolName     string         `json:"raw_tool_name,omitempty"`
	ToolInput       map[string]any `json:"tool_input,omitempty"`
	CallID          string         `json:"call_id,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	NeedsPermission bool           `json:"needs_permission,omitempty"`
	IsError         bool           `json:"is_error,omitempty"`

	Usage     *Usage    `json:"usage,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpawnConfig describes one agent process.
type SpawnConfig struct {
	Provider        string
	Model           string
	FallbackModel   string
	WorkingDir      string
	Prompt          string
	SystemPrompt    string
	ResumeSessionID string
	Fork            bool
	DisallowedTools []string
	PermissionMode  string
	MaxBudgetUSD    float64
	Env             []string

	// Callbacks attached before the process starts so no early output is missed.
	OnOutput func(Event)
	OnExit   func(ExitInfo)
}

// Command is what a provider wants executed.
type Command struct {
	Path string
	Args []string
	// Stdin is written once the process has started.
	Stdin []byte
	// CloseStdin closes the input stream after Stdin was written.
	CloseStdin bool
}

// Provider is one agent CLI dialect.
type Provider interface {
	Name() string
	BuildCommand(cfg SpawnConfig) (*Command, error)
	// ParseLine maps one complete output line to events. It never fails:
	// unparseable lines become system events carrying the raw text.
	ParseLine(line []byte) []Event
	EncodeUserMessage(text string) ([]byte, error)
	EncodeApprovalResponse(requestID string, approved bool, input map[string]any, reason string) ([]byte, error)
	SupportsPause() bool
	SupportsInput() bool
}

// Providers is a name-keyed set of providers.
type Providers struct {
	mu     sync.RWMutex
	byName map[string]Provider
}

// NewProviders registers the given providers.
func NewProviders(providers ...Provider) *Providers {
	p := &Providers{byName: make(map[string]Provider, len(providers))}
	for _, prov := range providers {
		p.Register(prov)
	}
	return p
}

// Register adds or replaces a provider.
func (p *Providers) Register(prov Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[prov.Name()] = prov
}

// Get returns the provider registered under name.
func (p *Providers) Get(name string) (Provider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prov, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return prov, nil
}

// Names lists registered provider names.
func (p *Providers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mapToolName translates a provider tool name through its table, keeping unknown names.
func mapToolName(table map[string]string, raw string) string {
	if canonical, ok := table[raw]; ok {
		return canonical
	}
	return raw
}

func rawEvent(line []byte, subtype string) Event {
	return Event{
		Kind:    EventSystem,
		Subtype: subtype,
		Text:    string(line),
		Raw:     string(line),
	}
}
