// Package session owns the lifecycle of agent sessions: start, pause, resume,
// stop and the handling of everything their processes emit.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/agentproc"
	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// ProcessAdapter is the part of the process adapter the manager drives.
type ProcessAdapter interface {
	Spawn(ctx context.Context, cfg agentproc.SpawnConfig) (*agentproc.SpawnResult, error)
	SendMessage(handle, text string) error
	RespondToToolCall(handle, requestID string, approved bool, reason string) error
	Terminate(ctx context.Context, handle string) error
	Pause(handle string) error
	Resume(handle string) error
}

// ApprovalSessions is the session-state side of the approval gate.
type ApprovalSessions interface {
	ApprovalChecker
	SetMode(ctx context.Context, sessionID string, mode models.PermissionMode) error
	SetHookMode(ctx context.Context, sessionID string, hookMode bool) error
	AllowToolForSession(ctx context.Context, sessionID, toolName string) error
	EndSession(ctx context.Context, sessionID, reason string) (int, error)
}

// Repository is the storage the manager reads and writes.
type Repository interface {
	store.SessionStore
	store.TaskStore
	store.ProjectStore
	store.AgentStore
	store.SettingsStore
}

// Config holds manager defaults.
type Config struct {
	DefaultProvider string
	HookModeDefault bool
}

// ConfigFrom maps the process and approval config sections.
func ConfigFrom(proc config.ProcessConfig, appr config.ApprovalConfig) Config {
	return Config{DefaultProvider: proc.DefaultProvider, HookModeDefault: appr.HookModeDefault}
}

// StartRequest asks for a new session on a task.
type StartRequest struct {
	TaskID          string                `json:"task_id" binding:"required"`
	AgentID         string                `json:"agent_id,omitempty"`
	Provider        string                `json:"provider,omitempty"`
	Model           string                `json:"model,omitempty"`
	Prompt          string                `json:"prompt,omitempty"`
	WorkingDir      string                `json:"working_dir,omitempty"`
	ParentSessionID string                `json:"parent_session_id,omitempty"`
	Fork            bool                  `json:"fork,omitempty"`
	PermissionMode  models.PermissionMode `json:"permission_mode,omitempty"`
	HookMode        *bool                 `json:"hook_mode,omitempty"`
	AllowedTools    []string              `json:"allowed_tools,omitempty"`
	DisallowedTools []string              `json:"disallowed_tools,omitempty"`
}

// Result is the outcome of a lifecycle operation.
type Result struct {
	Success bool            `json:"success"`
	Session *models.Session `json:"session,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StartResult is the outcome of Start. A failed spawn is a result, not an error.
type StartResult struct {
	Result
	// PlaceholderSessionID is set when the provider had not reported its session
	// id in time and the adapter issued one.
	PlaceholderSessionID bool `json:"placeholder_session_id,omitempty"`
}

// liveSession is the in-memory side of a session that has a process.
type liveSession struct {
	scope Scope

	// opMu serializes status transitions of the session.
	opMu sync.Mutex

	mu         sync.Mutex
	handle     string
	externalID string
	usage      agentproc.Usage
	lastResult string
	ended      bool
}

func (l *liveSession) currentScope() Scope {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.scope
	s.Handle = l.handle
	return s
}

func (l *liveSession) setHandle(handle, externalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handle = handle
	if l.externalID == "" {
		l.externalID = externalID
	}
}

func (l *liveSession) handleValue() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle
}

func (l *liveSession) setExternalID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.externalID = id
}

func (l *liveSession) externalSessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.externalID
}

// addResult accounts one result event. Tokens are per turn; providers report
// cost as a running total.
func (l *liveSession) addResult(u *agentproc.Usage, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u != nil {
		l.usage.InputTokens += u.InputTokens
		l.usage.OutputTokens += u.OutputTokens
		if u.CostUSD > l.usage.CostUSD {
			l.usage.CostUSD = u.CostUSD
		}
	}
	if text != "" {
		l.lastResult = text
	}
}

// applyUsage copies the accounting into the record.
func (l *liveSession) applyUsage(sess *models.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.usage.InputTokens > sess.InputTokens {
		sess.InputTokens = l.usage.InputTokens
	}
	if l.usage.OutputTokens > sess.OutputTokens {
		sess.OutputTokens = l.usage.OutputTokens
	}
	if l.usage.CostUSD > sess.CostUSD {
		sess.CostUSD = l.usage.CostUSD
	}
	if l.lastResult != "" {
		sess.Summary = truncateSummary(l.lastResult)
	}
	if l.externalID != "" {
		sess.ExternalSessionID = l.externalID
	}
}

func (l *liveSession) markEnded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return false
	}
	l.ended = true
	return true
}

func (l *liveSession) isEnded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}

// Manager runs sessions against the process adapter, the approval gate and the
// hook executor.
type Manager struct {
	repo     Repository
	adapter  ProcessAdapter
	gate     ApprovalSessions
	hooks    HookRunner
	guard    *ToolGuard
	eventBus bus.EventBus
	metrics  *metrics.Metrics
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time

	taskLocks *keyedMutex

	mu     sync.RWMutex
	live   map[string]*liveSession
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. hookRunner, recorder, eventBus and m may be nil.
func NewManager(
	repo Repository,
	adapter ProcessAdapter,
	gate ApprovalSessions,
	hookRunner HookRunner,
	recorder DiffRecorder,
	eventBus bus.EventBus,
	m *metrics.Metrics,
	cfg Config,
	log *logger.Logger,
) *Manager {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = agentproc.ProviderClaude
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:      repo,
		adapter:   adapter,
		gate:      gate,
		hooks:     hookRunner,
		guard:     NewToolGuard(gate, hookRunner, recorder, adapter, log),
		eventBus:  eventBus,
		metrics:   m,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "session-manager")),
		now:       func() time.Time { return time.Now().UTC() },
		taskLocks: newKeyedMutex(),
		live:      make(map[string]*liveSession),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Guard returns the tool guard sessions report their tool calls to.
func (m *Manager) Guard() *ToolGuard {
	return m.guard
}

func (m *Manager) lookup(sessionID string) *liveSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[sessionID]
}

func (m *Manager) register(sessionID string, l *liveSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[sessionID] = l
}

func (m *Manager) unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, sessionID)
}

// LiveSessions lists the ids of sessions that still own a process.
func (m *Manager) LiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	return ids
}

// async runs fn off the caller's goroutine. Process callbacks use it so the
// reader never blocks on storage, hooks or approvals.
func (m *Manager) async(fn func(ctx context.Context)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// Shutdown stops every live session and waits for in-flight handlers.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, id := range m.LiveSessions() {
		if _, err := m.Stop(ctx, id); err != nil {
			m.logger.WithSessionID(id).Warn("failed to stop session on shutdown", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
