package session

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/agentproc"
	"github.com/kandev/agentgate/internal/approval"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/diffs"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
)

// ApprovalChecker is the interactive side of the approval gate.
type ApprovalChecker interface {
	Check(ctx context.Context, req models.ToolCallRequest, opts approval.CheckOptions) (*approval.Decision, error)
}

// HookRunner runs a hook pass.
type HookRunner interface {
	Execute(ctx context.Context, hctx hooks.Context) (*hooks.Report, error)
}

// DiffRecorder stages file changes of approved edits.
type DiffRecorder interface {
	Record(ctx context.Context, sessionID, approvalID, path string, oldContent *string, newContent string) (*models.Diff, error)
	MarkApplied(ctx context.Context, diffID string) error
	MarkRejected(ctx context.Context, diffID string) error
}

// ToolResponder answers a permission request of a live process.
type ToolResponder interface {
	RespondToToolCall(handle, requestID string, approved bool, reason string) error
}

// Scope identifies the session a tool event belongs to.
type Scope struct {
	SessionID  string
	TaskID     string
	ProjectID  string
	Provider   string
	WorkingDir string
	Handle     string
}

func (s Scope) hookContext(eventType models.HookEventType) hooks.Context {
	return hooks.Context{
		EventType:  eventType,
		SessionID:  s.SessionID,
		TaskID:     s.TaskID,
		ProjectID:  s.ProjectID,
		Provider:   s.Provider,
		WorkingDir: s.WorkingDir,
	}
}

// Verdict is what the guard answered for one permission request.
type Verdict struct {
	Allowed    bool
	Reason     string
	ApprovalID string
	BlockedBy  string
	DiffID     string
}

type trackedCall struct {
	toolName string
	input    map[string]any
	diffID   string
}

// ToolGuard runs a tool call through the tool:before hooks, the safety check and
// the approval gate, answers the process, and follows the call to its result.
type ToolGuard struct {
	gate      ApprovalChecker
	hooks     HookRunner
	diffs     DiffRecorder
	responder ToolResponder
	logger    *logger.Logger

	mu    sync.Mutex
	calls map[string]*trackedCall
}

// NewToolGuard creates a guard. hookRunner and recorder may be nil.
func NewToolGuard(gate ApprovalChecker, hookRunner HookRunner, recorder DiffRecorder, responder ToolResponder, log *logger.Logger) *ToolGuard {
	return &ToolGuard{
		gate:      gate,
		hooks:     hookRunner,
		diffs:     recorder,
		responder: responder,
		logger:    log.WithFields(zap.String("component", "tool-guard")),
		calls:     make(map[string]*trackedCall),
	}
}

func callKey(sessionID, callID string) string {
	return sessionID + "\x00" + callID
}

// Track remembers a tool call so its result can be attributed.
func (g *ToolGuard) Track(scope Scope, ev agentproc.Event) {
	if ev.CallID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := callKey(scope.SessionID, ev.CallID)
	if c, ok := g.calls[key]; ok {
		if c.toolName == "" {
			c.toolName = ev.ToolName
		}
		return
	}
	g.calls[key] = &trackedCall{toolName: ev.ToolName, input: ev.ToolInput}
}

// HandlePermission decides a tool_use event that waits for permission and sends
// the answer to the process. It blocks while the gate waits for a decision.
func (g *ToolGuard) HandlePermission(ctx context.Context, scope Scope, ev agentproc.Event) Verdict {
	g.Track(scope, ev)
	log := g.logger.WithSessionID(scope.SessionID)

	verdict := g.decide(ctx, scope, ev)
	if verdict.Allowed && models.IsFileEditTool(ev.ToolName) {
		verdict.DiffID = g.recordDiff(ctx, scope, ev, verdict.ApprovalID)
	}

	if err := g.responder.RespondToToolCall(scope.Handle, ev.RequestID, verdict.Allowed, verdict.Reason); err != nil {
		if errors.Is(err, agentproc.ErrUnknownHandle) || errors.Is(err, agentproc.ErrNoPendingPermission) {
			log.Debug("process no longer waits for this decision", zap.String("call_id", ev.CallID), zap.Error(err))
		} else {
			log.Warn("failed to send tool decision", zap.String("call_id", ev.CallID), zap.Error(err))
		}
	}

	log.Info("tool call decided",
		zap.String("tool", ev.ToolName),
		zap.String("call_id", ev.CallID),
		zap.Bool("allowed", verdict.Allowed),
		zap.String("reason", verdict.Reason))
	return verdict
}

func (g *ToolGuard) decide(ctx context.Context, scope Scope, ev agentproc.Event) Verdict {
	if report := g.runHooks(ctx, scope, models.HookToolBefore, ev, ""); report != nil && report.Blocked {
		return Verdict{
			Allowed:   false,
			Reason:    report.BlockReason,
			BlockedBy: report.BlockedBy,
		}
	}

	flags := hooks.CheckSafety(ev.ToolName, ev.ToolInput)
	opts := approval.CheckOptions{ForceDangerous: len(flags) > 0, Reasons: hooks.SafetyReasons(flags)}
	req := models.ToolCallRequest{
		SessionID: scope.SessionID,
		ToolName:  ev.ToolName,
		Input:     ev.ToolInput,
		CallID:    ev.CallID,
	}
	d, err := g.gate.Check(ctx, req, opts)
	if err != nil {
		return Verdict{Allowed: false, Reason: "approval check failed: " + err.Error()}
	}
	reason := d.Reason
	if !d.Allowed && reason == "" {
		reason = "denied"
	}
	return Verdict{Allowed: d.Allowed, Reason: reason, ApprovalID: d.ApprovalID}
}

func (g *ToolGuard) recordDiff(ctx context.Context, scope Scope, ev agentproc.Event, approvalID string) string {
	if g.diffs == nil {
		return ""
	}
	paths := models.ToolPaths(ev.ToolInput)
	if len(paths) == 0 {
		return ""
	}
	path := paths[0]
	if !filepath.IsAbs(path) && scope.WorkingDir != "" {
		path = filepath.Join(scope.WorkingDir, path)
	}
	log := g.logger.WithSessionID(scope.SessionID)

	current, err := diffs.ReadCurrent(path)
	if err != nil {
		log.Warn("failed to read file before edit", zap.String("path", path), zap.Error(err))
		return ""
	}
	proposed, ok := diffs.ProposedContent(ev.ToolName, ev.ToolInput, current)
	if !ok {
		log.Debug("edit cannot be staged as a diff", zap.String("tool", ev.ToolName), zap.String("path", path))
		return ""
	}
	d, err := g.diffs.Record(ctx, scope.SessionID, approvalID, path, current, proposed)
	if err != nil {
		log.Warn("failed to record diff", zap.String("path", path), zap.Error(err))
		return ""
	}

	g.mu.Lock()
	if c, ok := g.calls[callKey(scope.SessionID, ev.CallID)]; ok {
		c.diffID = d.ID
	}
	g.mu.Unlock()
	return d.ID
}

// HandleResult settles the staged diff of a finished call and runs the
// tool:after hooks.
func (g *ToolGuard) HandleResult(ctx context.Context, scope Scope, ev agentproc.Event) {
	var call trackedCall
	if ev.CallID != "" {
		g.mu.Lock()
		key := callKey(scope.SessionID, ev.CallID)
		if c, ok := g.calls[key]; ok {
			call = *c
			delete(g.calls, key)
		}
		g.mu.Unlock()
	}

	if call.diffID != "" && g.diffs != nil {
		settle := g.diffs.MarkApplied
		if ev.IsError {
			settle = g.diffs.MarkRejected
		}
		if err := settle(ctx, call.diffID); err != nil {
			g.logger.WithSessionID(scope.SessionID).Warn("failed to settle diff", zap.String("diff_id", call.diffID), zap.Error(err))
		}
	}

	result := ev
	if result.ToolName == "" {
		result.ToolName = call.toolName
	}
	if result.ToolInput == nil {
		result.ToolInput = call.input
	}
	status := "success"
	if ev.IsError {
		status = "error"
	}
	g.runHooks(ctx, scope, models.HookToolAfter, result, status)
}

// Forget drops every call tracked for the session.
func (g *ToolGuard) Forget(sessionID string) {
	prefix := sessionID + "\x00"
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.calls {
		if strings.HasPrefix(key, prefix) {
			delete(g.calls, key)
		}
	}
}

func (g *ToolGuard) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *ToolGuard) runHooks(ctx context.Context, scope Scope, eventType models.HookEventType, ev agentproc.Event, status string) *hooks.Report {
	if g.hooks == nil {
		return nil
	}
	hctx := scope.hookContext(eventType)
	hctx.ToolName = ev.ToolName
	hctx.ToolInput = ev.ToolInput
	hctx.CallID = ev.CallID
	hctx.Status = status
	if eventType == models.HookToolAfter {
		hctx.ToolOutput = ev.Text
	}
	report, err := g.hooks.Execute(ctx, hctx)
	if err != nil {
		g.logger.WithSessionID(scope.SessionID).Warn("hook pass failed",
			zap.String("event_type", string(eventType)), zap.Error(err))
		return nil
	}
	return report
}
