package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/agentproc"
	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/tracing"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// launchPlan is a validated StartRequest with every default resolved.
type launchPlan struct {
	req          StartRequest
	task         *models.Task
	project      *models.Project
	agent        *models.Agent
	parent       *models.Session
	settings     *models.Settings
	provider     string
	model        string
	workingDir   string
	systemPrompt string
	prompt       string
	mode         models.PermissionMode
	hookMode     bool
}

// Start validates the request, queues a session record and spawns its process.
// Spawn failures leave the session failed and come back as an unsuccessful
// result; only rejected requests and storage failures are errors.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, span := tracing.TraceSessionStart(ctx, req.TaskID, req.Fork)
	defer span.End()

	plan, err := m.prepare(ctx, req)
	if err != nil {
		tracing.TraceResult(span, "rejected", err)
		return nil, err
	}
	sess, err := m.enqueue(ctx, plan)
	if err != nil {
		tracing.TraceResult(span, "rejected", err)
		return nil, err
	}
	result, err := m.launch(ctx, plan, sess)
	if err != nil {
		tracing.TraceResult(span, "error", err)
		return nil, err
	}
	if !result.Success {
		tracing.TraceResult(span, "failed", errors.New(result.Error))
	} else {
		tracing.TraceResult(span, "running", nil)
	}
	return result, nil
}

func (m *Manager) prepare(ctx context.Context, req StartRequest) (*launchPlan, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return nil, apperrors.Validation("task_id", "task id is required")
	}
	if req.PermissionMode != "" && !req.PermissionMode.Valid() {
		return nil, apperrors.Validation("permission_mode", fmt.Sprintf("unknown permission mode %q", req.PermissionMode))
	}
	if req.Fork && req.ParentSessionID == "" {
		return nil, apperrors.Validation("parent_session_id", "forking requires a parent session")
	}

	task, err := m.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	project, err := m.repo.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	settings, err := m.repo.GetSettings(ctx)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		settings = store.DefaultSettings()
	}

	plan := &launchPlan{req: req, task: task, project: project, settings: settings}

	agentID := req.AgentID
	if agentID == "" && task.AgentID != nil {
		agentID = *task.AgentID
	}
	if agentID != "" {
		if plan.agent, err = m.repo.GetAgent(ctx, agentID); err != nil {
			return nil, err
		}
	}

	if req.ParentSessionID != "" {
		parent, err := m.repo.GetSession(ctx, req.ParentSessionID)
		if err != nil {
			return nil, err
		}
		if parent.TaskID != task.ID {
			return nil, apperrors.Validation("parent_session_id", "parent session belongs to another task")
		}
		if req.Fork && parent.ExternalSessionID == "" {
			return nil, apperrors.Validation("parent_session_id", "parent session has no provider session to fork")
		}
		plan.parent = parent
	}

	plan.provider = firstNonEmpty(req.Provider, agentField(plan.agent, func(a *models.Agent) string { return a.Provider }), settings.DefaultProvider, m.cfg.DefaultProvider)
	plan.model = firstNonEmpty(req.Model, agentField(plan.agent, func(a *models.Agent) string { return a.Model }), settings.DefaultModel)
	plan.workingDir = firstNonEmpty(req.WorkingDir, task.WorkingDir, project.Path)
	if plan.workingDir == "" {
		return nil, apperrors.Validation("working_dir", "no working directory on the request, task or project")
	}

	plan.mode = req.PermissionMode
	if plan.mode == "" {
		plan.mode = models.PermissionModeDefault
	}
	plan.hookMode = m.cfg.HookModeDefault
	if req.HookMode != nil {
		plan.hookMode = *req.HookMode
	}

	plan.systemPrompt = m.composeSystemPrompt(ctx, settings, project, plan.agent)
	plan.prompt = initialPrompt(req, task)
	return plan, nil
}

// enqueue persists the queued record. The per-task lock makes the active-session
// check and the insert one step for concurrent starts on the same task.
func (m *Manager) enqueue(ctx context.Context, plan *launchPlan) (*models.Session, error) {
	unlock := m.taskLocks.Lock(plan.task.ID)
	defer unlock()

	if !plan.req.Fork {
		existing, err := m.repo.ListSessionsByTask(ctx, plan.task.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range existing {
			if s.Status.IsActive() {
				return nil, apperrors.Conflict(fmt.Sprintf("task %s already has an active session %s", plan.task.ID, s.ID))
			}
		}
	}

	sess := &models.Session{
		ID:             uuid.New().String(),
		TaskID:         plan.task.ID,
		Forked:         plan.req.Fork,
		Status:         models.SessionQueued,
		Provider:       plan.provider,
		Model:          plan.model,
		WorkingDir:     plan.workingDir,
		PermissionMode: plan.mode,
		HookMode:       plan.hookMode,
		CreatedAt:      m.now(),
	}
	if plan.agent != nil {
		id := plan.agent.ID
		sess.AgentID = &id
	}
	if plan.parent != nil {
		id := plan.parent.ID
		sess.ParentSessionID = &id
	}
	if err := m.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.SessionTransition(string(models.SessionQueued))
	return sess, nil
}

func (m *Manager) launch(ctx context.Context, plan *launchPlan, sess *models.Session) (*StartResult, error) {
	live := &liveSession{scope: Scope{
		SessionID:  sess.ID,
		TaskID:     sess.TaskID,
		ProjectID:  plan.project.ID,
		Provider:   sess.Provider,
		WorkingDir: sess.WorkingDir,
	}}
	m.register(sess.ID, live)

	// Held until the running state is stored so exit handling cannot overtake it.
	live.opMu.Lock()
	defer live.opMu.Unlock()

	log := m.logger.WithSessionID(sess.ID).WithTaskID(sess.TaskID)
	if err := m.gate.SetMode(ctx, sess.ID, sess.PermissionMode); err != nil {
		log.Warn("failed to apply permission mode", zap.Error(err))
	}
	if err := m.gate.SetHookMode(ctx, sess.ID, sess.HookMode); err != nil {
		log.Warn("failed to apply approval protocol", zap.Error(err))
	}
	// Pre-allowed tools become session grants so dangerous input still escalates.
	for _, tool := range plan.req.AllowedTools {
		if err := m.gate.AllowToolForSession(ctx, sess.ID, tool); err != nil {
			log.Warn("failed to grant tool", zap.String("tool", tool), zap.Error(err))
		}
	}

	if report := m.runSessionHooks(ctx, live.scope, models.HookSessionStart, string(models.SessionQueued), nil); report != nil && report.Blocked {
		return m.failStart(ctx, live, sess, report.BlockReason)
	}

	cfg := agentproc.SpawnConfig{
		Provider:        sess.Provider,
		Model:           sess.Model,
		FallbackModel:   plan.settings.FallbackModel,
		WorkingDir:      sess.WorkingDir,
		Prompt:          plan.prompt,
		SystemPrompt:    plan.systemPrompt,
		Fork:            plan.req.Fork,
		DisallowedTools: plan.req.DisallowedTools,
		PermissionMode:  string(sess.PermissionMode),
		MaxBudgetUSD:    plan.settings.MaxBudgetUSD,
		OnOutput:        func(ev agentproc.Event) { m.handleOutput(live, ev) },
		OnExit:          func(info agentproc.ExitInfo) { m.handleExit(live, info) },
	}
	if plan.parent != nil {
		cfg.ResumeSessionID = plan.parent.ExternalSessionID
	}

	res, err := m.adapter.Spawn(ctx, cfg)
	if err != nil {
		log.Warn("failed to spawn agent process", zap.Error(err))
		return m.failStart(ctx, live, sess, err.Error())
	}

	live.setHandle(res.Handle, res.SessionID)
	started := m.now()
	sess.Status = models.SessionRunning
	sess.ProcessHandle = res.Handle
	sess.ExternalSessionID = live.externalSessionID()
	sess.StartedAt = &started
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		log.Error("failed to store running session, terminating process", zap.Error(err))
		if terr := m.adapter.Terminate(ctx, res.Handle); terr != nil {
			log.Warn("failed to terminate process", zap.Error(terr))
		}
		m.end(ctx, live, sess, models.SessionFailed, "failed to store running session: "+err.Error(), "session could not be stored")
		return nil, err
	}

	m.metrics.SessionTransition(string(models.SessionRunning))
	m.publishSession(ctx, events.SessionStarted, sess, map[string]any{
		"pid":                    res.PID,
		"placeholder_session_id": res.Placeholder,
	})
	log.Info("session started",
		zap.String("provider", sess.Provider),
		zap.String("external_session_id", sess.ExternalSessionID),
		zap.Bool("placeholder", res.Placeholder),
		zap.Int("pid", res.PID))

	out := *sess
	return &StartResult{Result: Result{Success: true, Session: &out}, PlaceholderSessionID: res.Placeholder}, nil
}

func (m *Manager) failStart(ctx context.Context, live *liveSession, sess *models.Session, msg string) (*StartResult, error) {
	m.end(ctx, live, sess, models.SessionFailed, msg, "session failed to start")
	out := *sess
	return &StartResult{Result: Result{Success: false, Session: &out, Error: msg}}, nil
}

// end moves a session to a terminal status and releases everything it held.
// The caller holds live.opMu.
func (m *Manager) end(ctx context.Context, live *liveSession, sess *models.Session, status models.SessionStatus, errMsg, reason string) {
	if !live.markEnded() {
		return
	}
	log := m.logger.WithSessionID(sess.ID)

	ended := m.now()
	sess.Status = status
	sess.ErrorMessage = errMsg
	sess.EndedAt = &ended
	live.applyUsage(sess)
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		log.Error("failed to store ended session", zap.String("status", string(status)), zap.Error(err))
	}

	m.discard(ctx, live, reason)
	m.metrics.SessionTransition(string(status))
	m.publishSession(ctx, terminalEvent(status), sess, map[string]any{
		"error_message": sess.ErrorMessage,
		"input_tokens":  sess.InputTokens,
		"output_tokens": sess.OutputTokens,
		"cost_usd":      sess.CostUSD,
	})
	m.runSessionHooks(ctx, live.scope, models.HookSessionEnd, string(status), map[string]any{
		"error_message": sess.ErrorMessage,
		"summary":       sess.Summary,
	})
	log.Info("session ended",
		zap.String("status", string(status)),
		zap.Int64("input_tokens", sess.InputTokens),
		zap.Int64("output_tokens", sess.OutputTokens),
		zap.Float64("cost_usd", sess.CostUSD))
}

// discard drops the live entry, rejects approvals still pending and forgets
// tracked tool calls.
func (m *Manager) discard(ctx context.Context, live *liveSession, reason string) {
	live.markEnded()
	m.unregister(live.scope.SessionID)
	m.guard.Forget(live.scope.SessionID)
	rejected, err := m.gate.EndSession(ctx, live.scope.SessionID, reason)
	if err != nil {
		m.logger.WithSessionID(live.scope.SessionID).Warn("failed to reject pending approvals", zap.Error(err))
	}
	if rejected > 0 {
		m.logger.WithSessionID(live.scope.SessionID).Info("rejected pending approvals", zap.Int("count", rejected))
	}
}

func terminalEvent(status models.SessionStatus) string {
	switch status {
	case models.SessionCompleted:
		return events.SessionCompleted
	case models.SessionCancelled:
		return events.SessionCancelled
	}
	return events.SessionFailed
}

// Stop terminates the session's process and cancels the session. Termination
// errors are logged; the session is cancelled regardless.
func (m *Manager) Stop(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("session is already %s", sess.Status))
	}

	live := m.lookup(sessionID)
	if live == nil {
		// No process in this engine, e.g. a record left over from a previous run.
		live = &liveSession{scope: Scope{SessionID: sess.ID, TaskID: sess.TaskID, Provider: sess.Provider, WorkingDir: sess.WorkingDir}}
	}

	live.opMu.Lock()
	defer live.opMu.Unlock()
	if live.isEnded() {
		return nil, apperrors.Conflict("session has already ended")
	}

	if handle := live.handleValue(); handle != "" {
		if err := m.adapter.Terminate(ctx, handle); err != nil && !errors.Is(err, agentproc.ErrUnknownHandle) {
			m.logger.WithSessionID(sessionID).Warn("failed to terminate agent process", zap.Error(err))
		}
	}

	if sess, err = m.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("session is already %s", sess.Status))
	}
	m.end(ctx, live, sess, models.SessionCancelled, "", "session stopped")
	out := *sess
	return &Result{Success: true, Session: &out}, nil
}

// Pause suspends a running session's process.
func (m *Manager) Pause(ctx context.Context, sessionID string) (*Result, error) {
	return m.transition(ctx, sessionID, models.SessionRunning, models.SessionPaused, func(handle string) error {
		return m.adapter.Pause(handle)
	})
}

// Resume continues a paused session's process.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Result, error) {
	return m.transition(ctx, sessionID, models.SessionPaused, models.SessionRunning, func(handle string) error {
		return m.adapter.Resume(handle)
	})
}

func (m *Manager) transition(ctx context.Context, sessionID string, from, to models.SessionStatus, signal func(handle string) error) (*Result, error) {
	live := m.lookup(sessionID)
	if live == nil {
		if _, err := m.repo.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict("session has no running process")
	}

	live.opMu.Lock()
	defer live.opMu.Unlock()
	if live.isEnded() {
		return nil, apperrors.Conflict("session has already ended")
	}
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != from {
		return nil, apperrors.Conflict(fmt.Sprintf("session is %s, not %s", sess.Status, from))
	}

	if err := signal(live.handleValue()); err != nil {
		switch {
		case errors.Is(err, agentproc.ErrPauseUnsupported):
			return nil, apperrors.Unsupported(fmt.Sprintf("provider %s does not support pause", sess.Provider))
		case errors.Is(err, agentproc.ErrUnknownHandle):
			return nil, apperrors.Conflict("session process is not running")
		}
		return nil, apperrors.ProcessFailure("failed to signal agent process", err)
	}

	sess.Status = to
	live.applyUsage(sess)
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.SessionTransition(string(to))
	eventType := events.SessionPaused
	if to == models.SessionRunning {
		eventType = events.SessionResumed
	}
	m.publishSession(ctx, eventType, sess, nil)
	m.logger.WithSessionID(sessionID).Info("session status changed", zap.String("status", string(to)))

	out := *sess
	return &Result{Success: true, Session: &out}, nil
}

// Get returns the session with the live accounting of its process.
func (m *Manager) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if live := m.lookup(sessionID); live != nil && !sess.Status.IsTerminal() {
		live.applyUsage(sess)
	}
	return sess, nil
}

// SetPermissionMode changes how much the gate auto-approves for the session.
func (m *Manager) SetPermissionMode(ctx context.Context, sessionID string, mode models.PermissionMode) (*models.Session, error) {
	if !mode.Valid() {
		return nil, apperrors.Validation("mode", fmt.Sprintf("unknown permission mode %q", mode))
	}
	return m.update(ctx, sessionID, func(sess *models.Session) error {
		if err := m.gate.SetMode(ctx, sessionID, mode); err != nil {
			return err
		}
		sess.PermissionMode = mode
		return nil
	})
}

// SetHookMode switches the session between the polling and interactive approval
// protocols. The gate refuses while approvals are pending.
func (m *Manager) SetHookMode(ctx context.Context, sessionID string, hookMode bool) (*models.Session, error) {
	return m.update(ctx, sessionID, func(sess *models.Session) error {
		if err := m.gate.SetHookMode(ctx, sessionID, hookMode); err != nil {
			return err
		}
		sess.HookMode = hookMode
		return nil
	})
}

func (m *Manager) update(ctx context.Context, sessionID string, mutate func(sess *models.Session) error) (*models.Session, error) {
	if live := m.lookup(sessionID); live != nil {
		live.opMu.Lock()
		defer live.opMu.Unlock()
	}
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, apperrors.Conflict(fmt.Sprintf("session is already %s", sess.Status))
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SendMessage writes a follow-up user message to a running session.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.Validation("text", "message text is required")
	}
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	live := m.lookup(sessionID)
	if live == nil || sess.Status != models.SessionRunning {
		return apperrors.Conflict(fmt.Sprintf("session is %s and cannot take messages", sess.Status))
	}
	if err := m.adapter.SendMessage(live.handleValue(), text); err != nil {
		switch {
		case errors.Is(err, agentproc.ErrInputUnsupported):
			return apperrors.Unsupported(fmt.Sprintf("provider %s does not accept messages after start", sess.Provider))
		case errors.Is(err, agentproc.ErrUnknownHandle):
			return apperrors.Conflict("session process is not running")
		}
		return apperrors.ProcessFailure("failed to send message", err)
	}
	return nil
}

// Retry starts a new session on the task of an ended one, resuming its provider
// session when there is one.
func (m *Manager) Retry(ctx context.Context, sessionID string) (*StartResult, error) {
	prev, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.IsTerminal() {
		return nil, apperrors.Conflict("only ended sessions can be retried")
	}
	hookMode := prev.HookMode
	req := StartRequest{
		TaskID:          prev.TaskID,
		Provider:        prev.Provider,
		Model:           prev.Model,
		WorkingDir:      prev.WorkingDir,
		ParentSessionID: prev.ID,
		PermissionMode:  prev.PermissionMode,
		HookMode:        &hookMode,
	}
	if prev.AgentID != nil {
		req.AgentID = *prev.AgentID
	}
	return m.Start(ctx, req)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func agentField(a *models.Agent, get func(*models.Agent) string) string {
	if a == nil {
		return ""
	}
	return get(a)
}
