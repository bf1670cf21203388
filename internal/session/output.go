package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/agentproc"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
)

// handleOutput runs on the adapter's reader goroutine and must not block.
func (m *Manager) handleOutput(live *liveSession, ev agentproc.Event) {
	if live.isEnded() {
		return
	}
	scope := live.currentScope()
	if scope.Handle == "" {
		scope.Handle = ev.Handle
	}

	switch ev.Kind {
	case agentproc.EventSystem:
		switch ev.Subtype {
		case agentproc.SubtypeSessionID:
			live.setExternalID(ev.SessionID)
			m.async(func(ctx context.Context) {
				m.persist(ctx, live, func(sess *models.Session) { sess.ExternalSessionID = ev.SessionID })
			})
		case agentproc.SubtypeResult:
			live.addResult(ev.Usage, ev.Text)
			m.async(func(ctx context.Context) {
				m.persist(ctx, live, live.applyUsage)
			})
		}
	case agentproc.EventToolUse:
		if ev.NeedsPermission {
			m.async(func(ctx context.Context) { m.guard.HandlePermission(ctx, scope, ev) })
		} else {
			m.guard.Track(scope, ev)
		}
	case agentproc.EventToolResult:
		m.async(func(ctx context.Context) { m.guard.HandleResult(ctx, scope, ev) })
	}

	m.publishOutput(scope.SessionID, ev)
}

// handleExit settles a session whose process ended on its own.
func (m *Manager) handleExit(live *liveSession, info agentproc.ExitInfo) {
	m.async(func(ctx context.Context) {
		live.opMu.Lock()
		defer live.opMu.Unlock()
		if live.isEnded() {
			return
		}

		sessionID := live.scope.SessionID
		log := m.logger.WithSessionID(sessionID)
		sess, err := m.repo.GetSession(ctx, sessionID)
		if err != nil {
			log.Error("failed to load session after process exit", zap.Error(err))
			m.discard(ctx, live, "session process exited")
			return
		}
		if sess.Status.IsTerminal() {
			m.discard(ctx, live, "session process exited")
			return
		}

		status, reason := models.SessionCompleted, "session completed"
		switch {
		case info.Requested:
			status, reason = models.SessionCancelled, "session process terminated"
		case !info.Success():
			status, reason = models.SessionFailed, "session process failed"
		}
		if !sess.Status.CanTransition(status) {
			status = models.SessionFailed
		}
		log.Info("agent process exited",
			zap.Int("exit_code", info.ExitCode),
			zap.String("signal", info.Signal),
			zap.String("status", string(status)))
		m.end(ctx, live, sess, status, info.ErrorText(), reason)
	})
}

// persist applies a change to the stored record of a session that has not ended.
func (m *Manager) persist(ctx context.Context, live *liveSession, mutate func(*models.Session)) {
	live.opMu.Lock()
	defer live.opMu.Unlock()
	if live.isEnded() {
		return
	}
	sess, err := m.repo.GetSession(ctx, live.scope.SessionID)
	if err != nil || sess.Status.IsTerminal() {
		return
	}
	mutate(sess)
	if err := m.repo.UpdateSession(ctx, sess); err != nil {
		m.logger.WithSessionID(sess.ID).Warn("failed to update session", zap.Error(err))
	}
}

func (m *Manager) runSessionHooks(ctx context.Context, scope Scope, eventType models.HookEventType, status string, data map[string]any) *hooks.Report {
	if m.hooks == nil {
		return nil
	}
	hctx := scope.hookContext(eventType)
	hctx.Status = status
	hctx.Data = data
	report, err := m.hooks.Execute(ctx, hctx)
	if err != nil {
		m.logger.WithSessionID(scope.SessionID).Warn("hook pass failed", zap.String("event_type", string(eventType)), zap.Error(err))
		return nil
	}
	return report
}

// WatchApprovals runs the approval:pending hooks of live sessions for every
// approval the gate announces on b.
func (m *Manager) WatchApprovals(b bus.EventBus) (bus.Subscription, error) {
	return b.Subscribe(events.SessionWildcardSubject(events.ApprovalPending), func(_ context.Context, event *bus.Event) error {
		sessionID := event.SessionID()
		live := m.lookup(sessionID)
		if live == nil || m.hooks == nil {
			return nil
		}
		scope := live.currentScope()
		toolName, _ := event.Data["tool_name"].(string)
		callID, _ := event.Data["call_id"].(string)
		m.async(func(ctx context.Context) {
			hctx := scope.hookContext(models.HookApprovalPending)
			hctx.ToolName = toolName
			hctx.CallID = callID
			hctx.Status = string(models.ApprovalPending)
			hctx.Data = event.Data
			if _, err := m.hooks.Execute(ctx, hctx); err != nil {
				m.logger.WithSessionID(sessionID).Warn("approval hook pass failed", zap.Error(err))
			}
		})
		return nil
	})
}

func (m *Manager) publishSession(ctx context.Context, eventType string, sess *models.Session, extra map[string]any) {
	if m.eventBus == nil {
		return
	}
	data := map[string]any{
		"session_id":          sess.ID,
		"task_id":             sess.TaskID,
		"status":              string(sess.Status),
		"provider":            sess.Provider,
		"model":               sess.Model,
		"external_session_id": sess.ExternalSessionID,
	}
	for k, v := range extra {
		data[k] = v
	}
	event := bus.NewEvent(eventType, "session-manager", data)
	if err := m.eventBus.Publish(ctx, events.SessionSubject(eventType, sess.ID), event); err != nil {
		m.logger.WithSessionID(sess.ID).Warn("failed to publish session event", zap.String("type", eventType), zap.Error(err))
	}
}

func (m *Manager) publishOutput(sessionID string, ev agentproc.Event) {
	if m.eventBus == nil {
		return
	}
	data := map[string]any{
		"session_id": sessionID,
		"kind":       string(ev.Kind),
		"timestamp":  ev.Timestamp,
	}
	set := func(key, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set("subtype", ev.Subtype)
	set("text", ev.Text)
	set("tool_name", ev.ToolName)
	set("call_id", ev.CallID)
	if ev.ToolInput != nil {
		data["tool_input"] = ev.ToolInput
	}
	if ev.IsError {
		data["is_error"] = true
	}
	if ev.Usage != nil {
		data["usage"] = map[string]any{
			"input_tokens":  ev.Usage.InputTokens,
			"output_tokens": ev.Usage.OutputTokens,
			"cost_usd":      ev.Usage.CostUSD,
		}
	}
	event := bus.NewEvent(events.SessionOutput, "session-manager", data)
	if err := m.eventBus.Publish(m.ctx, events.SessionSubject(events.SessionOutput, sessionID), event); err != nil {
		m.logger.WithSessionID(sessionID).Debug("failed to publish session output", zap.Error(err))
	}
}
