package hooks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/common/tracing"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

const defaultHookTimeout = 30 * time.Second

// Executor looks up, filters, orders and runs hooks for an event.
type Executor struct {
	repo     store.HookStore
	runners  map[models.HookTransport]Runner
	eventBus bus.EventBus
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewExecutor creates an executor with the shell and http runners. The websocket
// runner is registered with SetRunner once the gateway exists.
func NewExecutor(repo store.HookStore, eventBus bus.EventBus, m *metrics.Metrics, log *logger.Logger) *Executor {
	return &Executor{
		repo: repo,
		runners: map[models.HookTransport]Runner{
			models.HookTransportShell: NewShellRunner(),
			models.HookTransportHTTP:  NewHTTPRunner(),
		},
		eventBus: eventBus,
		metrics:  m,
		logger:   log.WithFields(zap.String("component", "hook-executor")),
	}
}

// SetRunner replaces the runner of a transport. Not safe for use once Execute runs.
func (e *Executor) SetRunner(transport models.HookTransport, r Runner) {
	e.runners[transport] = r
}

// Execute runs every enabled hook bound to the event, highest priority first. A
// failing blocking hook stops the pass and marks the report blocked. Only a
// repository failure is returned as an error.
func (e *Executor) Execute(ctx context.Context, hctx Context) (*Report, error) {
	ctx, span := tracing.TraceHooksExecute(ctx, string(hctx.EventType), hctx.ToolName)
	defer span.End()

	candidates, err := e.repo.ListHooks(ctx, models.HookQuery{
		EventType:   hctx.EventType,
		ProjectID:   hctx.ProjectID,
		TaskID:      hctx.TaskID,
		EnabledOnly: true,
	})
	if err != nil {
		tracing.TraceResult(span, "error", err)
		return nil, err
	}

	hooks := make([]*models.Hook, 0, len(candidates))
	for _, h := range candidates {
		if h.Enabled && matchesFilter(h.Filter, hctx) {
			hooks = append(hooks, h)
		}
	}
	sortByPriority(hooks)

	report := &Report{Results: make([]models.HookResult, 0, len(hooks))}
	for _, h := range hooks {
		result := e.runOne(ctx, h, hctx)
		report.Results = append(report.Results, result)

		if !result.Success && h.Blocking {
			report.Blocked = true
			report.BlockedBy = h.Name
			report.BlockReason = fmt.Sprintf("blocked by hook %q: %s", h.Name, result.Error)
			e.metrics.HookExecuted(string(h.Transport), "blocked")
			e.publish(ctx, events.HookBlocked, hctx, map[string]any{
				"hook_id":   h.ID,
				"hook_name": h.Name,
				"reason":    report.BlockReason,
			})
			e.logger.WithSessionID(hctx.SessionID).Warn("blocking hook failed, stopping pass",
				zap.String("hook", h.Name),
				zap.String("event", string(hctx.EventType)),
				zap.String("error", result.Error))
			break
		}
	}

	status := "ok"
	if report.Blocked {
		status = "blocked"
	}
	tracing.TraceResult(span, status, nil)
	return report, nil
}

func (e *Executor) runOne(ctx context.Context, h *models.Hook, hctx Context) models.HookResult {
	result := models.HookResult{
		HookID:    h.ID,
		HookName:  h.Name,
		Transport: h.Transport,
		Blocking:  h.Blocking,
	}

	runner, ok := e.runners[h.Transport]
	if !ok || runner == nil {
		result.Error = fmt.Sprintf("no runner for transport %q", h.Transport)
		e.record(h, hctx, result)
		return result
	}

	timeout := defaultHookTimeout
	if h.TimeoutSeconds > 0 {
		timeout = time.Duration(h.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := runner.Run(runCtx, h, hctx)
	result.DurationMs = time.Since(start).Milliseconds()
	result.Output = out
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Success = true
	}
	e.record(h, hctx, result)
	return result
}

func (e *Executor) record(h *models.Hook, hctx Context, result models.HookResult) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	e.metrics.HookExecuted(string(h.Transport), outcome)

	log := e.logger.WithSessionID(hctx.SessionID)
	fields := []zap.Field{
		zap.String("hook", h.Name),
		zap.String("event", string(hctx.EventType)),
		zap.String("transport", string(h.Transport)),
		zap.Int64("duration_ms", result.DurationMs),
	}
	if result.Success {
		log.Debug("hook executed", fields...)
	} else {
		log.Warn("hook failed", append(fields, zap.String("error", result.Error))...)
	}

	e.publish(context.Background(), events.HookExecuted, hctx, map[string]any{
		"hook_id":     h.ID,
		"hook_name":   h.Name,
		"transport":   string(h.Transport),
		"success":     result.Success,
		"error":       result.Error,
		"duration_ms": result.DurationMs,
	})
}

func (e *Executor) publish(ctx context.Context, eventType string, hctx Context, data map[string]any) {
	if e.eventBus == nil {
		return
	}
	data["event_type"] = string(hctx.EventType)
	data["session_id"] = hctx.SessionID
	data["tool_name"] = hctx.ToolName
	subject := eventType
	if hctx.SessionID != "" {
		subject = events.SessionSubject(eventType, hctx.SessionID)
	}
	if err := e.eventBus.Publish(ctx, subject, bus.NewEvent(eventType, "hook-executor", data)); err != nil {
		e.logger.Debug("failed to publish hook event", zap.Error(err))
	}
}
