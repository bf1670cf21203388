// Package reconciler sweeps approvals and diffs left behind by sessions that never
// cleaned up after themselves.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/common/tracing"
	"github.com/kandev/agentgate/internal/diffs"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

const (
	decidedBy    = "reconciler"
	staleReason  = "approval abandoned: no decision before the reconciliation TTL"
	actionReject = "reject_stale"
	actionRevert = "revert_session"
	actionClear  = "clear_diff"
)

// ApprovalRejecter resolves a pending approval as rejected.
type ApprovalRejecter interface {
	Reject(ctx context.Context, approvalID, decidedBy, reason string) (*models.Approval, error)
}

// Config controls the sweep schedule.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	PendingTTL   time.Duration
}

// ConfigFrom maps the reconciler config section.
func ConfigFrom(cfg config.ReconcilerConfig) Config {
	return Config{Interval: cfg.Interval, InitialDelay: cfg.InitialDelay, PendingTTL: cfg.PendingTTL}
}

// Report summarizes one sweep.
type Report struct {
	StaleApprovals   int      `json:"stale_approvals"`
	Rejected         int      `json:"rejected"`
	AlreadyResolved  int      `json:"already_resolved"`
	SessionsReverted int      `json:"sessions_reverted"`
	FilesReverted    int      `json:"files_reverted"`
	DiffsCleared     int      `json:"diffs_cleared"`
	Failures         int      `json:"failures"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *Report) fail(err error) {
	r.Failures++
	r.Errors = append(r.Errors, err.Error())
}

// Reconciler is the backstop for approvals and diffs no session resolved.
type Reconciler struct {
	approvals store.ApprovalStore
	sessions  store.SessionStore
	diffStore store.DiffStore
	rejecter  ApprovalRejecter
	reverter  diffs.SessionReverter
	cfg       Config
	eventBus  bus.EventBus
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// New creates a reconciler. eventBus and m may be nil.
func New(
	approvals store.ApprovalStore,
	sessions store.SessionStore,
	diffStore store.DiffStore,
	rejecter ApprovalRejecter,
	reverter diffs.SessionReverter,
	cfg Config,
	eventBus bus.EventBus,
	m *metrics.Metrics,
	log *logger.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = time.Hour
	}
	return &Reconciler{
		approvals: approvals,
		sessions:  sessions,
		diffStore: diffStore,
		rejecter:  rejecter,
		reverter:  reverter,
		cfg:       cfg,
		eventBus:  eventBus,
		metrics:   m,
		logger:    log.WithFields(zap.String("component", "reconciler")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once after the initial delay and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("initial_delay", r.cfg.InitialDelay),
		zap.Duration("pending_ttl", r.cfg.PendingTTL))

	initial := time.NewTimer(r.cfg.InitialDelay)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-initial.C:
	}
	r.sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("reconciler run incomplete", zap.Error(err))
	}
}

// RunOnce rejects approvals pending longer than the TTL, reverting each affected
// session's staged changes first, then clears the content of applied diffs. Item
// failures are recorded in the report; only listing failures are returned.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	ctx, span := tracing.TraceReconcilerRun(ctx)
	defer span.End()

	report := &Report{}
	var errs []error
	if err := r.reconcileApprovals(ctx, report); err != nil {
		errs = append(errs, err)
	}
	if err := r.clearAppliedDiffs(ctx, report); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("reconciler run finished",
		zap.Int("stale_approvals", report.StaleApprovals),
		zap.Int("rejected", report.Rejected),
		zap.Int("sessions_reverted", report.SessionsReverted),
		zap.Int("diffs_cleared", report.DiffsCleared),
		zap.Int("failures", report.Failures))
	r.publish(ctx, report)

	if len(errs) > 0 {
		err := apperrors.InternalError("reconciler run incomplete", errors.Join(errs...))
		tracing.TraceResult(span, "error", err)
		return report, err
	}
	tracing.TraceResult(span, "ok", nil)
	return report, nil
}

func (r *Reconciler) reconcileApprovals(ctx context.Context, report *Report) error {
	cutoff := r.now().Add(-r.cfg.PendingTTL)
	stale, err := r.approvals.ListStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale approvals: %w", err)
	}
	report.StaleApprovals = len(stale)

	bySession := make(map[string][]*models.Approval)
	var order []string
	for _, a := range stale {
		if _, ok := bySession[a.SessionID]; !ok {
			order = append(order, a.SessionID)
		}
		bySession[a.SessionID] = append(bySession[a.SessionID], a)
	}

	for _, sessionID := range order {
		r.revertSession(ctx, sessionID, report)
		for _, a := range bySession[sessionID] {
			r.rejectOne(ctx, a, report)
		}
	}
	return nil
}

func (r *Reconciler) revertSession(ctx context.Context, sessionID string, report *Report) {
	if r.reverter == nil {
		return
	}
	log := r.logger.WithSessionID(sessionID)
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			log.Warn("failed to load session for revert", zap.Error(err))
			report.fail(fmt.Errorf("session %s: %w", sessionID, err))
			r.metrics.ReconcilerItem(actionRevert, "failure")
		}
		return
	}
	if sess.WorkingDir == "" {
		return
	}

	result, err := r.reverter.RevertAllSessionDiffs(ctx, sessionID, sess.WorkingDir)
	report.FilesReverted += result.Reverted
	if err != nil {
		log.Warn("failed to revert session diffs", zap.Error(err))
		report.fail(fmt.Errorf("revert session %s: %w", sessionID, err))
		r.metrics.ReconcilerItem(actionRevert, "failure")
		return
	}
	report.SessionsReverted++
	r.metrics.ReconcilerItem(actionRevert, "success")
}

func (r *Reconciler) rejectOne(ctx context.Context, a *models.Approval, report *Report) {
	_, err := r.rejecter.Reject(ctx, a.ID, decidedBy, staleReason)
	switch {
	case err == nil:
		report.Rejected++
		r.metrics.ReconcilerItem(actionReject, "success")
	case errors.Is(err, store.ErrAlreadyResolved):
		report.AlreadyResolved++
		r.metrics.ReconcilerItem(actionReject, "skipped")
	default:
		r.logger.WithApprovalID(a.ID).Warn("failed to reject stale approval", zap.Error(err))
		report.fail(fmt.Errorf("reject approval %s: %w", a.ID, err))
		r.metrics.ReconcilerItem(actionReject, "failure")
	}
}

func (r *Reconciler) clearAppliedDiffs(ctx context.Context, report *Report) error {
	applied, err := r.diffStore.ListDiffsByStatus(ctx, models.DiffApplied)
	if err != nil {
		return fmt.Errorf("list applied diffs: %w", err)
	}
	for _, d := range applied {
		if !d.HasContent() {
			continue
		}
		if err := r.diffStore.ClearDiffContent(ctx, d.ID); err != nil {
			r.logger.Warn("failed to clear diff content", zap.String("diff_id", d.ID), zap.Error(err))
			report.fail(fmt.Errorf("clear diff %s: %w", d.ID, err))
			r.metrics.ReconcilerItem(actionClear, "failure")
			continue
		}
		report.DiffsCleared++
		r.metrics.ReconcilerItem(actionClear, "success")
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, report *Report) {
	if r.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.ReconcilerRun, "reconciler", map[string]any{
		"stale_approvals":   report.StaleApprovals,
		"rejected":          report.Rejected,
		"sessions_reverted": report.SessionsReverted,
		"files_reverted":    report.FilesReverted,
		"diffs_cleared":     report.DiffsCleared,
		"failures":          report.Failures,
	})
	if err := r.eventBus.Publish(ctx, events.ReconcilerRun, event); err != nil {
		r.logger.Debug("failed to publish reconciler event", zap.Error(err))
	}
}
