package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/common/tracing"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

const (
	decidedBySystem  = "system"
	decidedBySession = "session"
	expireTimeout    = 30 * time.Second
)

// Gate is the single decision point for agent tool calls. It serves the polling
// protocol (hook processes) and the interactive protocol (in-process callers).
type Gate struct {
	repo     store.ApprovalStore
	policy   *Policy
	cfg      Config
	eventBus bus.EventBus
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time

	wireMu   sync.RWMutex
	notifier Notifier
	safety   SafetyCheck

	flight singleflight.Group

	// mu guards states and waits. Never held across store or network calls.
	mu     sync.Mutex
	states map[string]*sessionState
	waits  map[string]*pendingWait
}

// NewGate creates an approval gate. eventBus and m may be nil.
func NewGate(repo store.ApprovalStore, policy *Policy, cfg Config, eventBus bus.EventBus, m *metrics.Metrics, log *logger.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.DefaultOnTimeout == "" {
		cfg.DefaultOnTimeout = models.TimeoutDeny
	}
	return &Gate{
		repo:     repo,
		policy:   policy,
		cfg:      cfg,
		eventBus: eventBus,
		metrics:  m,
		logger:   log.WithFields(zap.String("component", "approval-gate")),
		now:      func() time.Time { return time.Now().UTC() },
		states:   make(map[string]*sessionState),
		waits:    make(map[string]*pendingWait),
	}
}

// SetNotifier wires the interactive channel. It is set after construction
// because the channel itself answers approvals through the gate.
func (g *Gate) SetNotifier(n Notifier) {
	g.wireMu.Lock()
	g.notifier = n
	g.wireMu.Unlock()
}

// SetSafetyCheck installs the built-in safety check applied to polling requests.
// Interactive callers pass its result through CheckOptions themselves.
func (g *Gate) SetSafetyCheck(check SafetyCheck) {
	g.wireMu.Lock()
	g.safety = check
	g.wireMu.Unlock()
}

func (g *Gate) safetyOptions(req models.ToolCallRequest) CheckOptions {
	g.wireMu.RLock()
	check := g.safety
	g.wireMu.RUnlock()
	if check == nil {
		return CheckOptions{}
	}
	reasons := check(req.ToolName, req.Input)
	return CheckOptions{ForceDangerous: len(reasons) > 0, Reasons: reasons}
}

// Policy returns the classifier.
func (g *Gate) Policy() *Policy {
	return g.policy
}

// ---------------------------------------------------------------------------
// Interactive protocol
// ---------------------------------------------------------------------------

// Check decides a tool call, suspending the caller until a response, a session
// state change or the timeout resolves an escalated call. In hook mode the
// interactive channel is not told; the decision comes through the polling side.
func (g *Gate) Check(ctx context.Context, req models.ToolCallRequest, opts CheckOptions) (*Decision, error) {
	ctx, span := tracing.TraceApprovalCheck(ctx, req.SessionID, req.ToolName, req.CallID)
	defer span.End()

	if err := validateCall(req.SessionID, req.ToolName); err != nil {
		tracing.TraceResult(span, "invalid", err)
		return nil, err
	}

	state := g.State(req.SessionID)
	cls := g.policy.Classify(req, state, opts)
	if !cls.Escalate {
		tracing.TraceResult(span, "allowed", nil)
		return &Decision{Allowed: true, Reason: cls.Reason, Risk: cls.Risk, Source: cls.Source}, nil
	}

	approval, err := g.obtain(ctx, req, cls, createOptions{wait: true, forced: opts.ForceDangerous, notify: !state.HookMode})
	if err != nil {
		tracing.TraceResult(span, "error", err)
		return nil, err
	}
	w := g.ensureWait(approval, opts.ForceDangerous)
	g.settleIfResolved(ctx, approval.ID)

	log := g.logger.WithApprovalID(approval.ID).WithSessionID(req.SessionID)
	log.Debug("waiting for approval decision", zap.String("tool", req.ToolName), zap.String("risk", string(approval.Risk)))

	select {
	case <-w.done:
		d := w.decision
		tracing.TraceResult(span, decisionStatus(d), nil)
		return &d, nil
	case <-ctx.Done():
		// The approval stays pending; its timer, EndSession or the reconciler settles it.
		log.Debug("approval wait cancelled", zap.Error(ctx.Err()))
		tracing.TraceResult(span, "cancelled", ctx.Err())
		return &Decision{
			Allowed:    false,
			Reason:     "approval wait cancelled: " + ctx.Err().Error(),
			ApprovalID: approval.ID,
			Risk:       approval.Risk,
			Source:     SourceSystem,
		}, nil
	}
}

// ---------------------------------------------------------------------------
// Polling protocol
// ---------------------------------------------------------------------------

// RequestApproval answers a hook process immediately: allow for safe calls,
// otherwise the (possibly pre-existing) pending approval to poll. Sessions on the
// interactive protocol are refused.
func (g *Gate) RequestApproval(ctx context.Context, req PollRequest) (*PollResponse, error) {
	ctx, span := tracing.TraceApprovalRequest(ctx, req.SessionID, req.ToolName, req.CallID)
	defer span.End()

	if err := validateCall(req.SessionID, req.ToolName); err != nil {
		tracing.TraceResult(span, "invalid", err)
		return nil, err
	}
	state := g.State(req.SessionID)
	if !state.HookMode {
		err := apperrors.Conflict("session " + req.SessionID + " uses the interactive approval protocol")
		tracing.TraceResult(span, "refused", err)
		return nil, err
	}
	call := models.ToolCallRequest{SessionID: req.SessionID, ToolName: req.ToolName, Input: req.Input, CallID: req.CallID}
	opts := g.safetyOptions(call)
	cls := g.policy.Classify(call, state, opts)
	if !cls.Escalate {
		tracing.TraceResult(span, "allowed", nil)
		return &PollResponse{Decision: PollAllow, Risk: cls.Risk, Reason: cls.Reason}, nil
	}

	approval, err := g.obtain(ctx, call, cls, createOptions{forced: opts.ForceDangerous})
	if err != nil {
		tracing.TraceResult(span, "error", err)
		return nil, err
	}
	resp, err := g.pollResponse(ctx, approval)
	if err != nil {
		tracing.TraceResult(span, "error", err)
		return nil, err
	}
	tracing.TraceResult(span, string(resp.Decision), nil)
	return resp, nil
}

// Status returns the current decision of an approval, timing it out lazily once
// its deadline has passed.
func (g *Gate) Status(ctx context.Context, approvalID string) (*PollResponse, error) {
	approval, err := g.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return g.pollResponse(ctx, approval)
}

func (g *Gate) pollResponse(ctx context.Context, approval *models.Approval) (*PollResponse, error) {
	if approval.Status == models.ApprovalPending && !g.now().Before(approval.TimeoutAt) {
		resolved, err := g.resolve(ctx, approval.ID, models.ApprovalTimeout, decidedBySystem, "", SourceTimeout)
		switch {
		case err == nil:
			approval = resolved
		case errors.Is(err, store.ErrAlreadyResolved):
			if approval, err = g.repo.GetApproval(ctx, approval.ID); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	timeoutAt := approval.TimeoutAt
	resp := &PollResponse{
		ApprovalID: approval.ID,
		Status:     approval.Status,
		TimeoutAt:  &timeoutAt,
		Risk:       approval.Risk,
	}
	if approval.Status == models.ApprovalPending {
		resp.Decision = PollPending
		resp.Reason = "waiting for approval"
		return resp, nil
	}
	d := decisionFor(approval, sourceOf(approval))
	resp.Decision = PollDeny
	if d.Allowed {
		resp.Decision = PollAllow
	}
	resp.Reason = d.Reason
	return resp, nil
}

// Respond records an explicit human or client decision. With remember, an approved
// tool is allowed for the rest of the session.
func (g *Gate) Respond(ctx context.Context, approvalID string, approve bool, decidedBy, reason string, remember bool) (*models.Approval, error) {
	current, err := g.repo.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, store.ErrAlreadyResolved
	}
	if !g.now().Before(current.TimeoutAt) {
		if _, err := g.resolve(ctx, approvalID, models.ApprovalTimeout, decidedBySystem, "", SourceTimeout); err != nil && !errors.Is(err, store.ErrAlreadyResolved) {
			return nil, err
		}
		return nil, apperrors.Conflict("approval timed out before a decision was made")
	}

	if decidedBy == "" {
		decidedBy = "user"
	}
	status := models.ApprovalRejected
	if approve {
		status = models.ApprovalApproved
	}
	resolved, err := g.resolve(ctx, approvalID, status, decidedBy, reason, SourceUser)
	if err != nil {
		return nil, err
	}
	if approve && remember {
		if err := g.AllowToolForSession(ctx, resolved.SessionID, resolved.Payload.ToolName); err != nil {
			g.logger.Warn("failed to remember session grant", zap.Error(err))
		}
	}
	return resolved, nil
}

// Reject resolves a pending approval as rejected on behalf of the system, releasing
// any caller still waiting on it.
func (g *Gate) Reject(ctx context.Context, approvalID, decidedBy, reason string) (*models.Approval, error) {
	if decidedBy == "" {
		decidedBy = decidedBySystem
	}
	return g.resolve(ctx, approvalID, models.ApprovalRejected, decidedBy, reason, SourceSystem)
}

// ---------------------------------------------------------------------------
// Session approval state
// ---------------------------------------------------------------------------

func (g *Gate) stateLocked(sessionID string) *sessionState {
	st, ok := g.states[sessionID]
	if !ok {
		st = newSessionState(g.cfg.HookModeDefault)
		g.states[sessionID] = st
	}
	return st
}

// State returns the session's approval state, creating it on first use.
func (g *Gate) State(sessionID string) SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(sessionID).snapshot()
}

// SetMode changes the permission mode and releases waits the new mode allows.
func (g *Gate) SetMode(ctx context.Context, sessionID string, mode models.PermissionMode) error {
	if !mode.Valid() {
		return apperrors.Validation("mode", fmt.Sprintf("unknown permission mode %q", mode))
	}
	g.mu.Lock()
	g.stateLocked(sessionID).mode = mode
	g.mu.Unlock()
	g.logger.WithSessionID(sessionID).Info("permission mode changed", zap.String("mode", string(mode)))
	return g.releaseAllowed(ctx, sessionID)
}

// AllowToolForSession grants a tool for the rest of the session and releases
// waits for it.
func (g *Gate) AllowToolForSession(ctx context.Context, sessionID, toolName string) error {
	if toolName == "" {
		return apperrors.Validation("tool_name", "tool name is required")
	}
	g.mu.Lock()
	g.stateLocked(sessionID).allowed[toolName] = true
	g.mu.Unlock()
	return g.releaseAllowed(ctx, sessionID)
}

// SetHookMode selects the polling (true) or interactive (false) protocol. Switching
// is refused while the session has a pending approval.
func (g *Gate) SetHookMode(ctx context.Context, sessionID string, hookMode bool) error {
	if g.State(sessionID).HookMode == hookMode {
		return nil
	}
	pending, err := g.repo.ListPendingBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(pending) > 0 || g.hasWaits(sessionID) {
		return apperrors.Conflict("cannot switch approval protocol while approvals are pending")
	}
	g.mu.Lock()
	g.stateLocked(sessionID).hookMode = hookMode
	g.mu.Unlock()
	return nil
}

// EndSession rejects everything still pending for the session and drops its state.
func (g *Gate) EndSession(ctx context.Context, sessionID, reason string) (int, error) {
	if reason == "" {
		reason = "session ended"
	}
	ids := make(map[string]struct{})
	g.mu.Lock()
	for id, w := range g.waits {
		if w.approval.SessionID == sessionID {
			ids[id] = struct{}{}
		}
	}
	g.mu.Unlock()

	pending, err := g.repo.ListPendingBySession(ctx, sessionID)
	if err != nil {
		g.logger.WithSessionID(sessionID).Warn("failed to list pending approvals", zap.Error(err))
	}
	for _, a := range pending {
		ids[a.ID] = struct{}{}
	}

	rejected := 0
	var errs []error
	for id := range ids {
		_, rerr := g.resolve(ctx, id, models.ApprovalRejected, decidedBySystem, reason, SourceSystem)
		switch {
		case rerr == nil:
			rejected++
		case errors.Is(rerr, store.ErrAlreadyResolved):
		default:
			errs = append(errs, rerr)
		}
	}

	g.mu.Lock()
	delete(g.states, sessionID)
	g.mu.Unlock()

	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return rejected, apperrors.InternalError("failed to reject pending approvals", errors.Join(errs...))
	}
	return rejected, nil
}

// releaseAllowed resolves waits of the session that its current state now allows.
func (g *Gate) releaseAllowed(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	state := g.stateLocked(sessionID).snapshot()
	var candidates []*pendingWait
	for _, w := range g.waits {
		if w.approval.SessionID == sessionID {
			candidates = append(candidates, w)
		}
	}
	g.mu.Unlock()

	var errs []error
	for _, w := range candidates {
		a := w.approval
		call := models.ToolCallRequest{SessionID: a.SessionID, ToolName: a.Payload.ToolName, Input: a.Payload.Input, CallID: a.Payload.CallID}
		cls := g.policy.Classify(call, state, CheckOptions{ForceDangerous: w.forced})
		if cls.Escalate {
			continue
		}
		if _, err := g.resolve(ctx, a.ID, models.ApprovalApproved, decidedBySession, cls.Reason, SourceSession); err != nil && !errors.Is(err, store.ErrAlreadyResolved) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.InternalError("failed to release pending approvals", errors.Join(errs...))
	}
	return nil
}

func (g *Gate) hasWaits(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.waits {
		if w.approval.SessionID == sessionID {
			return true
		}
	}
	return false
}

// PendingWaits returns the number of parked interactive approvals.
func (g *Gate) PendingWaits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waits)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Get returns one approval.
func (g *Gate) Get(ctx context.Context, approvalID string) (*models.Approval, error) {
	return g.repo.GetApproval(ctx, approvalID)
}

// ListPending returns pending approvals of a session, or of every session when sessionID is empty.
func (g *Gate) ListPending(ctx context.Context, sessionID string) ([]*models.Approval, error) {
	if sessionID == "" {
		return g.repo.ListApprovals(ctx, models.ApprovalFilter{Status: models.ApprovalPending})
	}
	return g.repo.ListPendingBySession(ctx, sessionID)
}

// List returns approvals matching filter.
func (g *Gate) List(ctx context.Context, filter models.ApprovalFilter) ([]*models.Approval, error) {
	return g.repo.ListApprovals(ctx, filter)
}

// ---------------------------------------------------------------------------
// Creation, dedup and resolution
// ---------------------------------------------------------------------------

// createOptions controls what happens around a newly created approval.
type createOptions struct {
	wait   bool // park an in-process waiter
	forced bool // escalated by the caller's safety input
	notify bool // push to the interactive channel
}

// obtain returns the pending approval for the call, creating it once per
// (session, call id). Calls without a call id are always novel.
func (g *Gate) obtain(ctx context.Context, req models.ToolCallRequest, cls Classification, opts createOptions) (*models.Approval, error) {
	if req.CallID == "" {
		return g.create(ctx, req, cls, opts)
	}
	key := req.SessionID + "\x00" + req.CallID
	v, err, _ := g.flight.Do(key, func() (any, error) {
		existing, err := g.repo.FindPendingByCallID(ctx, req.SessionID, req.CallID)
		if err == nil {
			return existing, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
		created, err := g.create(ctx, req, cls, opts)
		if errors.Is(err, store.ErrDuplicatePending) {
			return g.repo.FindPendingByCallID(ctx, req.SessionID, req.CallID)
		}
		return created, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Approval), nil
}

func (g *Gate) create(ctx context.Context, req models.ToolCallRequest, cls Classification, opts createOptions) (*models.Approval, error) {
	now := g.now()
	approval := &models.Approval{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Kind:      kindFor(req.ToolName),
		Payload: models.ApprovalPayload{
			ToolName: req.ToolName,
			Input:    req.Input,
			CallID:   req.CallID,
		},
		Risk:             cls.Risk,
		Reasons:          cls.Reasons,
		Status:           models.ApprovalPending,
		TimeoutAt:        now.Add(g.cfg.Timeout),
		DefaultOnTimeout: g.cfg.DefaultOnTimeout,
		CreatedAt:        now,
	}
	if err := g.repo.CreateApproval(ctx, approval); err != nil {
		return nil, err
	}
	g.metrics.ApprovalCreated(string(approval.Kind), string(approval.Risk))
	g.logger.WithApprovalID(approval.ID).WithSessionID(req.SessionID).Info("approval created",
		zap.String("tool", req.ToolName),
		zap.String("risk", string(approval.Risk)),
		zap.Time("timeout_at", approval.TimeoutAt))

	// Park the waiter before anyone can learn the id and answer it.
	if opts.wait {
		g.ensureWait(approval, opts.forced)
	}
	g.announce(ctx, approval, opts.notify)
	return approval, nil
}

func kindFor(toolName string) models.ApprovalKind {
	switch {
	case models.IsShellTool(toolName):
		return models.ApprovalKindCommand
	case models.IsFileEditTool(toolName):
		return models.ApprovalKindDiff
	}
	return models.ApprovalKindTool
}

// ensureWait returns the wait for an approval, registering it and its timer once.
func (g *Gate) ensureWait(approval *models.Approval, forced bool) *pendingWait {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.waits[approval.ID]; ok {
		return w
	}
	w := newPendingWait(approval, forced)
	id := approval.ID
	w.timer = time.AfterFunc(approval.TimeoutAt.Sub(g.now()), func() { g.expire(id) })
	g.waits[id] = w
	return w
}

// settleIfResolved completes a wait whose approval was decided before the wait existed.
func (g *Gate) settleIfResolved(ctx context.Context, approvalID string) {
	current, err := g.repo.GetApproval(ctx, approvalID)
	if err != nil || !current.Status.IsTerminal() {
		return
	}
	g.mu.Lock()
	w := g.waits[approvalID]
	delete(g.waits, approvalID)
	g.mu.Unlock()
	if w != nil {
		w.stop()
		w.complete(decisionFor(current, sourceOf(current)))
	}
}

func (g *Gate) expire(approvalID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if _, err := g.resolve(ctx, approvalID, models.ApprovalTimeout, decidedBySystem, "", SourceTimeout); err != nil && !errors.Is(err, store.ErrAlreadyResolved) {
		g.logger.WithApprovalID(approvalID).Error("failed to time out approval", zap.Error(err))
	}
}

// resolve applies the terminal transition. The wait is taken out of the map first so
// a concurrent resolver finds nothing to complete; the store's conditional update
// decides the single winner.
func (g *Gate) resolve(ctx context.Context, approvalID string, status models.ApprovalStatus, decidedBy, reason string, source DecisionSource) (*models.Approval, error) {
	g.mu.Lock()
	w := g.waits[approvalID]
	delete(g.waits, approvalID)
	g.mu.Unlock()
	if w != nil {
		w.stop()
	}

	approval, err := g.repo.ResolveApproval(ctx, approvalID, models.Resolution{
		Status:    status,
		DecidedBy: decidedBy,
		Reason:    reason,
		DecidedAt: g.now(),
	})
	if err != nil {
		if w != nil {
			w.complete(g.decisionAfterFailedResolve(ctx, w.approval, err))
		}
		return nil, err
	}

	d := decisionFor(approval, source)
	if w != nil {
		w.complete(d)
	}

	var waited time.Duration
	if approval.DecidedAt != nil {
		waited = approval.DecidedAt.Sub(approval.CreatedAt)
	}
	g.metrics.ApprovalResolved(string(approval.Status), string(source), waited)
	g.logger.WithApprovalID(approvalID).WithSessionID(approval.SessionID).Info("approval resolved",
		zap.String("status", string(approval.Status)),
		zap.String("source", string(source)),
		zap.String("decided_by", decidedBy))
	g.publish(ctx, events.ApprovalResolved, approval, map[string]any{
		"status":     string(approval.Status),
		"source":     string(source),
		"decided_by": approval.DecidedBy,
		"allowed":    d.Allowed,
		"reason":     d.Reason,
	})
	return approval, nil
}

// decisionAfterFailedResolve hands a waiter whatever the store holds when our own
// transition lost; a store failure denies.
func (g *Gate) decisionAfterFailedResolve(ctx context.Context, approval *models.Approval, cause error) Decision {
	if current, err := g.repo.GetApproval(ctx, approval.ID); err == nil && current.Status.IsTerminal() {
		return decisionFor(current, sourceOf(current))
	}
	return Decision{
		Allowed:    false,
		Reason:     "approval could not be recorded: " + cause.Error(),
		ApprovalID: approval.ID,
		Risk:       approval.Risk,
		Source:     SourceSystem,
	}
}

func decisionFor(a *models.Approval, source DecisionSource) Decision {
	d := Decision{ApprovalID: a.ID, Risk: a.Risk, Source: source}
	who := a.DecidedBy
	if who == "" {
		who = "user"
	}
	switch a.Status {
	case models.ApprovalApproved:
		d.Allowed = true
		d.Reason = a.DecisionReason
		if d.Reason == "" {
			d.Reason = "approved by " + who
		}
	case models.ApprovalRejected:
		d.Reason = a.DecisionReason
		if d.Reason == "" {
			d.Reason = "rejected by " + who
		}
	case models.ApprovalTimeout:
		d.Allowed = a.TimeoutAllows()
		d.Source = SourceTimeout
		d.Reason = fmt.Sprintf("approval timed out; default action %q applied", a.DefaultOnTimeout)
	default:
		d.Reason = "approval is still pending"
	}
	return d
}

// sourceOf infers the decision source of an approval decided elsewhere.
func sourceOf(a *models.Approval) DecisionSource {
	switch {
	case a.Status == models.ApprovalTimeout:
		return SourceTimeout
	case a.DecidedBy == decidedBySession:
		return SourceSession
	case a.DecidedBy == decidedBySystem || a.DecidedBy == "reconciler":
		return SourceSystem
	}
	return SourceUser
}

func decisionStatus(d Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return "denied"
}

func (g *Gate) announce(ctx context.Context, approval *models.Approval, notify bool) {
	g.wireMu.RLock()
	n := g.notifier
	g.wireMu.RUnlock()
	if notify && n != nil {
		if err := n.NotifyApprovalRequest(approval.SessionID, approval); err != nil {
			g.logger.WithApprovalID(approval.ID).Warn("failed to notify interactive clients", zap.Error(err))
		}
	}
	g.publish(ctx, events.ApprovalPending, approval, map[string]any{
		"tool_name":  approval.Payload.ToolName,
		"call_id":    approval.Payload.CallID,
		"risk":       string(approval.Risk),
		"kind":       string(approval.Kind),
		"timeout_at": approval.TimeoutAt,
	})
}

func (g *Gate) publish(ctx context.Context, eventType string, approval *models.Approval, data map[string]any) {
	if g.eventBus == nil {
		return
	}
	data["approval_id"] = approval.ID
	data["session_id"] = approval.SessionID
	event := bus.NewEvent(eventType, "approval-gate", data)
	subject := events.SessionSubject(eventType, approval.SessionID)
	if err := g.eventBus.Publish(ctx, subject, event); err != nil {
		g.logger.Warn("failed to publish approval event", zap.String("type", eventType), zap.Error(err))
	}
}

func validateCall(sessionID, toolName string) error {
	if sessionID == "" {
		return apperrors.Validation("session_id", "session id is required")
	}
	if toolName == "" {
		return apperrors.Validation("tool_name", "tool name is required")
	}
	return nil
}
