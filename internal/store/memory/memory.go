// Package memory provides an in-process Store used in tests and with database.driver=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// Store keeps every record in maps guarded by one mutex. Returned values are copies.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	approvals map[string]*models.Approval
	diffs     map[string]*models.Diff
	tasks     map[string]*models.Task
	projects  map[string]*models.Project
	agents    map[string]*models.Agent
	hooks     map[string]*models.Hook
	settings  *models.Settings
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]*models.Session),
		approvals: make(map[string]*models.Approval),
		diffs:     make(map[string]*models.Diff),
		tasks:     make(map[string]*models.Task),
		projects:  make(map[string]*models.Project),
		agents:    make(map[string]*models.Agent),
		hooks:     make(map[string]*models.Hook),
	}
}

func (s *Store) Close() error { return nil }

// Sessions

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.sessions[session.ID]; ok {
		return apperrors.Conflict("session " + session.ID + " already exists")
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListSessionsByTask(ctx context.Context, taskID string) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.TaskID == taskID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListRecentSessionsByAgent(ctx context.Context, agentID string, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.AgentID != nil && *sess.AgentID == agentID && sess.Summary != "" && sess.Status.IsTerminal() {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return apperrors.NotFound("session", session.ID)
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// Approvals

func copyApproval(a *models.Approval) *models.Approval {
	cp := *a
	if a.Reasons != nil {
		cp.Reasons = append([]string(nil), a.Reasons...)
	}
	if a.Payload.Input != nil {
		cp.Payload.Input = make(map[string]any, len(a.Payload.Input))
		for k, v := range a.Payload.Input {
			cp.Payload.Input[k] = v
		}
	}
	return &cp
}

func (s *Store) CreateApproval(ctx context.Context, approval *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if approval.ID == "" {
		approval.ID = uuid.New().String()
	}
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	if approval.Status == "" {
		approval.Status = models.ApprovalPending
	}
	if approval.Status == models.ApprovalPending && approval.Payload.CallID != "" {
		for _, existing := range s.approvals {
			if existing.Status == models.ApprovalPending &&
				existing.SessionID == approval.SessionID &&
				existing.Payload.CallID == approval.Payload.CallID {
				return store.ErrDuplicatePending
			}
		}
	}
	s.approvals[approval.ID] = copyApproval(approval)
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	return copyApproval(a), nil
}

func (s *Store) FindPendingByCallID(ctx context.Context, sessionID, callID string) (*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.approvals {
		if a.Status == models.ApprovalPending && a.SessionID == sessionID && a.Payload.CallID == callID {
			return copyApproval(a), nil
		}
	}
	return nil, apperrors.NotFound("pending approval for call", callID)
}

func (s *Store) ListPendingBySession(ctx context.Context, sessionID string) ([]*models.Approval, error) {
	return s.ListApprovals(ctx, models.ApprovalFilter{SessionID: sessionID, Status: models.ApprovalPending})
}

func (s *Store) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Approval
	for _, a := range s.approvals {
		if a.Status == models.ApprovalPending && a.CreatedAt.Before(cutoff) {
			out = append(out, copyApproval(a))
		}
	}
	sortApprovals(out)
	return out, nil
}

func (s *Store) ListApprovals(ctx context.Context, filter models.ApprovalFilter) ([]*models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Approval
	for _, a := range s.approvals {
		if filter.SessionID != "" && a.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, copyApproval(a))
	}
	sortApprovals(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortApprovals(out []*models.Approval) {
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
}

func (s *Store) ResolveApproval(ctx context.Context, id string, res models.Resolution) (*models.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, apperrors.NotFound("approval", id)
	}
	if a.Status != models.ApprovalPending {
		return nil, store.ErrAlreadyResolved
	}
	decidedAt := res.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	a.Status = res.Status
	a.DecidedBy = res.DecidedBy
	a.DecisionReason = res.Reason
	a.DecidedAt = &decidedAt
	return copyApproval(a), nil
}

// Diffs

func (s *Store) CreateDiff(ctx context.Context, diff *models.Diff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if diff.ID == "" {
		diff.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if diff.CreatedAt.IsZero() {
		diff.CreatedAt = now
	}
	diff.UpdatedAt = now
	if diff.Status == "" {
		diff.Status = models.DiffPending
	}
	cp := *diff
	s.diffs[diff.ID] = &cp
	return nil
}

func (s *Store) GetDiff(ctx context.Context, id string) (*models.Diff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.diffs[id]
	if !ok {
		return nil, apperrors.NotFound("diff", id)
	}
	cp := *d
	return &cp, nil
}

func (s *Store) listDiffs(match func(*models.Diff) bool) []*models.Diff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Diff
	for _, d := range s.diffs {
		if match(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListDiffsByStatus(ctx context.Context, status models.DiffStatus) ([]*models.Diff, error) {
	return s.listDiffs(func(d *models.Diff) bool { return d.Status == status }), nil
}

func (s *Store) ListDiffsBySession(ctx context.Context, sessionID string) ([]*models.Diff, error) {
	return s.listDiffs(func(d *models.Diff) bool { return d.SessionID == sessionID }), nil
}

func (s *Store) UpdateDiffStatus(ctx context.Context, id string, status models.DiffStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diffs[id]
	if !ok {
		return apperrors.NotFound("diff", id)
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ClearDiffContent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diffs[id]
	if !ok {
		return apperrors.NotFound("diff", id)
	}
	d.OldContent, d.NewContent, d.FullText = nil, nil, nil
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Catalog

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateProject(ctx context.Context, project *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, apperrors.NotFound("agent", id)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return store.DefaultSettings(), nil
	}
	cp := *s.settings
	return &cp, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *settings
	s.settings = &cp
	return nil
}

// Hooks

func copyHook(h *models.Hook) *models.Hook {
	cp := *h
	cp.Filter = models.HookFilter{
		ToolNames: append([]string(nil), h.Filter.ToolNames...),
		Statuses:  append([]string(nil), h.Filter.Statuses...),
		Providers: append([]string(nil), h.Filter.Providers...),
	}
	return &cp
}

func (s *Store) CreateHook(ctx context.Context, hook *models.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	hook.CreatedAt = now
	hook.UpdatedAt = now
	s.hooks[hook.ID] = copyHook(hook)
	return nil
}

func (s *Store) UpdateHook(ctx context.Context, hook *models.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.hooks[hook.ID]
	if !ok {
		return apperrors.NotFound("hook", hook.ID)
	}
	hook.CreatedAt = existing.CreatedAt
	hook.UpdatedAt = time.Now().UTC()
	s.hooks[hook.ID] = copyHook(hook)
	return nil
}

func (s *Store) DeleteHook(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[id]; !ok {
		return apperrors.NotFound("hook", id)
	}
	delete(s.hooks, id)
	return nil
}

func (s *Store) GetHook(ctx context.Context, id string) (*models.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hooks[id]
	if !ok {
		return nil, apperrors.NotFound("hook", id)
	}
	return copyHook(h), nil
}

func (s *Store) ListHooks(ctx context.Context, query models.HookQuery) ([]*models.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Hook
	for _, h := range s.hooks {
		if store.MatchesHookQuery(h, query) {
			out = append(out, copyHook(h))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
