// Package storetest holds the behavior every store.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// Run exercises s against the repository contract.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("approval dedup index", func(t *testing.T) { testApprovalDedup(t, newStore(t)) })
	t.Run("approval single terminal transition", func(t *testing.T) { testResolveOnce(t, newStore(t)) })
	t.Run("approval stale listing", func(t *testing.T) { testStale(t, newStore(t)) })
	t.Run("diffs", func(t *testing.T) { testDiffs(t, newStore(t)) })
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("hooks", func(t *testing.T) { testHooks(t, newStore(t)) })
}

func strPtr(s string) *string { return &s }

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	agentID := "agent-1"
	sess := &models.Session{TaskID: "task-1", AgentID: &agentID, Status: models.SessionQueued, Provider: "claude", HookMode: true}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionQueued, got.Status)
	assert.True(t, got.HookMode)
	require.NotNil(t, got.AgentID)
	assert.Equal(t, agentID, *got.AgentID)

	now := time.Now().UTC()
	got.Status = models.SessionCompleted
	got.Summary = "refactored the parser"
	got.InputTokens = 120
	got.CostUSD = 0.25
	got.EndedAt = &now
	require.NoError(t, s.UpdateSession(ctx, got))

	byTask, err := s.ListSessionsByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, int64(120), byTask[0].InputTokens)
	assert.InDelta(t, 0.25, byTask[0].CostUSD, 1e-9)

	recent, err := s.ListRecentSessionsByAgent(ctx, agentID, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "refactored the parser", recent[0].Summary)

	_, err = s.GetSession(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(s.UpdateSession(ctx, &models.Session{ID: "missing"})))
}

func newApproval(sessionID, callID string) *models.Approval {
	return &models.Approval{
		SessionID:        sessionID,
		Kind:             models.ApprovalKindCommand,
		Payload:          models.ApprovalPayload{ToolName: "Bash", Input: map[string]any{"command": "ls"}, CallID: callID},
		Risk:             models.RiskRequiresApproval,
		Reasons:          []string{"tool requires approval"},
		Status:           models.ApprovalPending,
		TimeoutAt:        time.Now().UTC().Add(time.Minute),
		DefaultOnTimeout: models.TimeoutDeny,
	}
}

func testApprovalDedup(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := newApproval("s-1", "abc123")
	require.NoError(t, s.CreateApproval(ctx, first))

	err := s.CreateApproval(ctx, newApproval("s-1", "abc123"))
	assert.True(t, errors.Is(err, store.ErrDuplicatePending))

	// Different session, or no call id, never collides.
	require.NoError(t, s.CreateApproval(ctx, newApproval("s-2", "abc123")))
	require.NoError(t, s.CreateApproval(ctx, newApproval("s-1", "")))
	require.NoError(t, s.CreateApproval(ctx, newApproval("s-1", "")))

	found, err := s.FindPendingByCallID(ctx, "s-1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "ls", found.Payload.Input["command"])
	assert.Equal(t, []string{"tool requires approval"}, found.Reasons)

	// Once resolved, the same call id may escalate again.
	_, err = s.ResolveApproval(ctx, first.ID, models.Resolution{Status: models.ApprovalRejected, DecidedBy: "user"})
	require.NoError(t, err)
	_, err = s.FindPendingByCallID(ctx, "s-1", "abc123")
	assert.True(t, apperrors.IsNotFound(err))
	require.NoError(t, s.CreateApproval(ctx, newApproval("s-1", "abc123")))

	pending, err := s.ListPendingBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func testResolveOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newApproval("s-1", "call-1")
	require.NoError(t, s.CreateApproval(ctx, a))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []models.ApprovalStatus
	)
	for i := 0; i < racers; i++ {
		status := models.ApprovalApproved
		if i%2 == 1 {
			status = models.ApprovalTimeout
		}
		wg.Add(1)
		go func(status models.ApprovalStatus) {
			defer wg.Done()
			resolved, err := s.ResolveApproval(ctx, a.ID, models.Resolution{Status: status, DecidedBy: "racer"})
			if err == nil {
				mu.Lock()
				wins = append(wins, resolved.Status)
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, store.ErrAlreadyResolved), "unexpected error: %v", err)
		}(status)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	got, err := s.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, wins[0], got.Status)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, "racer", got.DecidedBy)

	_, err = s.ResolveApproval(ctx, "missing", models.Resolution{Status: models.ApprovalApproved})
	assert.True(t, apperrors.IsNotFound(err))
}

func testStale(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := newApproval("s-1", "old")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := newApproval("s-1", "fresh")
	require.NoError(t, s.CreateApproval(ctx, old))
	require.NoError(t, s.CreateApproval(ctx, fresh))

	stale, err := s.ListStalePending(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	all, err := s.ListApprovals(ctx, models.ApprovalFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, old.ID, all[0].ID)
}

func testDiffs(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := &models.Diff{SessionID: "s-1", FilePath: "main.go", OldContent: strPtr("a"), NewContent: strPtr("b"), FullText: strPtr("-a\n+b\n")}
	require.NoError(t, s.CreateDiff(ctx, d))
	require.NoError(t, s.UpdateDiffStatus(ctx, d.ID, models.DiffApplied))

	applied, err := s.ListDiffsByStatus(ctx, models.DiffApplied)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.True(t, applied[0].HasContent())

	require.NoError(t, s.ClearDiffContent(ctx, d.ID))
	got, err := s.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.HasContent())
	assert.Equal(t, "main.go", got.FilePath)
	assert.Equal(t, models.DiffApplied, got.Status)

	bySession, err := s.ListDiffsBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, bySession, 1)
	assert.True(t, apperrors.IsNotFound(s.ClearDiffContent(ctx, "missing")))
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := &models.Project{Name: "gate", Path: "/src/gate", SystemPrompt: "Be careful."}
	require.NoError(t, s.CreateProject(ctx, p))
	agentID := "a-1"
	require.NoError(t, s.CreateAgent(ctx, &models.Agent{ID: agentID, Name: "reviewer", Role: "You review code."}))
	task := &models.Task{ProjectID: p.ID, Title: "fix bug", AgentID: &agentID}
	require.NoError(t, s.CreateTask(ctx, task))

	gotTask, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, gotTask.ProjectID)
	gotProject, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Be careful.", gotProject.SystemPrompt)
	gotAgent, err := s.GetAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "You review code.", gotAgent.Role)

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultSettings(), settings)
	require.NoError(t, s.SaveSettings(ctx, &models.Settings{DefaultProvider: "codex", SystemPrompt: "global", SummaryLimit: 2}))
	require.NoError(t, s.SaveSettings(ctx, &models.Settings{DefaultProvider: "codex", SystemPrompt: "global v2", SummaryLimit: 2}))
	settings, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "global v2", settings.SystemPrompt)

	_, err = s.GetTask(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func testHooks(t *testing.T, s store.Store) {
	ctx := context.Background()
	global := &models.Hook{Name: "audit", Scope: models.HookScopeGlobal, EventType: models.HookToolBefore,
		Transport: models.HookTransportShell, Command: "true", Priority: 1, Enabled: true,
		Filter: models.HookFilter{ToolNames: []string{"Bash"}}}
	project := &models.Hook{Name: "lint", Scope: models.HookScopeProject, ProjectID: "p-1", EventType: models.HookToolBefore,
		Transport: models.HookTransportHTTP, URL: "http://x", Priority: 10, Enabled: true, Blocking: true}
	other := &models.Hook{Name: "other", Scope: models.HookScopeProject, ProjectID: "p-2", EventType: models.HookToolBefore,
		Transport: models.HookTransportShell, Command: "true", Enabled: true}
	disabled := &models.Hook{Name: "off", Scope: models.HookScopeGlobal, EventType: models.HookToolBefore,
		Transport: models.HookTransportShell, Command: "true", Enabled: false}
	after := &models.Hook{Name: "after", Scope: models.HookScopeGlobal, EventType: models.HookToolAfter,
		Transport: models.HookTransportShell, Command: "true", Enabled: true}
	for _, h := range []*models.Hook{global, project, other, disabled, after} {
		require.NoError(t, s.CreateHook(ctx, h))
	}

	hooks, err := s.ListHooks(ctx, models.HookQuery{EventType: models.HookToolBefore, ProjectID: "p-1", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "lint", hooks[0].Name)
	assert.True(t, hooks[0].Blocking)
	assert.Equal(t, "audit", hooks[1].Name)
	assert.Equal(t, []string{"Bash"}, hooks[1].Filter.ToolNames)

	all, err := s.ListHooks(ctx, models.HookQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	global.Enabled = false
	require.NoError(t, s.UpdateHook(ctx, global))
	got, err := s.GetHook(ctx, global.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, s.DeleteHook(ctx, other.ID))
	assert.True(t, apperrors.IsNotFound(s.DeleteHook(ctx, other.ID)))
}
