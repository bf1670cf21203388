package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/approval"
	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/diffs"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store/memory"
)

type revertCall struct {
	sessionID  string
	workingDir string
}

type fakeReverter struct {
	mu     sync.Mutex
	calls  []revertCall
	failOn string
}

func (f *fakeReverter) RevertAllSessionDiffs(ctx context.Context, sessionID, workingDir string) (diffs.RevertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, revertCall{sessionID: sessionID, workingDir: workingDir})
	if sessionID == f.failOn {
		return diffs.RevertResult{}, errors.New("disk on fire")
	}
	return diffs.RevertResult{Reverted: 2}, nil
}

type failingRejecter struct {
	next   ApprovalRejecter
	failID string
}

func (f *failingRejecter) Reject(ctx context.Context, id, by, reason string) (*models.Approval, error) {
	if id == f.failID {
		return nil, errors.New("store unavailable")
	}
	return f.next.Reject(ctx, id, by, reason)
}

type fixture struct {
	rec      *Reconciler
	repo     *memory.Store
	reverter *fakeReverter
	metrics  *metrics.Metrics
	gate     *approval.Gate
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.New()
	log := logger.NewNop()
	m := metrics.New(prometheus.NewRegistry())

	acfg := config.ApprovalConfig{TimeoutSeconds: 86400, DefaultOnTimeout: "deny", RequireApprovalTools: []string{"Write"}}
	policy, err := approval.NewPolicy(acfg)
	require.NoError(t, err)
	gate := approval.NewGate(repo, policy, approval.ConfigFrom(acfg), nil, m, log)

	rev := &fakeReverter{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := New(repo, repo, repo, gate, rev, Config{Interval: time.Minute, PendingTTL: time.Hour}, nil, m, log)
	rec.now = func() time.Time { return now }
	return &fixture{rec: rec, repo: repo, reverter: rev, metrics: m, gate: gate, now: now}
}

func (f *fixture) session(t *testing.T, id, workingDir string) {
	t.Helper()
	require.NoError(t, f.repo.CreateSession(context.Background(), &models.Session{
		ID: id, TaskID: "t-" + id, Status: models.SessionRunning, WorkingDir: workingDir,
	}))
}

func (f *fixture) pending(t *testing.T, sessionID, callID string, age time.Duration) *models.Approval {
	t.Helper()
	a := &models.Approval{
		SessionID:        sessionID,
		Kind:             models.ApprovalKindTool,
		Payload:          models.ApprovalPayload{ToolName: "Write", CallID: callID},
		Risk:             models.RiskRequiresApproval,
		Status:           models.ApprovalPending,
		TimeoutAt:        f.now.Add(time.Hour),
		DefaultOnTimeout: models.TimeoutDeny,
		CreatedAt:        f.now.Add(-age),
	}
	require.NoError(t, f.repo.CreateApproval(context.Background(), a))
	return a
}

func TestRunOnce_RejectsStaleAndRevertsOncePerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", "/work/s1")
	a1 := f.pending(t, "s1", "c1", 2*time.Hour)
	a2 := f.pending(t, "s1", "c2", 90*time.Minute)
	fresh := f.pending(t, "s1", "c3", 10*time.Minute)

	report, err := f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.StaleApprovals)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.SessionsReverted)
	assert.Equal(t, 2, report.FilesReverted)
	assert.Equal(t, []revertCall{{sessionID: "s1", workingDir: "/work/s1"}}, f.reverter.calls)

	for _, id := range []string{a1.ID, a2.ID} {
		got, err := f.repo.GetApproval(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalRejected, got.Status)
		assert.Equal(t, "reconciler", got.DecidedBy)
		assert.Equal(t, staleReason, got.DecisionReason)
	}
	got, err := f.repo.GetApproval(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ReconcilerItems.WithLabelValues("reject_stale", "success")))

	// A second sweep finds nothing.
	report, err = f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.StaleApprovals)
	assert.Len(t, f.reverter.calls, 1)
}

func TestRunOnce_NoRevertWithoutWorkingDir(t *testing.T) {
	f := newFixture(t)
	f.session(t, "s1", "")
	f.pending(t, "s1", "c1", 2*time.Hour)
	f.pending(t, "ghost", "c1", 2*time.Hour)

	report, err := f.rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rejected)
	assert.Empty(t, f.reverter.calls)
	assert.Zero(t, report.Failures)
}

func TestRunOnce_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", "/work/s1")
	f.session(t, "s2", "/work/s2")
	bad := f.pending(t, "s1", "c1", 3*time.Hour)
	s1ok := f.pending(t, "s1", "c2", 3*time.Hour)
	s2 := f.pending(t, "s2", "c1", 2*time.Hour)

	f.reverter.failOn = "s1"
	f.rec.rejecter = &failingRejecter{next: f.gate, failID: bad.ID}

	report, err := f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rejected)
	assert.Equal(t, 1, report.SessionsReverted)
	assert.Equal(t, 2, report.Failures)
	assert.Len(t, report.Errors, 2)
	assert.Len(t, f.reverter.calls, 2)

	for _, id := range []string{s1ok.ID, s2.ID} {
		got, err := f.repo.GetApproval(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalRejected, got.Status)
	}
	got, err := f.repo.GetApproval(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)
}

func TestRunOnce_ClearsAppliedDiffContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, newer, full := "old", "new", "diff"
	applied := &models.Diff{SessionID: "s1", FilePath: "a.go", OldContent: &old, NewContent: &newer, FullText: &full, Status: models.DiffApplied}
	pending := &models.Diff{SessionID: "s1", FilePath: "b.go", OldContent: &old, NewContent: &newer, Status: models.DiffPending}
	require.NoError(t, f.repo.CreateDiff(ctx, applied))
	require.NoError(t, f.repo.CreateDiff(ctx, pending))

	report, err := f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DiffsCleared)

	got, err := f.repo.GetDiff(ctx, applied.ID)
	require.NoError(t, err)
	assert.False(t, got.HasContent())
	assert.Equal(t, "a.go", got.FilePath)
	assert.Equal(t, models.DiffApplied, got.Status)

	got, err = f.repo.GetDiff(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, got.HasContent())

	report, err = f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.DiffsCleared)
}

func TestRun_SweepsAfterInitialDelay(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "s1", "c1", 2*time.Hour)
	f.rec.cfg.InitialDelay = 10 * time.Millisecond
	f.rec.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := f.repo.ListPendingBySession(context.Background(), "s1")
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunOnce_ReleasesWaitingCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	result := make(chan *approval.Decision, 1)
	go func() {
		d, _ := f.gate.Check(ctx, models.ToolCallRequest{SessionID: "s1", ToolName: "Write", CallID: "c1"}, approval.CheckOptions{})
		result <- d
	}()
	require.Eventually(t, func() bool { return f.gate.PendingWaits() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Age the sweep clock past the TTL instead of the record.
	f.rec.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	report, err := f.rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)

	select {
	case d := <-result:
		assert.False(t, d.Allowed)
		assert.Equal(t, approval.SourceSystem, d.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller was not released")
	}
}
