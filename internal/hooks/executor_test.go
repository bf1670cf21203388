package hooks

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

	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store/memory"
)

type callLog struct {
	mu    sync.Mutex
	names []string
}

func (c *callLog) add(name string) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

func (c *callLog) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

// scriptedRunner fails hooks whose command is "fail".
func scriptedRunner(calls *callLog) Runner {
	return RunnerFunc(func(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
		calls.add(hook.Name)
		if hook.Command == "fail" {
			return "", errors.New(hook.Name + " exploded")
		}
		return "ok from " + hook.Name, nil
	})
}

func newTestExecutor(t *testing.T, hooks ...*models.Hook) (*Executor, *callLog, *metrics.Metrics, *bus.MemoryEventBus) {
	t.Helper()
	repo := memory.New()
	for _, h := range hooks {
		require.NoError(t, repo.CreateHook(context.Background(), h))
	}
	log := logger.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	e := NewExecutor(repo, eventBus, m, log)
	calls := &callLog{}
	e.SetRunner(models.HookTransportShell, scriptedRunner(calls))
	return e, calls, m, eventBus
}

func shellHook(name string, priority int, blocking bool, command string) *models.Hook {
	return &models.Hook{
		Name:      name,
		Scope:     models.HookScopeGlobal,
		EventType: models.HookToolBefore,
		Transport: models.HookTransportShell,
		Command:   command,
		Priority:  priority,
		Blocking:  blocking,
		Enabled:   true,
	}
}

func TestExecutor_RunsByDescendingPriority(t *testing.T) {
	e, calls, _, _ := newTestExecutor(t,
		shellHook("low", 1, false, "true"),
		shellHook("high", 10, false, "true"),
		shellHook("mid", 5, false, "true"),
	)

	report, err := e.Execute(context.Background(), Context{EventType: models.HookToolBefore, ToolName: "Bash"})
	require.NoError(t, err)
	assert.False(t, report.Blocked)
	assert.Equal(t, []string{"high", "mid", "low"}, calls.list())
	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].Success)
	assert.Equal(t, "ok from high", report.Results[0].Output)
}

func TestExecutor_BlockingFailureStopsPass(t *testing.T) {
	e, calls, m, eventBus := newTestExecutor(t,
		shellHook("first", 10, false, "true"),
		shellHook("guard", 5, true, "fail"),
		shellHook("never", 1, false, "true"),
	)
	blocked := make(chan *bus.Event, 1)
	_, err := eventBus.Subscribe(events.SessionWildcardSubject(events.HookBlocked), func(ctx context.Context, ev *bus.Event) error {
		blocked <- ev
		return nil
	})
	require.NoError(t, err)

	report, err := e.Execute(context.Background(), Context{EventType: models.HookToolBefore, SessionID: "s1", ToolName: "Bash"})
	require.NoError(t, err)
	assert.True(t, report.Blocked)
	assert.Equal(t, "guard", report.BlockedBy)
	assert.Contains(t, report.BlockReason, "guard exploded")
	assert.Equal(t, []string{"first", "guard"}, calls.list())
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookExecutions.WithLabelValues("shell", "blocked")))

	select {
	case ev := <-blocked:
		assert.Equal(t, "guard", ev.Data["hook_name"])
	case <-time.After(time.Second):
		t.Fatal("hook.blocked event not published")
	}
}

func TestExecutor_NonBlockingFailureContinues(t *testing.T) {
	e, calls, m, _ := newTestExecutor(t,
		shellHook("flaky", 10, false, "fail"),
		shellHook("after", 1, false, "true"),
	)

	report, err := e.Execute(context.Background(), Context{EventType: models.HookToolBefore})
	require.NoError(t, err)
	assert.False(t, report.Blocked)
	assert.Equal(t, []string{"flaky", "after"}, calls.list())
	assert.False(t, report.Results[0].Success)
	assert.Equal(t, "flaky exploded", report.Results[0].Error)
	assert.True(t, report.Results[1].Success)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookExecutions.WithLabelValues("shell", "failure")))
}

func TestExecutor_FiltersAndScopes(t *testing.T) {
	bashOnly := shellHook("bash-only", 3, false, "true")
	bashOnly.Filter = models.HookFilter{ToolNames: []string{"Bash"}}
	codexOnly := shellHook("codex-only", 2, false, "true")
	codexOnly.Filter = models.HookFilter{Providers: []string{"codex"}}
	disabled := shellHook("disabled", 9, false, "true")
	disabled.Enabled = false
	otherProject := shellHook("other-project", 8, false, "true")
	otherProject.Scope = models.HookScopeProject
	otherProject.ProjectID = "p2"
	ownProject := shellHook("own-project", 7, false, "true")
	ownProject.Scope = models.HookScopeProject
	ownProject.ProjectID = "p1"
	afterHook := shellHook("after-event", 6, false, "true")
	afterHook.EventType = models.HookToolAfter

	e, calls, _, _ := newTestExecutor(t, bashOnly, codexOnly, disabled, otherProject, ownProject, afterHook)

	_, err := e.Execute(context.Background(), Context{
		EventType: models.HookToolBefore,
		ProjectID: "p1",
		TaskID:    "t1",
		ToolName:  "Bash",
		Provider:  "claude",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"own-project", "bash-only"}, calls.list())
}

func TestExecutor_MissingRunnerIsFailure(t *testing.T) {
	h := shellHook("remote", 1, true, "")
	h.Transport = models.HookTransportWebsocket
	e, _, _, _ := newTestExecutor(t, h)

	report, err := e.Execute(context.Background(), Context{EventType: models.HookToolBefore, SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, report.Blocked)
	assert.Contains(t, report.Results[0].Error, "websocket")
}

func TestExecutor_TimeoutAppliesPerHook(t *testing.T) {
	h := shellHook("slow", 1, true, "sleep")
	h.TimeoutSeconds = 1
	e, _, _, _ := newTestExecutor(t, h)
	e.SetRunner(models.HookTransportShell, RunnerFunc(func(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	start := time.Now()
	report, err := e.Execute(context.Background(), Context{EventType: models.HookToolBefore})
	require.NoError(t, err)
	assert.True(t, report.Blocked)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter models.HookFilter
		hctx   Context
		want   bool
	}{
		{name: "empty matches", filter: models.HookFilter{}, hctx: Context{}, want: true},
		{name: "wildcard", filter: models.HookFilter{ToolNames: []string{"*"}}, hctx: Context{}, want: true},
		{name: "tool hit", filter: models.HookFilter{ToolNames: []string{"Edit", "Write"}}, hctx: Context{ToolName: "Write"}, want: true},
		{name: "tool miss", filter: models.HookFilter{ToolNames: []string{"Edit"}}, hctx: Context{ToolName: "Bash"}, want: false},
		{name: "field absent", filter: models.HookFilter{Statuses: []string{"failed"}}, hctx: Context{}, want: false},
		{name: "all fields", filter: models.HookFilter{Statuses: []string{"failed"}, Providers: []string{"claude"}}, hctx: Context{Status: "failed", Provider: "claude"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilter(tt.filter, tt.hctx))
		})
	}
}
