package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store/memory"
)

const sampleHooks = `
hooks:
  - name: lint
    event: tool:after
    transport: shell
    command: make lint
    filter:
      tools: [Write, Edit]
  - name: audit
    event: tool:before
    transport: http
    url: http://localhost:9000/audit
    blocking: true
    priority: 10
  - name: project-notify
    scope: project
    project_id: p1
    event: session:end
    transport: websocket
    enabled: false
`

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return NewService(repo, logger.NewNop()), repo
}

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleHooks))
	require.NoError(t, err)
	require.Len(t, f.Hooks, 3)
	assert.Equal(t, []string{"Write", "Edit"}, f.Hooks[0].Filter.ToolNames)

	h := f.Hooks[2].toModel()
	assert.False(t, h.Enabled)
	assert.Equal(t, models.HookScopeProject, h.Scope)
	assert.Equal(t, 30, h.TimeoutSeconds)
}

func TestParseFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "bad yaml", doc: "hooks: [", want: "invalid hooks file"},
		{name: "unknown event", doc: "hooks:\n  - name: x\n    event: nope\n    transport: shell\n    command: echo\n", want: "unknown event type"},
		{name: "shell without command", doc: "hooks:\n  - name: x\n    event: tool:before\n    transport: shell\n", want: "require a command"},
		{name: "bad url", doc: "hooks:\n  - name: x\n    event: tool:before\n    transport: http\n    url: ftp://x\n", want: "invalid hook url"},
		{name: "project without id", doc: "hooks:\n  - name: x\n    scope: project\n    event: tool:before\n    transport: websocket\n", want: "project_id"},
		{name: "duplicate", doc: "hooks:\n  - name: x\n    event: tool:before\n    transport: websocket\n  - name: x\n    event: tool:after\n    transport: websocket\n", want: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestService_SyncUpsertsAndDisables(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	manual, err := svc.Create(ctx, &models.Hook{
		Name: "manual", EventType: models.HookToolBefore, Transport: models.HookTransportWebsocket, Enabled: true,
	})
	require.NoError(t, err)

	f, err := ParseFile([]byte(sampleHooks))
	require.NoError(t, err)
	result, err := svc.Sync(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Created: 3, Disabled: 1}, result)

	got, err := repo.GetHook(ctx, manual.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	// Unchanged file is a no-op.
	result, err = svc.Sync(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{}, result)

	// Changing one entry updates it in place.
	f.Hooks[0].Command = "make lint-fix"
	result, err = svc.Sync(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	all, err := svc.List(ctx, models.HookQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	for _, h := range all {
		if h.Name == "lint" {
			assert.Equal(t, "make lint-fix", h.Command)
		}
	}
}

func TestService_CRUD(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &models.Hook{Name: "bad"})
	assert.True(t, apperrors.IsValidation(err))

	h, err := svc.Create(ctx, &models.Hook{
		Name: "notify", EventType: models.HookSessionEnd, Transport: models.HookTransportHTTP,
		URL: "https://hooks.example.com/end", Enabled: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	h.Priority = 4
	updated, err := svc.Update(ctx, h.ID, h)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Priority)

	require.NoError(t, svc.Delete(ctx, h.ID))
	_, err = svc.Get(ctx, h.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_WatchResyncs(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "hooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hooks: []\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	synced := make(chan *SyncResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- svc.Watch(ctx, path, func(r *SyncResult, err error) {
			if err == nil {
				synced <- r
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleHooks), 0o644))

	select {
	case r := <-synced:
		assert.Equal(t, 3, r.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not re-sync")
	}
	cancel()
	assert.NoError(t, <-done)
}
