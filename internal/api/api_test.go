package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/approval"
	"github.com/kandev/agentgate/internal/common/config"
	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/session"
	"github.com/kandev/agentgate/internal/store/memory"
)

// fakeSessions implements SessionService with overridable funcs.
type fakeSessions struct {
	startFn    func(ctx context.Context, req session.StartRequest) (*session.StartResult, error)
	getFn      func(ctx context.Context, id string) (*models.Session, error)
	stopFn     func(ctx context.Context, id string) (*session.Result, error)
	modeFn     func(ctx context.Context, id string, mode models.PermissionMode) (*models.Session, error)
	hookModeFn func(ctx context.Context, id string, hookMode bool) (*models.Session, error)
	sendFn     func(ctx context.Context, id, text string) error
}

func (f *fakeSessions) Start(ctx context.Context, req session.StartRequest) (*session.StartResult, error) {
	return f.startFn(ctx, req)
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*models.Session, error) {
	if f.getFn == nil {
		return &models.Session{ID: id, Status: models.SessionRunning}, nil
	}
	return f.getFn(ctx, id)
}

func (f *fakeSessions) Stop(ctx context.Context, id string) (*session.Result, error) {
	return f.stopFn(ctx, id)
}

func (f *fakeSessions) Pause(ctx context.Context, id string) (*session.Result, error) {
	return nil, apperrors.Unsupported("pause is not supported")
}

func (f *fakeSessions) Resume(ctx context.Context, id string) (*session.Result, error) {
	return nil, apperrors.Conflict("session is running")
}

func (f *fakeSessions) Retry(ctx context.Context, id string) (*session.StartResult, error) {
	return &session.StartResult{Result: session.Result{Success: false, Error: "spawn failed at start: boom"}}, nil
}

func (f *fakeSessions) SetPermissionMode(ctx context.Context, id string, mode models.PermissionMode) (*models.Session, error) {
	return f.modeFn(ctx, id, mode)
}

func (f *fakeSessions) SetHookMode(ctx context.Context, id string, hookMode bool) (*models.Session, error) {
	return f.hookModeFn(ctx, id, hookMode)
}

func (f *fakeSessions) SendMessage(ctx context.Context, id, text string) error {
	return f.sendFn(ctx, id, text)
}

type apiFixture struct {
	router   *gin.Engine
	gate     *approval.Gate
	repo     *memory.Store
	sessions *fakeSessions
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	repo := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	acfg := config.ApprovalConfig{
		TimeoutSeconds:       3600,
		DefaultOnTimeout:     "deny",
		AutoAllowTools:       []string{"Read"},
		RequireApprovalTools: []string{"Write"},
	}
	policy, err := approval.NewPolicy(acfg)
	require.NoError(t, err)
	gate := approval.NewGate(repo, policy, approval.ConfigFrom(acfg), nil, m, log)
	sessions := &fakeSessions{}

	router := NewRouter(Handlers{
		Approvals: NewApprovalHandler(gate, log),
		Hooks:     NewHookHandler(hooks.NewService(repo, log), "", log),
		Sessions:  NewSessionHandler(sessions, nil, log),
		Gatherer:  reg,
	}, log)
	return &apiFixture{router: router, gate: gate, repo: repo, sessions: sessions}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)

	f.do(t, http.MethodPost, "/api/v1/hooks/approval", approval.PollRequest{SessionID: "s1", ToolName: "Write", CallID: "c1"})
	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentgate_approvals_created_total")
}

func TestPollingProtocol(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/hooks/approval", approval.PollRequest{SessionID: "s1", ToolName: "Read"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, approval.PollAllow, decode[approval.PollResponse](t, w).Decision)

	w = f.do(t, http.MethodPost, "/api/v1/hooks/approval", approval.PollRequest{SessionID: "s1", ToolName: "Write", CallID: "c1",
		Input: map[string]any{"file_path": "a.txt", "content": "x"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	pending := decode[approval.PollResponse](t, w)
	assert.Equal(t, approval.PollPending, pending.Decision)
	require.NotEmpty(t, pending.ApprovalID)

	// the same call id finds the same approval
	w = f.do(t, http.MethodPost, "/api/v1/hooks/approval", approval.PollRequest{SessionID: "s1", ToolName: "Write", CallID: "c1"})
	assert.Equal(t, pending.ApprovalID, decode[approval.PollResponse](t, w).ApprovalID)

	w = f.do(t, http.MethodGet, "/api/v1/hooks/approval/"+pending.ApprovalID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, approval.PollPending, decode[approval.PollResponse](t, w).Decision)

	w = f.do(t, http.MethodPost, "/api/v1/approvals/"+pending.ApprovalID+"/approve", DecisionRequest{DecidedBy: "alice", Reason: "ok"})
	require.Equal(t, http.StatusOK, w.Code)
	decided := decode[models.Approval](t, w)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	assert.Equal(t, "alice", decided.DecidedBy)

	w = f.do(t, http.MethodGet, "/api/v1/hooks/approval/"+pending.ApprovalID, nil)
	final := decode[approval.PollResponse](t, w)
	assert.Equal(t, approval.PollAllow, final.Decision)
	assert.Equal(t, "ok", final.Reason)

	w = f.do(t, http.MethodPost, "/api/v1/approvals/"+pending.ApprovalID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.ErrCodeConflict, decode[ErrorResponse](t, w).Code)
}

func TestApprovals_ListGetAndErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/approvals", approval.PollRequest{SessionID: "s1", ToolName: "Write", CallID: "c1"})
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[approval.PollResponse](t, w).ApprovalID

	w = f.do(t, http.MethodGet, "/api/v1/approvals?session_id=s1&status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Approvals []models.Approval `json:"approvals"`
		Total     int               `json:"total"`
	}](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, id, list.Approvals[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/approvals/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing approval", http.MethodGet, "/api/v1/approvals/nope", nil, http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"missing tool name", http.MethodPost, "/api/v1/hooks/approval", map[string]any{"session_id": "s1"}, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"bad limit", http.MethodGet, "/api/v1/approvals?limit=-1", nil, http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"malformed body", http.MethodPost, "/api/v1/hooks/approval", "{", http.StatusBadRequest, apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHooks_CRUDAndSync(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/hooks", models.Hook{Name: "lint", EventType: models.HookToolAfter, Transport: models.HookTransportShell, Command: "make lint", Enabled: true})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Hook](t, w)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, models.HookScopeGlobal, created.Scope)

	w = f.do(t, http.MethodPost, "/api/v1/hooks", models.Hook{Name: "broken", EventType: "tool:sometime", Transport: models.HookTransportHTTP})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/hooks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	created.Blocking = true
	w = f.do(t, http.MethodPut, "/api/v1/hooks/"+created.ID, created)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Hook](t, w).Blocking)

	yamlDoc := strings.Join([]string{
		"hooks:",
		"  - name: notify",
		"    event: approval:pending",
		"    transport: http",
		"    url: http://localhost:9000/notify",
	}, "\n")
	w = f.do(t, http.MethodPost, "/api/v1/hooks/sync", yamlDoc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	synced := decode[hooks.SyncResult](t, w)
	assert.Equal(t, 1, synced.Created)

	w = f.do(t, http.MethodPost, "/api/v1/hooks/sync", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/hooks?event_type=approval:pending", nil)
	list := decode[struct {
		Hooks []models.Hook `json:"hooks"`
	}](t, w)
	require.Len(t, list.Hooks, 1)
	assert.Equal(t, "notify", list.Hooks[0].Name)

	w = f.do(t, http.MethodDelete, "/api/v1/hooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/api/v1/hooks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions(t *testing.T) {
	f := newAPIFixture(t)

	f.sessions.startFn = func(ctx context.Context, req session.StartRequest) (*session.StartResult, error) {
		if req.TaskID == "busy" {
			return nil, apperrors.Conflict("task busy already has an active session s0")
		}
		return &session.StartResult{Result: session.Result{Success: true, Session: &models.Session{ID: "s1", TaskID: req.TaskID, Status: models.SessionRunning}}}, nil
	}
	w := f.do(t, http.MethodPost, "/api/v1/sessions", session.StartRequest{TaskID: "t1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", decode[session.StartResult](t, w).Session.ID)

	w = f.do(t, http.MethodPost, "/api/v1/sessions", session.StartRequest{TaskID: "busy"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "task_id is required")

	w = f.do(t, http.MethodPost, "/api/v1/sessions/s0/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[session.StartResult](t, w).Success)

	f.sessions.stopFn = func(ctx context.Context, id string) (*session.Result, error) {
		return &session.Result{Success: true, Session: &models.Session{ID: id, Status: models.SessionCancelled}}, nil
	}
	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionCancelled, decode[session.Result](t, w).Session.Status)

	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/pause", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var gotMode models.PermissionMode
	var gotHookMode *bool
	f.sessions.modeFn = func(ctx context.Context, id string, mode models.PermissionMode) (*models.Session, error) {
		gotMode = mode
		return &models.Session{ID: id, PermissionMode: mode}, nil
	}
	f.sessions.hookModeFn = func(ctx context.Context, id string, hookMode bool) (*models.Session, error) {
		gotHookMode = &hookMode
		return &models.Session{ID: id, PermissionMode: gotMode, HookMode: hookMode}, nil
	}
	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/mode", map[string]any{"permission_mode": "acceptEdits", "hook_mode": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PermissionModeAcceptEdits, gotMode)
	require.NotNil(t, gotHookMode)
	assert.False(t, *gotHookMode)

	var sent string
	f.sessions.sendFn = func(ctx context.Context, id, text string) error {
		sent = text
		return nil
	}
	w = f.do(t, http.MethodPost, "/api/v1/sessions/s1/messages", MessageRequest{Text: "also fix the docs"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "also fix the docs", sent)

	w = f.do(t, http.MethodGet, "/api/v1/sessions/s1/diffs", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
