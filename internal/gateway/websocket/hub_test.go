package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
)

type respondCall struct {
	approvalID string
	approve    bool
	decidedBy  string
	reason     string
	remember   bool
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []respondCall
	err   error
}

func (f *fakeResponder) Respond(ctx context.Context, approvalID string, approve bool, decidedBy, reason string, remember bool) (*models.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, respondCall{approvalID, approve, decidedBy, reason, remember})
	if f.err != nil {
		return nil, f.err
	}
	status := models.ApprovalRejected
	if approve {
		status = models.ApprovalApproved
	}
	return &models.Approval{ID: approvalID, Status: status}, nil
}

type gatewayFixture struct {
	hub       *Hub
	responder *fakeResponder
	server    *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	responder := &fakeResponder{}
	hub := NewHub(responder, log)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	RegisterRoutes(router, NewHandler(hub, log))
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &gatewayFixture{hub: hub, responder: responder, server: server}
}

func (f *gatewayFixture) dial(t *testing.T, sessionID string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?session_id=" + sessionID
	before := f.hub.SessionClientCount(sessionID)
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.hub.SessionClientCount(sessionID) == before+1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *gorillaws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func send(t *testing.T, conn *gorillaws.Conn, id, action string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{ID: id, Type: MessageTypeRequest, Action: action, Payload: data}))
}

func TestHandler_RequiresSessionID(t *testing.T) {
	f := newGatewayFixture(t)
	resp, err := http.Get(f.server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_NotifyApprovalRequest(t *testing.T) {
	f := newGatewayFixture(t)
	approval := &models.Approval{ID: "a1", SessionID: "s1", Status: models.ApprovalPending,
		Payload: models.ApprovalPayload{ToolName: "Bash"}}

	assert.ErrorIs(t, f.hub.NotifyApprovalRequest("s1", approval), ErrNoClients)

	conn := f.dial(t, "s1")
	other := f.dial(t, "s2")
	require.NoError(t, f.hub.NotifyApprovalRequest("s1", approval))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeNotification, msg.Type)
	assert.Equal(t, ActionApprovalRequest, msg.Action)
	var got models.Approval
	require.NoError(t, msg.ParsePayload(&got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "Bash", got.Payload.ToolName)

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "a client of another session must not see the request")
}

func TestClient_ApprovalRespond(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "s1")

	send(t, conn, "m1", ActionApprovalRespond, ApprovalRespondRequest{ApprovalID: "a1", Approve: true, Remember: true, Reason: "fine"})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeResponse, msg.Type)
	assert.Equal(t, "m1", msg.ID)
	var body map[string]any
	require.NoError(t, msg.ParsePayload(&body))
	assert.Equal(t, "approved", body["status"])

	f.responder.mu.Lock()
	require.Len(t, f.responder.calls, 1)
	assert.Equal(t, respondCall{"a1", true, "websocket", "fine", true}, f.responder.calls[0])
	f.responder.mu.Unlock()
}

func TestClient_ApprovalRespondErrors(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "s1")

	send(t, conn, "m1", ActionApprovalRespond, ApprovalRespondRequest{})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	var errPayload ErrorPayload
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, ErrorCodeValidation, errPayload.Code)

	f.responder.mu.Lock()
	f.responder.err = apperrors.Conflict("approval a1 is already approved")
	f.responder.mu.Unlock()
	send(t, conn, "m2", ActionApprovalRespond, ApprovalRespondRequest{ApprovalID: "a1"})
	msg = readMessage(t, conn)
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, apperrors.ErrCodeConflict, errPayload.Code)
	assert.Equal(t, "approval a1 is already approved", errPayload.Message)

	send(t, conn, "m3", "nope", nil)
	msg = readMessage(t, conn)
	require.NoError(t, msg.ParsePayload(&errPayload))
	assert.Equal(t, ErrorCodeUnknownAction, errPayload.Code)
}

func TestHub_InvokeHook(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, "s1")

	tests := []struct {
		name    string
		result  HookResultRequest
		wantOut string
		wantErr string
	}{
		{name: "success", result: HookResultRequest{Success: true, Output: "looks good"}, wantOut: "looks good"},
		{name: "failure", result: HookResultRequest{Success: false, Error: "not on fridays"}, wantErr: "not on fridays"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			type outcome struct {
				out string
				err error
			}
			done := make(chan outcome, 1)
			inv := hooks.Invocation{ID: "inv-" + tt.name, HookName: "review", Context: hooks.Context{SessionID: "s1", ToolName: "Write"}}
			go func() {
				out, err := f.hub.InvokeHook(context.Background(), "s1", inv)
				done <- outcome{out, err}
			}()

			msg := readMessage(t, conn)
			require.Equal(t, ActionHookInvoke, msg.Action)
			var got hooks.Invocation
			require.NoError(t, msg.ParsePayload(&got))
			assert.Equal(t, inv.ID, got.ID)
			assert.Equal(t, "Write", got.Context.ToolName)

			res := tt.result
			res.InvocationID = got.ID
			send(t, conn, "r-"+tt.name, ActionHookResult, res)

			select {
			case o := <-done:
				if tt.wantErr != "" {
					require.Error(t, o.err)
					assert.Contains(t, o.err.Error(), tt.wantErr)
				} else {
					require.NoError(t, o.err)
					assert.Equal(t, tt.wantOut, o.out)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("InvokeHook did not return")
			}
			ack := readMessage(t, conn)
			assert.Equal(t, MessageTypeResponse, ack.Type)
		})
	}
}

func TestHub_InvokeHookWithoutClients(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.hub.InvokeHook(context.Background(), "s1", hooks.Invocation{ID: "inv"})
	assert.ErrorIs(t, err, ErrNoClients)
}

func TestHub_ForwardEvents(t *testing.T) {
	f := newGatewayFixture(t)
	eventBus := bus.NewMemoryEventBus(logger.NewNop())
	defer eventBus.Close()
	subs, err := f.hub.ForwardEvents(eventBus)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	conn := f.dial(t, "s1")
	event := bus.NewEvent(events.SessionStarted, "session-manager", map[string]any{"session_id": "s1", "status": "running"})
	require.NoError(t, eventBus.Publish(context.Background(), events.SessionSubject(events.SessionStarted, "s1"), event))

	msg := readMessage(t, conn)
	assert.Equal(t, ActionSessionEvent, msg.Action)
	var payload SessionEventPayload
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, events.SessionStarted, payload.Type)
	assert.Equal(t, "s1", payload.SessionID)
	assert.Equal(t, "running", payload.Data["status"])

	resolved := bus.NewEvent(events.ApprovalResolved, "approval-gate", map[string]any{"session_id": "s1", "approval_id": "a1"})
	require.NoError(t, eventBus.Publish(context.Background(), events.SessionSubject(events.ApprovalResolved, "s1"), resolved))
	msg = readMessage(t, conn)
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, events.ApprovalResolved, payload.Type)
}
