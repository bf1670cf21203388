package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/models"
)

func skipWithoutShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell runner tests need /bin/sh")
	}
}

func TestShellRunner_ReceivesContext(t *testing.T) {
	skipWithoutShell(t)
	r := NewShellRunner()
	hook := &models.Hook{Name: "echo", Command: `read -r line; echo "$AGENTGATE_HOOK_TOOL_NAME:$AGENTGATE_HOOK_EVENT"; echo "$line"`}

	out, err := r.Run(context.Background(), hook, Context{
		EventType: models.HookToolBefore,
		SessionID: "s1",
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "ls"},
	})
	require.NoError(t, err)
	lines := splitLines(out)
	require.Len(t, lines, 2)
	assert.Equal(t, "Bash:tool:before", lines[0])

	var got Context
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "ls", got.ToolInput["command"])
}

func TestShellRunner_FailureCarriesStderr(t *testing.T) {
	skipWithoutShell(t)
	out, err := NewShellRunner().Run(context.Background(), &models.Hook{Command: "echo partial; echo 'lint failed' >&2; exit 3"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lint failed")
	assert.Equal(t, "partial", out)
}

func TestShellRunner_Timeout(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewShellRunner().Run(ctx, &models.Hook{Command: "sleep 10"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHTTPRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req httpHookRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Context.ToolName == "Bash" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("shell denied by policy"))
			return
		}
		_, _ = w.Write([]byte("accepted " + req.HookName))
	}))
	defer srv.Close()

	r := NewHTTPRunner()
	hook := &models.Hook{ID: "h1", Name: "audit", URL: srv.URL}

	out, err := r.Run(context.Background(), hook, Context{EventType: models.HookToolBefore, ToolName: "Read"})
	require.NoError(t, err)
	assert.Equal(t, "accepted audit", out)

	_, err = r.Run(context.Background(), hook, Context{EventType: models.HookToolBefore, ToolName: "Bash"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "shell denied by policy")
}

type fakeSender struct {
	gotSession string
	gotInv     Invocation
	out        string
	err        error
}

func (f *fakeSender) InvokeHook(ctx context.Context, sessionID string, inv Invocation) (string, error) {
	f.gotSession = sessionID
	f.gotInv = inv
	return f.out, f.err
}

func TestSocketRunner(t *testing.T) {
	sender := &fakeSender{out: "client says ok"}
	r := NewSocketRunner(sender)
	out, err := r.Run(context.Background(), &models.Hook{ID: "h1", Name: "ui"}, Context{SessionID: "s1", ToolName: "Edit"})
	require.NoError(t, err)
	assert.Equal(t, "client says ok", out)
	assert.Equal(t, "s1", sender.gotSession)
	assert.Equal(t, "h1", sender.gotInv.HookID)
	assert.NotEmpty(t, sender.gotInv.ID)

	sender.err = errors.New("no clients connected")
	_, err = r.Run(context.Background(), &models.Hook{}, Context{SessionID: "s1"})
	assert.Error(t, err)

	_, err = NewSocketRunner(nil).Run(context.Background(), &models.Hook{}, Context{SessionID: "s1"})
	assert.Error(t, err)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
