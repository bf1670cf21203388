//go:build !windows

package agentproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/common/logger"
)

// shAgent is a fake agent CLI: a /bin/sh script speaking the Claude stream-json dialect.
type shAgent struct {
	*Claude
	script string
	noStop bool
}

func (s *shAgent) Name() string { return "sh" }

func (s *shAgent) SupportsPause() bool { return !s.noStop }

func (s *shAgent) BuildCommand(SpawnConfig) (*Command, error) {
	return &Command{Path: "/bin/sh", Args: []string{"-c", s.script}}, nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func newTestAdapter(t *testing.T, agent *shAgent, opts Options) *Adapter {
	t.Helper()
	if opts.HardHandshakeTimeout == 0 {
		opts.HardHandshakeTimeout = 5 * time.Second
	}
	if opts.TerminateGrace == 0 {
		opts.TerminateGrace = 2 * time.Second
	}
	a := NewAdapter(NewProviders(agent), opts, newTestLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func waitForEvent(t *testing.T, ch <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

const initLine = `echo '{"type":"system","subtype":"init","session_id":"real-1"}'`

func TestAdapter_SpawnHandshakeAndMessages(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: initLine + `
while read line; do
  echo '{"type":"assistant","session_id":"real-1","message":{"role":"assistant","content":[{"type":"text","text":"pong"}]}}'
done`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	events := make(chan Event, 32)
	exits := make(chan ExitInfo, 1)
	res, err := a.Spawn(context.Background(), SpawnConfig{
		Provider: "sh",
		OnOutput: func(ev Event) { events <- ev },
		OnExit:   func(info ExitInfo) { exits <- info },
	})
	require.NoError(t, err)
	assert.Equal(t, "real-1", res.SessionID)
	assert.False(t, res.Placeholder)
	assert.True(t, a.IsRunning(res.Handle))
	assert.Equal(t, []string{res.Handle}, a.Handles())

	require.NoError(t, a.SendMessage(res.Handle, "ping"))
	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Kind == EventMessage })
	assert.Equal(t, "pong", ev.Text)
	assert.Equal(t, res.Handle, ev.Handle)

	require.NoError(t, a.Terminate(context.Background(), res.Handle))
	select {
	case info := <-exits:
		assert.True(t, info.Requested)
		assert.Equal(t, "real-1", info.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
	assert.False(t, a.IsRunning(res.Handle))
	assert.Empty(t, a.Handles())
	assert.ErrorIs(t, a.SendMessage(res.Handle, "late"), ErrUnknownHandle)
}

func TestAdapter_SoftTimeoutUsesPlaceholder(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: `sleep 0.5
echo '{"type":"system","subtype":"init","session_id":"late-id"}'
sleep 30`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 50 * time.Millisecond})

	events := make(chan Event, 32)
	res, err := a.Spawn(context.Background(), SpawnConfig{
		Provider: "sh",
		OnOutput: func(ev Event) { events <- ev },
	})
	require.NoError(t, err)
	assert.True(t, res.Placeholder)
	assert.NotEmpty(t, res.SessionID)

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Subtype == SubtypeSessionID })
	assert.Equal(t, "late-id", ev.SessionID)
	assert.Equal(t, res.SessionID, ev.Text)

	id, ok := a.SessionID(res.Handle)
	require.True(t, ok)
	assert.Equal(t, "late-id", id)
}

func TestAdapter_HardTimeoutFails(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: `sleep 30`}
	a := newTestAdapter(t, agent, Options{HardHandshakeTimeout: 100 * time.Millisecond})

	exitCalled := make(chan struct{}, 1)
	res, err := a.Spawn(context.Background(), SpawnConfig{
		Provider: "sh",
		OnExit:   func(ExitInfo) { exitCalled <- struct{}{} },
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, StageHandshake, spawnErr.Stage)
	assert.Contains(t, spawnErr.Error(), "no session handshake")

	assert.Eventually(t, func() bool { return len(a.Handles()) == 0 }, 5*time.Second, 20*time.Millisecond)
	select {
	case <-exitCalled:
		t.Fatal("exit callback must be detached after a failed spawn")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapter_ExitBeforeHandshakeCarriesStderr(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: `echo "fatal: not logged in" >&2; exit 3`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 5 * time.Second})

	_, err := a.Spawn(context.Background(), SpawnConfig{Provider: "sh"})
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, StageHandshake, spawnErr.Stage)
	assert.Contains(t, spawnErr.Error(), "code 3")
	assert.Contains(t, spawnErr.Stderr, "fatal: not logged in")
}

func TestAdapter_SpawnConfigFailures(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: `true`}
	a := newTestAdapter(t, agent, Options{})

	_, err := a.Spawn(context.Background(), SpawnConfig{Provider: "nope"})
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, StageConfig, spawnErr.Stage)

	missing := NewAdapter(NewProviders(NewClaude(filepath.Join(t.TempDir(), "missing-claude"))), Options{}, newTestLogger(t))
	_, err = missing.Spawn(context.Background(), SpawnConfig{Provider: ProviderClaude})
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, StageStart, spawnErr.Stage)
}

func TestAdapter_ApprovalResponseAnswersOldestRequest(t *testing.T) {
	out := filepath.Join(t.TempDir(), "response.json")
	agent := &shAgent{Claude: NewClaude(""), script: initLine + `
echo '{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"tu-1"}}'
read resp
printf '%s\n' "$resp" > "$OUT"
echo '{"type":"result","subtype":"success","session_id":"real-1","result":"done","total_cost_usd":0.01}'`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	events := make(chan Event, 32)
	exits := make(chan ExitInfo, 1)
	res, err := a.Spawn(context.Background(), SpawnConfig{
		Provider: "sh",
		Env:      []string{"OUT=" + out},
		OnOutput: func(ev Event) { events <- ev },
		OnExit:   func(info ExitInfo) { exits <- info },
	})
	require.NoError(t, err)

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.NeedsPermission })
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "real-1", ev.SessionID)

	require.NoError(t, a.SendApprovalResponse(res.Handle, true, ""))
	assert.ErrorIs(t, a.SendApprovalResponse(res.Handle, true, ""), ErrNoPendingPermission)

	result := waitForEvent(t, events, func(ev Event) bool { return ev.Subtype == SubtypeResult })
	require.NotNil(t, result.Usage)
	assert.InDelta(t, 0.01, result.Usage.CostUSD, 1e-9)

	select {
	case info := <-exits:
		assert.True(t, info.Success())
		assert.False(t, info.Requested)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"req-1"`)
	assert.Contains(t, string(data), `"behavior":"allow"`)
	assert.Contains(t, string(data), `"command":"ls"`)
}

func TestAdapter_UnparseableLinesBecomeSystemEvents(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: initLine + `
echo 'Warning: experimental mode'
sleep 30`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	events := make(chan Event, 32)
	_, err := a.Spawn(context.Background(), SpawnConfig{
		Provider: "sh",
		OnOutput: func(ev Event) { events <- ev },
	})
	require.NoError(t, err)

	ev := waitForEvent(t, events, func(ev Event) bool { return ev.Subtype == SubtypeParse })
	assert.Equal(t, EventSystem, ev.Kind)
	assert.True(t, strings.HasPrefix(ev.Text, "Warning"))
	assert.Equal(t, "real-1", ev.SessionID)
}

func TestAdapter_PauseResume(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: initLine + "\nsleep 30"}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	res, err := a.Spawn(context.Background(), SpawnConfig{Provider: "sh"})
	require.NoError(t, err)

	require.NoError(t, a.Pause(res.Handle))
	require.NoError(t, a.Resume(res.Handle))
	require.NoError(t, a.Pause(res.Handle))
	// Terminate must still work on a stopped group.
	require.NoError(t, a.Terminate(context.Background(), res.Handle))
	assert.False(t, a.IsRunning(res.Handle))
}

func TestAdapter_PauseUnsupported(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: initLine + "\nsleep 30", noStop: true}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	res, err := a.Spawn(context.Background(), SpawnConfig{Provider: "sh"})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Pause(res.Handle), ErrPauseUnsupported)
	assert.ErrorIs(t, a.Pause("missing"), ErrUnknownHandle)
}

func TestAdapter_UnsubscribeStopsDelivery(t *testing.T) {
	agent := &shAgent{Claude: NewClaude(""), script: initLine + `
while read line; do
  echo '{"type":"assistant","session_id":"real-1","message":{"role":"assistant","content":[{"type":"text","text":"pong"}]}}'
done`}
	a := newTestAdapter(t, agent, Options{SoftHandshakeTimeout: 3 * time.Second})

	res, err := a.Spawn(context.Background(), SpawnConfig{Provider: "sh"})
	require.NoError(t, err)

	first := make(chan Event, 8)
	second := make(chan Event, 8)
	unsubscribe := a.OnOutput(res.Handle, func(ev Event) { first <- ev })
	a.OnOutput(res.Handle, func(ev Event) { second <- ev })
	unsubscribe()

	require.NoError(t, a.SendMessage(res.Handle, "ping"))
	waitForEvent(t, second, func(ev Event) bool { return ev.Kind == EventMessage })
	assert.Empty(t, first)

	noop := a.OnOutput("missing", func(Event) {})
	noop()
}
