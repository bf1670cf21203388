package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	b := NewMemoryEventBus(logger.NewNop())
	t.Cleanup(b.Close)
	return b
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("session.started.s-1", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("session.started", "session-manager", map[string]any{"session_id": "s-1"})
	require.NoError(t, b.Publish(context.Background(), "session.started.s-1", event))

	select {
	case e := <-received:
		assert.Equal(t, event.ID, e.ID)
		assert.Equal(t, "s-1", e.SessionID())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	b := newTestBus(t)

	var pending, sessions, all int32
	count := func(n *int32) EventHandler {
		return func(context.Context, *Event) error {
			atomic.AddInt32(n, 1)
			return nil
		}
	}
	_, err := b.Subscribe("approval.pending.*", count(&pending))
	require.NoError(t, err)
	_, err = b.Subscribe("session.>", count(&sessions))
	require.NoError(t, err)
	_, err = b.Subscribe(">", count(&all))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "approval.pending.s1", NewEvent("approval.pending", "t", nil)))
	require.NoError(t, b.Publish(ctx, "approval.pending.s1.extra", NewEvent("approval.pending", "t", nil)))
	require.NoError(t, b.Publish(ctx, "session.started.s1", NewEvent("session.started", "t", nil)))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&all) == 3 &&
			atomic.LoadInt32(&pending) == 1 &&
			atomic.LoadInt32(&sessions) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	b := newTestBus(t)

	var count int32
	sub, err := b.Subscribe("x", func(context.Context, *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "x", NewEvent("x", "t", nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&count))
}

func TestMemoryEventBus_Closed(t *testing.T) {
	b := NewMemoryEventBus(logger.NewNop())
	sub, err := b.Subscribe("x", func(context.Context, *Event) error { return nil })
	require.NoError(t, err)
	b.Close()

	assert.False(t, b.IsConnected())
	assert.False(t, sub.IsValid())
	assert.ErrorIs(t, b.Publish(context.Background(), "x", NewEvent("x", "t", nil)), ErrBusClosed)
	_, err = b.Subscribe("x", func(context.Context, *Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSubjectMatches(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"session.*", "session.started", true},
		{"session.*", "session.started.x", false},
		{"session.>", "session.started.x", true},
		{"session.>", "session", false},
		{">", "anything.at.all", true},
		{"approval.*.s1", "approval.resolved.s1", true},
		{"approval.*.s1", "approval.resolved.s2", false},
		{"approval.resolved", "approval.resolved", true},
		{"approval.resolved", "approval.pending", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectMatches(tt.pattern, tt.subject))
		})
	}
}

func TestEvent_SessionID(t *testing.T) {
	assert.Equal(t, "", (*Event)(nil).SessionID())
	assert.Equal(t, "", NewEvent("x", "t", nil).SessionID())
	assert.Equal(t, "", NewEvent("x", "t", map[string]any{"session_id": 7}).SessionID())
	assert.Equal(t, "s1", NewEvent("x", "t", map[string]any{"session_id": "s1"}).SessionID())
}
