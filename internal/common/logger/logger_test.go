package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithSessionID("s-1").WithApprovalID("a-1").Info("approval created", zap.String("tool", "Bash"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"session_id":"s-1"`)
	assert.Contains(t, line, `"approval_id":"a-1"`)
	assert.Contains(t, line, `"tool":"Bash"`)
	assert.Contains(t, line, `"timestamp"`)
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(LoggingConfig{Level: "loud", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("visible")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.True(t, strings.Contains(string(data), "visible"))
}

func TestWithContext_AddsTraceIDs(t *testing.T) {
	log := NewNop()
	assert.Same(t, log, log.WithContext(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	scoped := log.WithContext(trace.ContextWithSpanContext(context.Background(), sc))
	assert.NotSame(t, log, scoped)
	require.Len(t, scoped.fields, 2)
	assert.Equal(t, "trace_id", scoped.fields[0].Key)
	assert.Equal(t, sc.TraceID().String(), scoped.fields[0].String)
	assert.Equal(t, "span_id", scoped.fields[1].Key)
}

func TestWithFields_DoesNotAliasParent(t *testing.T) {
	base := NewNop().WithFields(zap.String("a", "1"))
	left := base.WithFields(zap.String("b", "2"))
	right := base.WithFields(zap.String("c", "3"))

	assert.Len(t, base.fields, 1)
	assert.Equal(t, "b", left.fields[1].Key)
	assert.Equal(t, "c", right.fields[1].Key)
}
