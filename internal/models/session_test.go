package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionQueued, SessionRunning, true},
		{SessionQueued, SessionFailed, true},
		{SessionQueued, SessionPaused, false},
		{SessionRunning, SessionPaused, true},
		{SessionPaused, SessionRunning, true},
		{SessionRunning, SessionCancelled, true},
		{SessionCompleted, SessionRunning, false},
		{SessionFailed, SessionQueued, false},
		{SessionCancelled, SessionCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionStatus_Classes(t *testing.T) {
	for _, s := range []SessionStatus{SessionCompleted, SessionFailed, SessionCancelled} {
		assert.True(t, s.IsTerminal())
		assert.False(t, s.IsActive())
	}
	for _, s := range []SessionStatus{SessionQueued, SessionRunning, SessionPaused} {
		assert.False(t, s.IsTerminal())
		assert.True(t, s.IsActive())
	}
}

func TestPermissionMode_Valid(t *testing.T) {
	assert.True(t, PermissionModeAcceptEdits.Valid())
	assert.False(t, PermissionMode("yolo").Valid())
}
