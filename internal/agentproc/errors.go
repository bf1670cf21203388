package agentproc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownHandle means no live process is registered under the handle.
	ErrUnknownHandle = errors.New("unknown process handle")
	// ErrPauseUnsupported means the provider cannot be suspended.
	ErrPauseUnsupported = errors.New("provider does not support pause")
	// ErrNoPendingPermission means the process has no outstanding permission request.
	ErrNoPendingPermission = errors.New("no pending permission request")
	// ErrInputUnsupported means the provider cannot take input after start.
	ErrInputUnsupported = errors.New("provider does not accept input after start")
)

// Spawn failure stages.
const (
	StageConfig    = "config"
	StageStart     = "start"
	StageInput     = "input"
	StageHandshake = "handshake"
)

// SpawnError is the failure outcome of Spawn.
type SpawnError struct {
	Stage  string
	Err    error
	Stderr string
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn failed at %s: %v", e.Stage, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitInfo describes how a process ended.
type ExitInfo struct {
	Handle    string
	SessionID string
	ExitCode  int
	Signal    string
	Err       error
	Stderr    string
	// Requested is set when the exit followed Terminate.
	Requested bool
}

// Success reports a clean exit.
func (e ExitInfo) Success() bool {
	return e.ExitCode == 0 && e.Err == nil && e.Signal == ""
}

// ErrorText is the failure text recorded on the session.
func (e ExitInfo) ErrorText() string {
	if e.Success() {
		return ""
	}
	msg := fmt.Sprintf("process exited with code %d", e.ExitCode)
	if e.Signal != "" {
		msg = fmt.Sprintf("process killed by %s", e.Signal)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}
