//go:build !windows

package agentproc

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcGroup runs the command in its own process group so its children die with it.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup asks the whole group to shut down.
func terminateProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// killProcessGroup kills the entire process group for the given PID.
func killProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func suspendProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGSTOP)
}

func resumeProcessGroup(pid int) error {
	return signalGroup(pid, syscall.SIGCONT)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitStatus extracts the exit code and terminating signal from a Wait error.
func exitStatus(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, ""
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), ""
	}
	if status.Signaled() {
		return 128 + int(status.Signal()), status.Signal().String()
	}
	return status.ExitStatus(), ""
}

func pauseSupported() bool { return true }
