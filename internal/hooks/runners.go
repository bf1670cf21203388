package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/agentgate/internal/models"
)

const (
	maxOutputBytes = 1 << 20
	envPrefix      = "AGENTGATE_HOOK_"
)

// ShellRunner runs hook.Command with sh -c. The context is written as JSON to
// stdin and exposed through AGENTGATE_HOOK_* variables.
type ShellRunner struct {
	Shell string
}

// NewShellRunner creates a runner using /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "sh"}
}

func (r *ShellRunner) Run(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
	if strings.TrimSpace(hook.Command) == "" {
		return "", errors.New("shell hook has no command")
	}
	payload, err := json.Marshal(hctx)
	if err != nil {
		return "", fmt.Errorf("failed to encode hook context: %w", err)
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", hook.Command)
	cmd.Dir = hctx.WorkingDir
	cmd.Env = append(os.Environ(), hookEnv(hook, hctx)...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, n: maxOutputBytes}

	runErr := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if runErr != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("hook timed out: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = out
		}
		if msg == "" {
			return out, fmt.Errorf("hook command failed: %w", runErr)
		}
		return out, fmt.Errorf("hook command failed: %w: %s", runErr, msg)
	}
	return out, nil
}

func hookEnv(hook *models.Hook, hctx Context) []string {
	vars := map[string]string{
		"EVENT":      string(hctx.EventType),
		"NAME":       hook.Name,
		"SESSION_ID": hctx.SessionID,
		"TASK_ID":    hctx.TaskID,
		"PROJECT_ID": hctx.ProjectID,
		"PROVIDER":   hctx.Provider,
		"TOOL_NAME":  hctx.ToolName,
		"CALL_ID":    hctx.CallID,
		"STATUS":     hctx.Status,
	}
	if hctx.ToolInput != nil {
		if b, err := json.Marshal(hctx.ToolInput); err == nil {
			vars["TOOL_INPUT"] = string(b)
		}
	}
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, envPrefix+k+"="+v)
	}
	return env
}

type limitedWriter struct {
	w io.Writer
	n int
}

// Write drops bytes beyond the limit but reports them written so the child never blocks.
func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > l.n {
		chunk = chunk[:l.n]
	}
	n, err := l.w.Write(chunk)
	l.n -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// HTTPRunner POSTs the context as JSON to hook.URL. Any 2xx is success and the
// response body is the output.
type HTTPRunner struct {
	Client *http.Client
}

// NewHTTPRunner creates a runner with a default client. Timeouts come from the context.
func NewHTTPRunner() *HTTPRunner {
	return &HTTPRunner{Client: &http.Client{}}
}

type httpHookRequest struct {
	HookID   string  `json:"hook_id"`
	HookName string  `json:"hook_name"`
	Context  Context `json:"context"`
}

func (r *HTTPRunner) Run(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
	if hook.URL == "" {
		return "", errors.New("http hook has no url")
	}
	body, err := json.Marshal(httpHookRequest{HookID: hook.ID, HookName: hook.Name, Context: hctx})
	if err != nil {
		return "", fmt.Errorf("failed to encode hook context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agentgate-Event", string(hctx.EventType))

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("hook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read hook response: %w", err)
	}
	out := strings.TrimSpace(string(respBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out == "" {
			return "", fmt.Errorf("hook endpoint returned status %d", resp.StatusCode)
		}
		return out, fmt.Errorf("hook endpoint returned status %d: %s", resp.StatusCode, out)
	}
	return out, nil
}

// SocketRunner delivers the hook to the session's connected interactive clients.
type SocketRunner struct {
	sender SocketSender
}

// NewSocketRunner creates a runner over sender. A nil sender fails every run.
func NewSocketRunner(sender SocketSender) *SocketRunner {
	return &SocketRunner{sender: sender}
}

func (r *SocketRunner) Run(ctx context.Context, hook *models.Hook, hctx Context) (string, error) {
	if r.sender == nil {
		return "", errors.New("no websocket transport configured")
	}
	if hctx.SessionID == "" {
		return "", errors.New("websocket hooks need a session")
	}
	return r.sender.InvokeHook(ctx, hctx.SessionID, Invocation{
		ID:       uuid.New().String(),
		HookID:   hook.ID,
		HookName: hook.Name,
		Context:  hctx,
	})
}
