package agentproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/tracing"
)

// killWait bounds how long Terminate waits for the kernel to reap a SIGKILLed group.
const killWait = 5 * time.Second

// Options tunes process supervision.
type Options struct {
	SoftHandshakeTimeout time.Duration
	HardHandshakeTimeout time.Duration
	TerminateGrace       time.Duration
	StderrLines          int
}

// OptionsFromConfig maps the process config section.
func OptionsFromConfig(cfg config.ProcessConfig) Options {
	return Options{
		SoftHandshakeTimeout: cfg.SoftHandshakeTimeout,
		HardHandshakeTimeout: cfg.HardHandshakeTimeout,
		TerminateGrace:       cfg.TerminateGrace,
	}
}

// SpawnResult is the success outcome of Spawn.
type SpawnResult struct {
	Handle    string
	SessionID string
	// Placeholder is set when the soft handshake timer produced the session id.
	Placeholder bool
	PID         int
}

// Adapter spawns agent processes and owns the handle registry.
// Output and exit callbacks run on the process reader goroutine and must not block.
type Adapter struct {
	providers *Providers
	opts      Options
	registry  *registry
	logger    *logger.Logger
}

// NewAdapter creates a process adapter.
func NewAdapter(providers *Providers, opts Options, log *logger.Logger) *Adapter {
	if opts.HardHandshakeTimeout <= 0 {
		opts.HardHandshakeTimeout = 60 * time.Second
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 5 * time.Second
	}
	if opts.StderrLines <= 0 {
		opts.StderrLines = 50
	}
	return &Adapter{
		providers: providers,
		opts:      opts,
		registry:  newRegistry(),
		logger:    log.WithFields(zap.String("component", "agentproc")),
	}
}

// Spawn starts exactly one agent process and waits for its session handshake.
// Failures come back as *SpawnError.
func (a *Adapter) Spawn(ctx context.Context, cfg SpawnConfig) (*SpawnResult, error) {
	ctx, span := tracing.TraceSpawn(ctx, cfg.Provider, cfg.WorkingDir)
	defer span.End()

	result, err := a.spawn(ctx, cfg)
	if err != nil {
		tracing.TraceResult(span, "failed", err)
		return nil, err
	}
	tracing.TraceResult(span, "running", nil)
	return result, nil
}

func (a *Adapter) spawn(ctx context.Context, cfg SpawnConfig) (*SpawnResult, error) {
	prov, err := a.providers.Get(cfg.Provider)
	if err != nil {
		return nil, &SpawnError{Stage: StageConfig, Err: err}
	}
	command, err := prov.BuildCommand(cfg)
	if err != nil {
		return nil, &SpawnError{Stage: StageConfig, Err: err}
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = append(os.Environ(), cfg.Env...)
	setProcGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Stage: StageStart, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Stage: StageStart, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Stage: StageStart, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Stage: StageStart, Err: err}
	}

	p := newProcess(prov, cmd, stdin, a.opts.StderrLines, a.logger)
	if cfg.OnOutput != nil {
		p.subscribeOutput(cfg.OnOutput)
	}
	if cfg.OnExit != nil {
		p.subscribeExit(cfg.OnExit)
	}
	a.registry.add(p)
	p.logger.Info("agent process started",
		zap.String("provider", prov.Name()),
		zap.String("working_dir", cfg.WorkingDir))

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readStdout(stdout, &readers)
	go p.readStderr(stderr, &readers)
	go a.wait(p, &readers)

	if len(command.Stdin) > 0 {
		if err := p.write(command.Stdin); err != nil {
			return nil, a.failSpawn(p, StageInput, err)
		}
	}
	if command.CloseStdin {
		p.closeStdin()
	}

	sessionID, placeholder, err := a.awaitHandshake(ctx, p)
	if err != nil {
		return nil, a.failSpawn(p, StageHandshake, err)
	}
	p.markReady()

	if placeholder {
		p.logger.Warn("no session handshake before soft timeout, using placeholder",
			zap.String("session_id", sessionID))
	}
	return &SpawnResult{
		Handle:      p.handle,
		SessionID:   sessionID,
		Placeholder: placeholder,
		PID:         p.pid,
	}, nil
}

// awaitHandshake races the provider's session id against the soft timer, the hard timer
// and process exit. The first to fire wins and the deferred stops cancel the rest.
func (a *Adapter) awaitHandshake(ctx context.Context, p *process) (string, bool, error) {
	var softC <-chan time.Time
	if a.opts.SoftHandshakeTimeout > 0 {
		soft := time.NewTimer(a.opts.SoftHandshakeTimeout)
		defer soft.Stop()
		softC = soft.C
	}
	hard := time.NewTimer(a.opts.HardHandshakeTimeout)
	defer hard.Stop()

	select {
	case id := <-p.handshake:
		return id, false, nil
	case <-softC:
		id, placeholder := p.adoptPlaceholder()
		return id, placeholder, nil
	case <-hard.C:
		return "", false, fmt.Errorf("no session handshake within %s", a.opts.HardHandshakeTimeout)
	case <-p.done:
		// Output is fully drained before done closes, so a handshake that raced the exit is here.
		select {
		case id := <-p.handshake:
			return id, false, nil
		default:
		}
		info := p.exitInfo()
		return "", false, fmt.Errorf("process exited before handshake: %s", info.ErrorText())
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// failSpawn detaches the caller's callbacks and kills the process.
func (a *Adapter) failSpawn(p *process, stage string, err error) error {
	p.detachSubscribers()
	p.markTerminating()
	p.markReady()
	p.closeStdin()
	if !p.exited() {
		if kerr := killProcessGroup(p.pid); kerr != nil {
			p.logger.Debug("failed to kill process group", zap.Error(kerr))
		}
		select {
		case <-p.done:
		case <-time.After(killWait):
		}
	}
	spawnErr := &SpawnError{Stage: stage, Err: err, Stderr: p.stderr.String()}
	p.logger.Error("agent spawn failed", zap.Error(spawnErr))
	return spawnErr
}

// wait reaps the process once its output is drained, then notifies exit subscribers.
func (a *Adapter) wait(p *process, readers *sync.WaitGroup) {
	readers.Wait()
	err := p.cmd.Wait()
	code, signal := exitStatus(err)

	info := ExitInfo{Handle: p.handle, ExitCode: code, Signal: signal}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		info.Err = err
	}
	if !info.Success() {
		info.Stderr = p.stderr.String()
	}
	info = p.finish(info)

	<-p.ready
	a.registry.remove(p.handle)
	p.logger.Info("agent process exited",
		zap.Int("exit_code", info.ExitCode),
		zap.String("signal", info.Signal),
		zap.Bool("requested", info.Requested))

	for _, cb := range p.exitSubscribers() {
		cb(info)
	}
	p.detachSubscribers()
}

// SendMessage writes a user message to the process input.
func (a *Adapter) SendMessage(handle, text string) error {
	p, ok := a.registry.get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	if !p.provider.SupportsInput() {
		return ErrInputUnsupported
	}
	data, err := p.provider.EncodeUserMessage(text)
	if err != nil {
		return err
	}
	return p.write(data)
}

// SendApprovalResponse answers the oldest outstanding permission request of the process.
func (a *Adapter) SendApprovalResponse(handle string, approved bool, reason string) error {
	return a.RespondToToolCall(handle, "", approved, reason)
}

// RespondToToolCall answers a specific permission request. An empty requestID means the oldest.
func (a *Adapter) RespondToToolCall(handle, requestID string, approved bool, reason string) error {
	p, ok := a.registry.get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	perm, ok := p.takePermission(requestID)
	if !ok {
		return ErrNoPendingPermission
	}
	data, err := p.provider.EncodeApprovalResponse(perm.requestID, approved, perm.input, reason)
	if err != nil {
		return err
	}
	p.logger.Debug("sending approval response",
		zap.String("request_id", perm.requestID),
		zap.String("call_id", perm.callID),
		zap.Bool("approved", approved))
	return p.write(data)
}

// Terminate closes stdin, sends SIGTERM to the process group and escalates to
// SIGKILL after the grace period.
func (a *Adapter) Terminate(ctx context.Context, handle string) error {
	p, ok := a.registry.get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	p.markTerminating()
	p.closeStdin()
	if p.isPaused() {
		_ = resumeProcessGroup(p.pid)
	}
	if err := terminateProcessGroup(p.pid); err != nil {
		p.logger.Debug("SIGTERM failed", zap.Error(err))
	}

	grace := time.NewTimer(a.opts.TerminateGrace)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	p.logger.Warn("process did not exit after SIGTERM, killing")
	if err := killProcessGroup(p.pid); err != nil {
		p.logger.Debug("SIGKILL failed", zap.Error(err))
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %d did not exit after SIGKILL", p.pid)
	}
}

// Pause suspends the process group.
func (a *Adapter) Pause(handle string) error {
	p, ok := a.registry.get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	if !a.CanPause(handle) {
		return ErrPauseUnsupported
	}
	if err := suspendProcessGroup(p.pid); err != nil {
		return err
	}
	p.setPaused(true)
	return nil
}

// Resume continues a paused process group.
func (a *Adapter) Resume(handle string) error {
	p, ok := a.registry.get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	if !a.CanPause(handle) {
		return ErrPauseUnsupported
	}
	if err := resumeProcessGroup(p.pid); err != nil {
		return err
	}
	p.setPaused(false)
	return nil
}

// CanPause reports whether the process behind handle can be suspended.
func (a *Adapter) CanPause(handle string) bool {
	p, ok := a.registry.get(handle)
	if !ok {
		return false
	}
	return pauseSupported() && p.provider.SupportsPause()
}

// OnOutput subscribes to normalized output. Unknown handles get a no-op unsubscribe.
func (a *Adapter) OnOutput(handle string, cb func(Event)) func() {
	p, ok := a.registry.get(handle)
	if !ok {
		return func() {}
	}
	return p.subscribeOutput(cb)
}

// OnExit subscribes to the process exit. Unknown handles get a no-op unsubscribe.
func (a *Adapter) OnExit(handle string, cb func(ExitInfo)) func() {
	p, ok := a.registry.get(handle)
	if !ok {
		return func() {}
	}
	return p.subscribeExit(cb)
}

// IsRunning reports whether handle refers to a live process.
func (a *Adapter) IsRunning(handle string) bool {
	p, ok := a.registry.get(handle)
	return ok && !p.exited()
}

// SessionID returns the current provider session id of a live process.
func (a *Adapter) SessionID(handle string) (string, bool) {
	p, ok := a.registry.get(handle)
	if !ok {
		return "", false
	}
	return p.currentSessionID(), true
}

// Handles lists live process handles.
func (a *Adapter) Handles() []string {
	procs := a.registry.all()
	out := make([]string, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.handle)
	}
	return out
}

// Shutdown terminates every live process.
func (a *Adapter) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, handle := range a.Handles() {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			if err := a.Terminate(ctx, h); err != nil && !errors.Is(err, ErrUnknownHandle) {
				a.logger.Warn("failed to terminate agent process", zap.String("handle", h), zap.Error(err))
			}
		}(handle)
	}
	wg.Wait()
}
