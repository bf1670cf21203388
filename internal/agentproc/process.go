package agentproc

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/logger"
)

type pendingPermission struct {
	requestID string
	callID    string
	input     map[string]any
}

// process is the registry entry for one spawned agent.
type process struct {
	handle   string
	provider Provider
	cmd      *exec.Cmd
	pid      int
	logger   *logger.Logger

	stdinMu     sync.Mutex
	stdin       io.WriteCloser
	stdinClosed bool

	mu          sync.Mutex
	sessionID   string
	placeholder bool
	signaled    bool
	outputSubs  map[uint64]func(Event)
	exitSubs    map[uint64]func(ExitInfo)
	nextSub     uint64
	permissions []pendingPermission
	paused      bool
	terminating bool
	exit        *ExitInfo

	handshake chan string
	stderr    *stderrRing
	// done closes once the process has exited; ready closes once Spawn settled the handshake.
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func newProcess(prov Provider, cmd *exec.Cmd, stdin io.WriteCloser, stderrLines int, log *logger.Logger) *process {
	handle := uuid.New().String()
	return &process{
		handle:     handle,
		provider:   prov,
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		logger:     log.WithFields(zap.String("handle", handle), zap.Int("pid", cmd.Process.Pid)),
		stdin:      stdin,
		outputSubs: make(map[uint64]func(Event)),
		exitSubs:   make(map[uint64]func(ExitInfo)),
		handshake:  make(chan string, 1),
		stderr:     newStderrRing(stderrLines),
		done:       make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

func (p *process) subscribeOutput(cb func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.outputSubs[id] = cb
	return func() {
		p.mu.Lock()
		delete(p.outputSubs, id)
		p.mu.Unlock()
	}
}

func (p *process) subscribeExit(cb func(ExitInfo)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.exitSubs[id] = cb
	return func() {
		p.mu.Lock()
		delete(p.exitSubs, id)
		p.mu.Unlock()
	}
}

func (p *process) detachSubscribers() {
	p.mu.Lock()
	p.outputSubs = make(map[uint64]func(Event))
	p.exitSubs = make(map[uint64]func(ExitInfo))
	p.mu.Unlock()
}

func (p *process) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

// dispatch stamps an event, tracks handshake and permission state and fans it out.
func (p *process) dispatch(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Handle = p.handle

	var swapped *Event
	p.mu.Lock()
	if ev.SessionID != "" {
		switch {
		case p.sessionID == "":
			p.sessionID = ev.SessionID
		case p.placeholder && ev.SessionID != p.sessionID:
			swapped = &Event{
				Kind:      EventSystem,
				Subtype:   SubtypeSessionID,
				Handle:    p.handle,
				SessionID: ev.SessionID,
				Text:      p.sessionID,
				Timestamp: ev.Timestamp,
			}
			p.sessionID = ev.SessionID
			p.placeholder = false
		}
		if !p.signaled {
			p.signaled = true
			p.handshake <- ev.SessionID
		}
	} else {
		ev.SessionID = p.sessionID
	}
	if ev.NeedsPermission && ev.RequestID != "" {
		p.permissions = append(p.permissions, pendingPermission{
			requestID: ev.RequestID,
			callID:    ev.CallID,
			input:     ev.ToolInput,
		})
	}
	subs := make([]func(Event), 0, len(p.outputSubs))
	for _, cb := range p.outputSubs {
		subs = append(subs, cb)
	}
	p.mu.Unlock()

	for _, cb := range subs {
		cb(ev)
		if swapped != nil {
			cb(*swapped)
		}
	}
}

// adoptPlaceholder settles the session id with a local uuid unless the real one already arrived.
func (p *process) adoptPlaceholder() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionID != "" {
		return p.sessionID, false
	}
	p.sessionID = uuid.New().String()
	p.placeholder = true
	return p.sessionID, true
}

func (p *process) currentSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// takePermission removes the matching outstanding request, or the oldest when requestID is empty.
func (p *process) takePermission(requestID string) (pendingPermission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, perm := range p.permissions {
		if requestID == "" || perm.requestID == requestID {
			p.permissions = append(p.permissions[:i], p.permissions[i+1:]...)
			return perm, true
		}
	}
	return pendingPermission{}, false
}

func (p *process) write(data []byte) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdinClosed {
		return errors.New("stdin is closed")
	}
	_, err := p.stdin.Write(data)
	return err
}

func (p *process) closeStdin() {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	if p.stdinClosed {
		return
	}
	p.stdinClosed = true
	if err := p.stdin.Close(); err != nil {
		p.logger.Debug("failed to close stdin", zap.Error(err))
	}
}

func (p *process) setPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
}

func (p *process) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *process) markTerminating() {
	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) exitInfo() ExitInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return ExitInfo{Handle: p.handle}
	}
	return *p.exit
}

// finish records the exit and closes done.
func (p *process) finish(info ExitInfo) ExitInfo {
	p.mu.Lock()
	info.Requested = p.terminating
	info.SessionID = p.sessionID
	p.exit = &info
	p.mu.Unlock()
	close(p.done)
	return info
}

func (p *process) exitSubscribers() []func(ExitInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := make([]func(ExitInfo), 0, len(p.exitSubs))
	for _, cb := range p.exitSubs {
		subs = append(subs, cb)
	}
	return subs
}

func (p *process) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	var lb lineBuffer
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lb.Feed(buf[:n]) {
				p.handleLine(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("stdout read ended", zap.Error(err))
			}
			break
		}
	}
	if rest := lb.Flush(); rest != nil {
		p.handleLine(rest)
	}
}

func (p *process) handleLine(line []byte) {
	for _, ev := range p.provider.ParseLine(line) {
		if ev.Subtype == SubtypeParse {
			p.logger.Debug("unparseable output line", zap.String("line", ev.Raw))
		}
		p.dispatch(ev)
	}
}

func (p *process) readStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	var lb lineBuffer
	buf := make([]byte, 8*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lb.Feed(buf[:n]) {
				p.stderr.Add(string(line))
			}
		}
		if err != nil {
			break
		}
	}
	if rest := lb.Flush(); rest != nil {
		p.stderr.Add(string(rest))
	}
}

// registry maps handles to live processes. Entries are added on successful
// start and removed when the process exits.
type registry struct {
	mu    sync.RWMutex
	procs map[string]*process
}

func newRegistry() *registry {
	return &registry{procs: make(map[string]*process)}
}

func (r *registry) add(p *process) {
	r.mu.Lock()
	r.procs[p.handle] = p
	r.mu.Unlock()
}

func (r *registry) get(handle string) (*process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[handle]
	return p, ok
}

func (r *registry) remove(handle string) {
	r.mu.Lock()
	delete(r.procs, handle)
	r.mu.Unlock()
}

func (r *registry) all() []*process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*process, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	return out
}
