// Package websocket is the interactive channel: clients connect per session,
// receive approval requests, session events and hook invocations, and answer them.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
)

// ErrNoClients is returned when a session has no connected client to deliver to.
var ErrNoClients = errors.New("no interactive client connected for session")

// ApprovalResponder resolves approvals answered over the socket.
type ApprovalResponder interface {
	Respond(ctx context.Context, approvalID string, approve bool, decidedBy, reason string, remember bool) (*models.Approval, error)
}

type hookReply struct {
	output string
	err    error
}

// Hub tracks connected clients by session.
type Hub struct {
	clients  map[*Client]bool
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	responder ApprovalResponder

	invMu       sync.Mutex
	invocations map[string]chan hookReply

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub. responder may be nil, in which case approval.respond fails.
func NewHub(responder ApprovalResponder, log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		sessions:    make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		responder:   responder,
		invocations: make(map[string]chan hookReply),
		logger:      log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes registrations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	if _, ok := h.sessions[client.SessionID]; !ok {
		h.sessions[client.SessionID] = make(map[*Client]bool)
	}
	h.sessions[client.SessionID][client] = true
	h.logger.Debug("Client registered",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if clients, ok := h.sessions[client.SessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, client.SessionID)
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.sessions = make(map[string]map[*Client]bool)
}

// Register adds a client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// sendTo queues data for one client unless it has been removed.
func (h *Hub) sendTo(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SessionClientCount returns the number of clients connected for a session.
func (h *Hub) SessionClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SendToSession delivers msg to every client of the session and returns how many
// accepted it.
func (h *Hub) SendToSession(sessionID string, msg *Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for client := range h.sessions[sessionID] {
		select {
		case client.send <- data:
			delivered++
		default:
			h.logger.Warn("Client send buffer full", zap.String("client_id", client.ID))
		}
	}
	return delivered
}

// NotifyApprovalRequest pushes a pending approval to the session's clients.
func (h *Hub) NotifyApprovalRequest(sessionID string, approval *models.Approval) error {
	msg, err := NewNotification(ActionApprovalRequest, approval)
	if err != nil {
		return err
	}
	if h.SendToSession(sessionID, msg) == 0 {
		return ErrNoClients
	}
	return nil
}

// InvokeHook sends a hook invocation to the session's clients and waits for the
// first hook.result that answers it.
func (h *Hub) InvokeHook(ctx context.Context, sessionID string, inv hooks.Invocation) (string, error) {
	reply := make(chan hookReply, 1)
	h.invMu.Lock()
	h.invocations[inv.ID] = reply
	h.invMu.Unlock()
	defer func() {
		h.invMu.Lock()
		delete(h.invocations, inv.ID)
		h.invMu.Unlock()
	}()

	msg, err := NewNotification(ActionHookInvoke, inv)
	if err != nil {
		return "", err
	}
	if h.SendToSession(sessionID, msg) == 0 {
		return "", ErrNoClients
	}

	select {
	case r := <-reply:
		return r.output, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("hook %q got no answer: %w", inv.HookName, ctx.Err())
	}
}

// completeInvocation hands a client's hook.result to the waiting InvokeHook.
func (h *Hub) completeInvocation(res HookResultRequest) bool {
	h.invMu.Lock()
	reply, ok := h.invocations[res.InvocationID]
	if ok {
		delete(h.invocations, res.InvocationID)
	}
	h.invMu.Unlock()
	if !ok {
		return false
	}

	r := hookReply{output: res.Output}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "hook reported failure"
		}
		r.err = errors.New(msg)
	}
	reply <- r
	return true
}

// ForwardEvents relays session and approval-resolution events from the bus to the
// clients of the session they belong to.
func (h *Hub) ForwardEvents(b bus.EventBus) ([]bus.Subscription, error) {
	var subs []bus.Subscription
	for _, subject := range []string{"session.>", events.SessionWildcardSubject(events.ApprovalResolved)} {
		sub, err := b.Subscribe(subject, h.forward)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (h *Hub) forward(_ context.Context, event *bus.Event) error {
	sessionID := event.SessionID()
	if sessionID == "" || h.SessionClientCount(sessionID) == 0 {
		return nil
	}
	msg, err := NewNotification(ActionSessionEvent, SessionEventPayload{
		Type:      event.Type,
		SessionID: sessionID,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	})
	if err != nil {
		return err
	}
	h.SendToSession(sessionID, msg)
	return nil
}
