package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512 * 1024
)

// Client is one socket connected for a session.
type Client struct {
	ID        string
	SessionID string
	conn      *websocket.Conn
	hub       *Hub
	send      chan []byte
	logger    *logger.Logger
}

// NewClient creates a client bound to a session.
func NewClient(id, sessionID string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		SessionID: sessionID,
		conn:      conn,
		hub:       hub,
		send:      make(chan []byte, 256),
		logger:    log.WithFields(zap.String("client_id", id), zap.String("session_id", sessionID)),
	}
}

// ReadPump reads client frames until the connection closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "", ErrorCodeBadRequest, "Invalid message format")
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *Message) {
	c.logger.Debug("Received message", zap.String("action", msg.Action), zap.String("id", msg.ID))

	switch msg.Action {
	case ActionApprovalRespond:
		c.handleApprovalRespond(ctx, msg)
	case ActionHookResult:
		c.handleHookResult(msg)
	case ActionPing:
		c.reply(msg, map[string]any{"pong": true})
	default:
		c.sendError(msg.ID, msg.Action, ErrorCodeUnknownAction, "unknown action: "+msg.Action)
	}
}

func (c *Client) handleApprovalRespond(ctx context.Context, msg *Message) {
	var req ApprovalRespondRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ErrorCodeBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if req.ApprovalID == "" {
		c.sendError(msg.ID, msg.Action, ErrorCodeValidation, "approval_id is required")
		return
	}
	if c.hub.responder == nil {
		c.sendError(msg.ID, msg.Action, ErrorCodeInternalError, "approvals cannot be answered on this server")
		return
	}

	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "websocket"
	}
	approval, err := c.hub.responder.Respond(ctx, req.ApprovalID, req.Approve, decidedBy, req.Reason, req.Remember)
	if err != nil {
		c.sendError(msg.ID, msg.Action, apperrors.Code(err), apperrors.Message(err))
		return
	}
	c.reply(msg, map[string]any{
		"success":     true,
		"approval_id": approval.ID,
		"status":      approval.Status,
	})
}

func (c *Client) handleHookResult(msg *Message) {
	var req HookResultRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.sendError(msg.ID, msg.Action, ErrorCodeBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if !c.hub.completeInvocation(req) {
		c.sendError(msg.ID, msg.Action, ErrorCodeNotFound, "no hook invocation "+req.InvocationID+" is waiting")
		return
	}
	c.reply(msg, map[string]any{"success": true})
}

func (c *Client) reply(msg *Message, payload any) {
	resp, err := NewResponse(msg.ID, msg.Action, payload)
	if err != nil {
		c.logger.Error("Failed to create response", zap.Error(err))
		return
	}
	c.sendMessage(resp)
}

func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	if !c.hub.sendTo(c, data) {
		c.logger.Warn("Dropped message for client")
	}
}

func (c *Client) sendError(id, action, code, message string) {
	msg, err := NewError(id, action, code, message)
	if err != nil {
		c.logger.Error("Failed to create error message", zap.Error(err))
		return
	}
	c.sendMessage(msg)
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
