package websocket

import (
	"encoding/json"
	"time"
)

// MessageType classifies an envelope.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Actions carried on the session socket.
const (
	// server -> client
	ActionApprovalRequest = "approval.request"
	ActionSessionEvent    = "session.event"
	ActionHookInvoke      = "hook.invoke"

	// client -> server
	ActionApprovalRespond = "approval.respond"
	ActionHookResult      = "hook.result"
	ActionPing            = "ping"
)

// Error codes sent in error envelopes.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeInternalError = "INTERNAL_ERROR"
)

// Message is the envelope of every frame on the socket.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMessage(id string, typ MessageType, action string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      typ,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewNotification creates a server-initiated message.
func NewNotification(action string, payload any) (*Message, error) {
	return newMessage("", MessageTypeNotification, action, payload)
}

// NewResponse creates a reply to a client request.
func NewResponse(id, action string, payload any) (*Message, error) {
	return newMessage(id, MessageTypeResponse, action, payload)
}

// NewError creates an error reply.
func NewError(id, action, code, message string) (*Message, error) {
	return newMessage(id, MessageTypeError, action, ErrorPayload{Code: code, Message: message})
}

// ParsePayload decodes the payload into v.
func (m *Message) ParsePayload(v any) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ApprovalRespondRequest is the payload of approval.respond.
type ApprovalRespondRequest struct {
	ApprovalID string `json:"approval_id"`
	Approve    bool   `json:"approve"`
	Remember   bool   `json:"remember,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
}

// HookResultRequest is the payload of hook.result.
type HookResultRequest struct {
	InvocationID string `json:"invocation_id"`
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SessionEventPayload wraps a bus event pushed to session clients.
type SessionEventPayload struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
