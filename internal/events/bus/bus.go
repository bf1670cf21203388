// Package bus fans engine events out to in-process subscribers or over NATS.
// Subjects are dot-separated tokens; subscriptions may use NATS wildcards.
package bus

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one engine notification. Session-scoped events carry "session_id" in Data.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent stamps a new event with an id and the current time.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionID returns the session the event belongs to, or "".
func (e *Event) SessionID() string {
	if e == nil || e.Data == nil {
		return ""
	}
	id, _ := e.Data["session_id"].(string)
	return id
}

// EventHandler consumes one event. Returned errors are logged by the bus.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes events and delivers them to matching subscriptions.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	// Subscribe registers handler for subject, which may use * (one token) and > (the rest).
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

// SubjectMatches reports whether subject is covered by pattern.
func SubjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i < len(got) && i == len(want)-1
		}
		if i >= len(got) {
			return false
		}
		if tok != "*" && tok != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}
