package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/common/logger"
)

// ErrBusClosed is returned by a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// MemoryEventBus delivers events inside the process. Each delivery runs on its own
// goroutine with the publisher's context values but not its cancellation.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger *logger.Logger
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	handler EventHandler
	active  atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	if !s.active.Swap(false) {
		return nil
	}
	s.bus.remove(s)
	return nil
}

func (s *memorySubscription) IsValid() bool {
	return s.active.Load()
}

// NewMemoryEventBus creates an empty in-memory bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log.WithFields(zap.String("component", "memory-bus"))}
}

// Publish hands event to every active subscription whose pattern covers subject.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var targets []*memorySubscription
	for _, sub := range b.subs {
		if sub.active.Load() && SubjectMatches(sub.subject, subject) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	deliverCtx := context.WithoutCancel(ctx)
	for _, sub := range targets {
		go b.deliver(deliverCtx, sub, subject, event)
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_type", event.Type),
		zap.Int("subscribers", len(targets)))
	return nil
}

func (b *MemoryEventBus) deliver(ctx context.Context, sub *memorySubscription, subject string, event *Event) {
	if !sub.active.Load() {
		return
	}
	if err := sub.handler(ctx, event); err != nil {
		b.logger.Error("Event handler error",
			zap.String("subject", subject),
			zap.String("pattern", sub.subject),
			zap.String("session_id", event.SessionID()),
			zap.Error(err))
	}
}

// Subscribe registers handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &memorySubscription{bus: b, subject: subject, handler: handler}
	sub.active.Store(true)
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *MemoryEventBus) remove(target *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close deactivates every subscription. Later calls to Publish and Subscribe fail.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.active.Store(false)
	}
	b.subs = nil
	b.logger.Info("Memory event bus closed")
}

// IsConnected reports true until Close.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}
