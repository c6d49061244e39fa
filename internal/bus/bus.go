package bus

import (
	"log/slog"
	"sync"
	"time"

	"chronicler/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based event bus carrying gateway events to
// the archive loop in-process.
type InMemoryBus struct {
	events chan domain.GatewayEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		events: make(chan domain.GatewayEvent, bufferSize),
		logger: logger,
	}
}

// Blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.GatewayEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "kind", ev.Kind)
		return
	}

	select {
	case b.events <- ev:
	default:
		// Bus full: wait with timeout instead of dropping
		b.logger.Warn("event bus full, waiting...", "kind", ev.Kind, "room_id", ev.RoomID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
			b.logger.Info("event delivered after wait", "kind", ev.Kind)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"kind", ev.Kind,
				"room_id", ev.RoomID,
				"message_id", ev.MessageID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.GatewayEvent {
	return b.events
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.events)
	}
}
