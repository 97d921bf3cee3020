package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNilEvent is returned when EmitEvent is called without an event.
var ErrNilEvent = errors.New("events: nil event")

// InMemoryEventEmitter dispatches events synchronously to its handlers in
// registration order.
type InMemoryEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		handlers: make([]EventHandler, 0),
		logger:   logger.With(slog.String("component", "event_emitter")),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", slog.Int("handler_count", len(e.handlers)))
}

// EmitEvent delivers event to every handler, even after one fails, and
// returns the first handler error.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrNilEvent
	}
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	log := e.logger.With(
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type))
	log.Debug("emitting event", slog.Int("handler_count", len(handlers)))

	if len(handlers) == 0 {
		log.Warn("no handlers registered for event")
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			log.Error("handler failed to process event",
				slog.String("error", err.Error()),
				slog.Int("handler_index", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
