package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeCalibrationRequested = "calibration.requested"
	TypeContextPublished     = "context.published"
)

// Event is a typed message with a JSON payload.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type selects the payload shape
	Type string `json:"type"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// CalibrationRequested asks for a calibration run of one scale.
type CalibrationRequested struct {
	ScaleID uuid.UUID `json:"scale_id"`

	// Force runs even when no new responses arrived since the last run.
	Force bool `json:"force,omitempty"`

	// Name labels the resulting context.
	Name string `json:"name,omitempty"`
}

// ContextPublished announces a new active context for a scale.
type ContextPublished struct {
	ScaleID   uuid.UUID `json:"scale_id"`
	ContextID uuid.UUID `json:"context_id"`
	ParentID  uuid.UUID `json:"parent_id"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates a new Event with the specified type and payload.
func NewEvent(eventType string, payload any) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
