package task

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
)

type mockSubmitter struct {
	requests []calibration.Request
	err      error
}

func (m *mockSubmitter) Submit(_ context.Context, req calibration.Request) (*CalibrationTask, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.requests = append(m.requests, req)
	return NewCalibrationTask(req, nil, 0), nil
}

func TestCalibrationEventHandler(t *testing.T) {
	scale := uuid.New()
	requested, err := events.NewEvent(events.TypeCalibrationRequested,
		events.CalibrationRequested{ScaleID: scale, Force: true, Name: "manual"})
	require.NoError(t, err)
	published, err := events.NewEvent(events.TypeContextPublished,
		events.ContextPublished{ScaleID: scale, ContextID: uuid.New()})
	require.NoError(t, err)
	broken := &events.Event{ID: uuid.New(), Type: events.TypeCalibrationRequested, Payload: []byte("{")}

	tests := []struct {
		name      string
		event     *events.Event
		submitErr error
		wantErr   error
		wantReqs  []calibration.Request
	}{
		{
			name:     "calibration requested",
			event:    requested,
			wantReqs: []calibration.Request{{ScaleID: scale, Force: true, Name: "manual"}},
		},
		{
			name:  "other event types are ignored",
			event: published,
		},
		{
			name:      "submit failure",
			event:     requested,
			submitErr: ErrQueueFull,
			wantErr:   ErrQueueFull,
		},
		{
			name:    "malformed payload",
			event:   broken,
			wantErr: errors.New("failed to unmarshal payload"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &mockSubmitter{err: tt.submitErr}
			h := NewCalibrationEventHandler(sub, setupTestLogger())

			err := h.HandleEvent(context.Background(), tt.event)

			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
			case errors.Is(tt.wantErr, ErrQueueFull):
				assert.ErrorIs(t, err, ErrQueueFull)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
			}
			assert.Equal(t, tt.wantReqs, sub.requests)
		})
	}
}

func TestCalibrationEventHandlerWithEmitter(t *testing.T) {
	cal := newFakeCalibrator()
	s := newTestScheduler(t, cal, SchedulerConfig{Workers: 1, QueueSize: 2})
	emitter := events.NewInMemoryEventEmitter(setupTestLogger())
	emitter.RegisterHandler(NewCalibrationEventHandler(s, setupTestLogger()))

	scale := uuid.New()
	event, err := events.NewEvent(events.TypeCalibrationRequested, events.CalibrationRequested{ScaleID: scale, Name: "via-event"})
	require.NoError(t, err)
	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	waitStarted(t, cal, "via-event")
}
