package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
)

// Submitter queues calibration requests.
type Submitter interface {
	Submit(ctx context.Context, req calibration.Request) (*CalibrationTask, error)
}

// CalibrationEventHandler turns calibration.requested events into queued
// calibration tasks.
type CalibrationEventHandler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewCalibrationEventHandler creates a handler submitting to s.
func NewCalibrationEventHandler(s Submitter, logger *slog.Logger) *CalibrationEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalibrationEventHandler{
		submitter: s,
		logger:    logger.With(slog.String("component", "calibration_event_handler")),
	}
}

// HandleEvent submits a task for calibration requests and ignores every
// other event type.
func (h *CalibrationEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeCalibrationRequested {
		h.logger.Debug("ignoring event with unsupported type",
			slog.String("event_type", event.Type),
			slog.String("event_id", event.ID.String()))
		return nil
	}

	var payload events.CalibrationRequested
	if err := event.UnmarshalPayload(&payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	task, err := h.submitter.Submit(ctx, calibration.Request{
		ScaleID: payload.ScaleID,
		Force:   payload.Force,
		Name:    payload.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	h.logger.Debug("calibration task submitted",
		slog.String("task_id", task.ID().String()),
		slog.String("scale_id", payload.ScaleID.String()),
		slog.String("event_id", event.ID.String()))
	return nil
}

var _ events.EventHandler = (*CalibrationEventHandler)(nil)
