package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/events"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
	"github.com/phrazzld/scry-cat/internal/task"
)

// CalibrationService exposes published contexts and manual edits to them.
type CalibrationService interface {
	Active(ctx context.Context, scaleID uuid.UUID) (*domain.Context, error)
	History(ctx context.Context, scaleID uuid.UUID) ([]domain.Context, error)
	OverrideItem(ctx context.Context, scaleID uuid.UUID, o calibration.Override) (*domain.Context, error)
	Rollback(ctx context.Context, scaleID, contextID uuid.UUID) (*domain.Context, error)
}

// TaskLookup finds the queued calibration of a scale.
type TaskLookup interface {
	Latest(scaleID uuid.UUID) (*task.CalibrationTask, bool)
}

// ScaleHandler serves the calibration endpoints of a scale.
type ScaleHandler struct {
	calibration CalibrationService
	emitter     events.EventEmitter
	tasks       TaskLookup
	logger      *slog.Logger
}

// NewScaleHandler creates a ScaleHandler. Calibration triggers are emitted
// as events; tasks is consulted afterwards to report the queued task.
func NewScaleHandler(cal CalibrationService, emitter events.EventEmitter, tasks TaskLookup, logger *slog.Logger) *ScaleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScaleHandler{
		calibration: cal,
		emitter:     emitter,
		tasks:       tasks,
		logger:      logger.With(slog.String("component", "scale_handler")),
	}
}

// RequestCalibration handles POST /scales/{id}/calibrations. The body is
// optional.
func (h *ScaleHandler) RequestCalibration(w http.ResponseWriter, r *http.Request) {
	scaleID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req CalibrationRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	event, err := events.NewEvent(events.TypeCalibrationRequested, events.CalibrationRequested{
		ScaleID: scaleID,
		Force:   req.Force,
		Name:    req.Name,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to request calibration")
		return
	}
	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		HandleAPIError(w, r, err, "Failed to request calibration")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("calibration requested",
		slog.String("scale_id", scaleID.String()),
		slog.String("event_id", event.ID.String()))

	resp := CalibrationAcceptedResponse{ScaleID: scaleID, Status: string(task.TaskStatusPending)}
	if h.tasks != nil {
		if t, ok := h.tasks.Latest(scaleID); ok {
			resp = taskToResponse(t)
		}
	}
	shared.RespondWithJSON(w, r, http.StatusAccepted, resp)
}

// ActiveContext handles GET /scales/{id}/context.
func (h *ScaleHandler) ActiveContext(w http.ResponseWriter, r *http.Request) {
	scaleID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	c, err := h.calibration.Active(r.Context(), scaleID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load context")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, contextToResponse(c))
}

// Contexts handles GET /scales/{id}/contexts, newest first.
func (h *ScaleHandler) Contexts(w http.ResponseWriter, r *http.Request) {
	scaleID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	list, err := h.calibration.History(r.Context(), scaleID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list contexts")
		return
	}
	resp := make([]ContextResponse, len(list))
	for i := range list {
		resp[i] = contextToResponse(&list[i])
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// OverrideItem handles PUT /scales/{id}/items/{itemID}/params.
func (h *ScaleHandler) OverrideItem(w http.ResponseWriter, r *http.Request) {
	scaleID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "itemID", h.logger)
	if !ok {
		return
	}
	var req OverrideRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.calibration.OverrideItem(r.Context(), scaleID, req.toOverride(itemID))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to override item")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, contextToResponse(c))
}

// Rollback handles POST /scales/{id}/context/rollback.
func (h *ScaleHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	scaleID, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req RollbackRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.calibration.Rollback(r.Context(), scaleID, uuid.MustParse(req.ContextID))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to roll back context")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, contextToResponse(c))
}
