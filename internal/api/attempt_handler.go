package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
	"github.com/phrazzld/scry-cat/internal/selector"
)

// AttemptService runs adaptive attempts.
type AttemptService interface {
	Start(ctx context.Context, personID, scaleID uuid.UUID) (*domain.AttemptState, error)
	Get(id uuid.UUID) (*domain.AttemptState, error)
	Next(ctx context.Context, id uuid.UUID) (selector.Result, *domain.AttemptState, error)
	Respond(ctx context.Context, id, itemID uuid.UUID, fraction float64) (*domain.AttemptState, error)
}

// AttemptHandler serves the attempt endpoints.
type AttemptHandler struct {
	attempts AttemptService
	logger   *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler.
func NewAttemptHandler(attempts AttemptService, logger *slog.Logger) *AttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptHandler{
		attempts: attempts,
		logger:   logger.With(slog.String("component", "attempt_handler")),
	}
}

// Start handles POST /attempts.
func (h *AttemptHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartAttemptRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	personID := uuid.MustParse(req.PersonID)
	scaleID := uuid.MustParse(req.ScaleID)

	state, err := h.attempts.Start(r.Context(), personID, scaleID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start attempt")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("attempt started",
		slog.String("attempt_id", state.ID.String()))
	w.Header().Set("Location", "/api/attempts/"+state.ID.String())
	shared.RespondWithJSON(w, r, http.StatusCreated, attemptToResponse(state))
}

// Get handles GET /attempts/{id}.
func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	state, err := h.attempts.Get(id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load attempt")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, attemptToResponse(state))
}

// Next handles GET /attempts/{id}/next.
func (h *AttemptHandler) Next(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	res, state, err := h.attempts.Next(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to select next item")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, nextToResponse(res, state))
}

// Respond handles POST /attempts/{id}/responses.
func (h *AttemptHandler) Respond(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req RespondRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	state, err := h.attempts.Respond(r.Context(), id, uuid.MustParse(req.ItemID), *req.Fraction)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to record response")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, attemptToResponse(state))
}
