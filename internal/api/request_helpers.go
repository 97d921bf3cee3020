package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
)

// getPathUUID extracts a UUID from the URL path parameters.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}
	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrInvalidID, paramName)
	}
	return id, nil
}

// pathUUID is getPathUUID that writes the error response itself. It
// reports whether the handler may continue.
func pathUUID(w http.ResponseWriter, r *http.Request, paramName string, fallback *slog.Logger) (uuid.UUID, bool) {
	id, err := getPathUUID(r, paramName)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), fallback).Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid "+paramName, err)
		return uuid.Nil, false
	}
	return id, true
}

// decodeAndValidate reads a JSON body into v and validates it, writing a
// 400 response on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		msg := "Invalid request format"
		if errors.Is(err, shared.ErrEmptyBody) {
			msg = "Request body is required"
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, msg, err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}
