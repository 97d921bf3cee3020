package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/domain"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/service/attempt"
	"github.com/phrazzld/scry-cat/internal/service/calibration"
	"github.com/phrazzld/scry-cat/internal/store"
	"github.com/phrazzld/scry-cat/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, attempt.ErrAttemptNotFound),
		errors.Is(err, attempt.ErrNoActiveContext):
		return http.StatusNotFound

	case errors.Is(err, store.ErrContextConflict),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, selector.ErrItemNotIssued),
		errors.Is(err, selector.ErrAttemptTerminated):
		return http.StatusConflict

	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidFraction),
		errors.Is(err, calibration.ErrInvalidOverride),
		errors.Is(err, calibration.ErrItemOutsideScale),
		errors.Is(err, task.ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, calibration.ErrNothingToCalibrate):
		return http.StatusUnprocessableEntity

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrScaleNotFound):
		return "Scale not found"
	case errors.Is(err, store.ErrItemNotFound):
		return "Item not found"
	case errors.Is(err, store.ErrContextNotFound):
		return "Context not found"
	case errors.Is(err, attempt.ErrAttemptNotFound):
		return "Attempt not found"
	case errors.Is(err, attempt.ErrNoActiveContext):
		return "Scale has not been calibrated"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, store.ErrContextConflict):
		return "Active context changed, retry the request"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	case errors.Is(err, selector.ErrItemNotIssued):
		return "Item was not issued to this attempt"
	case errors.Is(err, selector.ErrAttemptTerminated):
		return "Attempt has already terminated"

	case errors.Is(err, domain.ErrInvalidFraction):
		return "Fraction must lie between 0 and 1"
	case errors.Is(err, calibration.ErrItemOutsideScale):
		return "Item does not belong to this scale"
	case errors.Is(err, calibration.ErrInvalidOverride):
		return "Invalid item parameter override"
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, task.ErrInvalidRequest):
		return "Invalid request data"

	case errors.Is(err, calibration.ErrNothingToCalibrate):
		return "No responses to calibrate"

	case errors.Is(err, task.ErrQueueFull):
		return "Calibration queue is full, try again later"
	case errors.Is(err, task.ErrQueueClosed):
		return "Server is shutting down"

	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err. A
// non-empty message replaces the mapped one for server errors only, so
// client errors always carry their specific explanation.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if message != "" && status >= http.StatusInternalServerError {
		msg = message
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err)
}

// SanitizeValidationError turns validator errors into a message naming the
// first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", jsonFieldName(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	var rule ruleError
	if errors.As(err, &rule) {
		return "Invalid request: " + string(rule)
	}
	if errors.Is(err, shared.ErrEmptyBody) {
		return "Request body is required"
	}
	return "Validation error"
}

// jsonFieldName converts a Go field name such as PersonID to person_id.
func jsonFieldName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "uuid":
		return "must be a UUID"
	case "gte", "lte", "min", "max":
		return "out of range"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
