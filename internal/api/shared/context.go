package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request-scoped context keys.
type ContextKey string

// TraceIDKey is the key for the trace ID in the request context
const TraceIDKey ContextKey = "traceID"

// SetTraceID adds a trace ID to the context. An incoming non-empty id is
// kept so callers can correlate across services.
func SetTraceID(ctx context.Context, incoming string) context.Context {
	id := strings.TrimSpace(incoming)
	if id == "" || len(id) > 64 {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return context.WithValue(ctx, TraceIDKey, id)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}
