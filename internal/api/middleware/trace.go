package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/platform/logger"
)

// TraceHeader carries the trace ID on requests and responses.
const TraceHeader = "X-Trace-ID"

// NewTraceMiddleware returns middleware that adds a trace ID to the request
// context and stores a request-scoped logger carrying it. It should be
// applied early so that every later handler sees both.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context(), r.Header.Get(TraceHeader))
			traceID := shared.GetTraceID(ctx)
			w.Header().Set(TraceHeader, traceID)

			log := base.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
