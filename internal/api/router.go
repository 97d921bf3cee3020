package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/scry-cat/internal/api/middleware"
	"github.com/phrazzld/scry-cat/internal/api/shared"
	"github.com/phrazzld/scry-cat/internal/events"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps collects what the router serves.
type RouterDeps struct {
	Attempts AttemptService
	Scales   CalibrationService
	Emitter  events.EventEmitter
	Tasks    TaskLookup
	DB       Pinger
	Metrics  http.Handler
	Logger   *slog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(deps RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(log))

	attempts := NewAttemptHandler(deps.Attempts, log)
	scales := NewScaleHandler(deps.Scales, deps.Emitter, deps.Tasks, log)

	r.Route("/api", func(r chi.Router) {
		r.Route("/attempts", func(r chi.Router) {
			r.Post("/", attempts.Start)
			r.Get("/{id}", attempts.Get)
			r.Get("/{id}/next", attempts.Next)
			r.Post("/{id}/responses", attempts.Respond)
		})
		r.Route("/scales/{id}", func(r chi.Router) {
			r.Post("/calibrations", scales.RequestCalibration)
			r.Get("/context", scales.ActiveContext)
			r.Post("/context/rollback", scales.Rollback)
			r.Get("/contexts", scales.Contexts)
			r.Put("/items/{itemID}/params", scales.OverrideItem)
		})
	})

	r.Get("/health", healthHandler(deps.DB))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Database: "unchecked"}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				resp.Status, resp.Database = "degraded", "unreachable"
				shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Database = "ok"
		}
		shared.RespondWithJSON(w, r, http.StatusOK, resp)
	}
}
