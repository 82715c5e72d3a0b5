package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ziton/internal/handlers"
	"ziton/internal/metrics"
	"ziton/internal/service"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Index       service.IndexService
	EventBuffer int // Per-client queue length for /api/events
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Add CORS middleware
	r.Use(CORS)

	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(metrics.Middleware)

	eventBuffer := deps.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 256
	}

	searchHandler := handlers.NewSearchHandler(deps.Index)
	rebuildHandler := handlers.NewRebuildHandler(deps.Index)
	countHandler := handlers.NewCountHandler(deps.Index)
	eventsHandler := handlers.NewEventsHandler(deps.Index, eventBuffer)
	healthHandler := handlers.NewHealthHandler(deps.Index)
	configHandler := handlers.NewConfigHandler(deps.Index)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/search", searchHandler)
		r.Method(http.MethodPost, "/rebuild", rebuildHandler)
		r.Method(http.MethodGet, "/count", countHandler)
		r.Method(http.MethodGet, "/events", eventsHandler)
		r.Method(http.MethodGet, "/health", healthHandler)
		r.Method(http.MethodGet, "/config", configHandler)
		r.Method(http.MethodPut, "/config", configHandler)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
