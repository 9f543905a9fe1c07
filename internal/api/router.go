package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-zwave/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Prometheus scrape endpoint (no auth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Use(s.authMiddleware)

			r.Route("/entities", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermEntityRead))
				r.Get("/", s.handleListEntities)

				r.Route("/{deviceID}/{unit}", func(r chi.Router) {
					r.Get("/", s.handleGetEntity)
					r.Get("/log", s.handleGetEntityLog)
					r.With(s.requirePermission(auth.PermEntityOperate)).
						Post("/command", s.handleEntityCommand)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermBridgeInspect))
				r.Get("/zwave/devices", s.handleListMappings)
				r.Get("/broker/clients", s.handleListClients)
				r.Get("/audit", s.handleListAudit)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"entities": s.registry.Count(),
	})
}
