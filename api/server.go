/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/projects/*    Per-project budget, schedule, distribution
  /api/parametric/*  Estimate mutations addressed by record ID
  /api/executive/*   Line item mutations addressed by item ID
  /api/schedule/*    Line placement
  /api/links/*       Sync link override flag
  /api/scenarios/*   Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Project-scoped routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/parametric", h.ListParametric)
				r.Post("/parametric", h.CreateParametric)
				r.Get("/executive", h.ListItems)
				r.Post("/executive", h.CreateItem)
				r.Get("/reconcile", h.Reconcile)
				r.Post("/sync", h.SyncProject)
				r.Get("/schedule", h.GetSchedule)
				r.Get("/sync-runs", h.ListSyncRuns)
				r.Get("/distribution", h.GetDistribution)
				r.Get("/overrides", h.ListOverrides)
				r.Post("/overrides", h.UpsertOverride)
				r.Delete("/overrides", h.DeleteOverride)
			})
		})

		// Record-addressed mutations
		r.Route("/parametric", func(r chi.Router) {
			r.Put("/{id}", h.UpdateParametric)
			r.Delete("/{id}", h.DeleteParametric)
		})
		r.Route("/executive", func(r chi.Router) {
			r.Put("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
		})
		r.Route("/schedule", func(r chi.Router) {
			r.Put("/{id}/placement", h.SetPlacement)
		})
		r.Route("/links", func(r chi.Router) {
			r.Put("/{id}/override", h.SetLinkOverride)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
