/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for wallets and dashboards

ROUTE GROUPS:
  /api/collections/{collectionID}/holders/*    Balances per holder
  /api/collections/{collectionID}/transfers/*  Transfer log, submit, preview
  /api/health                                  Liveness + store ping

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

// DefaultAllowedOrigins is used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)

		r.Route("/collections/{collectionID}", func(r chi.Router) {
			// Holder routes
			r.Get("/holders", h.ListHolders)
			r.Route("/holders/{holderID}", func(r chi.Router) {
				r.Get("/balances", h.GetBalances)
				r.Put("/balances", h.SetBalances)
				r.Post("/balances/add", h.AddBalances)
				r.Post("/balances/subtract", h.SubtractBalances)
				r.Post("/balances/delete", h.DeleteBalances)
				r.Get("/eligibility", h.CheckEligibility)
			})

			// Transfer routes
			r.Route("/transfers", func(r chi.Router) {
				r.Get("/", h.ListTransfers)
				r.Post("/", h.CreateTransfer)
				r.Post("/simulate", h.SimulateTransfers)
			})
		})
	})

	return r
}
