/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the member app
  5. Identity:   Account ID / admin flag from the session provider

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Account-ID", "X-Admin"},
		AllowCredentials: true,
	}))
	r.Use(Identity)

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Use(RequireSelfOrAdmin)
			r.Post("/awards", h.Award)
			r.Get("/balance", h.GetBalance)
			r.Get("/quota", h.GetQuota)
			r.Get("/entries", h.GetEntries)
			r.Get("/coupons", h.ListCoupons)
			r.With(RequireAdmin).Post("/debit", h.Debit)
		})

		// Reversal
		r.Post("/entries/{id}/reverse", h.Reverse)

		// Coupon routes
		r.Route("/coupons", func(r chi.Router) {
			r.With(RequireAdmin).Post("/", h.IssueCoupon)
			r.Post("/{id}/use", h.UseCoupon)
			r.With(RequireAdmin).Post("/{id}/revoke", h.RevokeCoupon)
		})

		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.With(RequireAdmin).Put("/{category}", h.SavePolicy)
		})
	})

	return r
}
