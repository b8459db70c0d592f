package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Rate limiter for DELETE operations: 100 deletes max, refill 1 per 100ms
	deleteRateLimiter := NewDeleteRateLimiter(100, 100*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/updates", h.SubmitUpdate)
			r.Get("/updates/{id}", h.GetUpdate)
			r.Post("/updates/{id}/approve", h.ApproveUpdate)
			r.Post("/updates/{id}/reject", h.RejectUpdate)
			r.Post("/updates/{id}/cancel", h.CancelUpdate)
			// DELETE has additional rate limiting to prevent abuse
			r.With(deleteRateLimiter.Middleware).Delete("/updates/{id}", h.DeleteUpdate)

			r.Put("/tasks/{id}", h.UpsertTask)
			r.Get("/tasks/{id}", h.GetTask)
			r.Get("/tasks/{id}/updates", h.ListTaskUpdates)

			r.Post("/kaizens/{id}/credit", h.CreditKaizen)
			r.Post("/kaizens/{id}/reverse", h.ReverseKaizen)

			r.Get("/games/{gameID}/ledger/users/{userID}", h.GetUserLedger)
			r.Get("/games/{gameID}/ledger/teams/{teamID}", h.GetTeamLedger)
			r.Get("/games/{gameID}/leaderboard", h.Leaderboard)
		})
	})

	return r
}
