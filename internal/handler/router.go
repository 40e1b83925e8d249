package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/greatescape/api/internal/middleware"
)

// SetupRouter wires the HTTP routes and middleware of the API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/matches", h.Matches)
		r.Get("/teams", h.Teams)
		r.Get("/current-matchday", h.CurrentMatchday)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/magic-link/request", h.RequestMagicLink)
			r.Post("/magic-link/verify", h.VerifyMagicLink)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)
				r.Get("/me", h.Me)
			})
		})

		r.Route("/pools", func(r chi.Router) {
			r.Get("/", h.ListPools)
			r.Get("/current", h.CurrentPool)
			r.Get("/{id}", h.GetPool)
			r.Get("/{id}/distribution", h.PickDistribution)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/guest-checkout", h.GuestCheckout)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/create-order", h.CreateOrder)
				r.Post("/capture-order", h.CaptureOrder)
				r.Post("/purchase-with-balance", h.PurchaseWithBalance)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/referrals/stats", h.ReferralStats)

			r.Get("/entries/my", h.MyEntries)
			r.Get("/entries/stats", h.MyEntryStats)
			r.Get("/entries/{id}/picks", h.EntryPicks)

			r.Get("/transactions/my", h.MyTransactions)

			r.Put("/picks/{id}", h.UpdatePick)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.requireAdmin)

			r.Get("/pending-picks", h.PendingPicks)
			r.Post("/update-pick-result", h.UpdatePickResult)
			r.Post("/batch-update-results", h.BatchUpdateResults)
			r.Get("/pool-stats/{id}", h.PoolStats)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
