package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.HandleCreateAccount)
			r.Get("/", h.HandleListAccounts)
			r.Get("/{id}", h.HandleGetAccount)
			r.Patch("/{id}", h.HandleUpdateAccount)
			r.Delete("/{id}", h.HandleDeleteAccount)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.HandleApplyTransaction)
			r.Get("/", h.HandleListTransactions)
			r.Put("/{id}", h.HandleUpdateTransaction)
			r.Delete("/{id}", h.HandleDeleteTransaction)
		})
	})
}
