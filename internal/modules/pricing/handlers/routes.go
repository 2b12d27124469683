package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all pricing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/pricing", func(r chi.Router) {
		r.Get("/traces/{accountID}", h.HandleGetTrace)
		r.Get("/total-assets/{userID}", h.HandleGetTotalAssets)
		r.Get("/total-value/{userID}", h.HandleGetTotalValue)
		r.Post("/refresh", h.HandleRefreshPrices)
	})
}
