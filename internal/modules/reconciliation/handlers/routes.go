package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all reconciliation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reconciliation", func(r chi.Router) {
		r.Post("/run", h.HandleReconcileAll)

		r.Route("/configs", func(r chi.Router) {
			r.Post("/", h.HandleRegisterConfig)
			r.Get("/", h.HandleListConfigs)
			r.Delete("/{id}", h.HandleDeleteConfig)
			r.Post("/{id}/run", h.HandleReconcileConfig)
		})
	})
}
