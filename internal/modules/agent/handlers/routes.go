package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers report and cycle routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Get("/", h.HandleGetReports)
		r.Get("/{id}", h.HandleGetReport)
	})

	r.Route("/cycles", func(r chi.Router) {
		r.Post("/market", h.HandleRunMarketCycle)
		r.Post("/news", h.HandleRunNewsCycle)
	})
}
