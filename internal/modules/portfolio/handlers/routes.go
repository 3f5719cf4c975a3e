package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/", h.HandleGetPortfolio)          // Valuation with holdings
		r.Get("/holdings", h.HandleGetHoldings)   // Raw holdings
		r.Get("/snapshots", h.HandleGetSnapshots) // Asset timeline
	})
}
