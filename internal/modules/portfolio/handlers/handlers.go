// Package handlers provides HTTP handlers for the portfolio.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.PortfolioService
	prices  portfolio.PriceLookup
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler. prices may be nil, in which
// case holdings are valued at average cost.
func NewHandler(service *portfolio.PortfolioService, prices portfolio.PriceLookup, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		prices:  prices,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPortfolio returns cash, holdings and total asset marked to market
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Valuate(r.Context(), h.prices)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, v)
}

// HandleGetHoldings returns the raw holdings rows
func (h *Handler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.service.GetHoldings(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": holdings, "count": len(holdings)})
}

// HandleGetSnapshots returns the asset timeline newest first
func (h *Handler) HandleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	snaps, err := h.service.Snapshots(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": snaps, "limit": limit, "offset": offset})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
