// Package handlers provides HTTP handlers for cycle reports and manual triggers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/tradeagent/internal/modules/agent"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CycleRunner runs agent cycles on demand
type CycleRunner interface {
	RunMarketCycle(ctx context.Context) (*agent.MarketCycleResult, error)
	RunNewsCycle(ctx context.Context) (*agent.NewsCycleResult, error)
}

// Handler handles report and cycle HTTP requests
type Handler struct {
	reports *agent.ReportRepository
	cycles  CycleRunner
	log     zerolog.Logger
}

// NewHandler creates a new agent handler
func NewHandler(reports *agent.ReportRepository, cycles CycleRunner, log zerolog.Logger) *Handler {
	return &Handler{
		reports: reports,
		cycles:  cycles,
		log:     log.With().Str("handler", "agent").Logger(),
	}
}

// HandleGetReports returns cycle reports newest first
func (h *Handler) HandleGetReports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit > 200 {
		limit = 200
	}
	offset := queryInt(r, "offset", 0)

	reports, err := h.reports.List(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := h.reports.Count(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []agent.ReportRun{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  reports,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleGetReport returns one report
func (h *Handler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rep == nil {
		h.writeError(w, http.StatusNotFound, "report not found")
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// HandleRunMarketCycle triggers a market cycle and waits for it
func (h *Handler) HandleRunMarketCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.cycles.RunMarketCycle(r.Context())
	if errors.Is(err, agent.ErrCycleRunning) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Manual market cycle failed")
		if result != nil {
			h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": err.Error(), "result": result})
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleRunNewsCycle triggers a news cycle and waits for it
func (h *Handler) HandleRunNewsCycle(w http.ResponseWriter, r *http.Request) {
	result, err := h.cycles.RunNewsCycle(r.Context())
	if errors.Is(err, agent.ErrCycleRunning) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
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
