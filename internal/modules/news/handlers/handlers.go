// Package handlers provides HTTP handlers for scraped news.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/modules/news"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles news HTTP requests
type Handler struct {
	repo *news.Repository
	log  zerolog.Logger
}

// NewHandler creates a new news handler
func NewHandler(repo *news.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "news").Logger(),
	}
}

// HandleGetNews returns stored articles newest first
func (h *Handler) HandleGetNews(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	articles, err := h.repo.GetLatest(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if articles == nil {
		articles = []domain.NewsArticle{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": articles, "limit": limit, "offset": offset})
}

// HandleGetScrapeRuns returns recent per-source scrape results
func (h *Handler) HandleGetScrapeRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.repo.ListScrapeRuns(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []news.ScrapeRun{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}

// RegisterRoutes registers all news routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/news", func(r chi.Router) {
		r.Get("/", h.HandleGetNews)
		r.Get("/runs", h.HandleGetScrapeRuns)
	})
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
