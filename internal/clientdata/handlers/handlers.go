// Package handlers serves the outbound call audit log.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles audit log HTTP requests
type Handler struct {
	repo *clientdata.Repository
	log  zerolog.Logger
}

// NewHandler creates a new audit log handler
func NewHandler(repo *clientdata.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "call_logs").Logger(),
	}
}

type pageResponse struct {
	Items    interface{} `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// HandleGetAPICalls returns brokerage calls filtered by endpoint, status and time range
func (h *Handler) HandleGetAPICalls(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, "endpoint")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.repo.ListAPICalls(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list api calls")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, pageResponse{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize})
}

// HandleGetLLMCalls returns model calls filtered by model, status and time range
func (h *Handler) HandleGetLLMCalls(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, "model")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.repo.ListLLMCalls(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list llm calls")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, pageResponse{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize})
}

// RegisterRoutes registers the audit log routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/logs", func(r chi.Router) {
		r.Get("/api-calls", h.HandleGetAPICalls)
		r.Get("/llm-calls", h.HandleGetLLMCalls)
	})
}

// parseQuery reads page, pageSize, status (success|error), from and to (RFC3339)
// plus the named substring filter
func parseQuery(r *http.Request, matchParam string) (clientdata.CallLogQuery, error) {
	values := r.URL.Query()
	q := clientdata.CallLogQuery{
		Match:    values.Get(matchParam),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 20),
	}

	switch values.Get("status") {
	case "":
	case "success":
		ok := true
		q.Success = &ok
	case "error":
		ok := false
		q.Success = &ok
	default:
		return q, fmt.Errorf("status must be success or error")
	}

	for key, dst := range map[string]*time.Time{"from": &q.From, "to": &q.To} {
		raw := values.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = t
	}
	return q, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
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
