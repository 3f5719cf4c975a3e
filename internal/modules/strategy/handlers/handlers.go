// Package handlers provides HTTP handlers for the strategy document.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxDocumentBytes bounds PUT bodies
const maxDocumentBytes = 1 << 20

// StrategyResponse is the current document with the policies parsed from it
type StrategyResponse struct {
	Content        string                  `json:"content"`
	TradingPolicy  strategy.TradingPolicy  `json:"tradingPolicy"`
	UniversePolicy strategy.UniversePolicy `json:"universePolicy"`
}

// UpdateRequest is the PUT /strategy body
type UpdateRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Handler handles strategy HTTP requests
type Handler struct {
	service *strategy.Service
	log     zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(service *strategy.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "strategy").Logger(),
	}
}

// HandleGetStrategy returns the document and its parsed policies
func (h *Handler) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.GetCurrentStrategy()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, StrategyResponse{
		Content:        content,
		TradingPolicy:  strategy.ParseTradingPolicy(content),
		UniversePolicy: strategy.ParseUniversePolicy(content),
	})
}

// HandleUpdateStrategy replaces the document. JSON bodies carry {content, source};
// any other content type is taken as the raw markdown.
func (h *Handler) HandleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req := UpdateRequest{Content: string(body)}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		req = UpdateRequest{}
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	if err := h.service.UpdateStrategy(r.Context(), req.Content, req.Source); err != nil {
		h.log.Error().Err(err).Msg("Failed to update strategy")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.HandleGetStrategy(w, r)
}

// HandleGetRevisions returns saved revisions newest first
func (h *Handler) HandleGetRevisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	revisions, err := h.service.Revisions(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if revisions == nil {
		revisions = []strategy.Revision{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": revisions, "limit": limit, "offset": offset})
}

// RegisterRoutes registers all strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategy", func(r chi.Router) {
		r.Get("/", h.HandleGetStrategy)
		r.Put("/", h.HandleUpdateStrategy)
		r.Get("/revisions", h.HandleGetRevisions)
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
