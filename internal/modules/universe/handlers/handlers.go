// Package handlers provides HTTP handlers for the universe catalog.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/aristath/tradeagent/internal/modules/universe"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SourceRefresher reloads the catalog from the configured download
type SourceRefresher interface {
	RefreshFromSource(ctx context.Context) (int, error)
}

// BrokerRefresher reloads the catalog from the broker's stock list
type BrokerRefresher interface {
	RefreshFromBroker(ctx context.Context, markets []string) (int, error)
}

// PolicySource provides the markets to pull from the broker
type PolicySource interface {
	UniversePolicy() strategy.UniversePolicy
}

// Handler handles universe HTTP requests
type Handler struct {
	repo   *universe.Repository
	source SourceRefresher
	broker BrokerRefresher
	policy PolicySource
	log    zerolog.Logger
}

// NewHandler creates a new universe handler. source or broker may be nil
// when that refresh path is not configured.
func NewHandler(repo *universe.Repository, source SourceRefresher, broker BrokerRefresher, policy PolicySource, log zerolog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		source: source,
		broker: broker,
		policy: policy,
		log:    log.With().Str("handler", "universe").Logger(),
	}
}

// HandleGetEntries returns one page of the catalog
func (h *Handler) HandleGetEntries(w http.ResponseWriter, r *http.Request) {
	page, err := h.repo.List(r.Context(), queryInt(r, "page", 1), queryInt(r, "pageSize", 50))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// HandleGetRevisions returns catalog replacement history
func (h *Handler) HandleGetRevisions(w http.ResponseWriter, r *http.Request) {
	page, err := h.repo.ListRevisions(r.Context(), queryInt(r, "page", 1), queryInt(r, "pageSize", 20))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// HandleRefresh replaces the catalog from ?source=url (default) or ?source=broker
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "url"
	}

	var (
		count int
		err   error
	)
	switch source {
	case "url":
		if h.source == nil {
			h.writeError(w, http.StatusServiceUnavailable, "universe source not configured")
			return
		}
		count, err = h.source.RefreshFromSource(r.Context())
	case "broker":
		if h.broker == nil {
			h.writeError(w, http.StatusServiceUnavailable, "broker sync not configured")
			return
		}
		count, err = h.broker.RefreshFromBroker(r.Context(), h.policy.UniversePolicy().Markets)
	default:
		h.writeError(w, http.StatusBadRequest, "source must be url or broker")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("source", source).Msg("Universe refresh failed")
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"source": source, "count": count})
}

// RegisterRoutes registers all universe routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/universe", func(r chi.Router) {
		r.Get("/", h.HandleGetEntries)
		r.Get("/revisions", h.HandleGetRevisions)
		r.Post("/refresh", h.HandleRefresh)
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
