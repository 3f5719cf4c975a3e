// Package handlers provides HTTP handlers for the trade ledger.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/modules/trading"
	"github.com/rs/zerolog"
)

// NameSource resolves display names from the universe catalog
type NameSource interface {
	Entries(ctx context.Context) ([]domain.UniverseEntry, error)
}

// TradingHandlers contains HTTP handlers for trading API
type TradingHandlers struct {
	tradeRepo *trading.TradeRepository
	names     NameSource
	log       zerolog.Logger
}

// NewTradingHandlers creates a new trading handlers instance. names may be nil.
func NewTradingHandlers(tradeRepo *trading.TradeRepository, names NameSource, log zerolog.Logger) *TradingHandlers {
	return &TradingHandlers{
		tradeRepo: tradeRepo,
		names:     names,
		log:       log.With().Str("handler", "trading").Logger(),
	}
}

type tradeView struct {
	trading.TradeLog
	Name string `json:"name,omitempty"`
}

// HandleGetTrades returns a page of trade logs, newest first.
// Query: symbol, side, from, to (RFC3339), page, pageSize.
func (h *TradingHandlers) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := positiveInt(q.Get("page"), 1)
	pageSize := positiveInt(q.Get("pageSize"), 20)
	if pageSize > 200 {
		pageSize = 200
	}

	filter := trading.TradeFilter{
		Symbol: domain.NormalizeSymbol(q.Get("symbol")),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if side := strings.ToUpper(q.Get("side")); side == string(domain.SideBuy) || side == string(domain.SideSell) {
		filter.Side = domain.Side(side)
	}
	filter.From = parseTime(q.Get("from"))
	filter.To = parseTime(q.Get("to"))

	trades, err := h.tradeRepo.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := h.tradeRepo.Count(r.Context(), filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	names := h.nameMap(r.Context())
	items := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		items = append(items, tradeView{TradeLog: t, Name: names[t.Symbol]})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// HandleGetPnL returns realized profit and trade counts
func (h *TradingHandlers) HandleGetPnL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	realized, err := h.tradeRepo.RealizedPnL(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	buys, err := h.tradeRepo.Count(ctx, trading.TradeFilter{Side: domain.SideBuy})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sells, err := h.tradeRepo.Count(ctx, trading.TradeFilter{Side: domain.SideSell})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"realizedPnl": realized,
		"buyCount":    buys,
		"sellCount":   sells,
	})
}

func (h *TradingHandlers) nameMap(ctx context.Context) map[string]string {
	names := make(map[string]string)
	if h.names == nil {
		return names
	}
	entries, err := h.names.Entries(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to load universe names")
		return names
	}
	for _, e := range entries {
		names[e.Symbol] = e.Name
	}
	return names
}

func positiveInt(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (h *TradingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TradingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
