// Package handlers exposes the brokerage operations and realtime signals over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Broker is the brokerage surface served by this handler
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
	GetDailyClosePrice(ctx context.Context, symbol string) (kiwoom.DailyClose, error)
	GetTopTradingValue(ctx context.Context, req kiwoom.RankingRequest) ([]kiwoom.RankedStock, error)
	GetTopTradingVolume(ctx context.Context, req kiwoom.RankingRequest) ([]kiwoom.RankedStock, error)
	GetIntradayTicks(ctx context.Context, req kiwoom.ChartRequest) (kiwoom.Chart, error)
	GetIntradayMinutes(ctx context.Context, req kiwoom.ChartRequest) (kiwoom.Chart, error)
	GetAccountEvaluation(ctx context.Context, exchangeType string) (kiwoom.AccountEvaluation, error)
	GetConditionList(ctx context.Context) (map[string]interface{}, error)
	RequestConditionSearch(ctx context.Context, req kiwoom.ConditionSearchRequest) (kiwoom.ConditionSearchResult, error)
	RegisterRealtimeQuotes(ctx context.Context, symbols, types []string) error
}

// UniversePolicySource supplies ranking defaults
type UniversePolicySource interface {
	UniversePolicy() strategy.UniversePolicy
}

// Handler handles brokerage HTTP requests
type Handler struct {
	broker   Broker
	realtime *marketdata.Cache
	policy   UniversePolicySource
	log      zerolog.Logger
}

// NewHandler creates a new brokerage handler
func NewHandler(broker Broker, realtime *marketdata.Cache, policy UniversePolicySource, log zerolog.Logger) *Handler {
	return &Handler{
		broker:   broker,
		realtime: realtime,
		policy:   policy,
		log:      log.With().Str("handler", "broker").Logger(),
	}
}

// HandleGetQuote returns a REST quote with any fresh realtime price applied
func (h *Handler) HandleGetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	quote, err := h.broker.GetQuote(r.Context(), symbol)
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch quote")
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

type quotesRequest struct {
	Symbols []string `json:"symbols"`
}

// HandleGetQuotes fetches several quotes; failed symbols are reported, not fatal
func (h *Handler) HandleGetQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	symbols := domain.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}

	items := []domain.Quote{}
	errs := []string{}
	for _, symbol := range symbols {
		quote, err := h.broker.GetQuote(r.Context(), symbol)
		if err != nil {
			errs = append(errs, symbol+": "+err.Error())
			continue
		}
		items = append(items, quote)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "errors": errs})
}

// HandleGetDailyClose returns the latest daily close for a symbol
func (h *Handler) HandleGetDailyClose(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	res, err := h.broker.GetDailyClosePrice(r.Context(), symbol)
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch daily close")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleGetAccount returns the brokerage account evaluation
func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	res, err := h.broker.GetAccountEvaluation(r.Context(), r.URL.Query().Get("exchangeType"))
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch account evaluation")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// rankingRequest builds a ranking request from the query, with the
// universe policy supplying includeManaged and stexType when absent
func (h *Handler) rankingRequest(r *http.Request, defaultMarket string) kiwoom.RankingRequest {
	q := r.URL.Query()
	policy := strategy.DefaultUniversePolicy()
	if h.policy != nil {
		policy = h.policy.UniversePolicy()
	}

	req := kiwoom.RankingRequest{
		MarketType:     q.Get("marketType"),
		IncludeManaged: policy.IncludeManaged,
		StexType:       kiwoom.StexTypeCode(policy.Stex),
		CreditType:     q.Get("creditType"),
		MarketOpenType: q.Get("marketOpenType"),
	}
	if req.MarketType == "" {
		req.MarketType = defaultMarket
	}
	if raw := q.Get("includeManaged"); raw != "" {
		req.IncludeManaged = strategy.ParseBool(raw)
	}
	if raw := q.Get("stexType"); raw != "" {
		req.StexType = kiwoom.StexTypeCode(raw)
	}
	return req
}

// HandleGetTopTradingValue returns the trading value ranking
func (h *Handler) HandleGetTopTradingValue(w http.ResponseWriter, r *http.Request) {
	items, err := h.broker.GetTopTradingValue(r.Context(), h.rankingRequest(r, "0"))
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch trading value ranking")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// HandleGetTopTradingVolume returns the trading volume ranking
func (h *Handler) HandleGetTopTradingVolume(w http.ResponseWriter, r *http.Request) {
	items, err := h.broker.GetTopTradingVolume(r.Context(), h.rankingRequest(r, "000"))
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch trading volume ranking")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) chartRequest(w http.ResponseWriter, r *http.Request) (kiwoom.ChartRequest, bool) {
	q := r.URL.Query()
	req := kiwoom.ChartRequest{
		Symbol:        domain.NormalizeSymbol(q.Get("symbol")),
		Scope:         q.Get("scope"),
		BaseDate:      q.Get("baseDate"),
		AdjustedPrice: q.Get("adjustedPrice"),
	}
	if req.Symbol == "" || req.Scope == "" {
		h.writeError(w, http.StatusBadRequest, "symbol and scope are required")
		return req, false
	}
	return req, true
}

// HandleGetIntradayTicks returns the tick chart
func (h *Handler) HandleGetIntradayTicks(w http.ResponseWriter, r *http.Request) {
	req, ok := h.chartRequest(w, r)
	if !ok {
		return
	}
	chart, err := h.broker.GetIntradayTicks(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch tick chart")
		return
	}
	h.writeJSON(w, http.StatusOK, chart)
}

// HandleGetIntradayMinutes returns the minute chart
func (h *Handler) HandleGetIntradayMinutes(w http.ResponseWriter, r *http.Request) {
	req, ok := h.chartRequest(w, r)
	if !ok {
		return
	}
	chart, err := h.broker.GetIntradayMinutes(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to fetch minute chart")
		return
	}
	h.writeJSON(w, http.StatusOK, chart)
}

// HandleGetConditions lists the saved condition searches
func (h *Handler) HandleGetConditions(w http.ResponseWriter, r *http.Request) {
	res, err := h.broker.GetConditionList(r.Context())
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to list conditions")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleSearchCondition runs a condition search
func (h *Handler) HandleSearchCondition(w http.ResponseWriter, r *http.Request) {
	var req kiwoom.ConditionSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Seq) == "" {
		h.writeError(w, http.StatusBadRequest, "seq is required")
		return
	}

	res, err := h.broker.RequestConditionSearch(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, err, "Failed to run condition search")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type registerRequest struct {
	Symbols []string `json:"symbols"`
	Types   []string `json:"types"`
}

// HandleRegisterRealtime subscribes symbols to realtime pushes
func (h *Handler) HandleRegisterRealtime(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	symbols := domain.NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols is required")
		return
	}

	if err := h.broker.RegisterRealtimeQuotes(r.Context(), symbols, req.Types); err != nil {
		h.writeUpstreamError(w, err, "Failed to register realtime quotes")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "symbols": symbols, "types": req.Types})
}

// HandleGetRealtimeSignal returns the realtime momentum and orderbook signal
func (h *Handler) HandleGetRealtimeSignal(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	h.writeJSON(w, http.StatusOK, h.realtime.GetRealtimeSignal(symbol))
}

// RegisterRoutes registers all brokerage routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/broker", func(r chi.Router) {
		r.Get("/quote/{symbol}", h.HandleGetQuote)
		r.Post("/quotes", h.HandleGetQuotes)
		r.Get("/daily-close/{symbol}", h.HandleGetDailyClose)
		r.Get("/account", h.HandleGetAccount)
		r.Get("/top-trading-value", h.HandleGetTopTradingValue)
		r.Get("/top-trading-volume", h.HandleGetTopTradingVolume)
		r.Get("/intraday/ticks", h.HandleGetIntradayTicks)
		r.Get("/intraday/minutes", h.HandleGetIntradayMinutes)
		r.Get("/conditions", h.HandleGetConditions)
		r.Post("/conditions/search", h.HandleSearchCondition)
		r.Post("/realtime/register", h.HandleRegisterRealtime)
		r.Get("/realtime/signal/{symbol}", h.HandleGetRealtimeSignal)
	})
}

// writeUpstreamError maps the broker error taxonomy to HTTP statuses
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	h.writeError(w, upstreamStatus(err), err.Error())
}

func upstreamStatus(err error) int {
	switch {
	case domain.IsAuthError(err):
		return http.StatusUnauthorized
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
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
