package kiwoom

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
)

// GetQuote fetches a quote (ka10001) and overlays any fresh realtime price
func (c *Client) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if c.cfg.Mock {
		quote := mockQuote(symbol)
		c.recordCall(ctx, http.MethodGet, "/mock/quote/"+symbol, nil, quote, http.StatusOK, true)
		return quote, nil
	}

	payload, _, err := c.post(ctx, familyStockInfo, "ka10001", map[string]interface{}{"stk_cd": symbol}, nil)
	if err != nil {
		c.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch quote")
		return domain.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}

	quote := domain.Quote{
		Symbol:     symbol,
		Price:      quoteFields.Abs(payload, "price"),
		ChangeRate: quoteFields.Number(payload, "changeRate"),
		Volume:     quoteFields.Number(payload, "volume"),
		AsOf:       time.Now(),
	}
	return c.cache.ApplyRealtimeToQuote(quote), nil
}

// GetDailyClosePrice returns the latest daily close (ka10081)
func (c *Client) GetDailyClosePrice(ctx context.Context, symbol string) (DailyClose, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if c.cfg.Mock {
		res := DailyClose{Symbol: symbol, ClosePrice: mockQuote(symbol).Price, AsOf: time.Now().Format(time.RFC3339), Source: "mock"}
		c.recordCall(ctx, http.MethodGet, "/mock/daily-close/"+symbol, nil, res, http.StatusOK, true)
		return res, nil
	}

	payload, _, err := c.post(ctx, familyChart, "ka10081", map[string]interface{}{
		"stk_cd":  symbol,
		"base_dt": time.Now().In(seoul).Format("20060102"),
		"upd_dt":  "1",
	}, nil)
	if err != nil {
		return DailyClose{}, fmt.Errorf("daily close %s: %w", symbol, err)
	}

	first := payload
	for _, key := range []string{"stk_dt_pole_chart_qry", "list", "items", "stk_chart"} {
		if list := rows(payload, key); len(list) > 0 {
			first = list[0]
			break
		}
	}

	asOf := dailyFields.String(first, "date")
	if asOf == "" {
		asOf = time.Now().Format(time.RFC3339)
	}
	return DailyClose{
		Symbol:     symbol,
		ClosePrice: dailyFields.Abs(first, "close"),
		AsOf:       asOf,
		Source:     "ka10081",
	}, nil
}

// GetStockList pages through the listed stocks of one market (ka10099)
func (c *Client) GetStockList(ctx context.Context, marketType string) ([]ListedStock, error) {
	if c.cfg.Mock {
		res := []ListedStock{{
			Symbol:     "005930",
			Name:       "Samsung Electronics",
			ListCount:  5969782550,
			LastPrice:  70000,
			MarketCode: "0",
			MarketName: "KOSPI",
		}}
		c.recordCall(ctx, http.MethodGet, "/mock/stock-list/"+marketType, nil, res, http.StatusOK, true)
		return res, nil
	}

	var (
		items  []ListedStock
		cursor *pageCursor
	)
	for {
		payload, next, err := c.post(ctx, familyStockInfo, "ka10099", map[string]interface{}{"mrkt_tp": marketType}, cursor)
		if err != nil {
			return nil, fmt.Errorf("stock list %s: %w", marketType, err)
		}

		list := rows(payload, "list")
		if len(list) == 0 {
			list = rows(payload, "stk_list")
		}
		for _, row := range list {
			symbol := domain.NormalizeSymbol(stockListFields.String(row, "symbol"))
			if symbol == "" {
				continue
			}
			items = append(items, ListedStock{
				Symbol:     symbol,
				Name:       stockListFields.String(row, "name"),
				ListCount:  stockListFields.Number(row, "listCount"),
				LastPrice:  stockListFields.Abs(row, "lastPrice"),
				MarketCode: stockListFields.String(row, "marketCode"),
				MarketName: stockListFields.String(row, "marketName"),
			})
		}

		if !next.hasNext() {
			break
		}
		cursor = &next
	}

	c.log.Debug().Str("market", marketType).Int("count", len(items)).Msg("Fetched stock list")
	return items, nil
}

// GetTopTradingValue returns the trading value ranking (ka10032)
func (c *Client) GetTopTradingValue(ctx context.Context, req RankingRequest) ([]RankedStock, error) {
	if c.cfg.Mock {
		res := []RankedStock{{Symbol: "005930", Name: "Samsung Electronics", Price: 70000, VolumeValue: 1000000000}}
		c.recordCall(ctx, http.MethodGet, "/mock/top-trading-value/"+req.MarketType, req, res, http.StatusOK, true)
		return res, nil
	}

	body := map[string]interface{}{
		"mrkt_tp":        req.MarketType,
		"mang_stk_incls": flag(req.IncludeManaged, "1", "0"),
		"stex_tp":        orDefault(req.StexType, "1"),
	}
	payload, _, err := c.post(ctx, familyRankInfo, "ka10032", body, nil)
	if err != nil {
		return nil, fmt.Errorf("top trading value: %w", err)
	}

	list := rows(payload, "trde_prica_upper")
	out := make([]RankedStock, 0, len(list))
	for _, row := range list {
		out = append(out, RankedStock{
			Symbol:      domain.NormalizeSymbol(rankFields.String(row, "symbol")),
			Name:        rankFields.String(row, "name"),
			Price:       rankFields.Abs(row, "price"),
			VolumeValue: rankFields.Number(row, "value"),
		})
	}
	return out, nil
}

// GetTopTradingVolume returns today's trading volume ranking (ka10030)
func (c *Client) GetTopTradingVolume(ctx context.Context, req RankingRequest) ([]RankedStock, error) {
	if c.cfg.Mock {
		res := []RankedStock{{Symbol: "005930", Name: "Samsung Electronics", Price: 70000, Volume: 10000000}}
		c.recordCall(ctx, http.MethodGet, "/mock/top-trading-volume/"+req.MarketType, req, res, http.StatusOK, true)
		return res, nil
	}

	body := map[string]interface{}{
		"mrkt_tp":        req.MarketType,
		"sort_tp":        "1",
		"mang_stk_incls": flag(req.IncludeManaged, "0", "1"),
		"crd_tp":         orDefault(req.CreditType, "0"),
		"trde_qty_tp":    "0",
		"pric_tp":        "0",
		"trde_prica_tp":  "0",
		"mrkt_open_tp":   orDefault(req.MarketOpenType, "1"),
		"stex_tp":        orDefault(req.StexType, "1"),
	}
	payload, _, err := c.post(ctx, familyRankInfo, "ka10030", body, nil)
	if err != nil {
		return nil, fmt.Errorf("top trading volume: %w", err)
	}

	list := rows(payload, "tdy_trde_qty_upper")
	out := make([]RankedStock, 0, len(list))
	for _, row := range list {
		out = append(out, RankedStock{
			Symbol: domain.NormalizeSymbol(rankFields.String(row, "symbol")),
			Name:   rankFields.String(row, "name"),
			Price:  rankFields.Abs(row, "price"),
			Volume: rankFields.Number(row, "volume"),
		})
	}
	return out, nil
}

// GetIntradayTicks returns the tick chart (ka10079)
func (c *Client) GetIntradayTicks(ctx context.Context, req ChartRequest) (Chart, error) {
	return c.intradayChart(ctx, req, "ka10079", "stk_tic_chart_qry", "/mock/intraday-ticks/")
}

// GetIntradayMinutes returns the minute chart (ka10080)
func (c *Client) GetIntradayMinutes(ctx context.Context, req ChartRequest) (Chart, error) {
	return c.intradayChart(ctx, req, "ka10080", "stk_min_pole_chart_qry", "/mock/intraday-minutes/")
}

func (c *Client) intradayChart(ctx context.Context, req ChartRequest, apiID, listKey, mockPath string) (Chart, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)
	if c.cfg.Mock {
		res := Chart{
			Symbol: symbol,
			Points: []ChartPoint{{
				Time:   time.Now().Format(time.RFC3339),
				Price:  70000,
				Volume: 120,
				Open:   70000,
				High:   70100,
				Low:    69900,
			}},
			Source: "mock",
		}
		c.recordCall(ctx, http.MethodGet, mockPath+symbol, req, res, http.StatusOK, true)
		return res, nil
	}

	body := map[string]interface{}{
		"stk_cd":       symbol,
		"tic_scope":    req.Scope,
		"upd_stkpc_tp": orDefault(req.AdjustedPrice, "1"),
	}
	if apiID == "ka10080" {
		body["base_dt"] = req.BaseDate
	}
	payload, _, err := c.post(ctx, familyChart, apiID, body, nil)
	if err != nil {
		return Chart{}, fmt.Errorf("intraday chart %s: %w", symbol, err)
	}

	list := rows(payload, listKey)
	points := make([]ChartPoint, 0, len(list))
	for _, row := range list {
		points = append(points, ChartPoint{
			Time:       chartFields.String(row, "time"),
			Price:      chartFields.Abs(row, "price"),
			Volume:     chartFields.Number(row, "volume"),
			Open:       chartFields.Abs(row, "open"),
			High:       chartFields.Abs(row, "high"),
			Low:        chartFields.Abs(row, "low"),
			Change:     chartFields.Number(row, "change"),
			ChangeSign: chartFields.String(row, "changeSign"),
		})
	}

	if s := domain.NormalizeSymbol(toString(payload["stk_cd"])); s != "" {
		symbol = s
	}
	return Chart{Symbol: symbol, Points: points, Source: apiID}, nil
}

// GetAccountEvaluation returns the broker account balance (kt00018)
func (c *Client) GetAccountEvaluation(ctx context.Context, exchangeType string) (AccountEvaluation, error) {
	if c.cfg.Mock {
		res := AccountEvaluation{
			Cash:          10000000,
			TotalAsset:    15000000,
			HoldingsValue: 5000000,
			Holdings:      []AccountHolding{},
			Source:        "mock",
			AsOf:          time.Now(),
		}
		c.recordCall(ctx, http.MethodGet, "/mock/account-evaluation", nil, res, http.StatusOK, true)
		return res, nil
	}

	payload, _, err := c.post(ctx, familyAccount, "kt00018", map[string]interface{}{
		"qry_tp":       "1",
		"dmst_stex_tp": orDefault(exchangeType, "KRX"),
	}, nil)
	if err != nil {
		return AccountEvaluation{}, fmt.Errorf("account evaluation: %w", err)
	}

	list := rows(payload, "acnt_evlt_remn_indv_tot")
	holdings := make([]AccountHolding, 0, len(list))
	for _, row := range list {
		holdings = append(holdings, AccountHolding{
			Symbol:           domain.NormalizeSymbol(holdingFields.String(row, "symbol")),
			Name:             holdingFields.String(row, "name"),
			Quantity:         holdingFields.Number(row, "quantity"),
			TradableQuantity: holdingFields.Number(row, "tradable"),
			AvgPrice:         holdingFields.Abs(row, "avgPrice"),
			Price:            holdingFields.Abs(row, "currentPrice"),
			MarketValue:      holdingFields.Abs(row, "marketValue"),
			UnrealizedPnl:    holdingFields.Number(row, "pnl"),
			ProfitRate:       holdingFields.Number(row, "profitRate"),
		})
	}

	holdingsValue := toNumber(payload["tot_evlt_amt"])
	totalAsset := toNumber(payload["prsm_dpst_aset_amt"])
	return AccountEvaluation{
		Cash:          totalAsset - holdingsValue,
		TotalAsset:    totalAsset,
		HoldingsValue: holdingsValue,
		Holdings:      holdings,
		Source:        "kt00018",
		AsOf:          time.Now(),
	}, nil
}

// PlaceOrder sends a cash order (kt10000 buy, kt10001 sell). A positive price is a limit order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	req.Symbol = domain.NormalizeSymbol(req.Symbol)
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be positive, got %d", req.Quantity)
	}

	if c.cfg.Mock {
		res := &domain.OrderResult{
			OrderID: fmt.Sprintf("mock-%d", time.Now().UnixMilli()),
			Status:  "accepted",
		}
		c.recordCall(ctx, http.MethodPost, "/mock/orders", req, res, http.StatusOK, true)
		return res, nil
	}

	var apiID string
	switch req.Side {
	case domain.SideBuy:
		apiID = "kt10000"
	case domain.SideSell:
		apiID = "kt10001"
	default:
		return nil, fmt.Errorf("unsupported order side %q", req.Side)
	}

	body := map[string]interface{}{
		"dmst_stex_tp": "KRX",
		"stk_cd":       req.Symbol,
		"ord_qty":      strconv.FormatInt(req.Quantity, 10),
		"ord_uv":       "",
		"trde_tp":      "3",
		"cond_uv":      "",
	}
	if req.Price > 0 {
		body["ord_uv"] = strconv.FormatInt(int64(math.Round(req.Price)), 10)
		body["trde_tp"] = "0"
	}

	payload, _, err := c.post(ctx, familyOrder, apiID, body, nil)
	if err != nil {
		c.log.Error().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).Msg("Order placement failed")
		return nil, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}

	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Str("order_no", toString(payload["ord_no"])).
		Msg("Order accepted")

	return &domain.OrderResult{
		OrderID: toString(payload["ord_no"]),
		Status:  "accepted",
		Raw:     payload,
	}, nil
}

// RegisterRealtimeQuotes subscribes symbols for push updates; a no-op in mock mode
func (c *Client) RegisterRealtimeQuotes(ctx context.Context, symbols, types []string) error {
	if c.cfg.Mock || len(symbols) == 0 {
		return nil
	}
	return c.socket.RegisterRealtimeQuotes(ctx, symbols, types)
}

// GetConditionList lists saved condition searches (CNSRLST, ka10171)
func (c *Client) GetConditionList(ctx context.Context) (map[string]interface{}, error) {
	payload := map[string]interface{}{"trnm": "CNSRLST"}
	if c.cfg.Mock {
		res := map[string]interface{}{
			"trnm":        "CNSRLST",
			"return_code": 0,
			"data":        []interface{}{map[string]interface{}{"seq": "1", "name": "Mock Condition"}},
		}
		c.recordCall(ctx, "WS", c.cfg.WSURL, payload, res, http.StatusOK, true)
		return res, nil
	}
	return c.socket.RequestWithAPIID(ctx, "CNSRLST", "ka10171", payload)
}

// RequestConditionSearch runs a condition search (CNSRREQ). Search type 1 also
// registers the matches for realtime price and orderbook updates.
func (c *Client) RequestConditionSearch(ctx context.Context, req ConditionSearchRequest) (ConditionSearchResult, error) {
	payload := map[string]interface{}{
		"trnm":        "CNSRREQ",
		"seq":         req.Seq,
		"search_type": orDefault(req.SearchType, "0"),
		"stex_tp":     orDefault(req.StexType, "K"),
	}

	if c.cfg.Mock {
		res := map[string]interface{}{
			"trnm":        "CNSRREQ",
			"seq":         req.Seq,
			"return_code": 0,
			"data": []interface{}{
				map[string]interface{}{"jmcode": "005930"},
				map[string]interface{}{"jmcode": "000660"},
			},
		}
		c.recordCall(ctx, "WS", c.cfg.WSURL, payload, res, http.StatusOK, true)
		return ConditionSearchResult{Payload: res, Symbols: conditionSymbols(res)}, nil
	}

	realtime := payload["search_type"] == "1"
	apiID := "ka10172"
	if realtime {
		apiID = "ka10173"
	}

	res, err := c.socket.RequestWithAPIID(ctx, "CNSRREQ", apiID, payload)
	if err != nil {
		return ConditionSearchResult{}, err
	}

	symbols := conditionSymbols(res)
	if realtime && len(symbols) > 0 {
		if err := c.RegisterRealtimeQuotes(ctx, symbols, []string{"0B", typeOrderbook}); err != nil {
			c.log.Warn().Err(err).Msg("Failed to register condition symbols")
		}
	}
	return ConditionSearchResult{Payload: res, Symbols: symbols}, nil
}

// conditionSymbols extracts unique normalized symbols from a condition response
func conditionSymbols(payload map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range rows(payload, "data") {
		symbol := domain.NormalizeSymbol(conditionFields.String(row, "symbol"))
		if symbol == "" {
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	return out
}

func mockQuote(symbol string) domain.Quote {
	return domain.Quote{
		Symbol:     symbol,
		Price:      float64(50000 + rand.Intn(100001)),
		ChangeRate: math.Round((rand.Float64()-0.5)*6*100) / 100,
		Volume:     float64(100000 + rand.Intn(500001)),
		AsOf:       time.Now(),
	}
}

// StexTypeCode maps an exchange name to the ranking stex_tp code; numeric codes pass through
func StexTypeCode(stex string) string {
	switch strings.ToUpper(strings.TrimSpace(stex)) {
	case "KRX":
		return "1"
	case "NXT":
		return "2"
	case "ALL", "INTEGRATED":
		return "3"
	default:
		return strings.TrimSpace(stex)
	}
}

func flag(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
