package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []domain.APICallLog
	err     error
}

func (m *memoryAudit) RecordAPICall(_ context.Context, entry domain.APICallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memoryAudit) all() []domain.APICallLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.APICallLog(nil), m.entries...)
}

// brokerStub serves the token endpoint plus per api-id handlers
type brokerStub struct {
	t          *testing.T
	tokenCalls int32
	handlers   map[string]func(w http.ResponseWriter, r *http.Request, body map[string]interface{})
}

func (b *brokerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if r.URL.Path == "/oauth2/token" {
		atomic.AddInt32(&b.tokenCalls, 1)
		assert.Equal(b.t, "au10001", r.Header.Get("api-id"))
		assert.Equal(b.t, "client_credentials", body["grant_type"])
		writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"return_code": 0,
			"token":       "tok-1",
			"expires_in":  3600,
		})
		return
	}

	assert.Equal(b.t, "Bearer tok-1", r.Header.Get("authorization"))
	h, ok := b.handlers[r.Header.Get("api-id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r, body)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestClient(t *testing.T, stub *brokerStub, audit *memoryAudit) (*Client, *httptest.Server) {
	t.Helper()
	stub.t = t
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:        srv.URL,
		WSURL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		AppKey:         "app-key",
		AppSecret:      "app-secret",
		MinInterval:    time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}, marketdata.NewCache(marketdata.DefaultTTL), audit, nil, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, srv
}

func TestClient_GetQuote(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "/api/dostk/stkinfo", r.URL.Path)
			assert.Equal(t, "005930", body["stk_cd"])
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code": 0,
				"cur_prc":     "-70,100",
				"flu_rt":      "-1.25",
				"trde_qty":    "1,234",
			})
		},
	}}
	audit := &memoryAudit{}
	c, _ := newTestClient(t, stub, audit)

	quote, err := c.GetQuote(context.Background(), "A005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", quote.Symbol)
	assert.Equal(t, 70100.0, quote.Price)
	assert.Equal(t, -1.25, quote.ChangeRate)
	assert.Equal(t, 1234.0, quote.Volume)

	// Token reused across calls
	_, err = c.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.tokenCalls))

	entries := audit.all()
	require.Len(t, entries, 3)
	tokenEntry := entries[0]
	assert.Contains(t, tokenEntry.Endpoint, "/oauth2/token")
	assert.NotContains(t, tokenEntry.RequestBody, "app-secret")
	assert.NotContains(t, tokenEntry.RequestBody, "app-key")
	assert.NotContains(t, tokenEntry.ResponseBody, "tok-1")
	assert.True(t, entries[1].Success)
}

func TestClient_GetQuoteAppliesRealtime(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"return_code": 0, "cur_prc": "70000"})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{})
	c.Cache().SetPrice("005930", 71500, "0B")

	quote, err := c.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 71500.0, quote.Price)
}

func TestClient_NonZeroReturnCode(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"return_code": 2, "return_msg": "bad symbol"})
		},
	}}
	audit := &memoryAudit{}
	c, _ := newTestClient(t, stub, audit)

	_, err := c.GetQuote(context.Background(), "999999")
	require.Error(t, err)

	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "2", protoErr.ReturnCode)
	assert.Equal(t, "bad symbol", protoErr.Message)

	entries := audit.all()
	last := entries[len(entries)-1]
	assert.False(t, last.Success)
	assert.Contains(t, last.ResponseBody, "bad symbol")
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("upstream exploded"))
		},
	}}
	audit := &memoryAudit{}
	c, _ := newTestClient(t, stub, audit)

	_, err := c.GetQuote(context.Background(), "005930")
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, http.StatusInternalServerError, protoErr.StatusCode)

	entries := audit.all()
	assert.Contains(t, entries[len(entries)-1].ResponseBody, "upstream exploded")
}

func TestClient_AuditFailureIsSwallowed(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"return_code": 0, "cur_prc": "100"})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{err: errors.New("disk full")})

	quote, err := c.GetQuote(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.Price)
}

func TestClient_MissingCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, nil, nil, nil, zerolog.Nop())
	defer c.Close()

	_, err := c.GetQuote(context.Background(), "005930")
	assert.True(t, domain.IsAuthError(err))
}

func TestClient_StockListPagination(t *testing.T) {
	var pages int32
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10099": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "0", body["mrkt_tp"])
			if atomic.AddInt32(&pages, 1) == 1 {
				assert.Empty(t, r.Header.Get("cont-yn"))
				w.Header().Set("cont-yn", "Y")
				w.Header().Set("next-key", "page-2")
				writeJSONResponse(w, http.StatusOK, map[string]interface{}{
					"return_code": 0,
					"list": []interface{}{
						map[string]interface{}{"code": "005930", "name": "Samsung", "listCount": "100", "lastPrice": "70000", "marketCode": "0"},
					},
				})
				return
			}
			assert.Equal(t, "Y", r.Header.Get("cont-yn"))
			assert.Equal(t, "page-2", r.Header.Get("next-key"))
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code": 0,
				"list": []interface{}{
					map[string]interface{}{"code": "000660", "name": "Hynix", "list_cnt": "10", "last_prc": "-150,000"},
					map[string]interface{}{"code": "", "name": "blank"},
				},
			})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{})

	list, err := c.GetStockList(context.Background(), "0")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "005930", list[0].Symbol)
	assert.Equal(t, 7000000.0, list[0].MarketCap())
	assert.Equal(t, 150000.0, list[1].LastPrice)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pages))
}

func TestClient_AccountEvaluation(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"kt00018": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "/api/dostk/acnt", r.URL.Path)
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code":        0,
				"tot_evlt_amt":       "5,000",
				"prsm_dpst_aset_amt": "15,000",
				"acnt_evlt_remn_indv_tot": []interface{}{
					map[string]interface{}{"stk_cd": "A005930", "rmnd_qty": "3", "pur_pric": "1,000", "cur_prc": "-1,100", "evltv_prft": "300"},
				},
			})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{})

	eval, err := c.GetAccountEvaluation(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, eval.Cash)
	assert.Equal(t, 15000.0, eval.TotalAsset)
	require.Len(t, eval.Holdings, 1)
	assert.Equal(t, "005930", eval.Holdings[0].Symbol)
	assert.Equal(t, 1100.0, eval.Holdings[0].Price)
	assert.Equal(t, 300.0, eval.Holdings[0].UnrealizedPnl)
}

func TestClient_PlaceOrder(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"kt10000": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "/api/dostk/ordr", r.URL.Path)
			assert.Equal(t, "005930", body["stk_cd"])
			assert.Equal(t, "3", body["ord_qty"])
			assert.Equal(t, "70000", body["ord_uv"])
			assert.Equal(t, "0", body["trde_tp"])
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"return_code": 0, "ord_no": "0000123"})
		},
		"kt10001": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "3", body["trde_tp"])
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{"return_code": 1, "return_msg": "rejected"})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{})

	res, err := c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "005930", Side: domain.SideBuy, Quantity: 3, Price: 70000})
	require.NoError(t, err)
	assert.Equal(t, "0000123", res.OrderID)

	_, err = c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "005930", Side: domain.SideSell, Quantity: 1})
	require.Error(t, err)

	_, err = c.PlaceOrder(context.Background(), domain.OrderRequest{Symbol: "005930", Side: domain.SideHold, Quantity: 1})
	require.Error(t, err)
}

func TestClient_RankingsAndCharts(t *testing.T) {
	stub := &brokerStub{handlers: map[string]func(http.ResponseWriter, *http.Request, map[string]interface{}){
		"ka10030": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "/api/dostk/rkinfo", r.URL.Path)
			assert.Equal(t, "1", body["mang_stk_incls"])
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code": 0,
				"tdy_trde_qty_upper": []interface{}{
					map[string]interface{}{"stk_cd": "005930", "stk_nm": "Samsung", "cur_prc": "+70,000", "trde_qty": "900"},
				},
			})
		},
		"ka10032": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code": 0,
				"trde_prica_upper": []interface{}{
					map[string]interface{}{"stk_cd": "000660", "cur_prc": "150000", "trde_prica": "1,000"},
				},
			})
		},
		"ka10080": func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
			assert.Equal(t, "/api/dostk/chart", r.URL.Path)
			writeJSONResponse(w, http.StatusOK, map[string]interface{}{
				"return_code": 0,
				"stk_cd":      "005930",
				"stk_min_pole_chart_qry": []interface{}{
					map[string]interface{}{"cntr_tm": "20260302090100", "cur_prc": "-70000", "trde_qty": "10", "high_pric": "-70100"},
				},
			})
		},
	}}
	c, _ := newTestClient(t, stub, &memoryAudit{})
	ctx := context.Background()

	volume, err := c.GetTopTradingVolume(ctx, RankingRequest{MarketType: "0"})
	require.NoError(t, err)
	require.Len(t, volume, 1)
	assert.Equal(t, 70000.0, volume[0].Price)
	assert.Equal(t, 900.0, volume[0].Volume)

	value, err := c.GetTopTradingValue(ctx, RankingRequest{MarketType: "0"})
	require.NoError(t, err)
	require.Len(t, value, 1)
	assert.Equal(t, 1000.0, value[0].VolumeValue)

	chart, err := c.GetIntradayMinutes(ctx, ChartRequest{Symbol: "005930", Scope: "1"})
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
	assert.Equal(t, 70000.0, chart.Points[0].Price)
	assert.Equal(t, 70100.0, chart.Points[0].High)
	assert.Equal(t, "ka10080", chart.Source)
}

func TestClient_MockMode(t *testing.T) {
	audit := &memoryAudit{}
	c := NewClient(Config{Mock: true}, nil, audit, nil, zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	quote, err := c.GetQuote(ctx, "A005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", quote.Symbol)
	assert.GreaterOrEqual(t, quote.Price, 50000.0)
	assert.LessOrEqual(t, quote.Price, 150000.0)

	res, err := c.PlaceOrder(ctx, domain.OrderRequest{Symbol: "005930", Side: domain.SideBuy, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.OrderID, "mock-"))

	search, err := c.RequestConditionSearch(ctx, ConditionSearchRequest{Seq: "1", SearchType: "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"005930", "000660"}, search.Symbols)

	require.NoError(t, c.RegisterRealtimeQuotes(ctx, []string{"005930"}, nil))
	assert.False(t, c.Socket().IsConnected())

	entries := audit.all()
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.True(t, e.Success)
		assert.Equal(t, "kiwoom", e.Provider)
	}
}
