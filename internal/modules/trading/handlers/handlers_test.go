package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/modules/trading"
	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type names []domain.UniverseEntry

func (n names) Entries(context.Context) ([]domain.UniverseEntry, error) { return n, nil }

func setupTrades(t *testing.T) chi.Router {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema(database.NameLedger)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	repo := trading.NewTradeRepository(db, zerolog.Nop())
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pnl := 500.0
	rows := []trading.TradeLog{
		{Symbol: "005930", Side: domain.SideBuy, Quantity: 2, Price: 70_000, Amount: 140_000, Mode: domain.TradeModeVirtual, CreatedAt: base},
		{Symbol: "000660", Side: domain.SideBuy, Quantity: 1, Price: 120_000, Amount: 120_000, Mode: domain.TradeModeVirtual, CreatedAt: base.Add(time.Minute)},
		{Symbol: "005930", Side: domain.SideSell, Quantity: 1, Price: 70_500, Amount: 70_500, RealizedPnL: &pnl, Mode: domain.TradeModeVirtual, CreatedAt: base.Add(2 * time.Minute)},
	}
	require.NoError(t, database.WithTransaction(db, func(tx *sql.Tx) error {
		for _, row := range rows {
			if _, err := repo.InsertTx(context.Background(), tx, row); err != nil {
				return err
			}
		}
		return nil
	}))

	router := chi.NewRouter()
	NewTradingHandlers(repo, names{{Symbol: "005930", Name: "Samsung Electronics"}}, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func TestHandleGetTrades_FiltersAndNames(t *testing.T) {
	router := setupTrades(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trades/?symbol=A005930&pageSize=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
			Name   string `json:"name"`
		} `json:"items"`
		Total    int `json:"total"`
		PageSize int `json:"pageSize"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.PageSize)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "SELL", body.Items[0].Side)
	assert.Equal(t, "Samsung Electronics", body.Items[0].Name)
}

func TestHandleGetPnL(t *testing.T) {
	router := setupTrades(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trades/pnl", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 500.0, body["realizedPnl"])
	assert.Equal(t, 2.0, body["buyCount"])
	assert.Equal(t, 1.0, body["sellCount"])
}
