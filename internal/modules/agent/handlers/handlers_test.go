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
	"github.com/aristath/tradeagent/internal/modules/agent"
	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCycles struct {
	marketErr error
}

func (s stubCycles) RunMarketCycle(context.Context) (*agent.MarketCycleResult, error) {
	if s.marketErr != nil {
		return nil, s.marketErr
	}
	return &agent.MarketCycleResult{RunID: "run-1", Quotes: 2}, nil
}

func (s stubCycles) RunNewsCycle(context.Context) (*agent.NewsCycleResult, error) {
	return &agent.NewsCycleResult{Articles: 4}, nil
}

func setupRouter(t *testing.T, cycles CycleRunner) (chi.Router, *agent.ReportRepository) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema(database.NameLedger)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	reports := agent.NewReportRepository(db, zerolog.Nop())
	router := chi.NewRouter()
	NewHandler(reports, cycles, zerolog.Nop()).RegisterRoutes(router)
	return router, reports
}

func TestHandleGetReports(t *testing.T) {
	router, reports := setupRouter(t, stubCycles{})
	created, err := reports.Create(context.Background(), agent.ReportRun{RunID: "run-1", TotalAsset: 1_000_000, CreatedAt: time.Now()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []agent.ReportRun `json:"items"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Items, 1)
	assert.Equal(t, created.ID, body.Items[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetReport_NotFound(t *testing.T) {
	router, _ := setupRouter(t, stubCycles{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunCycles(t *testing.T) {
	router, _ := setupRouter(t, stubCycles{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cycles/market", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var market agent.MarketCycleResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&market))
	assert.Equal(t, "run-1", market.RunID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cycles/news", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRunMarketCycle_ConflictWhenRunning(t *testing.T) {
	router, _ := setupRouter(t, stubCycles{marketErr: agent.ErrCycleRunning})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cycles/market", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
