package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (chi.Router, *clientdata.Repository) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema(database.NameMarket)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	repo := clientdata.NewRepository(db, zerolog.Nop())
	router := chi.NewRouter()
	NewHandler(repo, zerolog.Nop()).RegisterRoutes(router)
	return router, repo
}

func TestHandleGetAPICalls(t *testing.T) {
	router, repo := setupRouter(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordAPICall(ctx, domain.APICallLog{
		Provider: "kiwoom", Endpoint: "/api/dostk/stkinfo", Method: "POST", StatusCode: 200, Success: true, CreatedAt: base,
	}))
	require.NoError(t, repo.RecordAPICall(ctx, domain.APICallLog{
		Provider: "kiwoom", Endpoint: "/api/dostk/ordr", Method: "POST", StatusCode: 200, ErrorMessage: "return_code=1", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, repo.RecordAPICall(ctx, domain.APICallLog{
		Provider: "kiwoom", Endpoint: "/api/dostk/stkinfo", Method: "POST", StatusCode: 500, CreatedAt: base.Add(2 * time.Minute),
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/api-calls?endpoint=stkinfo&status=error", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items    []domain.APICallLog `json:"items"`
		Total    int                 `json:"total"`
		Page     int                 `json:"page"`
		PageSize int                 `json:"pageSize"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 1, body.Page)
	assert.Equal(t, 20, body.PageSize)
	require.Len(t, body.Items, 1)
	assert.Equal(t, 500, body.Items[0].StatusCode)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/api-calls?page=2&pageSize=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 2, body.Page)
	require.Len(t, body.Items, 1)
	assert.Equal(t, base.Unix(), body.Items[0].CreatedAt.Unix())
}

func TestHandleGetAPICalls_BadQuery(t *testing.T) {
	router, _ := setupRouter(t)

	for _, target := range []string{"/logs/api-calls?status=maybe", "/logs/api-calls?from=yesterday"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandleGetLLMCalls(t *testing.T) {
	router, repo := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordLLMCall(ctx, clientdata.LLMCallLog{Provider: "gemini", Model: "gemini-2.0-flash", Prompt: "p1", StatusCode: 200, Success: true}))
	require.NoError(t, repo.RecordLLMCall(ctx, clientdata.LLMCallLog{Provider: "gemini", Model: "gemini-1.5-pro", Prompt: "p2", StatusCode: 404}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/llm-calls?model=pro", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []clientdata.LLMCallLog `json:"items"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "p2", body.Items[0].Prompt)
}

func TestHandleGetLLMCalls_Empty(t *testing.T) {
	router, _ := setupRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logs/llm-calls", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"total":0,"page":1,"pageSize":20}`, rec.Body.String())
}
