package universe

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupMarketDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	schema, err := database.Schema(database.NameMarket)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

type staticEntries []domain.UniverseEntry

func (s staticEntries) Entries(context.Context) ([]domain.UniverseEntry, error) {
	return s, nil
}

type stubQuotes map[string]domain.Quote

func (s stubQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	q, ok := s[symbol]
	if !ok {
		return domain.Quote{}, errors.New("no quote")
	}
	return q, nil
}

type stubNews []domain.NewsArticle

func (s stubNews) GetLatestNews(_ context.Context, limit int) ([]domain.NewsArticle, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

type stubLister map[string][]kiwoom.ListedStock

func (s stubLister) GetStockList(_ context.Context, marketType string) ([]kiwoom.ListedStock, error) {
	return s[marketType], nil
}
