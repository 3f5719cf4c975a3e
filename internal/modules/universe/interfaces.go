package universe

import (
	"context"

	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/domain"
)

// StockLister lists the stocks of one market
type StockLister interface {
	GetStockList(ctx context.Context, marketType string) ([]kiwoom.ListedStock, error)
}

// QuoteSource fetches a live quote
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// EntrySource returns the current catalog
type EntrySource interface {
	Entries(ctx context.Context) ([]domain.UniverseEntry, error)
}
