package universe

import (
	"time"

	"github.com/aristath/tradeagent/internal/domain"
)

// Revision records one wholesale catalog replacement
type Revision struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Note       string    `json:"note,omitempty"`
	EntryCount int       `json:"entryCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EntryPage is one page of catalog rows
type EntryPage struct {
	Items    []domain.UniverseEntry `json:"items"`
	Total    int                    `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
}

// RevisionPage is one page of catalog revisions
type RevisionPage struct {
	Items    []Revision `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
}

// Selection is the trading universe for one cycle and the rankings behind it
type Selection struct {
	Symbols   []string `json:"symbols"`
	Held      []string `json:"held"`
	MarketCap []string `json:"marketCap"`
	Liquidity []string `json:"liquidity"`
	News      []string `json:"news"`
	Fallback  bool     `json:"fallback"`
}

// LiquidityScore is a symbol's average daily traded value over the window
type LiquidityScore struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
	Days   int     `json:"days"`
}
