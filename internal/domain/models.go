// Package domain holds the broker-agnostic types shared by the trading agent.
package domain

import (
	"strings"
	"time"
)

// Side is the direction of a trade decision
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// ParseSide normalizes free-form side text; unknown values become HOLD
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideHold
	}
}

// Quote is a point-in-time market quote. Price is always a non-negative magnitude.
type Quote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ChangeRate float64   `json:"changeRate"`
	Volume     float64   `json:"volume"`
	AsOf       time.Time `json:"asOf"`
}

// QuoteMap indexes quote prices by symbol
type QuoteMap map[string]float64

// NewQuoteMap builds a price lookup from a quote batch
func NewQuoteMap(quotes []Quote) QuoteMap {
	m := make(QuoteMap, len(quotes))
	for _, q := range quotes {
		m[q.Symbol] = q.Price
	}
	return m
}

// TradeDecision is a single trade intent produced by the decision engine
type TradeDecision struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   int64   `json:"quantity"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Actionable reports whether the decision should reach the execution engine
func (d TradeDecision) Actionable() bool {
	return d.Side != SideHold && d.Quantity > 0
}

// Holding is a position in a single symbol
type Holding struct {
	Symbol       string    `json:"symbol"`
	Quantity     int64     `json:"quantity"`
	AvgPrice     float64   `json:"avgPrice"`
	LastBoughtAt time.Time `json:"lastBoughtAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DefaultPortfolioID is the key of the singleton portfolio state row
const DefaultPortfolioID = "default"

// PortfolioState is the cash ledger of the agent
type PortfolioState struct {
	ID             string    `json:"id"`
	Cash           float64   `json:"cash"`
	InitialCapital float64   `json:"initialCapital"`
	VirtualMode    bool      `json:"virtualMode"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TradeMode tags a trade log row as simulated or real
type TradeMode string

const (
	TradeModeVirtual TradeMode = "VIRTUAL"
	TradeModeReal    TradeMode = "REAL"
)

// ModeFor returns the trade mode matching the virtual flag
func ModeFor(virtual bool) TradeMode {
	if virtual {
		return TradeModeVirtual
	}
	return TradeModeReal
}

// NewsArticle is a scraped news item
type NewsArticle struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Summary     string     `json:"summary,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// UniverseEntry is one row of the tradable symbol catalog
type UniverseEntry struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name,omitempty"`
	MarketCap  float64 `json:"marketCap,omitempty"`
	MarketCode string  `json:"marketCode,omitempty"`
	MarketName string  `json:"marketName,omitempty"`
}

// OrderRequest is a real order sent to the broker
type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderResult is the broker acknowledgement of an order
type OrderResult struct {
	OrderID string                 `json:"orderId"`
	Status  string                 `json:"status"`
	Raw     map[string]interface{} `json:"raw,omitempty"`
}
