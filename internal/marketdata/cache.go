// Package marketdata holds the realtime price and orderbook cache fed by broker push messages.
package marketdata

import (
	"math"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
)

const (
	// DefaultTTL is how long a pushed price stays authoritative
	DefaultTTL = 15 * time.Second
	// HistoryWindow bounds the per-symbol price history
	HistoryWindow = 5 * time.Minute
)

// RealtimePriceEntry is the latest pushed price for a symbol
type RealtimePriceEntry struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"asOf"`
	Type   string    `json:"type"`
}

// OrderbookEntry is the latest pushed orderbook totals for a symbol
type OrderbookEntry struct {
	Symbol   string    `json:"symbol"`
	BidTotal float64   `json:"bidTotal"`
	AskTotal float64   `json:"askTotal"`
	AsOf     time.Time `json:"asOf"`
	Type     string    `json:"type"`
}

// PricePoint is one sample of the price history buffer
type PricePoint struct {
	Price float64
	At    time.Time
}

// RealtimeSignal is the momentum/orderbook summary handed to the decision engine.
// Nil fields mean there was not enough data.
type RealtimeSignal struct {
	Symbol             string     `json:"symbol"`
	Price              *float64   `json:"price"`
	PriceAsOf          *time.Time `json:"priceAsOf"`
	Change1mPct        *float64   `json:"change1mPct"`
	Change5mPct        *float64   `json:"change5mPct"`
	BidTotal           *float64   `json:"bidTotal"`
	AskTotal           *float64   `json:"askTotal"`
	OrderbookImbalance *float64   `json:"orderbookImbalance"`
	OrderbookAsOf      *time.Time `json:"orderbookAsOf"`
}

// IsFresh reports whether an entry stamped asOf is still valid at now
func IsFresh(asOf, now time.Time, ttl time.Duration) bool {
	if asOf.IsZero() {
		return false
	}
	return now.Sub(asOf) <= ttl
}

// Cache is the in-memory realtime store. All keys are normalized symbols.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.RWMutex
	prices     map[string]RealtimePriceEntry
	orderbooks map[string]OrderbookEntry
	history    map[string][]PricePoint
}

// NewCache creates a cache; a non-positive ttl falls back to DefaultTTL
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:        ttl,
		now:        time.Now,
		prices:     make(map[string]RealtimePriceEntry),
		orderbooks: make(map[string]OrderbookEntry),
		history:    make(map[string][]PricePoint),
	}
}

// SetClock overrides the time source
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// TTL returns the configured freshness window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// SetPrice stores a pushed price and appends it to the history buffer
func (c *Cache) SetPrice(symbol string, price float64, typ string) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" || price <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prices[symbol] = RealtimePriceEntry{Symbol: symbol, Price: price, AsOf: now, Type: typ}
	c.history[symbol] = appendPoint(c.history[symbol], PricePoint{Price: price, At: now})
}

// SetOrderbook stores pushed orderbook totals
func (c *Cache) SetOrderbook(symbol string, bidTotal, askTotal float64, typ string) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.orderbooks[symbol] = OrderbookEntry{
		Symbol:   symbol,
		BidTotal: bidTotal,
		AskTotal: askTotal,
		AsOf:     c.now(),
		Type:     typ,
	}
}

// appendPoint adds a sample and prunes everything older than HistoryWindow
func appendPoint(history []PricePoint, p PricePoint) []PricePoint {
	history = append(history, p)
	cutoff := p.At.Add(-HistoryWindow)
	drop := 0
	for drop < len(history) && history[drop].At.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		history = append(history[:0:0], history[drop:]...)
	}
	return history
}

// GetRealtimePrice returns the pushed price if it is within the TTL
func (c *Cache) GetRealtimePrice(symbol string) (RealtimePriceEntry, bool) {
	c.mu.RLock()
	now := c.now()
	c.mu.RUnlock()
	return c.GetRealtimePriceAt(symbol, now)
}

// GetRealtimePriceAt is GetRealtimePrice evaluated at an explicit instant
func (c *Cache) GetRealtimePriceAt(symbol string, now time.Time) (RealtimePriceEntry, bool) {
	symbol = domain.NormalizeSymbol(symbol)

	c.mu.RLock()
	entry, ok := c.prices[symbol]
	c.mu.RUnlock()

	if !ok || !IsFresh(entry.AsOf, now, c.ttl) {
		return RealtimePriceEntry{}, false
	}
	return entry, true
}

// ApplyRealtimeToQuote overlays a fresh pushed price onto a REST quote
func (c *Cache) ApplyRealtimeToQuote(q domain.Quote) domain.Quote {
	entry, ok := c.GetRealtimePrice(q.Symbol)
	if !ok {
		return q
	}
	q.Price = entry.Price
	q.AsOf = entry.AsOf
	return q
}

// ApplyRealtimeToQuotes overlays realtime prices onto a quote batch
func (c *Cache) ApplyRealtimeToQuotes(quotes []domain.Quote) []domain.Quote {
	out := make([]domain.Quote, len(quotes))
	for i, q := range quotes {
		out[i] = c.ApplyRealtimeToQuote(q)
	}
	return out
}

// GetRealtimeSignal summarizes momentum and orderbook pressure for a symbol
func (c *Cache) GetRealtimeSignal(symbol string) RealtimeSignal {
	c.mu.RLock()
	now := c.now()
	c.mu.RUnlock()
	return c.SignalAt(symbol, now)
}

// SignalAt is GetRealtimeSignal evaluated at an explicit instant
func (c *Cache) SignalAt(symbol string, now time.Time) RealtimeSignal {
	symbol = domain.NormalizeSymbol(symbol)
	signal := RealtimeSignal{Symbol: symbol}

	if entry, ok := c.GetRealtimePriceAt(symbol, now); ok {
		price, asOf := entry.Price, entry.AsOf
		signal.Price = &price
		signal.PriceAsOf = &asOf
	}

	c.mu.RLock()
	history := append([]PricePoint(nil), c.history[symbol]...)
	orderbook, hasOrderbook := c.orderbooks[symbol]
	c.mu.RUnlock()

	signal.Change1mPct = HistoryChange(history, now.Add(-time.Minute))
	signal.Change5mPct = HistoryChange(history, now.Add(-5*time.Minute))

	if hasOrderbook && IsFresh(orderbook.AsOf, now, c.ttl) {
		bid, ask, asOf := orderbook.BidTotal, orderbook.AskTotal, orderbook.AsOf
		signal.BidTotal = &bid
		signal.AskTotal = &ask
		signal.OrderbookAsOf = &asOf
		signal.OrderbookImbalance = Imbalance(bid, ask)
	}

	return signal
}

// History returns a copy of the price history for a symbol
func (c *Cache) History(symbol string) []PricePoint {
	symbol = domain.NormalizeSymbol(symbol)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PricePoint(nil), c.history[symbol]...)
}

// HistoryChange computes the % change from the oldest point at or after since to the latest point
func HistoryChange(history []PricePoint, since time.Time) *float64 {
	if len(history) == 0 {
		return nil
	}
	recent := history[len(history)-1]
	base := history[0]
	for _, p := range history {
		if !p.At.Before(since) {
			base = p
			break
		}
	}
	if base.Price == 0 {
		return nil
	}
	change := Round4((recent.Price - base.Price) / base.Price * 100)
	return &change
}

// Imbalance returns (bid-ask)/(bid+ask) rounded to 4 decimals, or nil when both are zero
func Imbalance(bid, ask float64) *float64 {
	if bid+ask <= 0 {
		return nil
	}
	v := Round4((bid - ask) / (bid + ask))
	return &v
}

// Round4 rounds to 4 decimal places
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
