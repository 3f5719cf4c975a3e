package portfolio

import (
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/shopspring/decimal"
)

// PriceLookup resolves a mark price for a symbol
type PriceLookup func(symbol string) (float64, bool)

// QuotePrices returns a lookup over a quote batch
func QuotePrices(quotes domain.QuoteMap) PriceLookup {
	return func(symbol string) (float64, bool) {
		p, ok := quotes[symbol]
		return p, ok && p > 0
	}
}

// HoldingValue is a holding marked to market
type HoldingValue struct {
	domain.Holding
	Price          float64 `json:"price"`
	MarketValue    float64 `json:"marketValue"`
	UnrealizedPnL  float64 `json:"unrealizedPnl"`
	UnrealizedPct  float64 `json:"unrealizedPct"`
	PricedByMarket bool    `json:"pricedByMarket"`
}

// Valuation is the marked-to-market portfolio
type Valuation struct {
	Cash           float64        `json:"cash"`
	InitialCapital float64        `json:"initialCapital"`
	VirtualMode    bool           `json:"virtualMode"`
	HoldingsValue  float64        `json:"holdingsValue"`
	TotalAsset     float64        `json:"totalAsset"`
	Holdings       []HoldingValue `json:"holdings"`
}

// Value marks holdings to market. Holdings without a price are valued at average cost.
func Value(state domain.PortfolioState, holdings []domain.Holding, lookup PriceLookup) Valuation {
	total := decimal.Zero
	values := make([]HoldingValue, 0, len(holdings))

	for _, h := range holdings {
		price, ok := 0.0, false
		if lookup != nil {
			price, ok = lookup(h.Symbol)
		}
		if !ok || price <= 0 {
			price, ok = h.AvgPrice, false
		}

		qty := decimal.NewFromInt(h.Quantity)
		market := decimal.NewFromFloat(price).Mul(qty)
		cost := decimal.NewFromFloat(h.AvgPrice).Mul(qty)
		pnl := market.Sub(cost)

		hv := HoldingValue{
			Holding:        h,
			Price:          price,
			MarketValue:    market.InexactFloat64(),
			UnrealizedPnL:  pnl.InexactFloat64(),
			PricedByMarket: ok,
		}
		if !cost.IsZero() {
			hv.UnrealizedPct = pnl.Div(cost).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
		}
		values = append(values, hv)
		total = total.Add(market)
	}

	return Valuation{
		Cash:           state.Cash,
		InitialCapital: state.InitialCapital,
		VirtualMode:    state.VirtualMode,
		HoldingsValue:  total.InexactFloat64(),
		TotalAsset:     decimal.NewFromFloat(state.Cash).Add(total).InexactFloat64(),
		Holdings:       values,
	}
}

// AccumulateBuy applies a fill to a holding using weighted-average cost.
// existing may be nil for a new position.
func AccumulateBuy(existing *domain.Holding, symbol string, qty int64, price float64, at time.Time) domain.Holding {
	if existing == nil || existing.Quantity <= 0 {
		return domain.Holding{Symbol: symbol, Quantity: qty, AvgPrice: price, LastBoughtAt: at, UpdatedAt: at}
	}

	prevQty := decimal.NewFromInt(existing.Quantity)
	addQty := decimal.NewFromInt(qty)
	cost := decimal.NewFromFloat(existing.AvgPrice).Mul(prevQty).
		Add(decimal.NewFromFloat(price).Mul(addQty))
	newQty := prevQty.Add(addQty)

	return domain.Holding{
		Symbol:       symbol,
		Quantity:     existing.Quantity + qty,
		AvgPrice:     cost.Div(newQty).InexactFloat64(),
		LastBoughtAt: at,
		UpdatedAt:    at,
	}
}

// ReduceSell removes sold units. Average cost is unchanged; the result may have zero quantity.
func ReduceSell(existing domain.Holding, qty int64, at time.Time) domain.Holding {
	existing.Quantity -= qty
	if existing.Quantity < 0 {
		existing.Quantity = 0
	}
	existing.UpdatedAt = at
	return existing
}

// ProfitPct is the unrealized percentage change from avgPrice to price, 0 without a cost basis
func ProfitPct(avgPrice, price float64) float64 {
	if avgPrice == 0 {
		return 0
	}
	avg := decimal.NewFromFloat(avgPrice)
	return decimal.NewFromFloat(price).Sub(avg).Div(avg).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
