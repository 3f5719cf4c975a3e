package trading

import (
	"context"
	"math"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/markcheno/go-talib"
)

const (
	rsiPeriod     = 14
	smaPeriod     = 5
	historyPoints = 60
)

// QuoteHistory reads persisted quotes, oldest first
type QuoteHistory interface {
	Recent(ctx context.Context, symbol string, limit int) ([]domain.Quote, error)
}

// IndicatorSignal carries technical indicators over persisted quote history.
// Nil fields mean there were not enough points.
type IndicatorSignal struct {
	Symbol string   `json:"symbol"`
	Points int      `json:"points"`
	RSI14  *float64 `json:"rsi14"`
	SMA5   *float64 `json:"sma5"`
}

// ComputeIndicators derives RSI(14) and SMA(5) from a price series, oldest first
func ComputeIndicators(symbol string, prices []float64) IndicatorSignal {
	sig := IndicatorSignal{Symbol: symbol, Points: len(prices)}
	if len(prices) > rsiPeriod {
		rsi := talib.Rsi(prices, rsiPeriod)
		v := round2(rsi[len(rsi)-1])
		sig.RSI14 = &v
	}
	if len(prices) >= smaPeriod {
		sma := talib.Sma(prices, smaPeriod)
		v := round2(sma[len(sma)-1])
		sig.SMA5 = &v
	}
	return sig
}

func (e *DecisionEngine) indicatorSignals(ctx context.Context, quotes []domain.Quote) []IndicatorSignal {
	signals := make([]IndicatorSignal, 0, len(quotes))
	for _, q := range quotes {
		var prices []float64
		if e.history != nil {
			history, err := e.history.Recent(ctx, q.Symbol, historyPoints)
			if err != nil {
				e.log.Debug().Err(err).Str("symbol", q.Symbol).Msg("Failed to load quote history")
			}
			for _, h := range history {
				prices = append(prices, h.Price)
			}
		}
		signals = append(signals, ComputeIndicators(q.Symbol, prices))
	}
	return signals
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
