package trading

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BuySizing is the result of capping a BUY by cash and position size
type BuySizing struct {
	Requested  int64
	Affordable int64
	ByPolicy   int64
	Final      int64
}

// Resized reports whether the BUY was reduced below the requested quantity
func (b BuySizing) Resized() bool {
	return b.Final < b.Requested
}

// TradeSafetyService applies the trading policy gates to single decisions
type TradeSafetyService struct {
	log zerolog.Logger
}

// NewTradeSafetyService creates a new trade safety service
func NewTradeSafetyService(log zerolog.Logger) *TradeSafetyService {
	return &TradeSafetyService{
		log: log.With().Str("service", "trade_safety").Logger(),
	}
}

// MaxPositionValue is the per-BUY budget implied by the position size policy.
// Zero means no policy cap.
func MaxPositionValue(totalAsset float64, policy strategy.TradingPolicy) float64 {
	if policy.PositionSizePct <= 0 {
		return 0
	}
	return decimal.NewFromFloat(totalAsset).
		Mul(decimal.NewFromFloat(policy.PositionSizePct)).
		Div(decimal.NewFromInt(100)).
		InexactFloat64()
}

// SizeBuy caps a BUY to what cash and the position size policy allow
func (s *TradeSafetyService) SizeBuy(requested int64, cash, price, maxPositionValue float64) BuySizing {
	sizing := BuySizing{Requested: requested}
	if price <= 0 {
		return sizing
	}

	sizing.Affordable = floorDiv(cash, price)
	sizing.ByPolicy = sizing.Affordable
	if maxPositionValue > 0 {
		sizing.ByPolicy = floorDiv(maxPositionValue, price)
	}

	sizing.Final = requested
	if sizing.Affordable < sizing.Final {
		sizing.Final = sizing.Affordable
	}
	if sizing.ByPolicy < sizing.Final {
		sizing.Final = sizing.ByPolicy
	}
	if sizing.Final < 0 {
		sizing.Final = 0
	}
	return sizing
}

// CheckSell decides whether a SELL may execute at price. SELLs are only
// honored once profit crosses the take-profit or stop-loss threshold; a
// positive MinHoldMinutes additionally blocks recent buys unless the stop-loss is hit.
func (s *TradeSafetyService) CheckSell(h domain.Holding, price float64, policy strategy.TradingPolicy, now time.Time) (bool, string) {
	if price <= 0 {
		return false, "(no price)"
	}

	profitPct := portfolio.ProfitPct(h.AvgPrice, price)
	if profitPct < policy.TakeProfitPct && profitPct > policy.StopLossPct {
		s.log.Warn().
			Str("symbol", h.Symbol).
			Float64("profit_pct", profitPct).
			Msg("Sell blocked: profit not beyond take/stop rules")
		return false, fmt.Sprintf("(policy take=%s%%, stop=%s%%)",
			formatPct(policy.TakeProfitPct), formatPct(policy.StopLossPct))
	}

	stopLossHit := profitPct <= policy.StopLossPct
	if policy.MinHoldMinutes > 0 && !stopLossHit && !h.LastBoughtAt.IsZero() {
		held := now.Sub(h.LastBoughtAt)
		if held < time.Duration(policy.MinHoldMinutes)*time.Minute {
			s.log.Warn().
				Str("symbol", h.Symbol).
				Dur("held", held).
				Int("min_hold_minutes", policy.MinHoldMinutes).
				Msg("Sell blocked: minimum hold time not reached")
			return false, fmt.Sprintf("(min hold %dm)", policy.MinHoldMinutes)
		}
	}
	return true, ""
}

func floorDiv(amount, price float64) int64 {
	q := decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(price)).Floor()
	if !q.IsPositive() {
		return 0
	}
	if q.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	return q.IntPart()
}

func formatPct(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func annotate(reason, note string) string {
	return strings.TrimSpace(reason + " " + note)
}
