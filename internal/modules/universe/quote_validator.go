package universe

import (
	"math"

	"github.com/aristath/tradeagent/internal/domain"
)

const (
	// KRX caps the daily move at +-30%; anything beyond is a bad print
	maxChangeRatePercent = 30.0
	maxPriceMultiplier   = 10.0 // Price > 10x the last stored price is abnormal
	minPriceMultiplier   = 0.1  // Price < 0.1x the last stored price is abnormal
)

// ValidateQuote checks a quote before it enters the history used for
// liquidity and indicator calculations. prev is the last stored price for the
// symbol, or 0 when unknown. Returns (isValid, reason).
func ValidateQuote(q domain.Quote, prev float64) (bool, string) {
	if q.Symbol == "" {
		return false, "missing_symbol"
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
		return false, "non_positive_price"
	}
	if q.Volume < 0 {
		return false, "negative_volume"
	}
	if math.Abs(q.ChangeRate) > maxChangeRatePercent {
		return false, "beyond_price_limit"
	}

	if prev > 0 {
		if q.Price > prev*maxPriceMultiplier {
			return false, "price_too_high"
		}
		if q.Price < prev*minPriceMultiplier {
			return false, "price_too_low"
		}
	}
	return true, ""
}
