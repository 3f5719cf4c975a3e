// Package trading turns trade decisions into fills against the portfolio ledger.
package trading

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PolicySource provides the current trading policy
type PolicySource interface {
	TradingPolicy() strategy.TradingPolicy
}

// RealtimePrices reads fresh pushed prices
type RealtimePrices interface {
	GetRealtimePrice(symbol string) (marketdata.RealtimePriceEntry, bool)
}

// OrderPlacer sends real orders to the broker
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
}

// OrderError reports a failed real order. Decisions before it stay committed.
type OrderError struct {
	Symbol string
	Side   domain.Side
	Err    error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s failed: %v", e.Side, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error { return e.Err }

// TradingService is the execution engine. Passes are serialized so the
// cash and holdings invariants hold even when cycles are triggered concurrently.
type TradingService struct {
	mu        sync.Mutex
	portfolio *portfolio.PortfolioService
	trades    *TradeRepository
	safety    *TradeSafetyService
	policy    PolicySource
	orders    OrderPlacer
	realtime  RealtimePrices
	now       func() time.Time
	log       zerolog.Logger
}

// NewTradingService creates the execution engine. realtime may be nil.
func NewTradingService(
	portfolioService *portfolio.PortfolioService,
	trades *TradeRepository,
	policy PolicySource,
	orders OrderPlacer,
	realtime RealtimePrices,
	log zerolog.Logger,
) *TradingService {
	return &TradingService{
		portfolio: portfolioService,
		trades:    trades,
		safety:    NewTradeSafetyService(log),
		policy:    policy,
		orders:    orders,
		realtime:  realtime,
		now:       time.Now,
		log:       log.With().Str("service", "trading").Logger(),
	}
}

// Trades exposes the trade log repository
func (s *TradingService) Trades() *TradeRepository {
	return s.trades
}

// ResolveExecutionPrice prefers a fresh realtime price, then the quote batch, else 0
func (s *TradingService) ResolveExecutionPrice(symbol string, quotes domain.QuoteMap) float64 {
	if s.realtime != nil {
		if entry, ok := s.realtime.GetRealtimePrice(symbol); ok && entry.Price > 0 {
			return entry.Price
		}
	}
	return quotes[symbol]
}

// MarkPrices is the valuation lookup: realtime, then quote batch, else average cost
func (s *TradingService) MarkPrices(quotes domain.QuoteMap) portfolio.PriceLookup {
	return func(symbol string) (float64, bool) {
		p := s.ResolveExecutionPrice(symbol, quotes)
		return p, p > 0
	}
}

// ExecuteDecisions applies decisions in order, one per symbol, and always ends
// with an asset snapshot. A failed real order stops the pass with an *OrderError
// after snapshotting what was committed.
func (s *TradingService) ExecuteDecisions(ctx context.Context, decisions []domain.TradeDecision, quotes domain.QuoteMap) (ExecutionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := ExecutionReport{Executed: []TradeOutcome{}, Skipped: []TradeOutcome{}}
	lookup := s.MarkPrices(quotes)

	passErr := s.applyAll(ctx, decisions, quotes, lookup, &report)

	v, err := s.portfolio.SnapshotAsset(ctx, lookup)
	if err != nil {
		if passErr != nil {
			return report, passErr
		}
		return report, err
	}
	report.Cash = v.Cash
	report.HoldingsValue = v.HoldingsValue
	report.TotalAsset = v.TotalAsset

	s.log.Info().
		Int("decisions", len(decisions)).
		Int("executed", len(report.Executed)).
		Int("skipped", len(report.Skipped)).
		Float64("cash", report.Cash).
		Float64("total_asset", report.TotalAsset).
		Msg("Execution pass finished")
	return report, passErr
}

func (s *TradingService) applyAll(ctx context.Context, decisions []domain.TradeDecision, quotes domain.QuoteMap, lookup portfolio.PriceLookup, report *ExecutionReport) error {
	if len(decisions) == 0 {
		return nil
	}

	sizingView, err := s.portfolio.Valuate(ctx, lookup)
	if err != nil {
		return err
	}
	policy := s.policy.TradingPolicy()
	// Sizing uses one snapshot of total asset for the whole pass
	maxPositionValue := MaxPositionValue(sizingView.TotalAsset, policy)
	mode := domain.ModeFor(sizingView.VirtualMode)
	cash := decimal.NewFromFloat(sizingView.Cash)
	processed := make(map[string]bool, len(decisions))

	for _, d := range decisions {
		if d.Side == domain.SideHold {
			continue
		}
		symbol := domain.NormalizeSymbol(d.Symbol)
		price := s.ResolveExecutionPrice(symbol, quotes)
		outcome := TradeOutcome{
			Symbol:      symbol,
			Side:        d.Side,
			Quantity:    d.Quantity,
			Price:       price,
			TotalAmount: amount(d.Quantity, price).InexactFloat64(),
			Reason:      d.Reason,
		}

		if processed[symbol] {
			s.log.Warn().Str("symbol", symbol).Str("side", string(d.Side)).Msg("Skip: duplicate symbol in same cycle")
			report.skip(outcome, StatusSkippedDuplicateSymbol)
			continue
		}
		processed[symbol] = true

		var err error
		switch d.Side {
		case domain.SideBuy:
			cash, err = s.applyBuy(ctx, d, outcome, cash, policy, maxPositionValue, mode, report)
		case domain.SideSell:
			cash, err = s.applySell(ctx, d, outcome, cash, policy, mode, report)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *TradingService) applyBuy(ctx context.Context, d domain.TradeDecision, out TradeOutcome, cash decimal.Decimal, policy strategy.TradingPolicy, maxPositionValue float64, mode domain.TradeMode, report *ExecutionReport) (decimal.Decimal, error) {
	if out.Price <= 0 {
		s.log.Warn().Str("symbol", out.Symbol).Float64("price", out.Price).Msg("Skip BUY: invalid price")
		report.skip(out, StatusSkippedInsufficientCash)
		return cash, nil
	}

	sizing := s.safety.SizeBuy(d.Quantity, cash.InexactFloat64(), out.Price, maxPositionValue)
	if sizing.Affordable <= 0 {
		s.log.Warn().Str("symbol", out.Symbol).Msg("Skip BUY: insufficient cash")
		report.skip(out, StatusSkippedInsufficientCash)
		return cash, nil
	}
	if sizing.Final <= 0 {
		s.log.Warn().Str("symbol", out.Symbol).Msg("Skip BUY: position size policy limit")
		out.Reason = annotate(d.Reason, fmt.Sprintf("(position cap %s%%)", formatPct(policy.PositionSizePct)))
		report.skip(out, StatusSkippedPolicy)
		return cash, nil
	}
	if sizing.Resized() {
		s.log.Warn().
			Str("symbol", out.Symbol).
			Int64("requested", sizing.Requested).
			Int64("final", sizing.Final).
			Msg("Reduce BUY to fit cash and position size")
		out.Reason = annotate(d.Reason, fmt.Sprintf("(auto-resized from %d to %d)", sizing.Requested, sizing.Final))
	}

	out.Quantity = sizing.Final
	total := amount(sizing.Final, out.Price)
	out.TotalAmount = total.InexactFloat64()

	existing, err := s.portfolio.GetHolding(ctx, out.Symbol)
	if err != nil {
		return cash, err
	}

	orderID, err := s.placeRealOrder(ctx, mode, out)
	if err != nil {
		return cash, err
	}

	newCash := cash.Sub(total)
	at := s.now()
	h := portfolio.AccumulateBuy(existing, out.Symbol, out.Quantity, out.Price, at)
	err = s.portfolio.Commit(func(tx *sql.Tx) error {
		if err := s.portfolio.States().SetCashTx(ctx, tx, newCash.InexactFloat64(), at); err != nil {
			return err
		}
		if err := s.portfolio.Positions().UpsertTx(ctx, tx, h, at); err != nil {
			return err
		}
		_, err := s.trades.InsertTx(ctx, tx, s.tradeLog(d, out, mode, orderID, at))
		return err
	})
	if err != nil {
		return cash, fmt.Errorf("failed to commit BUY %s: %w", out.Symbol, err)
	}

	report.execute(out)
	return newCash, nil
}

func (s *TradingService) applySell(ctx context.Context, d domain.TradeDecision, out TradeOutcome, cash decimal.Decimal, policy strategy.TradingPolicy, mode domain.TradeMode, report *ExecutionReport) (decimal.Decimal, error) {
	holding, err := s.portfolio.GetHolding(ctx, out.Symbol)
	if err != nil {
		return cash, err
	}
	if holding == nil || holding.Quantity < d.Quantity {
		s.log.Warn().Str("symbol", out.Symbol).Msg("Skip SELL: insufficient holding")
		report.skip(out, StatusSkippedInsufficientHolding)
		return cash, nil
	}

	if ok, note := s.safety.CheckSell(*holding, out.Price, policy, s.now()); !ok {
		out.Reason = annotate(d.Reason, note)
		report.skip(out, StatusSkippedPolicy)
		return cash, nil
	}

	orderID, err := s.placeRealOrder(ctx, mode, out)
	if err != nil {
		return cash, err
	}

	total := amount(d.Quantity, out.Price)
	pnl := decimal.NewFromFloat(out.Price).Sub(decimal.NewFromFloat(holding.AvgPrice)).
		Mul(decimal.NewFromInt(d.Quantity)).InexactFloat64()
	out.RealizedPnL = &pnl
	newCash := cash.Add(total)
	at := s.now()

	err = s.portfolio.Commit(func(tx *sql.Tx) error {
		if err := s.portfolio.States().SetCashTx(ctx, tx, newCash.InexactFloat64(), at); err != nil {
			return err
		}
		if err := s.portfolio.Positions().UpsertTx(ctx, tx, portfolio.ReduceSell(*holding, d.Quantity, at), at); err != nil {
			return err
		}
		_, err := s.trades.InsertTx(ctx, tx, s.tradeLog(d, out, mode, orderID, at))
		return err
	})
	if err != nil {
		return cash, fmt.Errorf("failed to commit SELL %s: %w", out.Symbol, err)
	}

	report.execute(out)
	return newCash, nil
}

func (s *TradingService) placeRealOrder(ctx context.Context, mode domain.TradeMode, out TradeOutcome) (string, error) {
	if mode == domain.TradeModeVirtual {
		return "", nil
	}
	if s.orders == nil {
		return "", &OrderError{Symbol: out.Symbol, Side: out.Side, Err: fmt.Errorf("no order client configured")}
	}

	res, err := s.orders.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:   out.Symbol,
		Side:     out.Side,
		Quantity: out.Quantity,
		Price:    out.Price,
	})
	if err != nil {
		s.log.Error().Err(err).Str("symbol", out.Symbol).Str("side", string(out.Side)).Msg("Real order failed")
		return "", &OrderError{Symbol: out.Symbol, Side: out.Side, Err: err}
	}
	if res == nil {
		return "", nil
	}
	return res.OrderID, nil
}

func (s *TradingService) tradeLog(d domain.TradeDecision, out TradeOutcome, mode domain.TradeMode, orderID string, at time.Time) TradeLog {
	t := TradeLog{
		Symbol:      out.Symbol,
		Side:        out.Side,
		Quantity:    out.Quantity,
		Price:       out.Price,
		Amount:      out.TotalAmount,
		RealizedPnL: out.RealizedPnL,
		Mode:        mode,
		Reason:      out.Reason,
		OrderID:     orderID,
		CreatedAt:   at,
	}
	if d.Confidence > 0 {
		c := d.Confidence
		t.Confidence = &c
	}
	return t
}

func (r *ExecutionReport) skip(out TradeOutcome, status Status) {
	out.Status = status
	r.Skipped = append(r.Skipped, out)
}

func (r *ExecutionReport) execute(out TradeOutcome) {
	out.Status = StatusExecuted
	r.Executed = append(r.Executed, out)
}

func amount(qty int64, price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
}
