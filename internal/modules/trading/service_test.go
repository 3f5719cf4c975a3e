package trading

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPolicy struct {
	policy   strategy.TradingPolicy
	document string
}

func (f fixedPolicy) TradingPolicy() strategy.TradingPolicy { return f.policy }

func (f fixedPolicy) GetCurrentStrategy() (string, error) { return f.document, nil }

type recordingOrders struct {
	calls  []domain.OrderRequest
	failOn string
}

func (r *recordingOrders) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Symbol == r.failOn {
		return nil, errors.New("broker rejected order")
	}
	r.calls = append(r.calls, req)
	return &domain.OrderResult{OrderID: "ord-" + req.Symbol, Status: "ACCEPTED"}, nil
}

type fixture struct {
	db        *sql.DB
	portfolio *portfolio.PortfolioService
	trading   *TradingService
	orders    *recordingOrders
}

func newFixture(t *testing.T, cash float64, virtual bool, policy strategy.TradingPolicy, realtime RealtimePrices) *fixture {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema(database.NameLedger)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	ps := portfolio.NewPortfolioService(db, cash, virtual, log)
	_, err = ps.EnsurePortfolioState(context.Background())
	require.NoError(t, err)

	orders := &recordingOrders{}
	ts := NewTradingService(ps, NewTradeRepository(db, log), fixedPolicy{policy: policy}, orders, realtime, log)
	return &fixture{db: db, portfolio: ps, trading: ts, orders: orders}
}

func (f *fixture) seedHolding(t *testing.T, h domain.Holding) {
	require.NoError(t, f.portfolio.Commit(func(tx *sql.Tx) error {
		return f.portfolio.Positions().UpsertTx(context.Background(), tx, h, time.Now())
	}))
}

func (f *fixture) cash(t *testing.T) float64 {
	state, err := f.portfolio.EnsurePortfolioState(context.Background())
	require.NoError(t, err)
	return state.Cash
}

func policy(take, stop, size float64) strategy.TradingPolicy {
	return strategy.TradingPolicy{TakeProfitPct: take, StopLossPct: stop, PositionSizePct: size}
}

func buy(symbol string, qty int64) domain.TradeDecision {
	return domain.TradeDecision{Symbol: symbol, Side: domain.SideBuy, Quantity: qty, Reason: "test buy", Confidence: 0.5}
}

func sell(symbol string, qty int64) domain.TradeDecision {
	return domain.TradeDecision{Symbol: symbol, Side: domain.SideSell, Quantity: qty, Reason: "test sell", Confidence: 0.5}
}

func TestExecuteDecisions_PositionSizeCapResizesBuy(t *testing.T) {
	f := newFixture(t, 1_000_000, true, policy(3, -2, 10), nil)

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("005930", 50)}, domain.QuoteMap{"005930": 10_000})
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	got := report.Executed[0]
	assert.Equal(t, int64(10), got.Quantity)
	assert.Equal(t, 100_000.0, got.TotalAmount)
	assert.Equal(t, "test buy (auto-resized from 50 to 10)", got.Reason)
	assert.Equal(t, 900_000.0, f.cash(t))
	assert.Equal(t, 1_000_000.0, report.TotalAsset)
	assert.Empty(t, f.orders.calls, "virtual mode never places orders")
}

func TestExecuteDecisions_SizingUsesPassSnapshot(t *testing.T) {
	f := newFixture(t, 1_000_000, true, policy(3, -2, 10), nil)
	quotes := domain.QuoteMap{"A": 10_000, "B": 10_000, "C": 10_000}

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("A", 50), buy("B", 50), buy("C", 50)}, quotes)
	require.NoError(t, err)

	// every BUY is capped against the total asset read at the start of the pass,
	// so together the pass commits 30% of assets
	require.Len(t, report.Executed, 3)
	for _, e := range report.Executed {
		assert.Equal(t, int64(10), e.Quantity, e.Symbol)
	}
	assert.Equal(t, 700_000.0, f.cash(t))
	assert.Equal(t, 1_000_000.0, report.TotalAsset)
}

func TestExecuteDecisions_PositionCapBelowOneShareIsPolicySkip(t *testing.T) {
	f := newFixture(t, 1_000_000, true, policy(3, -2, 0.5), nil)

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("005930", 1)}, domain.QuoteMap{"005930": 10_000})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, StatusSkippedPolicy, report.Skipped[0].Status)
	assert.Equal(t, "test buy (position cap 0.5%)", report.Skipped[0].Reason)
	assert.Equal(t, 1_000_000.0, f.cash(t))
}

// MinHoldMinutes is zero here; the extra hold gate on take-profit sells is
// covered by TestExecuteDecisions_MinHoldBlocksEarlyTakeProfit.
func TestExecuteDecisions_SellPolicyGate(t *testing.T) {
	cases := []struct {
		name   string
		price  float64
		status Status
	}{
		{"inside band is gated", 10_050, StatusSkippedPolicy},
		{"above take profit executes", 10_150, StatusExecuted},
		{"below stop loss executes", 9_850, StatusExecuted},
		{"exactly take profit executes", 10_100, StatusExecuted},
		{"exactly stop loss executes", 9_900, StatusExecuted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0, true, policy(1.0, -1.0, 10), nil)
			f.seedHolding(t, domain.Holding{Symbol: "005930", Quantity: 10, AvgPrice: 10_000})

			report, err := f.trading.ExecuteDecisions(context.Background(),
				[]domain.TradeDecision{sell("005930", 10)}, domain.QuoteMap{"005930": tc.price})
			require.NoError(t, err)

			if tc.status == StatusExecuted {
				require.Len(t, report.Executed, 1)
				require.NotNil(t, report.Executed[0].RealizedPnL)
				assert.InDelta(t, (tc.price-10_000)*10, *report.Executed[0].RealizedPnL, 1e-6)
				assert.InDelta(t, tc.price*10, f.cash(t), 1e-6)

				h, err := f.portfolio.GetHolding(context.Background(), "005930")
				require.NoError(t, err)
				assert.Nil(t, h, "fully sold holding is removed")
				return
			}
			require.Len(t, report.Skipped, 1)
			assert.Equal(t, tc.status, report.Skipped[0].Status)
			assert.Equal(t, "test sell (policy take=1%, stop=-1%)", report.Skipped[0].Reason)
		})
	}
}

func TestExecuteDecisions_DuplicateSymbol(t *testing.T) {
	f := newFixture(t, 1_000_000, true, policy(3, -2, 100), nil)

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("005930", 1), buy("005930", 2), sell("A005930", 1)},
		domain.QuoteMap{"005930": 70_000})
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	assert.Equal(t, int64(1), report.Executed[0].Quantity)
	require.Len(t, report.Skipped, 2)
	for _, s := range report.Skipped {
		assert.Equal(t, StatusSkippedDuplicateSymbol, s.Status)
	}
}

func TestExecuteDecisions_CashNeverNegative(t *testing.T) {
	f := newFixture(t, 250_000, true, policy(3, -2, 100), nil)
	quotes := domain.QuoteMap{"A": 70_000, "B": 90_000, "C": 30_000, "D": 500_000}

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("A", 3), buy("B", 5), buy("C", 9), buy("D", 1)}, quotes)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, f.cash(t), 0.0)
	assert.GreaterOrEqual(t, report.Cash, 0.0)
	// A takes 210,000; B cannot afford one share; C takes the remaining 40,000
	require.Len(t, report.Executed, 2)
	assert.Equal(t, int64(3), report.Executed[0].Quantity)
	assert.Equal(t, int64(1), report.Executed[1].Quantity)
	assert.Equal(t, 10_000.0, f.cash(t))

	statuses := map[string]Status{}
	for _, s := range report.Skipped {
		statuses[s.Symbol] = s.Status
	}
	assert.Equal(t, StatusSkippedInsufficientCash, statuses["B"])
	assert.Equal(t, StatusSkippedInsufficientCash, statuses["D"])
}

func TestExecuteDecisions_WeightedAverageAcrossPasses(t *testing.T) {
	f := newFixture(t, 10_000_000, true, policy(3, -2, 100), nil)
	ctx := context.Background()

	_, err := f.trading.ExecuteDecisions(ctx, []domain.TradeDecision{buy("X", 10)}, domain.QuoteMap{"X": 1_000})
	require.NoError(t, err)
	_, err = f.trading.ExecuteDecisions(ctx, []domain.TradeDecision{buy("X", 30)}, domain.QuoteMap{"X": 2_000})
	require.NoError(t, err)

	h, err := f.portfolio.GetHolding(ctx, "X")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, int64(40), h.Quantity)
	assert.InDelta(t, 1_750.0, h.AvgPrice, 1e-9)

	// Partial sell keeps the average cost
	_, err = f.trading.ExecuteDecisions(ctx, []domain.TradeDecision{sell("X", 15)}, domain.QuoteMap{"X": 2_000})
	require.NoError(t, err)
	h, err = f.portfolio.GetHolding(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(25), h.Quantity)
	assert.InDelta(t, 1_750.0, h.AvgPrice, 1e-9)
}

func TestExecuteDecisions_InsufficientHoldingAndMissingPrice(t *testing.T) {
	f := newFixture(t, 1_000_000, true, policy(3, -2, 100), nil)
	f.seedHolding(t, domain.Holding{Symbol: "B", Quantity: 2, AvgPrice: 100})

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{sell("A", 1), sell("B", 3), buy("C", 1)}, domain.QuoteMap{"B": 200})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 3)
	assert.Equal(t, StatusSkippedInsufficientHolding, report.Skipped[0].Status)
	assert.Equal(t, StatusSkippedInsufficientHolding, report.Skipped[1].Status)
	assert.Equal(t, StatusSkippedInsufficientCash, report.Skipped[2].Status)
	assert.Equal(t, 0.0, report.Skipped[2].Price)
}

func TestExecuteDecisions_RealOrderFailureKeepsEarlierFills(t *testing.T) {
	f := newFixture(t, 1_000_000, false, policy(3, -2, 100), nil)
	f.orders.failOn = "B"
	ctx := context.Background()

	report, err := f.trading.ExecuteDecisions(ctx,
		[]domain.TradeDecision{buy("A", 1), buy("B", 1), buy("C", 1)},
		domain.QuoteMap{"A": 1_000, "B": 2_000, "C": 3_000})

	var orderErr *OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, "B", orderErr.Symbol)

	require.Len(t, report.Executed, 1)
	assert.Equal(t, "A", report.Executed[0].Symbol)
	assert.Equal(t, 999_000.0, f.cash(t))
	require.Len(t, f.orders.calls, 1)

	b, err := f.portfolio.GetHolding(ctx, "B")
	require.NoError(t, err)
	assert.Nil(t, b)

	trades, err := f.trading.Trades().List(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeModeReal, trades[0].Mode)
	assert.Equal(t, "ord-A", trades[0].OrderID)

	snaps, err := f.portfolio.Snapshots(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "snapshot is written even when the pass stops")
}

func TestExecuteDecisions_ZeroDecisionsStillSnapshots(t *testing.T) {
	f := newFixture(t, 500_000, true, policy(3, -2, 10), nil)
	f.seedHolding(t, domain.Holding{Symbol: "A", Quantity: 10, AvgPrice: 1_000})
	ctx := context.Background()

	report, err := f.trading.ExecuteDecisions(ctx, nil, domain.QuoteMap{"A": 1_500})
	require.NoError(t, err)
	assert.Empty(t, report.Executed)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, 15_000.0, report.HoldingsValue)
	assert.Equal(t, 515_000.0, report.TotalAsset)

	snaps, err := f.portfolio.Snapshots(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 515_000.0, snaps[0].TotalAsset)
}

func TestExecuteDecisions_PrefersRealtimePrice(t *testing.T) {
	cache := marketdata.NewCache(time.Minute)
	cache.SetPrice("005930", 12_000, "0B")
	f := newFixture(t, 1_000_000, true, policy(3, -2, 100), cache)

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{buy("005930", 2)}, domain.QuoteMap{"005930": 10_000})
	require.NoError(t, err)

	require.Len(t, report.Executed, 1)
	assert.Equal(t, 12_000.0, report.Executed[0].Price)
	assert.Equal(t, 976_000.0, f.cash(t))
}

func TestExecuteDecisions_MinHoldBlocksEarlyTakeProfit(t *testing.T) {
	p := policy(1, -1, 100)
	p.MinHoldMinutes = 30
	f := newFixture(t, 0, true, p, nil)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	f.trading.now = func() time.Time { return now }
	f.seedHolding(t, domain.Holding{Symbol: "A", Quantity: 4, AvgPrice: 1_000, LastBoughtAt: now.Add(-10 * time.Minute)})
	f.seedHolding(t, domain.Holding{Symbol: "B", Quantity: 4, AvgPrice: 1_000, LastBoughtAt: now.Add(-10 * time.Minute)})

	report, err := f.trading.ExecuteDecisions(context.Background(),
		[]domain.TradeDecision{sell("A", 4), sell("B", 4)}, domain.QuoteMap{"A": 1_100, "B": 900})
	require.NoError(t, err)

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "A", report.Skipped[0].Symbol)
	assert.Equal(t, "test sell (min hold 30m)", report.Skipped[0].Reason)
	require.Len(t, report.Executed, 1)
	assert.Equal(t, "B", report.Executed[0].Symbol, "stop-loss ignores the minimum hold")
}
