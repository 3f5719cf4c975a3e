package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/aristath/tradeagent/internal/modules/trading"
	"github.com/aristath/tradeagent/internal/modules/universe"
	testutil "github.com/aristath/tradeagent/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureNews struct{}

func (fixtureNews) GetLatestNews(context.Context, int) ([]domain.NewsArticle, error) {
	return testutil.NewNewsFixtures(), nil
}

type wiredCycle struct {
	service    *Service
	broker     *testutil.MockBroker
	generator  *testutil.MockTextGenerator
	portfolio  *portfolio.PortfolioService
	brokerSync *universe.BrokerSync
	reports    *ReportRepository
}

// newWiredCycle builds the agent over real repositories and services with a
// mock broker and model. The catalog starts empty, so the watch list is
// traded until the broker sync fills it.
func newWiredCycle(t *testing.T, answer string, watch []string) *wiredCycle {
	ledgerDB, cleanupLedger := testutil.NewTestDB(t, database.NameLedger)
	t.Cleanup(cleanupLedger)
	marketDB, cleanupMarket := testutil.NewTestDB(t, database.NameMarket)
	t.Cleanup(cleanupMarket)

	log := zerolog.Nop()
	ledger := ledgerDB.Conn()
	market := marketDB.Conn()

	broker := testutil.NewMockBroker()
	broker.SetQuotes(testutil.NewQuoteFixtures())
	generator := testutil.NewMockTextGenerator(answer)
	cache := marketdata.NewCache(marketdata.DefaultTTL)

	strategySvc := strategy.NewService(filepath.Join(t.TempDir(), "strategy.md"), strategy.NewRevisionRepository(ledger, log), log)
	catalog := universe.NewCatalog(universe.NewRepository(market, log), log)
	history := universe.NewHistoryDB(market, log)
	resolver := universe.NewResolver(catalog, history, broker, fixtureNews{}, watch, log)

	portfolioSvc := portfolio.NewPortfolioService(ledger, 1_000_000, true, log)
	trades := trading.NewTradeRepository(ledger, log)
	tradingSvc := trading.NewTradingService(portfolioSvc, trades, strategySvc, broker, cache, log)
	engine := trading.NewDecisionEngine(generator, strategySvc, fixtureNews{}, catalog, cache, history, log)

	reports := NewReportRepository(ledger, log)
	svc := NewService(Deps{
		Broker:    broker,
		Realtime:  cache,
		Universe:  resolver,
		Policy:    strategySvc,
		Quotes:    history,
		Portfolio: portfolioSvc,
		Decisions: engine,
		Executor:  tradingSvc,
		Reports:   reports,
		Events:    events.NewManager(log),
	}, DefaultQuoteConcurrency, log)
	require.NoError(t, svc.Init(context.Background()))

	return &wiredCycle{
		service:    svc,
		broker:     broker,
		generator:  generator,
		portfolio:  portfolioSvc,
		brokerSync: universe.NewBrokerSync(broker, catalog, log),
		reports:    reports,
	}
}

func TestMarketCycle_WiredVirtualBuy(t *testing.T) {
	answer := `[{"symbol":"035420","side":"BUY","quantity":0.9,"reason":"ignored","confidence":0.2},
		{"symbol":"005930","side":"BUY","quantity":1,"reason":"memory upcycle","confidence":0.8}]`
	c := newWiredCycle(t, answer, []string{"005930", "035420"})
	ctx := context.Background()

	result, err := c.service.RunMarketCycle(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"005930", "035420"}, result.Universe)
	assert.Equal(t, 2, result.Quotes)
	assert.Equal(t, 0, result.FailedQuotes)
	assert.ElementsMatch(t, []string{"005930", "035420"}, c.broker.Registered())
	require.Len(t, c.generator.Prompts(), 1)
	assert.Contains(t, c.generator.Prompts()[0], "005930")

	// quantity 0.9 floors to zero and is not actionable
	require.NotNil(t, result.Execution)
	require.Len(t, result.Execution.Executed, 1)
	assert.Equal(t, "005930", result.Execution.Executed[0].Symbol)
	assert.Equal(t, trading.StatusExecuted, result.Execution.Executed[0].Status)

	// virtual mode never reaches the broker
	assert.Empty(t, c.broker.Orders())

	holdings, err := c.portfolio.GetHoldings(ctx)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(1), holdings[0].Quantity)
	assert.InDelta(t, 71200.0, holdings[0].AvgPrice, 0.001)

	state, err := c.portfolio.EnsurePortfolioState(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000-71200.0, state.Cash, 0.001)

	require.NotNil(t, result.Report)
	assert.Equal(t, 1, result.Report.BuyCount)
	assert.Contains(t, result.Report.Report, "005930")

	stored, err := c.reports.Get(ctx, result.Report.ID)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, stored.RunID)
}

func TestMarketCycle_WiredUnknownSymbolCountsAsFailedQuote(t *testing.T) {
	c := newWiredCycle(t, "[]", []string{"005930", "999999"})

	result, err := c.service.RunMarketCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Quotes)
	assert.Equal(t, 1, result.FailedQuotes)
	assert.Equal(t, 0, result.Decisions)
	require.NotNil(t, result.Report)
	assert.Equal(t, 0, result.Report.TradeCount)
}

func TestMarketCycle_WiredSellWithoutHoldingIsSkipped(t *testing.T) {
	answer := `[{"symbol":"000660","side":"SELL","quantity":2,"reason":"rotate","confidence":0.5}]`
	c := newWiredCycle(t, answer, []string{"000660"})

	result, err := c.service.RunMarketCycle(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.Execution)
	assert.Empty(t, result.Execution.Executed)
	require.Len(t, result.Execution.Skipped, 1)
	assert.Equal(t, trading.StatusSkippedInsufficientHolding, result.Execution.Skipped[0].Status)
	assert.Equal(t, domain.SideSell, result.Execution.Skipped[0].Side)
}

func TestMarketCycle_WiredCatalogFromBroker(t *testing.T) {
	c := newWiredCycle(t, "[]", []string{"999999"})
	c.broker.SetStockList(testutil.NewListedStockFixtures())
	ctx := context.Background()

	count, err := c.brokerSync.RefreshFromBroker(ctx, []string{"KOSPI"})
	require.NoError(t, err)
	assert.Equal(t, len(testutil.NewUniverseEntryFixtures()), count)

	result, err := c.service.RunMarketCycle(ctx)
	require.NoError(t, err)

	// the watch list is only used when the catalog is empty
	assert.ElementsMatch(t, []string{"005930", "000660", "035420"}, result.Universe)
	assert.Equal(t, 3, result.Quotes)
	assert.Equal(t, 0, result.FailedQuotes)

	// catalog names reach the news signals in the prompt
	require.Len(t, c.generator.Prompts(), 1)
	assert.Contains(t, c.generator.Prompts()[0], "Samsung Electronics lifts memory guidance")
}
