package di

import (
	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/agent"
	"github.com/aristath/tradeagent/internal/modules/llm"
	"github.com/aristath/tradeagent/internal/modules/news"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/aristath/tradeagent/internal/modules/trading"
	"github.com/aristath/tradeagent/internal/modules/universe"
	"github.com/aristath/tradeagent/internal/reliability"
	"github.com/aristath/tradeagent/internal/scheduler"
)

// Container holds every wired dependency of the agent.
//
// Two databases back the process:
//   - ledger.db: cash, holdings, trade logs, reports and strategy revisions
//   - market.db: quotes, universe catalog, news and client call logs
type Container struct {
	LedgerDB *database.DB
	MarketDB *database.DB

	// Infrastructure
	Events     *events.Manager
	Realtime   *marketdata.Cache
	ClientData *clientdata.Repository
	Broker     *kiwoom.Client
	LLM        *llm.Client

	// Strategy and universe
	Strategy     *strategy.Service
	UniverseRepo *universe.Repository
	Catalog      *universe.Catalog
	SourceSync   *universe.SourceSync // nil when no catalog URL is configured
	BrokerSync   *universe.BrokerSync
	QuoteHistory *universe.HistoryDB
	Resolver     *universe.Resolver

	// News
	NewsRepo *news.Repository
	News     *news.Service

	// Portfolio and trading
	Portfolio *portfolio.PortfolioService
	TradeRepo *trading.TradeRepository
	Trading   *trading.TradingService
	Decisions *trading.DecisionEngine

	// Agent
	Reports *agent.ReportRepository
	Agent   *agent.Service

	// Reliability
	Backup *reliability.BackupService // nil when no bucket is configured

	Scheduler *scheduler.Scheduler
}

// Databases returns both databases, ledger first
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	if c.LedgerDB != nil {
		dbs = append(dbs, c.LedgerDB)
	}
	if c.MarketDB != nil {
		dbs = append(dbs, c.MarketDB)
	}
	return dbs
}

// Close releases the broker connections and the databases
func (c *Container) Close() {
	if c.Broker != nil {
		c.Broker.Close()
	}
	for _, db := range c.Databases() {
		db.Close()
	}
}
