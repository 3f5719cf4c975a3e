package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/config"
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
	"github.com/rs/zerolog"
)

const (
	newsScrapeTimeout = 15 * time.Second
	s3SetupTimeout    = 30 * time.Second
)

// InitializeServices builds the clients, repositories and services on top of the databases
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	ledger := container.LedgerDB.Conn()
	market := container.MarketDB.Conn()

	container.Events = events.NewManager(log)
	container.Realtime = marketdata.NewCache(cfg.Kiwoom.RealtimeTTL)
	container.ClientData = clientdata.NewRepository(market, log)

	container.Broker = kiwoom.NewClient(kiwoom.Config{
		BaseURL:        cfg.Kiwoom.BaseURL,
		WSURL:          cfg.Kiwoom.WSURL,
		AppKey:         cfg.Kiwoom.AppKey,
		AppSecret:      cfg.Kiwoom.AppSecret,
		Mock:           cfg.Kiwoom.Mock,
		MinInterval:    cfg.Kiwoom.MinInterval,
		RequestTimeout: cfg.Kiwoom.RequestTimeout,
	}, container.Realtime, container.ClientData, container.Events, log)

	container.LLM = llm.New(cfg.Gemini.APIKey, cfg.Gemini.Model, log, llm.WithRecorder(container.ClientData))

	// Strategy
	container.Strategy = strategy.NewService(cfg.Strategy.FilePath, strategy.NewRevisionRepository(ledger, log), log)

	// Universe
	container.UniverseRepo = universe.NewRepository(market, log)
	container.Catalog = universe.NewCatalog(container.UniverseRepo, log)
	if cfg.Universe.SourceURL != "" {
		container.SourceSync = universe.NewSourceSync(universe.SourceConfig{
			URL:            cfg.Universe.SourceURL,
			Format:         cfg.Universe.SourceFormat,
			SymbolField:    cfg.Universe.SymbolField,
			MarketCapField: cfg.Universe.MarketCapField,
			NameField:      cfg.Universe.NameField,
		}, container.Catalog, log)
	}
	container.BrokerSync = universe.NewBrokerSync(container.Broker, container.Catalog, log)
	container.QuoteHistory = universe.NewHistoryDB(market, log)

	// News
	pages := make([]news.PageSource, 0, len(cfg.News.Pages))
	for _, p := range cfg.News.Pages {
		pages = append(pages, news.PageSource{URL: p.URL, Selector: p.Selector})
	}
	container.NewsRepo = news.NewRepository(market, log)
	container.News = news.NewService(news.Config{
		Feeds:   cfg.News.Feeds,
		Pages:   pages,
		Timeout: newsScrapeTimeout,
	}, container.NewsRepo, container.LLM, container.Strategy, log)

	container.Resolver = universe.NewResolver(
		container.Catalog,
		container.QuoteHistory,
		container.Broker,
		container.News,
		cfg.WatchList,
		log,
	)

	// Portfolio and trading
	container.Portfolio = portfolio.NewPortfolioService(ledger, cfg.Portfolio.InitialCapital, cfg.Portfolio.VirtualMode, log)
	container.TradeRepo = trading.NewTradeRepository(ledger, log)
	container.Trading = trading.NewTradingService(
		container.Portfolio,
		container.TradeRepo,
		container.Strategy,
		container.Broker,
		container.Realtime,
		log,
	)
	container.Decisions = trading.NewDecisionEngine(
		container.LLM,
		container.Strategy,
		container.News,
		container.Catalog,
		container.Realtime,
		container.QuoteHistory,
		log,
	)

	// Agent
	container.Reports = agent.NewReportRepository(ledger, log)
	container.Agent = agent.NewService(agent.Deps{
		Broker:    container.Broker,
		Realtime:  container.Realtime,
		Universe:  container.Resolver,
		Policy:    container.Strategy,
		Quotes:    container.QuoteHistory,
		Portfolio: container.Portfolio,
		Decisions: container.Decisions,
		Executor:  container.Trading,
		Reports:   container.Reports,
		News:      container.News,
		Events:    container.Events,
	}, agent.DefaultQuoteConcurrency, log)

	// Backups
	if cfg.Backup.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s3SetupTimeout)
		defer cancel()

		store, err := reliability.NewS3Store(ctx, reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.Backup = reliability.NewBackupService(store, []reliability.Snapshotter{
			container.LedgerDB,
			container.MarketDB,
		}, cfg.DataDir, log)
	} else {
		log.Info().Msg("BACKUP_BUCKET not set, backups disabled")
	}

	log.Info().
		Bool("mock", cfg.Kiwoom.Mock).
		Bool("virtual", cfg.Portfolio.VirtualMode).
		Msg("Services initialized")

	return nil
}
