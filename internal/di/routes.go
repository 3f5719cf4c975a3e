package di

import (
	calllogs "github.com/aristath/tradeagent/internal/clientdata/handlers"
	brokerhandlers "github.com/aristath/tradeagent/internal/clients/kiwoom/handlers"
	agenthandlers "github.com/aristath/tradeagent/internal/modules/agent/handlers"
	newshandlers "github.com/aristath/tradeagent/internal/modules/news/handlers"
	portfoliohandlers "github.com/aristath/tradeagent/internal/modules/portfolio/handlers"
	strategyhandlers "github.com/aristath/tradeagent/internal/modules/strategy/handlers"
	tradinghandlers "github.com/aristath/tradeagent/internal/modules/trading/handlers"
	universehandlers "github.com/aristath/tradeagent/internal/modules/universe/handlers"
	"github.com/aristath/tradeagent/internal/server"
	"github.com/rs/zerolog"
)

// RouteModules builds the HTTP handlers mounted under /api
func RouteModules(container *Container, log zerolog.Logger) []server.RouteRegistrar {
	return []server.RouteRegistrar{
		portfoliohandlers.NewHandler(container.Portfolio, container.realtimePrice, log),
		tradinghandlers.NewTradingHandlers(container.TradeRepo, container.Catalog, log),
		strategyhandlers.NewHandler(container.Strategy, log),
		universehandlers.NewHandler(
			container.UniverseRepo,
			container.sourceRefresher(),
			container.BrokerSync,
			container.Strategy,
			log,
		),
		newshandlers.NewHandler(container.NewsRepo, log),
		agenthandlers.NewHandler(container.Reports, container.Agent, log),
		brokerhandlers.NewHandler(container.Broker, container.Realtime, container.Strategy, log),
		calllogs.NewHandler(container.ClientData, log),
	}
}

// StatsProviders lists the databases reported by the system endpoints
func (c *Container) StatsProviders() []server.StatsProvider {
	providers := make([]server.StatsProvider, 0, 2)
	for _, db := range c.Databases() {
		providers = append(providers, db)
	}
	return providers
}

// realtimePrice marks holdings at the last pushed price
func (c *Container) realtimePrice(symbol string) (float64, bool) {
	entry, ok := c.Realtime.GetRealtimePrice(symbol)
	return entry.Price, ok
}
