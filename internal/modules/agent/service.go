// Package agent runs the market and news cycles.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/aristath/tradeagent/internal/modules/portfolio"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/aristath/tradeagent/internal/modules/trading"
	"github.com/aristath/tradeagent/internal/modules/universe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrCycleRunning is returned when a cycle is triggered while the same cycle runs
var ErrCycleRunning = errors.New("cycle already running")

// DefaultQuoteConcurrency bounds in-flight quote requests per cycle
const DefaultQuoteConcurrency = 8

// RealtimeTypes are the push types registered for universe symbols
var RealtimeTypes = []string{"0B", "0D"}

// Broker is the slice of the brokerage client the cycles need
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (domain.Quote, error)
	RegisterRealtimeQuotes(ctx context.Context, symbols, types []string) error
}

// RealtimeOverlay applies pushed prices to REST quotes
type RealtimeOverlay interface {
	ApplyRealtimeToQuote(q domain.Quote) domain.Quote
}

// UniverseResolver picks the symbols for a cycle
type UniverseResolver interface {
	ResolveUniverseSelection(ctx context.Context, policy strategy.UniversePolicy, held []string) (universe.Selection, error)
}

// UniversePolicySource provides the current universe policy
type UniversePolicySource interface {
	UniversePolicy() strategy.UniversePolicy
}

// QuoteStore persists fetched quotes
type QuoteStore interface {
	SaveQuotes(ctx context.Context, quotes []domain.Quote) error
}

// DecisionMaker produces actionable decisions
type DecisionMaker interface {
	DecideTrades(ctx context.Context, dc trading.DecisionContext) []domain.TradeDecision
}

// Executor applies decisions to the ledger
type Executor interface {
	ExecuteDecisions(ctx context.Context, decisions []domain.TradeDecision, quotes domain.QuoteMap) (trading.ExecutionReport, error)
}

// NewsCycle scrapes news and refines the strategy
type NewsCycle interface {
	ScrapeLatestNews(ctx context.Context) ([]domain.NewsArticle, error)
	RefineStrategyWithNews(ctx context.Context) (bool, error)
}

// Deps wires the agent's collaborators
type Deps struct {
	Broker    Broker
	Realtime  RealtimeOverlay
	Universe  UniverseResolver
	Policy    UniversePolicySource
	Quotes    QuoteStore
	Portfolio *portfolio.PortfolioService
	Decisions DecisionMaker
	Executor  Executor
	Reports   *ReportRepository
	News      NewsCycle
	Events    *events.Manager
}

// MarketCycleResult summarizes one market cycle
type MarketCycleResult struct {
	RunID        string                   `json:"runId"`
	Universe     []string                 `json:"universe"`
	Quotes       int                      `json:"quotes"`
	FailedQuotes int                      `json:"failedQuotes"`
	Decisions    int                      `json:"decisions"`
	Execution    *trading.ExecutionReport `json:"execution,omitempty"`
	Report       *ReportRun               `json:"report,omitempty"`
}

// NewsCycleResult summarizes one news cycle
type NewsCycleResult struct {
	Articles        int  `json:"articles"`
	StrategyUpdated bool `json:"strategyUpdated"`
}

// Service orchestrates market and news cycles. Each cycle kind runs at most once at a time.
type Service struct {
	deps        Deps
	concurrency int64
	marketMu    sync.Mutex
	newsMu      sync.Mutex
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates the agent. concurrency <= 0 uses DefaultQuoteConcurrency.
func NewService(deps Deps, concurrency int, log zerolog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultQuoteConcurrency
	}
	return &Service{
		deps:        deps,
		concurrency: int64(concurrency),
		now:         time.Now,
		log:         log.With().Str("service", "agent").Logger(),
	}
}

// Init ensures the portfolio state row exists
func (s *Service) Init(ctx context.Context) error {
	state, err := s.deps.Portfolio.EnsurePortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure portfolio state: %w", err)
	}
	s.log.Info().
		Float64("cash", state.Cash).
		Bool("virtual", state.VirtualMode).
		Msg("Agent initialized")
	return nil
}

// RunMarketCycle resolves the universe, fetches quotes, decides and executes
func (s *Service) RunMarketCycle(ctx context.Context) (*MarketCycleResult, error) {
	if !s.marketMu.TryLock() {
		s.log.Warn().Msg("Market cycle already running, skipping trigger")
		return nil, ErrCycleRunning
	}
	defer s.marketMu.Unlock()

	start := s.now()
	result := &MarketCycleResult{RunID: uuid.New().String()}
	log := s.log.With().Str("run_id", result.RunID).Logger()

	holdings, err := s.deps.Portfolio.GetHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}
	held := make([]string, 0, len(holdings))
	for _, h := range holdings {
		held = append(held, h.Symbol)
	}

	selection, err := s.deps.Universe.ResolveUniverseSelection(ctx, s.deps.Policy.UniversePolicy(), held)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve universe: %w", err)
	}
	result.Universe = selection.Symbols
	if len(selection.Symbols) == 0 {
		log.Info().Msg("Empty universe, nothing to trade")
		return result, nil
	}

	if err := s.deps.Broker.RegisterRealtimeQuotes(ctx, selection.Symbols, RealtimeTypes); err != nil {
		log.Warn().Err(err).Msg("Failed to register realtime quotes")
	}

	quotes, failed := s.fetchQuotes(ctx, selection.Symbols)
	result.Quotes = len(quotes)
	result.FailedQuotes = failed
	if failed > 0 {
		log.Warn().Int("failed", failed).Int("requested", len(selection.Symbols)).Msg("Market cycle quote failures")
	}
	if len(quotes) == 0 {
		log.Warn().Msg("No quotes fetched, ending market cycle")
		return result, nil
	}

	if s.deps.Quotes != nil {
		if err := s.deps.Quotes.SaveQuotes(ctx, quotes); err != nil {
			log.Warn().Err(err).Msg("Failed to persist quotes")
		}
	}

	state, err := s.deps.Portfolio.EnsurePortfolioState(ctx)
	if err != nil {
		return nil, err
	}
	decisions := s.deps.Decisions.DecideTrades(ctx, trading.DecisionContext{
		Cash:     state.Cash,
		Quotes:   quotes,
		Holdings: holdings,
	})
	result.Decisions = len(decisions)

	report, execErr := s.deps.Executor.ExecuteDecisions(ctx, decisions, domain.NewQuoteMap(quotes))
	result.Execution = &report
	if execErr != nil {
		log.Error().Err(execErr).Msg("Execution pass stopped early")
	}

	rep, err := s.writeReport(ctx, result, report)
	if err != nil {
		log.Error().Err(err).Msg("Failed to write cycle report")
	} else {
		result.Report = rep
	}

	s.emitMarket(result, report)

	log.Info().
		Int("universe", len(result.Universe)).
		Int("quotes", result.Quotes).
		Int("decisions", result.Decisions).
		Int("executed", len(report.Executed)).
		Dur("duration", s.now().Sub(start)).
		Msg("Market cycle complete")
	return result, execErr
}

// fetchQuotes fetches quotes concurrently; failed symbols are dropped and counted
func (s *Service) fetchQuotes(ctx context.Context, symbols []string) ([]domain.Quote, int) {
	sem := semaphore.NewWeighted(s.concurrency)
	results := make([]*domain.Quote, len(symbols))
	var wg sync.WaitGroup

	for i, symbol := range symbols {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			defer sem.Release(1)

			q, err := s.deps.Broker.GetQuote(ctx, symbol)
			if err != nil {
				s.log.Debug().Err(err).Str("symbol", symbol).Msg("Quote fetch failed")
				return
			}
			if s.deps.Realtime != nil {
				q = s.deps.Realtime.ApplyRealtimeToQuote(q)
			}
			results[i] = &q
		}(i, symbol)
	}
	wg.Wait()

	quotes := make([]domain.Quote, 0, len(symbols))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes, len(symbols) - len(quotes)
}

func (s *Service) writeReport(ctx context.Context, result *MarketCycleResult, exec trading.ExecutionReport) (*ReportRun, error) {
	if s.deps.Reports == nil {
		return nil, nil
	}

	previous, err := s.deps.Reports.Latest(ctx)
	if err != nil {
		return nil, err
	}
	delta := 0.0
	if previous != nil {
		delta = exec.TotalAsset - previous.TotalAsset
	}

	buys, sells := exec.Counts()
	rep := ReportRun{
		RunID:         result.RunID,
		TotalAsset:    exec.TotalAsset,
		HoldingsValue: exec.HoldingsValue,
		AssetDelta:    delta,
		Cash:          exec.Cash,
		BuyCount:      buys,
		SellCount:     sells,
		TradeCount:    len(exec.Executed),
		DecisionCount: result.Decisions,
		UniverseSize:  len(result.Universe),
		CreatedAt:     s.now(),
	}
	rep.Report = RenderReport(rep, exec, result.FailedQuotes)

	created, err := s.deps.Reports.Create(ctx, rep)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// RenderReport formats the markdown body of a cycle report
func RenderReport(rep ReportRun, exec trading.ExecutionReport, failedQuotes int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Market cycle %s\n\n", rep.RunID)
	fmt.Fprintf(&b, "- Total asset: %.0f (%+.0f)\n", rep.TotalAsset, rep.AssetDelta)
	fmt.Fprintf(&b, "- Cash: %.0f\n", rep.Cash)
	fmt.Fprintf(&b, "- Holdings value: %.0f\n", rep.HoldingsValue)
	fmt.Fprintf(&b, "- Universe: %d symbols, %d quote failures\n", rep.UniverseSize, failedQuotes)
	fmt.Fprintf(&b, "- Decisions: %d, executed: %d (buy %d, sell %d)\n",
		rep.DecisionCount, rep.TradeCount, rep.BuyCount, rep.SellCount)

	if len(exec.Executed) > 0 {
		b.WriteString("\n## Executed\n\n")
		for _, t := range exec.Executed {
			fmt.Fprintf(&b, "- %s %s x%d @ %.0f", t.Side, t.Symbol, t.Quantity, t.Price)
			if t.RealizedPnL != nil {
				fmt.Fprintf(&b, " pnl %+.0f", *t.RealizedPnL)
			}
			if t.Reason != "" {
				fmt.Fprintf(&b, " - %s", t.Reason)
			}
			b.WriteString("\n")
		}
	}
	if len(exec.Skipped) > 0 {
		b.WriteString("\n## Skipped\n\n")
		for _, t := range exec.Skipped {
			fmt.Fprintf(&b, "- %s %s x%d: %s", t.Side, t.Symbol, t.Quantity, t.Status)
			if t.Reason != "" {
				fmt.Fprintf(&b, " - %s", t.Reason)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (s *Service) emitMarket(result *MarketCycleResult, exec trading.ExecutionReport) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.EmitData("agent", &events.MarketData{
		RunID:        result.RunID,
		Universe:     result.Universe,
		QuoteCount:   result.Quotes,
		FailedQuotes: result.FailedQuotes,
		Decisions:    result.Decisions,
		Executed:     len(exec.Executed),
		Skipped:      len(exec.Skipped),
	})
	if result.Report != nil {
		s.deps.Events.EmitData("agent", &events.ReportData{
			ReportID:      result.Report.ID,
			RunID:         result.RunID,
			Cash:          result.Report.Cash,
			HoldingsValue: result.Report.HoldingsValue,
			TotalAsset:    result.Report.TotalAsset,
			AssetDelta:    result.Report.AssetDelta,
			TradeCount:    result.Report.TradeCount,
		})
	}
}

// RunNewsCycle scrapes news, refines the strategy and emits a news event
func (s *Service) RunNewsCycle(ctx context.Context) (*NewsCycleResult, error) {
	if s.deps.News == nil {
		return &NewsCycleResult{}, nil
	}
	if !s.newsMu.TryLock() {
		s.log.Warn().Msg("News cycle already running, skipping trigger")
		return nil, ErrCycleRunning
	}
	defer s.newsMu.Unlock()

	articles, err := s.deps.News.ScrapeLatestNews(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape news: %w", err)
	}

	updated, err := s.deps.News.RefineStrategyWithNews(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Strategy refinement failed")
	}

	result := &NewsCycleResult{Articles: len(articles), StrategyUpdated: updated}
	if s.deps.Events != nil {
		s.deps.Events.EmitData("agent", &events.NewsData{Articles: result.Articles, StrategyUpdated: updated})
	}
	s.log.Info().Int("articles", result.Articles).Bool("strategy_updated", updated).Msg("News cycle complete")
	return result, nil
}
