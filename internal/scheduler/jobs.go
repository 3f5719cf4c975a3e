package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/modules/agent"
	"github.com/rs/zerolog"
)

const (
	marketCycleTimeout = 8 * time.Minute
	newsCycleTimeout   = 10 * time.Minute
	refreshTimeout     = 5 * time.Minute
	cleanupTimeout     = time.Minute
)

// Cycles runs agent cycles
type Cycles interface {
	RunMarketCycle(ctx context.Context) (*agent.MarketCycleResult, error)
	RunNewsCycle(ctx context.Context) (*agent.NewsCycleResult, error)
}

// MarketCycleJob runs one market cycle per tick
type MarketCycleJob struct {
	cycles Cycles
	log    zerolog.Logger
}

// NewMarketCycleJob creates the market cycle job
func NewMarketCycleJob(cycles Cycles, log zerolog.Logger) *MarketCycleJob {
	return &MarketCycleJob{cycles: cycles, log: log.With().Str("job", "market_cycle").Logger()}
}

// Name returns the job name
func (j *MarketCycleJob) Name() string { return "market_cycle" }

// Run executes one market cycle. An overlapping tick is not an error.
func (j *MarketCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), marketCycleTimeout)
	defer cancel()

	_, err := j.cycles.RunMarketCycle(ctx)
	if errors.Is(err, agent.ErrCycleRunning) {
		return nil
	}
	return err
}

// NewsCycleJob scrapes news and refines the strategy
type NewsCycleJob struct {
	cycles Cycles
	log    zerolog.Logger
}

// NewNewsCycleJob creates the news cycle job
func NewNewsCycleJob(cycles Cycles, log zerolog.Logger) *NewsCycleJob {
	return &NewsCycleJob{cycles: cycles, log: log.With().Str("job", "news_cycle").Logger()}
}

// Name returns the job name
func (j *NewsCycleJob) Name() string { return "news_cycle" }

// Run executes one news cycle
func (j *NewsCycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), newsCycleTimeout)
	defer cancel()

	_, err := j.cycles.RunNewsCycle(ctx)
	if errors.Is(err, agent.ErrCycleRunning) {
		return nil
	}
	return err
}

// SourceRefresher reloads the catalog from the configured download
type SourceRefresher interface {
	RefreshFromSource(ctx context.Context) (int, error)
}

// BrokerRefresher reloads the catalog from the broker's stock list
type BrokerRefresher interface {
	RefreshFromBroker(ctx context.Context, markets []string) (int, error)
}

// UniverseRefreshJob replaces the catalog from the download when one is
// configured, otherwise from the broker
type UniverseRefreshJob struct {
	source  SourceRefresher
	broker  BrokerRefresher
	markets func() []string
	log     zerolog.Logger
}

// NewUniverseRefreshJob creates the catalog refresh job. source may be nil.
func NewUniverseRefreshJob(source SourceRefresher, broker BrokerRefresher, markets func() []string, log zerolog.Logger) *UniverseRefreshJob {
	return &UniverseRefreshJob{
		source:  source,
		broker:  broker,
		markets: markets,
		log:     log.With().Str("job", "universe_refresh").Logger(),
	}
}

// Name returns the job name
func (j *UniverseRefreshJob) Name() string { return "universe_refresh" }

// Run refreshes the catalog
func (j *UniverseRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if j.source != nil {
		count, err := j.source.RefreshFromSource(ctx)
		if err == nil {
			j.log.Info().Int("entries", count).Msg("Universe refreshed from source")
			return nil
		}
		if j.broker == nil {
			return err
		}
		j.log.Warn().Err(err).Msg("Source refresh failed, falling back to broker")
	}
	if j.broker == nil {
		return nil
	}

	count, err := j.broker.RefreshFromBroker(ctx, j.markets())
	if err != nil {
		return fmt.Errorf("broker refresh failed: %w", err)
	}
	j.log.Info().Int("entries", count).Msg("Universe refreshed from broker")
	return nil
}

// QuotePruner deletes persisted quotes older than a cutoff
type QuotePruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuoteHistoryCleanupJob prunes market_quotes past the retention window
type QuoteHistoryCleanupJob struct {
	history   QuotePruner
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewQuoteHistoryCleanupJob creates the quote history cleanup job
func NewQuoteHistoryCleanupJob(history QuotePruner, retention time.Duration, log zerolog.Logger) *QuoteHistoryCleanupJob {
	return &QuoteHistoryCleanupJob{
		history:   history,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "quote_history_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *QuoteHistoryCleanupJob) Name() string { return "quote_history_cleanup" }

// Run deletes quotes older than the retention window
func (j *QuoteHistoryCleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := j.history.DeleteBefore(ctx, j.now().Add(-j.retention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Pruned quote history")
	}
	return nil
}
