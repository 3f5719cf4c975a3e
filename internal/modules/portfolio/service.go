// Package portfolio owns the cash ledger, holdings and the asset timeline.
package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// PortfolioService reads and values the portfolio and records snapshots.
// Ledger mutations run through Commit so callers can group them with trade logs.
type PortfolioService struct {
	ledgerDB       *sql.DB
	states         *StateRepository
	positions      *PositionRepository
	snapshots      *SnapshotRepository
	initialCapital float64
	virtualMode    bool
	now            func() time.Time
	log            zerolog.Logger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(ledgerDB *sql.DB, initialCapital float64, virtualMode bool, log zerolog.Logger) *PortfolioService {
	return &PortfolioService{
		ledgerDB:       ledgerDB,
		states:         NewStateRepository(ledgerDB, log),
		positions:      NewPositionRepository(ledgerDB, log),
		snapshots:      NewSnapshotRepository(ledgerDB),
		initialCapital: initialCapital,
		virtualMode:    virtualMode,
		now:            time.Now,
		log:            log.With().Str("service", "portfolio").Logger(),
	}
}

// EnsurePortfolioState returns the state row, creating it on first use
func (s *PortfolioService) EnsurePortfolioState(ctx context.Context) (domain.PortfolioState, error) {
	return s.states.Ensure(ctx, s.initialCapital, s.virtualMode)
}

// GetHoldings returns all open positions
func (s *PortfolioService) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	return s.positions.GetAll(ctx)
}

// GetHolding returns one position, nil when not held
func (s *PortfolioService) GetHolding(ctx context.Context, symbol string) (*domain.Holding, error) {
	return s.positions.GetBySymbol(ctx, symbol)
}

// Positions exposes the holding repository for ledger transactions
func (s *PortfolioService) Positions() *PositionRepository {
	return s.positions
}

// States exposes the state repository for ledger transactions
func (s *PortfolioService) States() *StateRepository {
	return s.states
}

// Commit runs fn in one ledger transaction
func (s *PortfolioService) Commit(fn func(tx *sql.Tx) error) error {
	return database.WithTransaction(s.ledgerDB, fn)
}

// Valuate marks the current portfolio to market
func (s *PortfolioService) Valuate(ctx context.Context, lookup PriceLookup) (Valuation, error) {
	state, err := s.EnsurePortfolioState(ctx)
	if err != nil {
		return Valuation{}, err
	}
	holdings, err := s.positions.GetAll(ctx)
	if err != nil {
		return Valuation{}, err
	}
	return Value(state, holdings, lookup), nil
}

// SnapshotAsset values the portfolio and appends it to the asset timeline
func (s *PortfolioService) SnapshotAsset(ctx context.Context, lookup PriceLookup) (Valuation, error) {
	v, err := s.Valuate(ctx, lookup)
	if err != nil {
		return Valuation{}, err
	}

	snap := Snapshot{
		Cash:          v.Cash,
		HoldingsValue: v.HoldingsValue,
		TotalAsset:    v.TotalAsset,
		CreatedAt:     s.now(),
	}
	if _, err := s.snapshots.Insert(ctx, snap); err != nil {
		return Valuation{}, fmt.Errorf("failed to snapshot asset: %w", err)
	}

	s.log.Debug().
		Float64("cash", v.Cash).
		Float64("holdings_value", v.HoldingsValue).
		Float64("total_asset", v.TotalAsset).
		Msg("Asset snapshot recorded")
	return v, nil
}

// Snapshots returns the asset timeline newest first
func (s *PortfolioService) Snapshots(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	return s.snapshots.List(ctx, limit, offset)
}
