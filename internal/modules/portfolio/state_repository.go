package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// StateRepository handles the singleton portfolio_state row
type StateRepository struct {
	ledgerDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// NewStateRepository creates a new state repository
func NewStateRepository(ledgerDB *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		ledgerDB: ledgerDB,
		now:      time.Now,
		log:      log.With().Str("repo", "portfolio_state").Logger(),
	}
}

// Get returns the portfolio state, or nil when it was never created
func (r *StateRepository) Get(ctx context.Context) (*domain.PortfolioState, error) {
	var (
		s         domain.PortfolioState
		virtual   int
		updatedAt int64
	)
	err := r.ledgerDB.QueryRowContext(ctx, `
		SELECT id, cash, initial_capital, virtual_mode, updated_at
		FROM portfolio_state WHERE id = ?`, domain.DefaultPortfolioID).
		Scan(&s.ID, &s.Cash, &s.InitialCapital, &virtual, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio state: %w", err)
	}
	s.VirtualMode = virtual != 0
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// Ensure returns the existing state or creates it with cash = initialCapital.
// An existing row is returned unchanged.
func (r *StateRepository) Ensure(ctx context.Context, initialCapital float64, virtual bool) (domain.PortfolioState, error) {
	existing, err := r.Get(ctx)
	if err != nil {
		return domain.PortfolioState{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := r.now()
	_, err = r.ledgerDB.ExecContext(ctx, `
		INSERT OR IGNORE INTO portfolio_state (id, cash, initial_capital, virtual_mode, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		domain.DefaultPortfolioID, initialCapital, initialCapital, boolToInt(virtual), now.Unix())
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("failed to create portfolio state: %w", err)
	}

	r.log.Info().
		Float64("initial_capital", initialCapital).
		Bool("virtual", virtual).
		Msg("Portfolio state created")

	created, err := r.Get(ctx)
	if err != nil {
		return domain.PortfolioState{}, err
	}
	if created == nil {
		return domain.PortfolioState{}, fmt.Errorf("portfolio state missing after insert")
	}
	return *created, nil
}

// SetCashTx updates the cash balance inside a ledger transaction
func (r *StateRepository) SetCashTx(ctx context.Context, tx *sql.Tx, cash float64, at time.Time) error {
	if cash < 0 {
		return fmt.Errorf("refusing negative cash balance %.2f", cash)
	}
	res, err := tx.ExecContext(ctx, `UPDATE portfolio_state SET cash = ?, updated_at = ? WHERE id = ?`,
		cash, at.Unix(), domain.DefaultPortfolioID)
	if err != nil {
		return fmt.Errorf("failed to update cash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("portfolio state %q not found", domain.DefaultPortfolioID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
