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

// PositionRepository handles holding rows in ledger.db.
// Mutations take a transaction so cash, holding and trade log change together.
type PositionRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(ledgerDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "position").Logger(),
	}
}

const holdingColumns = `symbol, quantity, avg_price, last_bought_at, updated_at`

// GetAll returns all holdings ordered by symbol
func (r *PositionRepository) GetAll(ctx context.Context) ([]domain.Holding, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, "SELECT "+holdingColumns+" FROM holdings ORDER BY symbol")
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// GetBySymbol returns the holding for a symbol, or nil when none exists
func (r *PositionRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Holding, error) {
	row := r.ledgerDB.QueryRowContext(ctx, "SELECT "+holdingColumns+" FROM holdings WHERE symbol = ?", symbol)
	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %s: %w", symbol, err)
	}
	return &h, nil
}

// UpsertTx writes a holding. A non-positive quantity deletes the row instead.
func (r *PositionRepository) UpsertTx(ctx context.Context, tx *sql.Tx, h domain.Holding, at time.Time) error {
	if h.Quantity <= 0 {
		return r.DeleteTx(ctx, tx, h.Symbol)
	}

	var lastBought interface{}
	if !h.LastBoughtAt.IsZero() {
		lastBought = h.LastBoughtAt.Unix()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO holdings (symbol, quantity, avg_price, last_bought_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			last_bought_at = COALESCE(excluded.last_bought_at, holdings.last_bought_at),
			updated_at = excluded.updated_at`,
		h.Symbol, h.Quantity, h.AvgPrice, lastBought, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", h.Symbol, err)
	}
	return nil
}

// DeleteTx removes a holding
func (r *PositionRepository) DeleteTx(ctx context.Context, tx *sql.Tx, symbol string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM holdings WHERE symbol = ?", symbol); err != nil {
		return fmt.Errorf("failed to delete holding %s: %w", symbol, err)
	}
	r.log.Debug().Str("symbol", symbol).Msg("Holding closed")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(row rowScanner) (domain.Holding, error) {
	var (
		h          domain.Holding
		lastBought sql.NullInt64
		updatedAt  int64
	)
	if err := row.Scan(&h.Symbol, &h.Quantity, &h.AvgPrice, &lastBought, &updatedAt); err != nil {
		return domain.Holding{}, err
	}
	if lastBought.Valid {
		h.LastBoughtAt = time.Unix(lastBought.Int64, 0)
	}
	h.UpdatedAt = time.Unix(updatedAt, 0)
	return h, nil
}
