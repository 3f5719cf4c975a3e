package trading

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TradeRepository handles trade_logs in ledger.db
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// tradeColumns must match scanTrade
const tradeColumns = `id, symbol, side, quantity, price, amount, realized_pnl, mode, reason, confidence, order_id, created_at`

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// InsertTx appends a trade log inside a ledger transaction. Missing ids are generated.
func (r *TradeRepository) InsertTx(ctx context.Context, tx *sql.Tx, t TradeLog) (TradeLog, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO trade_logs (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.Amount,
		nullFloat(t.RealizedPnL), string(t.Mode), nullString(t.Reason), nullFloat(t.Confidence),
		nullString(t.OrderID), t.CreatedAt.Unix())
	if err != nil {
		return TradeLog{}, fmt.Errorf("failed to insert trade log: %w", err)
	}

	r.log.Info().
		Str("symbol", t.Symbol).
		Str("side", string(t.Side)).
		Int64("quantity", t.Quantity).
		Float64("price", t.Price).
		Str("mode", string(t.Mode)).
		Msg("Trade recorded")
	return t, nil
}

// List returns trades newest first
func (r *TradeRepository) List(ctx context.Context, f TradeFilter) ([]TradeLog, error) {
	where, args := f.clause()
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := r.ledgerDB.QueryContext(ctx,
		"SELECT "+tradeColumns+" FROM trade_logs"+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade logs: %w", err)
	}
	defer rows.Close()

	var trades []TradeLog
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade log: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Count returns how many trades match the filter
func (r *TradeRepository) Count(ctx context.Context, f TradeFilter) (int, error) {
	where, args := f.clause()
	var n int
	if err := r.ledgerDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM trade_logs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trade logs: %w", err)
	}
	return n, nil
}

// RealizedPnL sums realized profit over all SELL trades
func (r *TradeRepository) RealizedPnL(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := r.ledgerDB.QueryRowContext(ctx,
		"SELECT SUM(realized_pnl) FROM trade_logs WHERE side = 'SELL'").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total.Float64, nil
}

func (f TradeFilter) clause() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Symbol != "" {
		conds = append(conds, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Side != "" {
		conds = append(conds, "side = ?")
		args = append(args, string(f.Side))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.Unix())
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanTrade(rows *sql.Rows) (TradeLog, error) {
	var (
		t          TradeLog
		side, mode string
		pnl, conf  sql.NullFloat64
		reason     sql.NullString
		orderID    sql.NullString
		createdAt  int64
	)
	if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Amount,
		&pnl, &mode, &reason, &conf, &orderID, &createdAt); err != nil {
		return TradeLog{}, err
	}
	t.Side = domain.Side(side)
	t.Mode = domain.TradeMode(mode)
	if pnl.Valid {
		v := pnl.Float64
		t.RealizedPnL = &v
	}
	if conf.Valid {
		v := conf.Float64
		t.Confidence = &v
	}
	t.Reason = reason.String
	t.OrderID = orderID.String
	t.CreatedAt = time.Unix(createdAt, 0)
	return t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
