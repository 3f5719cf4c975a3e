package universe

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// HistoryDB provides access to persisted quote history (market_quotes)
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new quote history accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// SaveQuotes appends a batch of quotes in one transaction. Quotes failing
// ValidateQuote against the last stored price are dropped.
func (h *HistoryDB) SaveQuotes(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	rejected := 0
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO market_quotes (symbol, price, change_rate, volume, as_of)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare quote insert: %w", err)
		}
		defer stmt.Close()

		last := make(map[string]float64, len(quotes))
		for _, q := range quotes {
			prev, ok := last[q.Symbol]
			if !ok {
				if prev, err = lastPriceTx(ctx, tx, q.Symbol); err != nil {
					return err
				}
			}
			if valid, reason := ValidateQuote(q, prev); !valid {
				h.log.Warn().
					Str("symbol", q.Symbol).
					Float64("price", q.Price).
					Str("reason", reason).
					Msg("Dropping abnormal quote")
				rejected++
				last[q.Symbol] = prev
				continue
			}

			if _, err := stmt.ExecContext(ctx, q.Symbol, q.Price, q.ChangeRate, q.Volume, q.AsOf.Unix()); err != nil {
				return fmt.Errorf("failed to insert quote %s: %w", q.Symbol, err)
			}
			last[q.Symbol] = q.Price
		}
		return nil
	})
	if err == nil && rejected > 0 {
		h.log.Info().Int("rejected", rejected).Int("total", len(quotes)).Msg("Saved quotes with rejections")
	}
	return err
}

func lastPriceTx(ctx context.Context, tx *sql.Tx, symbol string) (float64, error) {
	var price float64
	err := tx.QueryRowContext(ctx,
		"SELECT price FROM market_quotes WHERE symbol = ? ORDER BY as_of DESC, id DESC LIMIT 1", symbol).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last price for %s: %w", symbol, err)
	}
	return price, nil
}

// Since returns quotes at or after since for the given symbols, oldest first
func (h *HistoryDB) Since(ctx context.Context, symbols []string, since time.Time) (map[string][]domain.Quote, error) {
	out := make(map[string][]domain.Quote)
	if len(symbols) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(symbols))
	args := make([]interface{}, 0, len(symbols)+1)
	for i, s := range symbols {
		placeholders[i] = "?"
		args = append(args, s)
	}
	args = append(args, since.Unix())

	query := fmt.Sprintf(`
		SELECT symbol, price, change_rate, volume, as_of
		FROM market_quotes
		WHERE symbol IN (%s) AND as_of >= ?
		ORDER BY as_of ASC, id ASC`, strings.Join(placeholders, ","))

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out[q.Symbol] = append(out[q.Symbol], q)
	}
	return out, rows.Err()
}

// Recent returns up to limit quotes for a symbol, oldest first
func (h *HistoryDB) Recent(ctx context.Context, symbol string, limit int) ([]domain.Quote, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT symbol, price, change_rate, volume, as_of FROM (
			SELECT id, symbol, price, change_rate, volume, as_of
			FROM market_quotes
			WHERE symbol = ?
			ORDER BY as_of DESC, id DESC
			LIMIT ?
		) ORDER BY as_of ASC, id ASC`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent quotes: %w", err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// DeleteBefore prunes quotes older than cutoff
func (h *HistoryDB) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, "DELETE FROM market_quotes WHERE as_of < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune quote history: %w", err)
	}
	return res.RowsAffected()
}

func scanQuote(rows *sql.Rows) (domain.Quote, error) {
	var q domain.Quote
	var asOf int64
	if err := rows.Scan(&q.Symbol, &q.Price, &q.ChangeRate, &q.Volume, &asOf); err != nil {
		return q, fmt.Errorf("failed to scan quote: %w", err)
	}
	q.AsOf = time.Unix(asOf, 0)
	return q, nil
}
