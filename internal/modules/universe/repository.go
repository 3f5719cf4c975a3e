package universe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// Repository stores the symbol catalog and its revisions in market.db
type Repository struct {
	marketDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// NewRepository creates a new universe repository
func NewRepository(marketDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		now:      time.Now,
		log:      log.With().Str("repo", "universe").Logger(),
	}
}

const entryColumns = "symbol, name, market_cap, market_code, market_name"

// GetAll returns every catalog entry ordered by symbol
func (r *Repository) GetAll(ctx context.Context) ([]domain.UniverseEntry, error) {
	rows, err := r.marketDB.QueryContext(ctx, "SELECT "+entryColumns+" FROM universe_entries ORDER BY symbol ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query universe entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns one page of catalog entries ordered by symbol
func (r *Repository) List(ctx context.Context, page, pageSize int) (EntryPage, error) {
	page, pageSize = normalizePage(page, pageSize, 50)
	result := EntryPage{Page: page, PageSize: pageSize}

	if err := r.marketDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM universe_entries").Scan(&result.Total); err != nil {
		return result, fmt.Errorf("failed to count universe entries: %w", err)
	}

	rows, err := r.marketDB.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM universe_entries ORDER BY symbol ASC LIMIT ? OFFSET ?",
		pageSize, (page-1)*pageSize)
	if err != nil {
		return result, fmt.Errorf("failed to query universe page: %w", err)
	}
	defer rows.Close()

	result.Items, err = scanEntries(rows)
	return result, err
}

// Replace swaps the whole catalog and records a revision in one transaction
func (r *Repository) Replace(ctx context.Context, entries []domain.UniverseEntry, source, note string) error {
	now := r.now().Unix()

	err := database.WithTransaction(r.marketDB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM universe_entries"); err != nil {
			return fmt.Errorf("failed to clear universe entries: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO universe_entries (symbol, name, market_cap, market_code, market_name, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare universe insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Symbol, nullString(e.Name), nullFloat(e.MarketCap),
				nullString(e.MarketCode), nullString(e.MarketName), now); err != nil {
				return fmt.Errorf("failed to insert universe entry %s: %w", e.Symbol, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO universe_revisions (source, note, entry_count, created_at) VALUES (?, ?, ?, ?)",
			source, nullString(note), len(entries), now); err != nil {
			return fmt.Errorf("failed to insert universe revision: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("source", source).Int("entries", len(entries)).Msg("Universe catalog replaced")
	return nil
}

// ListRevisions returns one page of revisions newest first
func (r *Repository) ListRevisions(ctx context.Context, page, pageSize int) (RevisionPage, error) {
	page, pageSize = normalizePage(page, pageSize, 20)
	result := RevisionPage{Page: page, PageSize: pageSize}

	if err := r.marketDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM universe_revisions").Scan(&result.Total); err != nil {
		return result, fmt.Errorf("failed to count universe revisions: %w", err)
	}

	rows, err := r.marketDB.QueryContext(ctx, `
		SELECT id, source, note, entry_count, created_at
		FROM universe_revisions
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return result, fmt.Errorf("failed to query universe revisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rev Revision
		var note sql.NullString
		var createdAt int64
		if err := rows.Scan(&rev.ID, &rev.Source, &note, &rev.EntryCount, &createdAt); err != nil {
			return result, fmt.Errorf("failed to scan universe revision: %w", err)
		}
		rev.Note = note.String
		rev.CreatedAt = time.Unix(createdAt, 0)
		result.Items = append(result.Items, rev)
	}
	return result, rows.Err()
}

func scanEntries(rows *sql.Rows) ([]domain.UniverseEntry, error) {
	var entries []domain.UniverseEntry
	for rows.Next() {
		var (
			e                      domain.UniverseEntry
			name, code, marketName sql.NullString
			marketCap              sql.NullFloat64
		)
		if err := rows.Scan(&e.Symbol, &name, &marketCap, &code, &marketName); err != nil {
			return nil, fmt.Errorf("failed to scan universe entry: %w", err)
		}
		e.Name = name.String
		e.MarketCap = marketCap.Float64
		e.MarketCode = code.String
		e.MarketName = marketName.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func normalizePage(page, pageSize, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = def
	}
	if pageSize > 500 {
		pageSize = 500
	}
	return page, pageSize
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
