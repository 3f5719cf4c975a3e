package news

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tradeagent/internal/database"
	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// Repository stores articles and scrape runs in market.db
type Repository struct {
	marketDB *sql.DB
	now      func() time.Time
	log      zerolog.Logger
}

// NewRepository creates a new news repository
func NewRepository(marketDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		marketDB: marketDB,
		now:      time.Now,
		log:      log.With().Str("repo", "news").Logger(),
	}
}

// UpsertArticles inserts articles, updating rows that share a URL
func (r *Repository) UpsertArticles(ctx context.Context, articles []domain.NewsArticle) error {
	if len(articles) == 0 {
		return nil
	}
	now := r.now()

	return database.WithTransaction(r.marketDB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO news_articles (title, url, source, summary, published_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET
				title = excluded.title,
				source = excluded.source,
				summary = excluded.summary,
				published_at = excluded.published_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare article upsert: %w", err)
		}
		defer stmt.Close()

		for i, a := range articles {
			var published interface{}
			if a.PublishedAt != nil {
				published = a.PublishedAt.Unix()
			}
			// Later items in one batch sort after earlier ones
			created := now.Add(-time.Duration(i) * time.Millisecond).UnixMilli()
			if _, err := stmt.ExecContext(ctx, a.Title, a.URL, a.Source, nullString(a.Summary), published, created); err != nil {
				return fmt.Errorf("failed to upsert article %s: %w", a.URL, err)
			}
		}
		return nil
	})
}

// GetLatest returns the newest articles first
func (r *Repository) GetLatest(ctx context.Context, limit, offset int) ([]domain.NewsArticle, error) {
	rows, err := r.marketDB.QueryContext(ctx, `
		SELECT id, title, url, source, summary, published_at, created_at
		FROM news_articles
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query news articles: %w", err)
	}
	defer rows.Close()

	var articles []domain.NewsArticle
	for rows.Next() {
		var (
			a         domain.NewsArticle
			summary   sql.NullString
			published sql.NullInt64
			createdMs int64
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &a.Source, &summary, &published, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan news article: %w", err)
		}
		a.Summary = summary.String
		if published.Valid {
			t := time.Unix(published.Int64, 0)
			a.PublishedAt = &t
		}
		a.CreatedAt = time.UnixMilli(createdMs)
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// RecordScrapeRun appends a scrape run row
func (r *Repository) RecordScrapeRun(ctx context.Context, run ScrapeRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}
	success := 0
	if run.Success {
		success = 1
	}
	_, err := r.marketDB.ExecContext(ctx, `
		INSERT INTO news_scrape_runs (source, item_count, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.Source, run.ItemCount, success, nullString(run.ErrorMessage), run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert scrape run: %w", err)
	}
	return nil
}

// ListScrapeRuns returns scrape runs newest first
func (r *Repository) ListScrapeRuns(ctx context.Context, limit int) ([]ScrapeRun, error) {
	rows, err := r.marketDB.QueryContext(ctx, `
		SELECT id, source, item_count, success, error_message, created_at
		FROM news_scrape_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape runs: %w", err)
	}
	defer rows.Close()

	var runs []ScrapeRun
	for rows.Next() {
		var (
			run       ScrapeRun
			success   int
			errMsg    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&run.ID, &run.Source, &run.ItemCount, &success, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan scrape run: %w", err)
		}
		run.Success = success != 0
		run.ErrorMessage = errMsg.String
		run.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
