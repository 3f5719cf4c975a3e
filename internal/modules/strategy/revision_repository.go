package strategy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Revision is one saved version of the strategy document
type Revision struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

// RevisionRepository stores strategy revisions in ledger.db
type RevisionRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRevisionRepository creates a new strategy revision repository
func NewRevisionRepository(ledgerDB *sql.DB, log zerolog.Logger) *RevisionRepository {
	return &RevisionRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "strategy_revision").Logger(),
	}
}

// Create appends a revision
func (r *RevisionRepository) Create(ctx context.Context, content, source string, at time.Time) (int64, error) {
	res, err := r.ledgerDB.ExecContext(ctx,
		"INSERT INTO strategy_revisions (content, source, created_at) VALUES (?, ?, ?)",
		content, source, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy revision: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read strategy revision id: %w", err)
	}

	r.log.Debug().Int64("id", id).Str("source", source).Msg("Strategy revision saved")
	return id, nil
}

// List returns revisions newest first
func (r *RevisionRepository) List(ctx context.Context, limit, offset int) ([]Revision, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT id, content, source, created_at
		FROM strategy_revisions
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy revisions: %w", err)
	}
	defer rows.Close()

	var revisions []Revision
	for rows.Next() {
		var rev Revision
		var createdAt int64
		if err := rows.Scan(&rev.ID, &rev.Content, &rev.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy revision: %w", err)
		}
		rev.CreatedAt = time.Unix(createdAt, 0)
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// Count returns the number of stored revisions
func (r *RevisionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.ledgerDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM strategy_revisions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count strategy revisions: %w", err)
	}
	return n, nil
}
