package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Snapshot is one point of the asset timeline
type Snapshot struct {
	ID            int64     `json:"id"`
	Cash          float64   `json:"cash"`
	HoldingsValue float64   `json:"holdingsValue"`
	TotalAsset    float64   `json:"totalAsset"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SnapshotRepository appends and lists portfolio snapshots
type SnapshotRepository struct {
	ledgerDB *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(ledgerDB *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{ledgerDB: ledgerDB}
}

// Insert appends a snapshot and returns its id
func (r *SnapshotRepository) Insert(ctx context.Context, s Snapshot) (int64, error) {
	res, err := r.ledgerDB.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (cash, holdings_value, total_asset, created_at)
		VALUES (?, ?, ?, ?)`,
		s.Cash, s.HoldingsValue, s.TotalAsset, s.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return res.LastInsertId()
}

// List returns snapshots newest first
func (r *SnapshotRepository) List(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, `
		SELECT id, cash, holdings_value, total_asset, created_at
		FROM portfolio_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var (
			s         Snapshot
			createdAt int64
		)
		if err := rows.Scan(&s.ID, &s.Cash, &s.HoldingsValue, &s.TotalAsset, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
