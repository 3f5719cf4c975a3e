package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReportRun is the summary written at the end of every market cycle
type ReportRun struct {
	ID            string    `json:"id"`
	RunID         string    `json:"runId"`
	TotalAsset    float64   `json:"totalAsset"`
	HoldingsValue float64   `json:"holdingsValue"`
	AssetDelta    float64   `json:"assetDelta"`
	Cash          float64   `json:"cash"`
	BuyCount      int       `json:"buyCount"`
	SellCount     int       `json:"sellCount"`
	TradeCount    int       `json:"tradeCount"`
	DecisionCount int       `json:"decisionCount"`
	UniverseSize  int       `json:"universeSize"`
	Report        string    `json:"report"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ReportRepository stores report_runs in ledger.db
type ReportRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

const reportColumns = `id, run_id, total_asset, holdings_value, asset_delta, cash, buy_count, sell_count,
	trade_count, decision_count, universe_size, report, created_at`

// NewReportRepository creates a new report repository
func NewReportRepository(ledgerDB *sql.DB, log zerolog.Logger) *ReportRepository {
	return &ReportRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "report").Logger(),
	}
}

// Create inserts a report, filling the id when empty
func (r *ReportRepository) Create(ctx context.Context, rep ReportRun) (ReportRun, error) {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	_, err := r.ledgerDB.ExecContext(ctx, `
		INSERT INTO report_runs (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.ID, rep.RunID, rep.TotalAsset, rep.HoldingsValue, rep.AssetDelta, rep.Cash,
		rep.BuyCount, rep.SellCount, rep.TradeCount, rep.DecisionCount, rep.UniverseSize,
		rep.Report, rep.CreatedAt.Unix())
	if err != nil {
		return ReportRun{}, fmt.Errorf("failed to insert report: %w", err)
	}
	return rep, nil
}

// Latest returns the newest report, or nil when there is none
func (r *ReportRepository) Latest(ctx context.Context) (*ReportRun, error) {
	reports, err := r.List(ctx, 1, 0)
	if err != nil || len(reports) == 0 {
		return nil, err
	}
	return &reports[0], nil
}

// Get returns one report by id, or nil when missing
func (r *ReportRepository) Get(ctx context.Context, id string) (*ReportRun, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, "SELECT "+reportColumns+" FROM report_runs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	rep, err := scanReport(rows)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// List returns reports newest first
func (r *ReportRepository) List(ctx context.Context, limit, offset int) ([]ReportRun, error) {
	rows, err := r.ledgerDB.QueryContext(ctx,
		"SELECT "+reportColumns+" FROM report_runs ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []ReportRun
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

// Count returns the number of stored reports
func (r *ReportRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.ledgerDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM report_runs").Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func scanReport(rows *sql.Rows) (ReportRun, error) {
	var (
		rep       ReportRun
		createdAt int64
	)
	if err := rows.Scan(&rep.ID, &rep.RunID, &rep.TotalAsset, &rep.HoldingsValue, &rep.AssetDelta, &rep.Cash,
		&rep.BuyCount, &rep.SellCount, &rep.TradeCount, &rep.DecisionCount, &rep.UniverseSize,
		&rep.Report, &createdAt); err != nil {
		return ReportRun{}, fmt.Errorf("failed to scan report: %w", err)
	}
	rep.CreatedAt = time.Unix(createdAt, 0)
	return rep, nil
}
