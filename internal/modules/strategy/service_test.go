package strategy

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/tradeagent/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedgerDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	schema, err := database.Schema(database.NameLedger)
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestService_SeedsDefaultDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "INVESTMENT_STRATEGY.md")
	svc := NewService(path, nil, zerolog.Nop())

	content, err := svc.GetCurrentStrategy()
	require.NoError(t, err)
	assert.Equal(t, DefaultDocument, content)

	_, err = os.Stat(path)
	assert.NoError(t, err)

	assert.Equal(t, DefaultTradingPolicy(), svc.TradingPolicy())
	assert.Equal(t, DefaultUniversePolicy(), svc.UniversePolicy())
}

func TestService_UpdateStrategyWritesRevision(t *testing.T) {
	db := setupLedgerDB(t)
	repo := NewRevisionRepository(db, zerolog.Nop())
	path := filepath.Join(t.TempDir(), "strategy.md")
	svc := NewService(path, repo, zerolog.Nop())
	ctx := context.Background()

	doc := "# Aggressive\n\n## Trading Policy\nTAKE_PROFIT_PCT=1\nPOSITION_SIZE_PCT=20\n"
	require.NoError(t, svc.UpdateStrategy(ctx, doc, "news-refinement"))

	content, err := svc.GetCurrentStrategy()
	require.NoError(t, err)
	assert.Equal(t, doc, content)

	policy := svc.TradingPolicy()
	assert.Equal(t, 1.0, policy.TakeProfitPct)
	assert.Equal(t, 20.0, policy.PositionSizePct)

	revisions, err := svc.Revisions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	assert.Equal(t, "news-refinement", revisions[0].Source)
	assert.Equal(t, doc, revisions[0].Content)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_UpdateStrategyRejectsEmpty(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "s.md"), nil, zerolog.Nop())
	assert.Error(t, svc.UpdateStrategy(context.Background(), "   ", "manual"))
}
