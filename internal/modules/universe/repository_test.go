package universe

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_ReplaceAndList(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, []domain.UniverseEntry{
		{Symbol: "000660", Name: "SK hynix", MarketCap: 100, MarketCode: "0"},
		{Symbol: "005930", Name: "Samsung Electronics", MarketCap: 400, MarketCode: "0", MarketName: "KOSPI"},
	}, "source", "first"))

	// Replacement is wholesale
	require.NoError(t, repo.Replace(ctx, []domain.UniverseEntry{
		{Symbol: "035420", Name: "NAVER"},
		{Symbol: "005930", Name: "Samsung Electronics", MarketCap: 410},
	}, "kiwoom", ""))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "005930", all[0].Symbol)
	assert.Equal(t, 410.0, all[0].MarketCap)
	assert.Equal(t, "035420", all[1].Symbol)
	assert.Zero(t, all[1].MarketCap)

	page, err := repo.List(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "035420", page.Items[0].Symbol)

	revisions, err := repo.ListRevisions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, revisions.Total)
	require.Len(t, revisions.Items, 2)
	assert.Equal(t, "kiwoom", revisions.Items[0].Source)
	assert.Equal(t, 2, revisions.Items[0].EntryCount)
	assert.Equal(t, "first", revisions.Items[1].Note)
}

func TestCatalog_CachesUntilTTLOrReplace(t *testing.T) {
	db := setupMarketDB(t)
	repo := NewRepository(db, zerolog.Nop())
	catalog := NewCatalog(repo, zerolog.Nop())
	ctx := context.Background()

	now := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	catalog.now = func() time.Time { return now }

	require.NoError(t, catalog.Replace(ctx, []domain.UniverseEntry{{Symbol: "005930"}}, "source", ""))
	entries, err := catalog.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A write behind the catalog's back is invisible until the TTL passes
	require.NoError(t, repo.Replace(ctx, []domain.UniverseEntry{{Symbol: "005930"}, {Symbol: "000660"}}, "source", ""))
	entries, _ = catalog.Entries(ctx)
	assert.Len(t, entries, 1)

	now = now.Add(CatalogTTL)
	entries, _ = catalog.Entries(ctx)
	assert.Len(t, entries, 2)

	require.NoError(t, catalog.Replace(ctx, []domain.UniverseEntry{{Symbol: "035420"}}, "source", ""))
	entries, _ = catalog.Entries(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, "035420", entries[0].Symbol)
}

func TestHistoryDB_SaveAndQuery(t *testing.T) {
	db := setupMarketDB(t)
	history := NewHistoryDB(db, zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2025, 1, 2, 1, 0, 0, 0, time.UTC)

	require.NoError(t, history.SaveQuotes(ctx, []domain.Quote{
		{Symbol: "005930", Price: 70000, Volume: 10, AsOf: base},
		{Symbol: "005930", Price: 71000, Volume: 20, AsOf: base.Add(time.Minute)},
		{Symbol: "000660", Price: 150000, Volume: 5, AsOf: base.Add(2 * time.Minute)},
	}))

	got, err := history.Since(ctx, []string{"005930", "000660"}, base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, got["005930"], 1)
	assert.Equal(t, 71000.0, got["005930"][0].Price)
	require.Len(t, got["000660"], 1)

	recent, err := history.Recent(ctx, "005930", 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 70000.0, recent[0].Price)
	assert.Equal(t, 71000.0, recent[1].Price)

	deleted, err := history.DeleteBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
